package models

import (
	id "rolegate/pkg/domain"
	dErrors "rolegate/pkg/domain-errors"
)

// GrantEntry is the durable record of one posted grant prompt.
//
// Invariants:
//   - GuildID, ChannelID and RoleID are non-zero and never change
//   - MessageID is nil only until the prompt has been sent; an entry
//     written to the store after a successful send always carries one
//
// Entries are never deleted and never deduplicated by (ChannelID, MessageID).
type GrantEntry struct {
	GuildID   id.GuildID    `json:"guildId"`
	ChannelID id.ChannelID  `json:"channelId"`
	MessageID *id.MessageID `json:"messageId"`
	RoleID    id.RoleID     `json:"roleId"`
}

// NewGrantEntry builds an entry that has not been sent yet.
func NewGrantEntry(guildID id.GuildID, channelID id.ChannelID, roleID id.RoleID) (*GrantEntry, error) {
	e := &GrantEntry{GuildID: guildID, ChannelID: channelID, RoleID: roleID}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e GrantEntry) Validate() error {
	switch {
	case e.GuildID.IsZero():
		return dErrors.New(dErrors.CodeInvariantViolation, "grant entry requires a guild id")
	case e.ChannelID.IsZero():
		return dErrors.New(dErrors.CodeInvariantViolation, "grant entry requires a channel id")
	case e.RoleID.IsZero():
		return dErrors.New(dErrors.CodeInvariantViolation, "grant entry requires a role id")
	}
	return nil
}

// HasMessage reports whether the prompt message id is known.
func (e GrantEntry) HasMessage() bool {
	return e.MessageID != nil && !e.MessageID.IsZero()
}

// Message returns the message id, or zero when unknown.
func (e GrantEntry) Message() id.MessageID {
	if e.MessageID == nil {
		return 0
	}
	return *e.MessageID
}

// WithMessage returns a copy of e pointing at messageID.
func (e GrantEntry) WithMessage(messageID id.MessageID) GrantEntry {
	e.MessageID = &messageID
	return e
}

// Clone returns a deep copy so callers never share the MessageID pointer.
func (e GrantEntry) Clone() GrantEntry {
	if e.MessageID != nil {
		m := *e.MessageID
		e.MessageID = &m
	}
	return e
}

// Equal compares by value, treating two nil message ids as equal.
func (e GrantEntry) Equal(o GrantEntry) bool {
	if e.GuildID != o.GuildID || e.ChannelID != o.ChannelID || e.RoleID != o.RoleID {
		return false
	}
	if (e.MessageID == nil) != (o.MessageID == nil) {
		return false
	}
	return e.MessageID == nil || *e.MessageID == *o.MessageID
}
