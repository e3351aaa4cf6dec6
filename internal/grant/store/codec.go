package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"rolegate/internal/grant/models"
	id "rolegate/pkg/domain"
)

// Encode renders entries as an indented JSON array. Field order and entry
// order are stable so the document diffs cleanly between writes.
func Encode(entries []models.GrantEntry) ([]byte, error) {
	if entries == nil {
		entries = []models.GrantEntry{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "    ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(entries); err != nil {
		return nil, fmt.Errorf("encode grant entries: %w", err)
	}
	return buf.Bytes(), nil
}

// documentEntry accepts the camelCase keys Encode writes and the snake_case
// keys of documents written before the rename.
type documentEntry struct {
	GuildID   *id.GuildID   `json:"guildId"`
	ChannelID *id.ChannelID `json:"channelId"`
	MessageID *id.MessageID `json:"messageId"`
	RoleID    *id.RoleID    `json:"roleId"`

	SnakeGuildID   *id.GuildID   `json:"guild_id"`
	SnakeChannelID *id.ChannelID `json:"channel_id"`
	SnakeMessageID *id.MessageID `json:"message_id"`
	SnakeRoleID    *id.RoleID    `json:"role_id"`
}

func (d documentEntry) entry() (models.GrantEntry, error) {
	guild, err := pick("guild", d.GuildID, d.SnakeGuildID)
	if err != nil {
		return models.GrantEntry{}, err
	}
	channel, err := pick("channel", d.ChannelID, d.SnakeChannelID)
	if err != nil {
		return models.GrantEntry{}, err
	}
	role, err := pick("role", d.RoleID, d.SnakeRoleID)
	if err != nil {
		return models.GrantEntry{}, err
	}
	message, err := pick("message", d.MessageID, d.SnakeMessageID)
	if err != nil {
		return models.GrantEntry{}, err
	}
	e := models.GrantEntry{GuildID: guild, ChannelID: channel, RoleID: role}
	if !message.IsZero() {
		e = e.WithMessage(message)
	}
	return e, e.Validate()
}

// pick returns whichever spelling is present. Both present is ambiguous.
func pick[T ~uint64](field string, camel, snake *T) (T, error) {
	switch {
	case camel != nil && snake != nil:
		return 0, fmt.Errorf("%s id given under both key spellings", field)
	case camel != nil:
		return *camel, nil
	case snake != nil:
		return *snake, nil
	}
	return 0, nil
}

// Decode parses a document written by Encode, or by the snake_case format it
// replaced. Unknown fields, trailing data and entries missing a guild,
// channel or role id are rejected.
func Decode(data []byte) ([]models.GrantEntry, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var raw []documentEntry
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode grant entries: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decode grant entries: trailing data after array")
	}
	entries := make([]models.GrantEntry, 0, len(raw))
	for i, d := range raw {
		e, err := d.entry()
		if err != nil {
			return nil, fmt.Errorf("decode grant entries: entry %d: %w", i, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
