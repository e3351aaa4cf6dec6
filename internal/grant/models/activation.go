package models

import (
	id "rolegate/pkg/domain"
)

// Activation describes one user pressing a grant control.
type Activation struct {
	GuildID   id.GuildID
	ChannelID id.ChannelID
	MessageID id.MessageID
	UserID    id.UserID
	// MemberRoles are the roles the user held when the interaction was
	// created, as reported by the platform.
	MemberRoles []id.RoleID
}

// HasRole reports whether roleID is among the member's roles.
func (a Activation) HasRole(roleID id.RoleID) bool {
	for _, r := range a.MemberRoles {
		if r == roleID {
			return true
		}
	}
	return false
}

// Outcome is the result of an activation as reported to the user.
type Outcome string

const (
	OutcomeGranted              Outcome = "granted"
	OutcomeAlreadyGranted       Outcome = "already_granted"
	OutcomeConfigurationMissing Outcome = "configuration_missing"
	OutcomeFailed               Outcome = "failed"
)

func (o Outcome) String() string { return string(o) }
