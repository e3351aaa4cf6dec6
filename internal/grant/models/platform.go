package models

import (
	id "rolegate/pkg/domain"
)

// Guild, Channel, Message and Role are the minimal views of platform objects
// the grant subsystem reads. Adapters fill only these fields.
type Guild struct {
	ID   id.GuildID
	Name string
}

type Channel struct {
	ID      id.ChannelID
	GuildID id.GuildID
	Name    string
}

type Message struct {
	ID        id.MessageID
	ChannelID id.ChannelID
}

type Role struct {
	ID      id.RoleID
	GuildID id.GuildID
	Name    string
	// Color is the 24-bit RGB colour configured for the role; zero means
	// the role has no colour.
	Color int
}

// ControlID is the custom id carried by a button. Activations arrive keyed by it.
type ControlID string

// ControlIDPrefix namespaces grant controls among other components.
const ControlIDPrefix = "rolegate:grant:"

// Button is the single interactive control attached to a prompt.
type Button struct {
	ControlID ControlID
	Label     string
}

// Prompt is the message posted to a channel to offer a role.
type Prompt struct {
	Title       string
	Description string
	Color       int
	Button      Button
}
