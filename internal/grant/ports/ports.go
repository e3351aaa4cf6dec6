// Package ports defines the interfaces the grant subsystem consumes. The
// Discord adapter implements the platform side; tests use the mocks package.
package ports

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"log/slog"

	"rolegate/internal/grant/models"
	"rolegate/pkg/attrs"
	id "rolegate/pkg/domain"
	"rolegate/pkg/platform/audit"
	"rolegate/pkg/requestcontext"
)

// Directory resolves platform objects. Missing objects are reported as
// errors wrapping sentinel.ErrNotFound.
type Directory interface {
	// Guild resolves a guild among those the bot currently participates in.
	Guild(ctx context.Context, guildID id.GuildID) (*models.Guild, error)

	// Channel resolves a channel and checks it belongs to guildID.
	Channel(ctx context.Context, guildID id.GuildID, channelID id.ChannelID) (*models.Channel, error)

	// Message fetches a message within a channel.
	Message(ctx context.Context, channelID id.ChannelID, messageID id.MessageID) (*models.Message, error)
}

// Messenger posts prompts and binds controls to existing messages.
type Messenger interface {
	// SendPrompt posts a new prompt carrying its button and returns the
	// new message id.
	SendPrompt(ctx context.Context, channelID id.ChannelID, prompt models.Prompt) (id.MessageID, error)

	// AttachControl replaces the interactive components of an existing
	// message with button.
	AttachControl(ctx context.Context, channelID id.ChannelID, messageID id.MessageID, button models.Button) error
}

// RoleManager reads roles and assigns them to members.
type RoleManager interface {
	// Role resolves roleID within guildID.
	Role(ctx context.Context, guildID id.GuildID, roleID id.RoleID) (*models.Role, error)

	// AddRole assigns roleID to userID in guildID.
	AddRole(ctx context.Context, guildID id.GuildID, userID id.UserID, roleID id.RoleID) error
}

// Platform is everything the grant subsystem needs from the chat platform.
type Platform interface {
	Directory
	Messenger
	RoleManager
}

// Responder delivers a private acknowledgment to the user behind one
// interaction. It never posts a visible message.
type Responder interface {
	Reply(ctx context.Context, content string) error
}

// AuditPublisher emits audit events for grant operations.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// LogAudit is a shared helper for logging audit events across grant services.
// It logs with standard audit fields and forwards the event to publisher when
// one is configured. Recognised attributes: guild_id, user_id, actor_id,
// role_id (subject), decision, reason.
func LogAudit(ctx context.Context, logger *slog.Logger, publisher AuditPublisher, event audit.AuditEvent, attrList ...any) {
	requestID := requestcontext.RequestID(ctx)
	if requestID != "" {
		attrList = append(attrList, "request_id", requestID)
	}

	args := append(attrList, "event", string(event), "log_type", "audit")
	if logger != nil {
		logger.InfoContext(ctx, string(event), args...)
	}

	if publisher == nil {
		return
	}
	// Publish failures are swallowed: audit never blocks a grant operation.
	_ = publisher.Emit(ctx, audit.Event{
		Action:    string(event),
		GuildID:   extractGuild(attrList),
		UserID:    extractUser(attrList),
		ActorID:   attrs.ExtractString(attrList, "actor_id"),
		Subject:   attrs.ExtractString(attrList, "role_id"),
		Decision:  attrs.ExtractString(attrList, "decision"),
		Reason:    attrs.ExtractString(attrList, "reason"),
		RequestID: requestID,
	})
}

func extractGuild(attrList []any) id.GuildID {
	for i := 0; i < len(attrList)-1; i += 2 {
		if k, ok := attrList[i].(string); ok && k == "guild_id" {
			if v, ok := attrList[i+1].(id.GuildID); ok {
				return v
			}
		}
	}
	return 0
}

func extractUser(attrList []any) id.UserID {
	for i := 0; i < len(attrList)-1; i += 2 {
		if k, ok := attrList[i].(string); ok && k == "user_id" {
			if v, ok := attrList[i+1].(id.UserID); ok {
				return v
			}
		}
	}
	return 0
}
