// Package requestcontext provides transport-independent context accessors
// for values scoped to one platform interaction.
//
// The Discord adapter sets these when an interaction arrives; services read
// them for audit correlation without importing the adapter.
//
// Usage in services (read values):
//
//	requestID := requestcontext.RequestID(ctx)
//	actor := requestcontext.ActorID(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"

	"github.com/google/uuid"

	id "rolegate/pkg/domain"
)

type (
	actorIDKey     struct{}
	guildIDKey     struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Exported context keys for direct use in tests that need context.WithValue.
var (
	ContextKeyActorID     = actorIDKey{}
	ContextKeyGuildID     = guildIDKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// ActorID returns the user who triggered the interaction, or zero.
func ActorID(ctx context.Context) id.UserID {
	if actor, ok := ctx.Value(ContextKeyActorID).(id.UserID); ok {
		return actor
	}
	return 0
}

func WithActorID(ctx context.Context, actor id.UserID) context.Context {
	return context.WithValue(ctx, ContextKeyActorID, actor)
}

// GuildID returns the guild the interaction happened in, or zero for DMs.
func GuildID(ctx context.Context) id.GuildID {
	if guild, ok := ctx.Value(ContextKeyGuildID).(id.GuildID); ok {
		return guild
	}
	return 0
}

func WithGuildID(ctx context.Context, guild id.GuildID) context.Context {
	return context.WithValue(ctx, ContextKeyGuildID, guild)
}

// RequestID retrieves the correlation id from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a correlation id into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// EnsureRequestID returns ctx unchanged when it already carries a request id,
// otherwise it attaches a fresh random one.
func EnsureRequestID(ctx context.Context) context.Context {
	if RequestID(ctx) != "" {
		return ctx
	}
	return WithRequestID(ctx, uuid.NewString())
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() when unset (reconciliation, presence loop, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
