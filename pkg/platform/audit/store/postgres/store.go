// Package postgres persists audit events in a PostgreSQL table.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "rolegate/pkg/domain"
	audit "rolegate/pkg/platform/audit"
)

const schema = `
CREATE TABLE IF NOT EXISTS grant_audit_events (
	id         UUID PRIMARY KEY,
	category   TEXT NOT NULL,
	action     TEXT NOT NULL,
	user_id    BIGINT,
	guild_id   BIGINT,
	subject    TEXT NOT NULL DEFAULT '',
	decision   TEXT NOT NULL DEFAULT '',
	reason     TEXT NOT NULL DEFAULT '',
	request_id TEXT NOT NULL DEFAULT '',
	actor_id   TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS grant_audit_events_user_idx ON grant_audit_events (user_id, created_at);
`

// Store implements audit.Store and audit.Lister.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the events table when it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create audit schema: %w", err)
	}
	return nil
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	// Category is always derived from the action so the table stays consistent
	// with the routing map.
	category := audit.AuditEvent(event.Action).Category()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	query := `
		INSERT INTO grant_audit_events
			(id, category, action, user_id, guild_id, subject, decision, reason, request_id, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.New(),
		string(category),
		event.Action,
		nullID(uint64(event.UserID)),
		nullID(uint64(event.GuildID)),
		event.Subject,
		event.Decision,
		event.Reason,
		event.RequestID,
		event.ActorID,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *Store) ListByUser(ctx context.Context, userID id.UserID) ([]audit.Event, error) {
	query := `
		SELECT category, action, user_id, guild_id, subject, decision, reason, request_id, actor_id, created_at
		FROM grant_audit_events
		WHERE user_id = $1
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, int64(userID))
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			e        audit.Event
			category string
			user     sql.NullInt64
			guild    sql.NullInt64
		)
		if err := rows.Scan(&category, &e.Action, &user, &guild, &e.Subject, &e.Decision,
			&e.Reason, &e.RequestID, &e.ActorID, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Category = audit.EventCategory(category)
		e.UserID = id.UserID(uint64(user.Int64))
		e.GuildID = id.GuildID(uint64(guild.Int64))
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

// nullID stores snowflakes as BIGINT; the bit pattern survives the signed
// conversion and converts back losslessly.
func nullID(v uint64) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(v), Valid: true}
}
