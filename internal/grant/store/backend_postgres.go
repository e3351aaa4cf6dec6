package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"rolegate/pkg/platform/sentinel"
)

// PostgresBackend keeps the document as one row of a name/body table. The
// body is stored as text, not jsonb, so the bytes read back are the bytes
// written.
type PostgresBackend struct {
	db       *sql.DB
	table    string
	document string
}

func NewPostgresBackend(db *sql.DB, table, document string) *PostgresBackend {
	return &PostgresBackend{db: db, table: pq.QuoteIdentifier(table), document: document}
}

func (b *PostgresBackend) Name() string { return "postgres" }

// EnsureSchema creates the document table if it does not exist.
func (b *PostgresBackend) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		name TEXT PRIMARY KEY,
		body TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, b.table)
	if _, err := b.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create grant document table: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Read(ctx context.Context) ([]byte, error) {
	query := fmt.Sprintf(`SELECT body FROM %s WHERE name = $1`, b.table)
	var body string
	err := b.db.QueryRowContext(ctx, query, b.document).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("grant document %s: %w", b.document, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read grant document %s: %w", b.document, err)
	}
	return []byte(body), nil
}

func (b *PostgresBackend) Write(ctx context.Context, data []byte) error {
	return b.upsert(ctx, b.document, data)
}

func (b *PostgresBackend) Quarantine(ctx context.Context, data []byte) (string, error) {
	name := fmt.Sprintf("%s.corrupt-%d", b.document, time.Now().Unix())
	if err := b.upsert(ctx, name, data); err != nil {
		return "", err
	}
	return name, nil
}

func (b *PostgresBackend) upsert(ctx context.Context, name string, data []byte) error {
	query := fmt.Sprintf(`INSERT INTO %s (name, body, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at`, b.table)
	if _, err := b.db.ExecContext(ctx, query, name, string(data)); err != nil {
		return fmt.Errorf("write grant document %s: %w", name, err)
	}
	return nil
}
