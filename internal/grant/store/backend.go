package store

import (
	"context"
)

// Backend holds the grant document. Every Write replaces the whole document.
// Read returns an error wrapping sentinel.ErrNotFound when no document
// exists yet.
type Backend interface {
	Name() string
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
}

// Quarantiner is implemented by backends that can set aside a document that
// failed to decode, so the next Write does not destroy it.
type Quarantiner interface {
	Quarantine(ctx context.Context, data []byte) (location string, err error)
}
