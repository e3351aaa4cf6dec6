// Package store owns the canonical list of grant entries and its durable
// copy.
//
// The in-memory list is authoritative for the life of the process. Every
// mutation is followed by a full snapshot write through a Backend; a failed
// write is logged and the in-memory state stays as it is until the next
// successful write. Entries are addressed by Ref, a stable index that never
// changes because entries are never removed.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"rolegate/internal/grant/models"
	"rolegate/internal/platform/metrics"
	id "rolegate/pkg/domain"
	dErrors "rolegate/pkg/domain-errors"
	"rolegate/pkg/platform/sentinel"
)

// Ref addresses one entry in the store.
type Ref int

var errDocumentUnread = errors.New("stored grant document was never read; refusing to overwrite it")

// Slot pairs an entry with its Ref.
type Slot struct {
	Ref   Ref
	Entry models.GrantEntry
}

type Store struct {
	backend Backend
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	entries []models.GrantEntry
	// unread is set when the last Load could not read the document. Writes
	// are refused until a Load succeeds so an unseen document is never
	// replaced by a partial snapshot.
	unread bool

	// writeMu serializes snapshot-and-write so a slower, older snapshot can
	// never land after a newer one.
	writeMu sync.Mutex
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

func New(backend Backend, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	s := &Store{backend: backend}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s, nil
}

// Backend returns the name of the configured backend.
func (s *Store) Backend() string { return s.backend.Name() }

// Load replaces the in-memory list with the stored document and returns a
// copy of it. It never fails: an absent document yields an empty list, and
// a malformed one yields an empty list after its bytes have been set aside
// when the backend supports it. The stored document itself is left in place.
// When the backend cannot be read at all, Persist is refused until a later
// Load succeeds.
func (s *Store) Load(ctx context.Context) []models.GrantEntry {
	entries, ok := s.read(ctx)

	s.mu.Lock()
	s.entries = entries
	s.unread = !ok
	s.mu.Unlock()
	s.metrics.SetStoreEntries(len(entries))

	return cloneAll(entries)
}

// read reports false only when the document could not be read. Absent and
// malformed documents are settled outcomes.
func (s *Store) read(ctx context.Context) ([]models.GrantEntry, bool) {
	logger := s.logger.With("backend", s.backend.Name())

	data, err := s.backend.Read(ctx)
	if errors.Is(err, sentinel.ErrNotFound) {
		logger.InfoContext(ctx, "no grant document found, starting with no entries")
		return []models.GrantEntry{}, true
	}
	if err != nil {
		logger.ErrorContext(ctx, "failed to read grant document, starting with no entries and refusing writes",
			"error", err,
			"code", string(dErrors.CodePersistenceFailure),
		)
		return []models.GrantEntry{}, false
	}

	entries, err := Decode(data)
	if err != nil {
		attrs := []any{"error", err, "code", string(dErrors.CodeMalformedStore), "bytes", len(data)}
		if q, ok := s.backend.(Quarantiner); ok {
			if loc, qerr := q.Quarantine(ctx, data); qerr != nil {
				attrs = append(attrs, "quarantine_error", qerr)
			} else {
				attrs = append(attrs, "quarantined_to", loc)
			}
		}
		logger.ErrorContext(ctx, "grant document is malformed, starting with no entries", attrs...)
		return []models.GrantEntry{}, true
	}

	logger.InfoContext(ctx, "grant document loaded", "entries", len(entries))
	return entries, true
}

// Persist writes a snapshot of the full list.
func (s *Store) Persist(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	if s.unread {
		count := len(s.entries)
		s.mu.RUnlock()
		return s.persistFailed(ctx, errDocumentUnread, count)
	}
	data, err := Encode(s.entries)
	count := len(s.entries)
	s.mu.RUnlock()
	if err != nil {
		return s.persistFailed(ctx, err, count)
	}

	start := time.Now()
	err = s.backend.Write(ctx, data)
	s.metrics.ObservePersist(time.Since(start))
	if err != nil {
		return s.persistFailed(ctx, err, count)
	}
	return nil
}

func (s *Store) persistFailed(ctx context.Context, err error, count int) error {
	s.metrics.IncPersistFailure(s.backend.Name())
	s.logger.ErrorContext(ctx, "failed to persist grant entries, keeping in-memory state",
		"backend", s.backend.Name(),
		"entries", count,
		"error", err,
		"code", string(dErrors.CodePersistenceFailure),
	)
	return dErrors.Wrap(err, dErrors.CodePersistenceFailure, "failed to persist grant entries")
}

// Append adds entry at the end of the list and persists. The entry stays in
// memory even when the write fails; the error is returned for reporting.
func (s *Store) Append(ctx context.Context, entry models.GrantEntry) (Ref, error) {
	if err := entry.Validate(); err != nil {
		return -1, err
	}

	s.mu.Lock()
	s.entries = append(s.entries, entry.Clone())
	ref := Ref(len(s.entries) - 1)
	count := len(s.entries)
	s.mu.Unlock()
	s.metrics.SetStoreEntries(count)

	return ref, s.Persist(ctx)
}

// SetMessageID points the entry at ref to a new message and persists.
//
// read is the entry as the caller saw it before suspending on platform
// calls. If the stored entry has changed since, the new message id still
// wins and a warning is logged.
func (s *Store) SetMessageID(ctx context.Context, ref Ref, read models.GrantEntry, next id.MessageID) error {
	if next.IsZero() {
		return dErrors.New(dErrors.CodeInvariantViolation, "message id must be non-zero")
	}

	s.mu.Lock()
	if ref < 0 || int(ref) >= len(s.entries) {
		s.mu.Unlock()
		return dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("no grant entry at %d", ref))
	}
	current := s.entries[ref]
	if !current.Equal(read) {
		s.logger.WarnContext(ctx, "grant entry changed while it was being repaired, overwriting",
			"ref", int(ref),
			"guild_id", current.GuildID,
			"channel_id", current.ChannelID,
			"read_message_id", read.Message(),
			"current_message_id", current.Message(),
			"new_message_id", next,
		)
	}
	s.entries[ref] = current.WithMessage(next)
	s.mu.Unlock()

	return s.Persist(ctx)
}

// Get returns a copy of the entry at ref.
func (s *Store) Get(ref Ref) (models.GrantEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ref < 0 || int(ref) >= len(s.entries) {
		return models.GrantEntry{}, false
	}
	return s.entries[ref].Clone(), true
}

// Snapshot returns copies of all entries with their refs, in store order.
func (s *Store) Snapshot() []Slot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slots := make([]Slot, len(s.entries))
	for i, e := range s.entries {
		slots[i] = Slot{Ref: Ref(i), Entry: e.Clone()}
	}
	return slots
}

// Entries returns copies of all entries in store order.
func (s *Store) Entries() []models.GrantEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.entries)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func cloneAll(entries []models.GrantEntry) []models.GrantEntry {
	out := make([]models.GrantEntry, len(entries))
	for i, e := range entries {
		out[i] = e.Clone()
	}
	return out
}
