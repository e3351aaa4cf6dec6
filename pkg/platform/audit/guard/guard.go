// Package guard wraps an external audit sink (Kafka, Postgres) so that an
// unhealthy sink never slows down grant handling: operations events are
// sampled, and a circuit breaker drops events while the sink keeps failing.
package guard

import (
	"context"
	"log/slog"

	audit "rolegate/pkg/platform/audit"
)

// Store is an audit.Store decorator.
type Store struct {
	next    audit.Store
	breaker *Breaker
	sampler *Sampler
	metrics *Metrics
	logger  *slog.Logger
}

type Option func(*Store)

func WithBreaker(b *Breaker) Option {
	return func(s *Store) { s.breaker = b }
}

func WithSampler(sm *Sampler) Option {
	return func(s *Store) { s.sampler = sm }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

func New(next audit.Store, opts ...Option) *Store {
	s := &Store{next: next}
	for _, opt := range opts {
		opt(s)
	}
	if s.breaker == nil {
		s.breaker = NewBreaker(0, 0)
	}
	return s
}

// Append never returns the sink's error: failures are counted and logged.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	category := event.Category
	if category == "" {
		category = audit.AuditEvent(event.Action).Category()
	}
	if category == audit.CategoryOperations && s.sampler != nil && !s.sampler.Keep(event.Action) {
		if s.metrics != nil {
			s.metrics.Sampled.Inc()
		}
		return nil
	}

	if !s.breaker.Allow() {
		if s.metrics != nil {
			s.metrics.Dropped.Inc()
		}
		return nil
	}
	s.metrics.setBreaker(false)

	if err := s.next.Append(ctx, event); err != nil {
		if s.metrics != nil {
			s.metrics.Failures.Inc()
		}
		if s.breaker.RecordFailure() {
			s.metrics.setBreaker(true)
			if s.logger != nil {
				s.logger.WarnContext(ctx, "audit sink circuit opened", "error", err)
			}
		}
		return nil
	}
	s.breaker.RecordSuccess()
	if s.metrics != nil {
		s.metrics.Written.Inc()
	}
	return nil
}
