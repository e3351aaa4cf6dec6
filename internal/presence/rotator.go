// Package presence cycles the bot's status text. It is decorative: it holds
// no durable state and only reads counters supplied by the adapter.
package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Kind selects what a step displays.
type Kind string

const (
	KindGuildCount Kind = "guild_count"
	KindLatency    Kind = "latency"
	KindText       Kind = "text"
)

// Step is one status shown for Dwell before moving on.
type Step struct {
	Kind  Kind
	Text  string
	Dwell time.Duration
}

// Stats supplies the live counters shown by guild_count and latency steps.
type Stats interface {
	GuildCount() int
	Latency() time.Duration
}

// StatusSetter publishes a status line.
type StatusSetter interface {
	SetStatus(ctx context.Context, text string) error
}

type Rotator struct {
	steps  []Step
	stats  Stats
	setter StatusSetter
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

type Option func(*Rotator)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Rotator) {
		r.logger = logger
	}
}

// DefaultSteps mirrors the original rotation: guild count, latency, then
// three fixed texts, the last shown briefly.
func DefaultSteps() []Step {
	return []Step{
		{Kind: KindGuildCount, Dwell: 10 * time.Second},
		{Kind: KindLatency, Dwell: 10 * time.Second},
		{Kind: KindText, Text: "Press the button to verify", Dwell: 10 * time.Second},
		{Kind: KindText, Text: "Role prompts survive restarts", Dwell: 10 * time.Second},
		{Kind: KindText, Text: "Watching over you", Dwell: 2 * time.Second},
	}
}

func New(stats Stats, setter StatusSetter, steps []Step, opts ...Option) (*Rotator, error) {
	if stats == nil || setter == nil {
		return nil, errors.New("stats and status setter are required")
	}
	if len(steps) == 0 {
		steps = DefaultSteps()
	}
	for i, step := range steps {
		if step.Dwell <= 0 {
			return nil, fmt.Errorf("presence step %d: dwell must be positive", i)
		}
	}
	r := &Rotator{steps: steps, stats: stats, setter: setter, sleep: sleepCtx}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	return r, nil
}

// Render returns the status text for step.
func (r *Rotator) Render(step Step) string {
	switch step.Kind {
	case KindGuildCount:
		n := r.stats.GuildCount()
		if n == 1 {
			return "Serving 1 server"
		}
		return fmt.Sprintf("Serving %d servers", n)
	case KindLatency:
		return fmt.Sprintf("Ping: %dms", r.stats.Latency().Milliseconds())
	default:
		return step.Text
	}
}

// Run cycles through the steps until ctx is cancelled. A failed status
// update is logged and the rotation continues.
func (r *Rotator) Run(ctx context.Context) error {
	for {
		for _, step := range r.steps {
			if err := r.setter.SetStatus(ctx, r.Render(step)); err != nil {
				r.logger.DebugContext(ctx, "status update failed", "error", err)
			}
			if err := r.sleep(ctx, step.Dwell); err != nil {
				return nil
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
