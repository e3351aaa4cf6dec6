// Package reconcile re-attaches grant controls to their prompt messages
// after a restart and repairs entries whose message has disappeared.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"rolegate/internal/grant/control"
	"rolegate/internal/grant/ports"
	"rolegate/internal/grant/store"
	"rolegate/internal/platform/metrics"
	dErrors "rolegate/pkg/domain-errors"
	"rolegate/pkg/platform/audit"
	"rolegate/pkg/platform/sentinel"
)

// Result is what happened to one entry during a pass.
type Result string

const (
	ResultRebound  Result = "rebound"
	ResultRepaired Result = "repaired"
	ResultSkipped  Result = "skipped"
	ResultFailed   Result = "failed"
)

// Report summarizes one pass.
type Report struct {
	Total    int
	Rebound  int
	Repaired int
	Skipped  int
	Failed   int
	Duration time.Duration
}

func (r *Report) add(res Result) {
	switch res {
	case ResultRebound:
		r.Rebound++
	case ResultRepaired:
		r.Repaired++
	case ResultSkipped:
		r.Skipped++
	case ResultFailed:
		r.Failed++
	}
}

type Engine struct {
	store     *store.Store
	platform  ports.Platform
	factory   *control.Factory
	registry  *control.Registry
	limiter   *rate.Limiter
	logger    *slog.Logger
	publisher ports.AuditPublisher
	metrics   *metrics.Metrics
	tracer    trace.Tracer

	once   sync.Once
	done   chan struct{}
	mu     sync.RWMutex
	report *Report
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithAuditPublisher(publisher ports.AuditPublisher) Option {
	return func(e *Engine) {
		e.publisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLimiter paces platform writes (control attachment and re-posts).
func WithLimiter(limiter *rate.Limiter) Option {
	return func(e *Engine) {
		e.limiter = limiter
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

func New(st *store.Store, platform ports.Platform, factory *control.Factory, registry *control.Registry, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if platform == nil {
		return nil, errors.New("platform is required")
	}
	if factory == nil {
		return nil, errors.New("control factory is required")
	}
	if registry == nil {
		return nil, errors.New("control registry is required")
	}
	e := &Engine{
		store:    st,
		platform: platform,
		factory:  factory,
		registry: registry,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	if e.limiter == nil {
		e.limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer("rolegate/internal/grant/reconcile")
	}
	return e, nil
}

// RunOnce runs the pass the first time it is called and is a no-op after
// that. The ready signal can repeat on reconnects; only the first counts.
func (e *Engine) RunOnce(ctx context.Context) (Report, bool) {
	ran := false
	var report Report
	e.once.Do(func() {
		ran = true
		report = e.Run(ctx)
		close(e.done)
	})
	return report, ran
}

// Done is closed once RunOnce has finished.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// LastReport returns the report of the most recent pass.
func (e *Engine) LastReport() (Report, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.report == nil {
		return Report{}, false
	}
	return *e.report, true
}

// Run processes every stored entry in store order. A failure on one entry
// never stops the pass; only context cancellation does.
func (e *Engine) Run(ctx context.Context) Report {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "grant.reconcile")
	defer span.End()

	slots := e.store.Snapshot()
	report := Report{Total: len(slots)}
	e.logger.InfoContext(ctx, "reconciling grant entries", "entries", len(slots))

	for _, slot := range slots {
		if err := ctx.Err(); err != nil {
			e.logger.WarnContext(ctx, "reconciliation cancelled", "processed", report.Rebound+report.Repaired+report.Skipped+report.Failed, "error", err)
			break
		}
		res := e.reconcileEntry(ctx, slot)
		report.add(res)
		e.metrics.IncReconcile(string(res))
	}

	report.Duration = time.Since(start)
	e.metrics.ObserveReconcile(report.Duration)
	span.SetAttributes(
		attribute.Int("grant.total", report.Total),
		attribute.Int("grant.rebound", report.Rebound),
		attribute.Int("grant.repaired", report.Repaired),
		attribute.Int("grant.skipped", report.Skipped),
		attribute.Int("grant.failed", report.Failed),
	)
	e.logger.InfoContext(ctx, "reconciliation finished",
		"total", report.Total,
		"rebound", report.Rebound,
		"repaired", report.Repaired,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"duration", report.Duration,
	)

	e.mu.Lock()
	e.report = &report
	e.mu.Unlock()
	return report
}

func (e *Engine) reconcileEntry(ctx context.Context, slot store.Slot) Result {
	entry := slot.Entry
	ctx, span := e.tracer.Start(ctx, "grant.reconcile.entry", trace.WithAttributes(
		attribute.Int("grant.ref", int(slot.Ref)),
		attribute.String("grant.guild_id", entry.GuildID.String()),
		attribute.String("grant.channel_id", entry.ChannelID.String()),
	))
	defer span.End()

	attrs := []any{
		"ref", int(slot.Ref),
		"guild_id", entry.GuildID,
		"channel_id", entry.ChannelID,
		"message_id", entry.Message(),
		"role_id", entry.RoleID,
	}

	res := e.resolve(ctx, slot, attrs)
	span.SetAttributes(attribute.String("grant.result", string(res)))
	return res
}

func (e *Engine) resolve(ctx context.Context, slot store.Slot, attrs []any) Result {
	entry := slot.Entry

	if _, err := e.platform.Guild(ctx, entry.GuildID); err != nil {
		return e.skipOrFail(ctx, "guild", err, attrs)
	}
	if _, err := e.platform.Channel(ctx, entry.GuildID, entry.ChannelID); err != nil {
		return e.skipOrFail(ctx, "channel", err, attrs)
	}

	if !entry.HasMessage() {
		return e.repair(ctx, slot, attrs)
	}

	_, err := e.platform.Message(ctx, entry.ChannelID, entry.Message())
	switch {
	case err == nil:
		return e.rebind(ctx, slot, attrs)
	case errors.Is(err, sentinel.ErrNotFound):
		return e.repair(ctx, slot, attrs)
	default:
		return e.unrepaired(ctx, "message lookup failed", err, attrs)
	}
}

// skipOrFail leaves the entry untouched. A missing guild or channel may come
// back, so the entry is kept for a later run.
func (e *Engine) skipOrFail(ctx context.Context, what string, err error, attrs []any) Result {
	if errors.Is(err, sentinel.ErrNotFound) {
		e.logger.WarnContext(ctx, what+" not found, skipping grant entry",
			append(attrs, "code", string(dErrors.CodeConfigurationMissing))...)
		ports.LogAudit(ctx, nil, e.publisher, audit.EventEntrySkipped, append(attrs, "reason", what+"_missing")...)
		return ResultSkipped
	}
	return e.unrepaired(ctx, what+" lookup failed", err, attrs)
}

func (e *Engine) rebind(ctx context.Context, slot store.Slot, attrs []any) Result {
	entry := slot.Entry
	c := e.factory.Build(entry)
	e.registry.Bind(c)

	if err := e.limiter.Wait(ctx); err != nil {
		e.registry.Unbind(c.ID())
		return e.unrepaired(ctx, "rate limiter wait aborted", err, attrs)
	}
	err := e.platform.AttachControl(ctx, entry.ChannelID, entry.Message(), c.Button())
	if errors.Is(err, sentinel.ErrNotFound) {
		// deleted between fetch and edit
		e.registry.Unbind(c.ID())
		return e.repair(ctx, slot, attrs)
	}
	if err != nil {
		e.registry.Unbind(c.ID())
		e.metrics.IncPlatformError("attach_control")
		return e.unrepaired(ctx, "failed to attach grant control", err, attrs)
	}

	e.registry.Attach(entry.ChannelID, entry.Message(), c.ID())
	e.logger.DebugContext(ctx, "grant control rebound", append(attrs, "control_id", string(c.ID()))...)
	ports.LogAudit(ctx, nil, e.publisher, audit.EventControlRebound, attrs...)
	return ResultRebound
}

func (e *Engine) repair(ctx context.Context, slot store.Slot, attrs []any) Result {
	entry := slot.Entry

	role, err := e.platform.Role(ctx, entry.GuildID, entry.RoleID)
	if err != nil {
		// The prompt is still re-posted; activations will report the missing role.
		e.logger.WarnContext(ctx, "role unavailable for repaired prompt, using default colour", append(attrs, "error", err)...)
		role = nil
	}

	c := e.factory.Build(entry)
	e.registry.Bind(c)

	if err := e.limiter.Wait(ctx); err != nil {
		e.registry.Unbind(c.ID())
		return e.unrepaired(ctx, "rate limiter wait aborted", err, attrs)
	}
	messageID, err := e.platform.SendPrompt(ctx, entry.ChannelID, e.factory.Prompt(c, role))
	if err != nil {
		e.registry.Unbind(c.ID())
		e.metrics.IncPlatformError("send_prompt")
		return e.unrepaired(ctx, "failed to re-post grant prompt", err, attrs)
	}
	e.registry.Attach(entry.ChannelID, messageID, c.ID())

	// Persistence failures are logged by the store; the in-memory entry is
	// already updated and the control is live.
	_ = e.store.SetMessageID(ctx, slot.Ref, entry, messageID)

	e.logger.InfoContext(ctx, "grant prompt re-posted", append(attrs, "new_message_id", messageID)...)
	ports.LogAudit(ctx, nil, e.publisher, audit.EventEntryRepaired, append(attrs, "decision", "reposted")...)
	return ResultRepaired
}

func (e *Engine) unrepaired(ctx context.Context, msg string, err error, attrs []any) Result {
	e.logger.WarnContext(ctx, msg+", leaving grant entry for the next run",
		append(attrs, "error", err, "code", string(dErrors.CodeDeliveryFailure))...)
	ports.LogAudit(ctx, nil, e.publisher, audit.EventEntryUnrepaired, append(attrs, "reason", err.Error())...)
	return ResultFailed
}
