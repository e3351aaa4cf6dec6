package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"rolegate/internal/discord"
	"rolegate/internal/grant/control"
	"rolegate/internal/grant/ports"
	"rolegate/internal/grant/reconcile"
	"rolegate/internal/grant/service"
	"rolegate/internal/grant/store"
	"rolegate/internal/platform/config"
	"rolegate/internal/platform/kafka"
	"rolegate/internal/platform/metrics"
	"rolegate/internal/platform/postgres"
	"rolegate/internal/platform/redis"
	"rolegate/internal/presence"
	httptransport "rolegate/internal/transport/http"
	"rolegate/pkg/platform/audit"
	"rolegate/pkg/platform/audit/guard"
	"rolegate/pkg/platform/audit/publisher"
	kafkaaudit "rolegate/pkg/platform/audit/store/kafka"
	pgaudit "rolegate/pkg/platform/audit/store/postgres"
)

// app holds the wired components and the resources to release on exit.
type app struct {
	store  *store.Store
	bot    *discord.Bot
	router http.Handler

	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildApp(ctx context.Context, cfg config.Config, log *slog.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewWithRegisterer(reg)

	rdb, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if rdb != nil {
		a.closers = append(a.closers, func() { _ = rdb.Close() })
	}

	var db *sql.DB
	if cfg.Store.Backend == config.BackendPostgres || cfg.Audit.Sink == config.SinkPostgres {
		db, err = postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
	}

	backend, err := newBackend(ctx, cfg, rdb, db)
	if err != nil {
		return nil, err
	}
	a.store, err = store.New(backend, store.WithLogger(log), store.WithMetrics(m))
	if err != nil {
		return nil, err
	}

	auditPublisher, err := newAuditPublisher(ctx, a, cfg, log, reg, db)
	if err != nil {
		return nil, err
	}

	session, err := discord.NewSession(cfg.Discord.Token)
	if err != nil {
		return nil, err
	}
	platform := discord.NewPlatform(session)

	factory, err := control.NewFactory(platform,
		control.WithLogger(log),
		control.WithAuditPublisher(auditPublisher),
		control.WithMetrics(m),
		control.WithTexts(textsFrom(cfg.Prompt)),
	)
	if err != nil {
		return nil, err
	}
	registry := control.NewRegistry(m)

	engine, err := reconcile.New(a.store, platform, factory, registry,
		reconcile.WithLogger(log),
		reconcile.WithAuditPublisher(auditPublisher),
		reconcile.WithMetrics(m),
		reconcile.WithLimiter(newLimiter(cfg.Reconcile)),
	)
	if err != nil {
		return nil, err
	}

	svc, err := service.New(a.store, platform, factory, registry,
		service.WithOperators(cfg.Operators...),
		service.WithLogger(log),
		service.WithAuditPublisher(auditPublisher),
		service.WithMetrics(m),
	)
	if err != nil {
		return nil, err
	}

	botOpts := []discord.Option{
		discord.WithLogger(log),
		discord.WithMetrics(m),
		discord.WithNotifyChannel(cfg.Discord.NotifyChannelID),
		discord.WithCommandGuild(cfg.Discord.CommandGuildID),
	}
	if cfg.Presence.Enabled {
		rotator, err := presence.New(platform, platform, stepsFrom(cfg.Presence.Steps), presence.WithLogger(log))
		if err != nil {
			return nil, err
		}
		botOpts = append(botOpts, discord.WithPresence(rotator))
	}
	a.bot, err = discord.NewBot(session, platform, registry, svc, engine, botOpts...)
	if err != nil {
		return nil, err
	}

	handler := httptransport.NewHandler(svc, engine, log)
	if rdb != nil {
		handler.AddCheck("redis", rdb.Health)
	}
	if db != nil {
		handler.AddCheck("postgres", db.PingContext)
	}
	a.router = httptransport.NewRouter(handler, reg)
	return a, nil
}

func newBackend(ctx context.Context, cfg config.Config, rdb *redis.Client, db *sql.DB) (store.Backend, error) {
	switch cfg.Store.Backend {
	case config.BackendFile:
		return store.NewFileBackend(cfg.Store.Path), nil
	case config.BackendRedis:
		if rdb == nil {
			return nil, fmt.Errorf("store backend redis requires redis.url")
		}
		return store.NewRedisBackend(rdb.Client, cfg.Store.Key), nil
	case config.BackendPostgres:
		b := store.NewPostgresBackend(db, cfg.Store.Table, cfg.Store.Document)
		if err := b.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return b, nil
	case config.BackendMemory:
		return store.NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// newAuditPublisher returns nil when no sink is configured; every consumer
// treats a nil publisher as log-only.
func newAuditPublisher(ctx context.Context, a *app, cfg config.Config, log *slog.Logger, reg prometheus.Registerer, db *sql.DB) (ports.AuditPublisher, error) {
	var sink audit.Store
	switch cfg.Audit.Sink {
	case config.SinkKafka:
		client, err := kafka.New(cfg.Audit.Kafka)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		if cfg.Audit.Kafka.CreateTopic {
			if err := kafka.EnsureTopic(ctx, client, cfg.Audit.Kafka); err != nil {
				return nil, err
			}
		}
		sink = kafkaaudit.New(client, cfg.Audit.Kafka.Topic)
	case config.SinkPostgres:
		pg := pgaudit.New(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		sink = pg
	default:
		return nil, nil
	}

	guardOpts := []guard.Option{
		guard.WithMetrics(guard.NewMetrics(reg)),
		guard.WithLogger(log),
		guard.WithSampler(guard.NewSampler(cfg.Audit.OpsSampleRate)),
	}
	if cfg.Audit.BreakerThreshold > 0 {
		guardOpts = append(guardOpts, guard.WithBreaker(guard.NewBreaker(cfg.Audit.BreakerThreshold, cfg.Audit.BreakerCooldown)))
	}
	pub := publisher.NewPublisher(guard.New(sink, guardOpts...),
		publisher.WithAsyncBuffer(cfg.Audit.Buffer),
		publisher.WithLogger(log),
	)
	a.closers = append(a.closers, pub.Close)
	return pub, nil
}

func newLimiter(cfg config.ReconcileConfig) *rate.Limiter {
	if cfg.RatePerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(math.Max(1, math.Ceil(cfg.RatePerSecond)))
	}
	return rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
}

func textsFrom(p config.PromptConfig) control.Texts {
	return control.Texts{
		Title:                p.Title,
		Description:          p.Description,
		ButtonLabel:          p.ButtonLabel,
		Color:                p.Color,
		Granted:              p.Granted,
		AlreadyGranted:       p.AlreadyGranted,
		ConfigurationMissing: p.ConfigurationMissing,
		AssignmentFailed:     p.AssignmentFailed,
	}
}

func stepsFrom(entries []config.PresenceEntry) []presence.Step {
	steps := make([]presence.Step, 0, len(entries))
	for _, e := range entries {
		steps = append(steps, presence.Step{Kind: presence.Kind(e.Kind), Text: e.Text, Dwell: e.Dwell})
	}
	return steps
}
