package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"rolegate/internal/platform/config"
	"rolegate/internal/platform/httpserver"
	"rolegate/internal/platform/logger"
)

const shutdownTimeout = 10 * time.Second

// main loads configuration, restores the grant store, and runs the gateway
// session alongside the ops HTTP server until a signal arrives.
func main() {
	configPath := pflag.StringP("config", "c", os.Getenv("ROLEGATE_CONFIG"), "path to the YAML configuration file")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rolegate: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("rolegate stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("rolegate stopped")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	app, err := buildApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	// Restore before connecting so the first reconciliation pass sees every
	// recorded grant.
	entries := app.store.Load(ctx)
	log.Info("grant store loaded", "backend", app.store.Backend(), "entries", len(entries))

	g, gctx := errgroup.WithContext(ctx)
	serveOps(gctx, g, cfg.Ops.Addr, app.router, log)
	g.Go(func() error {
		return app.bot.Run(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// serveOps runs the ops server in g until ctx ends. An empty addr disables
// it and reports false.
func serveOps(ctx context.Context, g *errgroup.Group, addr string, handler http.Handler, log *slog.Logger) bool {
	if addr == "" {
		log.Info("ops server disabled")
		return false
	}
	srv := httpserver.New(addr, handler)
	g.Go(func() error {
		log.Info("starting ops server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return true
}
