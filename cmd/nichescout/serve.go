package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nichescout/nichescout/internal/natsbus"
	"github.com/nichescout/nichescout/internal/research"
	"github.com/nichescout/nichescout/internal/scheduler"
	"github.com/nichescout/nichescout/internal/telegram"
	"github.com/nichescout/nichescout/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the research service",
	Long: `Starts the long-running service: the event bus, the research coordinator,
the scheduler, and the Telegram bot and web UI when they are configured.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	slog.Info("starting nichescout", "version", version)

	if n, err := a.store.FailStaleRuns(); err != nil {
		return fmt.Errorf("recover runs: %w", err)
	} else if n > 0 {
		slog.Warn("marked interrupted runs as failed", "count", n)
	}

	if err := a.withGraph(ctx); err != nil {
		return err
	}

	// Embedded NATS
	bus, err := natsbus.New(a.cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer bus.Close()
	slog.Info("nats started", "port", bus.Port())

	events, err := natsbus.NewClient(bus, "coordinator")
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer events.Close()

	coord := research.NewCoordinator(a.runner, a.store, events, a.cfg.Output.ReportsDir)
	go coord.StartIdleReaper(ctx, a.cfg.Routing.IdleTimeout)

	sched := scheduler.New(a.store, coord, events, a.cfg.Scheduler)
	go sched.Start(ctx)
	slog.Info("scheduler started")

	if a.cfg.Telegram.Token != "" {
		bot, err := telegram.NewBot(a.cfg.Telegram, coord, a.store)
		if err != nil {
			return fmt.Errorf("init telegram bot: %w", err)
		}
		go func() {
			if err := bot.Start(ctx); err != nil {
				slog.Error("telegram bot error", "error", err)
			}
		}()
	} else {
		slog.Warn("telegram token not set, bot disabled")
	}

	if a.cfg.Web.Enabled {
		srv := web.NewServer(a.store, bus, coord, sched, a.workers, a.cfg.Web, version)
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
		slog.Info("web server started", "port", a.cfg.Web.Port)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
	defer done()
	if err := coord.Shutdown(shutdownCtx); err != nil {
		slog.Warn("runs still active at shutdown", "error", err)
	}
	return nil
}
