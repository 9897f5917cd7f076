package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/meetclaw/pkg/meetclaw/dedup"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/gateway"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/notify"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/recording"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/scheduler"
	msignal "github.com/jholhewres/meetclaw/pkg/meetclaw/signal"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/spawn"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/transcript"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/voice"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/webhook"
)

// newServeCmd creates the `meetclaw serve` command that starts the server.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server, webhook handler and maintenance jobs",
		Long: `Start meetclaw as a service. The database is migrated on startup.

Examples:
  meetclaw serve
  meetclaw serve --config ./meetclaw.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	bootLogger := newLogger(cmd, "info", "json", os.Stdout)
	cfg, err := resolveConfig(cmd, bootLogger)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg.Logging.Level, cfg.Logging.Format, os.Stdout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := openAppWith(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.hub.Migrate(ctx, "", 0); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	// ── Voice ──
	var backend voice.Backend
	if cfg.Voice.Enabled {
		rt, err := voice.NewRealtime(cfg.Voice.Config, logger)
		if err != nil {
			logger.Warn("voice backend disabled, agents will join without voice", "error", err)
		} else {
			backend = rt
		}
	}
	controller := voice.NewController(a.client, backend, a.registry, cfg.Voice.Config, logger)

	// ── Notifications ──
	var notifier notify.Notifier = notify.Nop{}
	if cfg.Notify.Discord.WebhookURL != "" {
		d, err := notify.NewDiscord(cfg.Notify.Discord, logger)
		if err != nil {
			return fmt.Errorf("discord notifier: %w", err)
		}
		notifier = d
	}

	// ── Lifecycle components ──
	loc, err := cfg.Transcript.Location()
	if err != nil {
		return err
	}
	capture := recording.NewSyncer(a.client, a.store, logger)
	sweeper := dedup.New(a.client, a.registry, a.store, logger)
	hook := webhook.New(webhook.Deps{
		Store:    a.store,
		Client:   a.client,
		Channel:  msignal.NewChannel(a.client, logger),
		Capture:  capture,
		Sessions: controller,
		Notifier: notifier,
	}, cfg.Webhook, logger)

	gwCfg := gateway.Config{
		Address:        cfg.Gateway.Address,
		AuthToken:      cfg.Gateway.AuthToken,
		CORSOrigins:    cfg.Gateway.CORSOrigins,
		RequestTimeout: cfg.Gateway.RequestTimeout,
	}
	if cfg.Gateway.VerifyWebhookSignature {
		gwCfg.WebhookSecret = cfg.Provider.APISecret
	}
	gw := gateway.New(gateway.Deps{
		Store:       a.store,
		Client:      a.client,
		Registry:    a.registry,
		Spawner:     spawn.New(a.store, a.client, a.registry, cfg.Provider.TokenTTL, logger),
		Controller:  controller,
		Webhook:     hook,
		Sweeper:     sweeper,
		Capture:     capture,
		Transcripts: transcript.NewService(a.store, nil, loc, logger),
		Health:      a.hub,
	}, gwCfg, logger)

	// ── Maintenance ──
	sched := scheduler.New(0, logger)
	if cfg.Scheduler.Enabled {
		if err := scheduler.RegisterMaintenance(sched, cfg.Scheduler, sweeper, capture); err != nil {
			return fmt.Errorf("registering maintenance jobs: %w", err)
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("starting scheduler: %w", err)
		}
	}

	// ── Start ──
	if err := gw.Start(ctx); err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}
	logger.Info("meetclaw running. Press Ctrl+C to stop.",
		"address", cfg.Gateway.Address,
		"provider", cfg.Provider.Kind,
		"voice", backend != nil,
		"database", string(cfg.Database.Backend))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")

	timeout := cfg.Gateway.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Warn("gateway shutdown", "error", err)
	}
	sched.Stop()
	controller.Shutdown(shutdownCtx)
	cancel()

	logger.Info("shutdown complete")
	return nil
}
