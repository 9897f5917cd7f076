package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jholhewres/meetclaw/pkg/meetclaw/config"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/database"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/meetings"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/participant"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/provider"
)

// app holds what most commands need: config, logger, store and provider.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	hub      *database.Hub
	store    *meetings.SQLStore
	client   provider.Client
	registry *participant.Registry
}

// resolveConfig loads the config named by --config, a discovered file, or
// defaults plus environment.
func resolveConfig(cmd *cobra.Command, logger *slog.Logger) (*config.Config, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	config.AuditSecrets(cfg, logger)
	config.ResolveSecrets(cfg, logger)
	return cfg, nil
}

// newLogger builds the root logger. --verbose forces debug.
func newLogger(cmd *cobra.Command, level, format string, w io.Writer) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	if verbose {
		lvl = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// openApp loads config and opens the store and provider. Short-lived
// commands log warnings as text on stderr.
func openApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	logger := newLogger(cmd, "warn", "text", os.Stderr)
	cfg, err := resolveConfig(cmd, logger)
	if err != nil {
		return nil, err
	}
	return openAppWith(ctx, cfg, logger)
}

func openAppWith(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	client, err := newProvider(cfg, logger)
	if err != nil {
		return nil, err
	}
	hub, err := database.NewHub(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return &app{
		cfg:      cfg,
		logger:   logger,
		hub:      hub,
		store:    meetings.NewSQLStore(hub.Primary()),
		client:   client,
		registry: participant.NewRegistry(cfg.Participant),
	}, nil
}

func (a *app) Close() {
	if err := a.hub.Close(); err != nil {
		a.logger.Warn("closing database", "error", err)
	}
}

func newProvider(cfg *config.Config, logger *slog.Logger) (provider.Client, error) {
	switch cfg.Provider.Kind {
	case "memory":
		logger.Warn("using the in-memory call provider; calls do not leave this process")
		secret := cfg.Provider.APISecret
		if secret == "" {
			secret = "meetclaw-dev-secret"
		}
		return provider.NewMemory(cfg.Provider.APIKey, secret), nil
	default:
		s, err := provider.NewStream(cfg.Provider.Stream(), logger)
		if err != nil {
			return nil, fmt.Errorf("creating provider client: %w", err)
		}
		return s, nil
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
