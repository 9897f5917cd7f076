package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Hub is the central database management system that orchestrates
// database backends and provides a unified API.
type Hub struct {
	// backends stores all registered database backends by name
	backends map[string]*Backend

	// primary is the name of the default backend
	primary string

	logger *slog.Logger

	// mu protects concurrent access to backends
	mu sync.RWMutex

	// factories stores registered backend factories by type
	factories map[BackendType]BackendFactory
}

// NewHub creates a new Database Hub and opens the primary backend.
func NewHub(ctx context.Context, config HubConfig, logger *slog.Logger) (*Hub, error) {
	if logger == nil {
		logger = slog.Default()
	}

	hub := &Hub{
		backends:  make(map[string]*Backend),
		factories: make(map[BackendType]BackendFactory),
		logger:    logger.With("component", "database"),
	}

	hub.RegisterFactory(BackendSQLite, &SQLiteFactory{})
	hub.RegisterFactory(BackendPostgreSQL, NewPostgreSQLFactory(logger))

	cfg := config.Effective()
	primaryConfig, err := primaryConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("get primary config: %w", err)
	}

	if err := hub.AddBackend(ctx, "primary", primaryConfig); err != nil {
		return nil, fmt.Errorf("create primary backend: %w", err)
	}
	hub.primary = "primary"

	return hub, nil
}

func primaryConfig(cfg HubConfig) (Config, error) {
	switch cfg.Backend {
	case BackendSQLite:
		return cfg.SQLite.ToConfig(), nil
	case BackendPostgreSQL:
		return cfg.PostgreSQL.ToConfig(), nil
	default:
		return Config{}, fmt.Errorf("unsupported backend type: %s", cfg.Backend)
	}
}

// RegisterFactory registers a backend factory for a specific backend type.
func (h *Hub) RegisterFactory(backendType BackendType, factory BackendFactory) {
	h.factories[backendType] = factory
}

// AddBackend creates and registers a new database backend.
func (h *Hub) AddBackend(ctx context.Context, name string, config Config) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.backends[name]; exists {
		return fmt.Errorf("backend %q already exists", name)
	}

	factory, ok := h.factories[config.Type]
	if !ok {
		return fmt.Errorf("no factory registered for backend type: %s", config.Type)
	}

	backend, err := factory.Create(ctx, config)
	if err != nil {
		return fmt.Errorf("create backend %q: %w", name, err)
	}

	backend.Name = name
	h.backends[name] = backend

	h.logger.Info("database backend registered", "name", name, "type", config.Type)
	return nil
}

// GetBackend returns a backend by name, or the primary backend if name is empty.
func (h *Hub) GetBackend(name string) (*Backend, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if name == "" {
		name = h.primary
	}

	backend, ok := h.backends[name]
	if !ok {
		return nil, fmt.Errorf("backend %q not found", name)
	}
	return backend, nil
}

// Primary returns the primary database backend.
func (h *Hub) Primary() *Backend {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.backends[h.primary]
}

// Status returns the health status of all backends.
func (h *Hub) Status(ctx context.Context) map[string]HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := make(map[string]HealthStatus, len(h.backends))
	for name, backend := range h.backends {
		if backend.Health != nil {
			status[name] = backend.Health.Status(ctx)
		} else {
			status[name] = HealthStatus{Healthy: false, Error: "health checker not available"}
		}
	}
	return status
}

// Healthy reports whether every backend is healthy.
func (h *Hub) Healthy(ctx context.Context) bool {
	for _, s := range h.Status(ctx) {
		if !s.Healthy {
			return false
		}
	}
	return true
}

// Migrate runs migrations on the specified backend (or primary if empty).
func (h *Hub) Migrate(ctx context.Context, backendName string, target int) error {
	backend, err := h.GetBackend(backendName)
	if err != nil {
		return err
	}
	if backend.Migrator == nil {
		return fmt.Errorf("migrator not available for backend %q", backend.Name)
	}
	return backend.Migrator.Migrate(ctx, target)
}

// Close closes all database connections.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var errs []error
	for name, backend := range h.backends {
		if err := backend.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close backend %q: %w", name, err))
		}
		h.logger.Debug("database backend closed", "name", name)
	}
	h.backends = make(map[string]*Backend)

	return errors.Join(errs...)
}
