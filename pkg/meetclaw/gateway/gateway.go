// Package gateway exposes the meeting lifecycle over HTTP: the provider
// webhook, agent spawn and voice attach, and the operational endpoints.
package gateway

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jholhewres/meetclaw/pkg/meetclaw/database"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/dedup"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/meetings"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/participant"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/provider"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/recording"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/spawn"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/transcript"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/voice"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/webhook"
)

// maxBodyBytes caps request bodies, webhook payloads included.
const maxBodyBytes = 1 << 20

// Config configures the HTTP server.
type Config struct {
	Address     string
	AuthToken   string
	CORSOrigins []string

	// WebhookSecret, when set, is required to sign /api/webhook bodies.
	WebhookSecret string

	RequestTimeout time.Duration
}

// HealthReporter reports database health.
type HealthReporter interface {
	Status(ctx context.Context) map[string]database.HealthStatus
	Healthy(ctx context.Context) bool
}

// Deps are the lifecycle components the gateway routes to.
type Deps struct {
	Store       meetings.Store
	Client      provider.Client
	Registry    *participant.Registry
	Spawner     *spawn.Coordinator
	Controller  *voice.Controller
	Webhook     *webhook.Handler
	Sweeper     *dedup.Sweeper
	Capture     *recording.Syncer
	Transcripts *transcript.Service
	Health      HealthReporter
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	deps      Deps
	config    Config
	server    *http.Server
	logger    *slog.Logger
	startedAt time.Time

	// background tracks auto-join sessions started by spawn requests.
	background sync.WaitGroup
}

// New creates a new Gateway.
func New(deps Deps, cfg Config, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = ":8090"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &Gateway{
		deps:      deps,
		config:    cfg,
		logger:    logger.With("component", "gateway"),
		startedAt: time.Now(),
	}
}

// Handler returns the routed handler with middleware applied.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", g.handleHealth)

	mux.HandleFunc("POST /api/webhook", g.handleWebhook)
	mux.HandleFunc("POST /api/spawn-agent", g.handleSpawnAgent)
	mux.HandleFunc("POST /api/connect-voice", g.handleConnectVoice)
	mux.HandleFunc("POST /api/force-agent-join", g.handleForceAgentJoin)
	mux.HandleFunc("POST /api/fetch-meeting-data", g.handleFetchMeetingData)
	mux.HandleFunc("POST /api/transcript-text", g.handleTranscriptText)
	mux.HandleFunc("POST /api/remove-duplicate-agents", g.handleRemoveDuplicates)
	mux.HandleFunc("POST /api/start-recording", g.handleStartRecording)
	mux.HandleFunc("GET /api/meetings/{id}", g.handleGetMeeting)

	return g.securityHeadersMiddleware(g.corsMiddleware(g.authMiddleware(mux)))
}

// Start starts the HTTP server in the background.
func (g *Gateway) Start(ctx context.Context) error {
	g.startedAt = time.Now()

	ln, err := net.Listen("tcp", g.config.Address)
	if err != nil {
		return err
	}
	g.server = &http.Server{
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	if g.config.AuthToken == "" && !isLoopback(g.config.Address) {
		g.logger.Warn("SECURITY: gateway has no auth token and is bound to a non-loopback address",
			"address", g.config.Address)
	}
	if g.config.WebhookSecret == "" {
		g.logger.Warn("webhook signature verification is disabled")
	}

	go func() {
		if err := g.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			g.logger.Error("gateway server error", "error", err)
		}
	}()
	g.logger.Info("gateway started", "address", ln.Addr().String())
	return nil
}

// Stop shuts the server down and waits for auto-join sessions that are
// still joining, bounded by ctx.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("gateway stopping...")
	err := g.server.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		g.background.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		g.logger.Warn("auto-join sessions still running at shutdown")
	}
	return err
}

func isLoopback(addr string) bool {
	host, _, _ := net.SplitHostPort(addr)
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
