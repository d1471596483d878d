// ABOUTME: Gateway orchestrator that wires the store, executor client, and HTTP server
// ABOUTME: Manages session manager, sweeper schedule, and health endpoint lifecycle

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/attck-nexus/nexus-gateway/internal/config"
	"github.com/attck-nexus/nexus-gateway/internal/executor"
	"github.com/attck-nexus/nexus-gateway/internal/session"
	"github.com/attck-nexus/nexus-gateway/internal/store"
)

// Gateway orchestrates the nexus-gateway server components.
// It owns the session manager, the expiry sweeper, and the HTTP server that
// exposes the REST API and WebSocket endpoint.
type Gateway struct {
	config     *config.Config
	store      store.Store
	manager    *session.Manager
	sweeper    *session.Sweeper
	httpServer *http.Server
	logger     *slog.Logger

	// serverID identifies this gateway instance
	serverID string

	// baseCancel aborts in-flight executor streams during shutdown
	baseCancel context.CancelFunc
}

// initStore creates and returns a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("NEXUS_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	exec := executor.NewHTTPExecutor(cfg.Executor.URL, cfg.Executor.Token, cfg.Executor.ConnectTimeout)
	return newWithDeps(cfg, s, exec, logger), nil
}

// newWithDeps assembles a gateway over explicit store and executor
// implementations. Tests inject mocks through this path.
func newWithDeps(cfg *config.Config, s store.Store, exec executor.Executor, logger *slog.Logger) *Gateway {
	// Executions outlive the requests that start them; baseCtx bounds them
	// to the gateway's lifetime instead.
	baseCtx, baseCancel := context.WithCancel(context.Background())

	manager := session.NewManager(baseCtx, s, exec, logger)
	sweeper := session.NewSweeper(manager, cfg.Sessions.IdleThreshold, logger)

	gw := &Gateway{
		config:     cfg,
		store:      s,
		manager:    manager,
		sweeper:    sweeper,
		logger:     logger.With("component", "gateway"),
		serverID:   generateServerID(),
		baseCancel: baseCancel,
	}

	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)

	// Session API
	mux.HandleFunc("/api/sessions", gw.handleSessions)
	mux.HandleFunc("/api/sessions/", gw.handleSessionRoutes)

	// Realtime WebSocket endpoint
	mux.HandleFunc("/ws/", gw.handleWebSocket)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw
}

// Manager exposes the session manager, mainly for tests and subcommands.
func (g *Gateway) Manager() *session.Manager {
	return g.manager
}

// Sweeper exposes the expiry sweeper for on-demand sweeps.
func (g *Gateway) Sweeper() *session.Sweeper {
	return g.sweeper
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run starts the HTTP server and the sweep loop, blocking until the context
// is canceled. Returns nil on graceful shutdown (context canceled), or an
// error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	go g.runSweepLoop(ctx)

	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// runSweepLoop periodically reclaims expired sessions. The sweeper itself is
// stateless; this loop owns the schedule.
func (g *Gateway) runSweepLoop(ctx context.Context) {
	interval := g.config.Sessions.SweepInterval
	if interval <= 0 {
		interval = session.DefaultSweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept, err := g.sweeper.SweepOnce(ctx)
			if err != nil {
				g.logger.Error("session sweep failed", "error", err)
				continue
			}
			if swept > 0 {
				g.logger.Info("session sweep complete", "swept", swept)
			}
		}
	}
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown gracefully stops the HTTP server, aborts running executor
// streams, and releases the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.baseCancel()

	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// handleHealth returns 200 with instance identity if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":    "healthy",
		"server_id": g.serverID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReady returns 200 OK if the session store is reachable.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := g.manager.ListIDs(r.Context(), ""); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// generateServerID creates a unique identifier for this gateway instance.
func generateServerID() string {
	return fmt.Sprintf("nexus-gateway-%d", time.Now().UnixNano()%1000000)
}
