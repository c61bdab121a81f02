// ABOUTME: Server that wires config, store, container runtime and HTTP API together
// ABOUTME: Owns listener setup (TCP or tailnet), health endpoints, and graceful shutdown

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/2389/clawhuddle/internal/api"
	"github.com/2389/clawhuddle/internal/auth"
	"github.com/2389/clawhuddle/internal/config"
	"github.com/2389/clawhuddle/internal/credentials"
	"github.com/2389/clawhuddle/internal/health"
	"github.com/2389/clawhuddle/internal/orchestrator"
	"github.com/2389/clawhuddle/internal/routing"
	"github.com/2389/clawhuddle/internal/runtime"
	"github.com/2389/clawhuddle/internal/skills"
	"github.com/2389/clawhuddle/internal/store"
	"github.com/2389/clawhuddle/internal/tasks"
	"github.com/2389/clawhuddle/internal/workspace"
)

// Pinger is implemented by engines that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the external collaborators a Server is built on. New fills them
// from config; tests pass fakes to NewWithDeps.
type Deps struct {
	Store  store.Store
	Engine runtime.Engine

	// Fetcher defaults to the git-backed skills cache.
	Fetcher workspace.Fetcher
	// Resolver defaults to the system resolver.
	Resolver routing.Resolver
}

// Server runs the clawhuddle HTTP API.
type Server struct {
	config       *config.Config
	store        store.Store
	engine       runtime.Engine
	runtime      *runtime.Runtime
	orchestrator *orchestrator.Orchestrator
	routes       *routing.Publisher
	queue        *tasks.Queue
	handler      http.Handler
	httpServer   *http.Server
	tailnet      *tailnet
	logger       *slog.Logger
}

// New opens the SQLite store and the Docker engine named in cfg and builds a
// Server on them.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	dbPath := cfg.Database.Path
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	docker, err := runtime.NewDocker(cfg.Gateways.DockerHost)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("connecting to container engine: %w", err)
	}

	srv, err := NewWithDeps(cfg, Deps{Store: s, Engine: docker}, logger)
	if err != nil {
		_ = docker.Close()
		_ = s.Close()
		return nil, err
	}
	return srv, nil
}

// NewWithDeps builds a Server on the given store and engine. The Server takes
// ownership of both and closes them on Shutdown.
func NewWithDeps(cfg *config.Config, deps Deps, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Tracing.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
	}

	g := cfg.Gateways
	rt := runtime.New(deps.Engine, runtime.Options{
		Image:         g.Image,
		InternalPort:  g.InternalPort,
		Network:       g.Network,
		Prefix:        g.ContainerPrefix,
		GatewayDomain: g.GatewayDomain,
		PublishPorts:  g.Mode.PublishesPorts(),
		ExecTimeout:   g.ExecTimeout,
	}, logger)

	var prober health.Prober
	if g.Mode.PublishesPorts() {
		prober = health.NewHTTPProber(g.HealthTimeout, logger)
	} else {
		prober = health.NewExecProber(rt, g.HealthTimeout, logger)
	}

	publisher := routing.NewPublisher(deps.Store, rt, routing.Options{
		MapPath:        cfg.Routing.MapPath,
		ProxyContainer: cfg.Routing.ProxyContainer,
		GatewayHost:    cfg.Routing.GatewayHost,
		ResolveHost:    cfg.Routing.ResolveHost,
		Resolver:       deps.Resolver,
	}, logger)
	if err := publisher.EnsureMapFile(); err != nil {
		return nil, err
	}

	fetcher := deps.Fetcher
	if fetcher == nil {
		fetcher = skills.NewCache(cfg.Skills.CacheDir, cfg.Skills.CloneTimeout, cfg.Skills.PullTimeout, logger)
	}

	orch := orchestrator.New(orchestrator.Deps{
		Store:       deps.Store,
		Credentials: credentials.NewResolver(deps.Store, logger),
		Skills:      skills.NewRegistry(deps.Store),
		Fetcher:     fetcher,
		Workspace:   workspace.NewManager(g.DataDir, g.HostDataDir, logger),
		Runtime:     rt,
		Prober:      prober,
		Routes:      publisher,
	}, orchestrator.Options{ProbeHost: cfg.Routing.GatewayHost}, logger)

	queue := tasks.NewQueue(tasks.Options{
		MaxAttempts:     cfg.Tasks.MaxAttempts,
		InitialInterval: cfg.Tasks.InitialInterval,
		MaxInterval:     cfg.Tasks.MaxInterval,
		DedupeWindow:    cfg.Tasks.DedupeWindow,
		Permanent:       orchestrator.IsPrecondition,
	}, logger)

	srv := &Server{
		config:       cfg,
		store:        deps.Store,
		engine:       deps.Engine,
		runtime:      rt,
		orchestrator: orch,
		routes:       publisher,
		queue:        queue,
		logger:       logger.With("component", "server"),
	}

	handler, err := srv.buildHandler()
	if err != nil {
		queue.Close()
		return nil, err
	}
	srv.handler = handler
	srv.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv, nil
}

func (s *Server) buildHandler() (http.Handler, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/ready", s.handleReady)

	if s.config.Metrics.Enabled {
		mux.Handle("GET "+s.config.Metrics.Path, promhttp.Handler())
	}

	var wrap func(http.Handler) http.Handler
	if secret := s.config.Auth.JWTSecret; secret != "" {
		verifier, err := auth.NewJWTVerifier([]byte(secret))
		if err != nil {
			return nil, fmt.Errorf("auth.jwt_secret: %w", err)
		}
		authn := auth.HTTPAuthMiddleware(verifier, s.logger)
		orgGate := auth.RequireOrgHTTP(s.logger)
		wrap = func(next http.Handler) http.Handler { return authn(orgGate(next)) }
	} else {
		s.logger.Warn("auth.jwt_secret is not set: API routes are unauthenticated")
	}

	api.NewHandler(s.orchestrator, s.store, s.queue, s.logger).Register(mux, wrap)
	return mux, nil
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Orchestrator returns the gateway orchestrator.
func (s *Server) Orchestrator() *orchestrator.Orchestrator {
	return s.orchestrator
}

// RegenerateRoutes rewrites the routing map once.
func (s *Server) RegenerateRoutes(ctx context.Context) error {
	return s.routes.Regenerate(ctx)
}

// setupTCPListener creates a standard TCP listener for HTTP.
func (s *Server) setupTCPListener() (net.Listener, error) {
	s.logger.Info("starting server", "http_addr", s.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the HTTP listener based on configuration (Tailscale or TCP).
func (s *Server) setupListener(ctx context.Context) (net.Listener, error) {
	if s.config.Tailscale.Enabled {
		if s.config.Server.HTTPAddr != "" {
			s.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", s.config.Server.HTTPAddr)
		}
		tn, err := newTailnet(s.config.Tailscale, os.Getenv, os.UserHomeDir, s.logger)
		if err != nil {
			return nil, err
		}
		ln, err := tn.listen(ctx)
		if err != nil {
			return nil, err
		}
		s.tailnet = tn
		return ln, nil
	}
	return s.setupTCPListener()
}

// Run serves until ctx is canceled or the HTTP server fails, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	// The run context is already canceled here.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	shutdownErr := s.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server, drains the task queue, and releases the
// engine and store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))
	if s.tailnet != nil {
		errs = appendCloseError(errs, "tailscale shutdown", s.tailnet.Close())
	}
	return errors.Join(append(errs, s.closeComponents()...)...)
}

// Close releases everything without serving. Use it when the Server was
// built only to run one-off operations.
func (s *Server) Close() error {
	return errors.Join(s.closeComponents()...)
}

func (s *Server) closeComponents() []error {
	s.queue.Close()

	var errs []error
	errs = appendCloseError(errs, "engine close", s.runtime.Close())
	errs = appendCloseError(errs, "store close", s.store.Close())
	return errs
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK when the container engine answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.engine.(Pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("container engine unreachable"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
