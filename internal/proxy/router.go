// Package proxy is the edge surface of the gateway: it resolves the tenant,
// gates requests behind wallet auth, and forwards everything else into the
// tenant's backend process over HTTP or WebSocket.
package proxy

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"agentgate/internal/chain"
	"agentgate/internal/config"
	xerrors "agentgate/internal/errors"
	"agentgate/internal/events"
	"agentgate/internal/gateway"
	"agentgate/internal/observability/metrics"
	"agentgate/internal/sandbox"
	"agentgate/internal/tenant"
	"agentgate/internal/wallet"
	"agentgate/pkg/logger"
)

// errLoginRequired is the distinguished gate outcome rendered as the login
// page for browsers instead of a bare 401.
var errLoginRequired = errors.New("wallet login required")

// Deps wires the gateway subsystems into the edge server.
type Deps struct {
	TenantStore  tenant.Store
	Chains       *chain.Registry
	Sandboxes    *sandbox.Registry
	Orchestrator *gateway.Orchestrator
	Bus          events.Bus
	// DebugEvents backs the debug sub-router's event listing when set.
	DebugEvents *events.MemoryBus
}

// Server is the edge HTTP server.
type Server struct {
	cfg       config.Config
	store     tenant.Store
	chains    *chain.Registry
	sandboxes *sandbox.Registry
	orch      *gateway.Orchestrator
	bus       events.Bus
	memBus    *events.MemoryBus
	log       *slog.Logger
}

// NewServer constructs the edge server.
func NewServer(cfg config.Config, deps Deps) *Server {
	bus := deps.Bus
	if bus == nil {
		bus = events.NopBus{}
	}
	return &Server{
		cfg:       cfg,
		store:     deps.TenantStore,
		chains:    deps.Chains,
		sandboxes: deps.Sandboxes,
		orch:      deps.Orchestrator,
		bus:       bus,
		memBus:    deps.DebugEvents,
		log:       logger.Named("proxy"),
	}
}

// Start serves until the context is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Server.Address,
		Handler:           s.instrumented(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.log.Info("edge server listening", "address", s.cfg.Server.Address)
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) instrumented() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isWebSocketRequest(r) {
			// The recorder would break the Hijacker the upgrade needs.
			s.route(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		s.route(rec, r)
		metrics.ObserveRequest(routeClass(r.URL.Path), r.Method, rec.status, time.Since(start))
	})
}

// routeClass buckets paths for metrics so tenant-specific paths do not blow
// up label cardinality.
func routeClass(path string) string {
	switch {
	case path == "/healthz":
		return "health"
	case path == "/api/status":
		return "status"
	case strings.HasPrefix(path, "/auth/"):
		return "auth"
	case strings.HasPrefix(path, "/admin/"):
		return "admin"
	case strings.HasPrefix(path, "/api/"):
		return "api"
	case strings.HasPrefix(path, "/debug/"):
		return "debug"
	default:
		return "proxy"
	}
}

// route applies the routing precedence: unauthenticated endpoints, the
// configuration-completeness check, the auth gate, the sub-routers, then the
// catch-all proxy. First match wins.
func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/healthz":
		s.handleHealth(w, r)
		return
	case path == "/api/status":
		s.handleStatus(w, r)
		return
	case path == "/auth/authorize":
		s.handleAuthorize(w, r)
		return
	case path == "/auth/validate":
		s.handleValidate(w, r)
		return
	case path == "/login":
		writeLoginPage(w, s.cfg.Server.ServiceName)
		return
	case path == "/admin/assets/style.css":
		writeAdminStyle(w)
		return
	}

	if missing := s.cfg.MissingKeys(); len(missing) > 0 {
		s.writeError(w, xerrors.New(xerrors.CodeConfigIncomplete,
			"the gateway is missing required configuration",
			xerrors.WithMetadata("missing", strings.Join(missing, ", "))))
		return
	}

	scope, err := s.resolveScope(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	// Signed-secret debug entry bypasses the wallet gate; the debug router
	// still requires explicit enablement.
	if strings.HasPrefix(path, "/debug/") && s.validDebugSignature(r, scope) {
		s.serveDebug(w, r, scope)
		return
	}

	if err := s.authenticate(r, scope); err != nil {
		if errors.Is(err, errLoginRequired) && acceptsHTML(r) {
			writeLoginPage(w, s.cfg.Server.ServiceName)
			return
		}
		s.writeError(w, xerrors.Wrap(xerrors.CodeAuthRejected, err, "authentication required"))
		return
	}

	switch {
	case strings.HasPrefix(path, "/admin/"):
		s.serveAdmin(w, r, scope)
	case strings.HasPrefix(path, "/api/"):
		s.serveAPI(w, r, scope)
	case strings.HasPrefix(path, "/debug/"):
		s.serveDebug(w, r, scope)
	default:
		s.handleCatchAll(w, r, scope)
	}
}

// requestScope is the per-request view of the effective configuration. In
// multi-tenant mode the tenant record has been merged on top of the ambient
// configuration; in single-tenant mode it is the ambient configuration.
type requestScope struct {
	cfg       config.Config
	tenantID  string
	sandboxID string
}

func (s *Server) resolveScope(r *http.Request) (requestScope, error) {
	if !s.cfg.Tenancy.MultiTenant {
		return requestScope{cfg: s.cfg, sandboxID: s.cfg.Sandbox.SandboxID}, nil
	}

	id, ok := tenant.Resolve(r.Host)
	if !ok {
		return requestScope{}, xerrors.New(xerrors.CodeTenantNotFound,
			"no tenant is served at this hostname")
	}
	record, err := s.store.Lookup(r.Context(), id)
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			return requestScope{}, xerrors.Wrap(xerrors.CodeTenantNotFound, err,
				"tenant is not provisioned",
				xerrors.WithMetadata("tenant", id))
		}
		return requestScope{}, xerrors.Wrap(xerrors.CodeSandboxFailure, err, "tenant lookup failed")
	}

	if !s.sandboxes.Initialized(id) {
		metrics.Inc(metrics.CounterTenantResolved)
		s.publish(r.Context(), events.New(events.TypeTenantResolved, id, nil))
	}
	return requestScope{cfg: record.Merge(s.cfg), tenantID: id, sandboxID: id}, nil
}

// authenticate applies the configured gate. With a perimeter header set, the
// upstream access proxy owns authentication and the gate only checks the
// header's presence; otherwise the bearer wallet token is verified against
// the tenant's gateway secret.
func (s *Server) authenticate(r *http.Request, scope requestScope) error {
	if header := s.cfg.Server.PerimeterHeader; header != "" {
		if r.Header.Get(header) == "" {
			return errors.New("perimeter auth header missing")
		}
		return nil
	}

	token := bearerToken(r)
	if token == "" {
		return errLoginRequired
	}
	if _, err := wallet.NewTokenManager(scope.cfg.Agent.GatewaySecret).Verify(token); err != nil {
		return errLoginRequired
	}
	return nil
}

// ensureBackend acquires the sandbox and returns a running, reachable
// backend process.
func (s *Server) ensureBackend(ctx context.Context, scope requestScope) (*sandbox.Process, error) {
	policy, err := sandbox.ParseSleepPolicy(scope.cfg.Sandbox.SleepPolicy)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSandboxFailure, err, "invalid sleep policy")
	}
	handle, err := s.sandboxes.Acquire(ctx, scope.sandboxID, policy)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSandboxFailure, err, "acquire sandbox")
	}
	env := gateway.BuildEnv(scope.cfg, s.cfg.Tenancy.MultiTenant, scope.tenantID)
	proc, err := s.orch.EnsureReady(ctx, handle, env)
	if err != nil {
		metrics.Inc(metrics.CounterStartupFails)
		return nil, err
	}
	metrics.Inc(metrics.CounterProcessStarts)
	return proc, nil
}

// handleCatchAll forwards everything the sub-routers did not claim into the
// backend, starting it first when necessary.
func (s *Server) handleCatchAll(w http.ResponseWriter, r *http.Request, scope requestScope) {
	if isWebSocketRequest(r) {
		if _, err := s.ensureBackend(r.Context(), scope); err != nil {
			s.writeError(w, err)
			return
		}
		secret := ""
		if !s.cfg.Tenancy.MultiTenant {
			secret = scope.cfg.Agent.GatewaySecret
		}
		relayWebSocket(w, r, s.orch.ServiceAddr(scope.sandboxID), secret, s.log)
		return
	}

	// Cold browser navigations get the interstitial immediately; readiness
	// proceeds in the background so first paint never blocks on a cold start.
	if !s.orch.Confirmed(scope.sandboxID) && r.Method == http.MethodGet && acceptsHTML(r) {
		s.ensureInBackground(scope)
		writeLoadingPage(w, s.cfg.Server.ServiceName)
		return
	}

	if _, err := s.ensureBackend(r.Context(), scope); err != nil {
		s.writeError(w, err)
		return
	}
	s.forward(w, r, scope)
}

// ensureInBackground triggers readiness detached from the request. The
// startup dedup map makes concurrent triggers collapse onto one attempt.
func (s *Server) ensureInBackground(scope requestScope) {
	timeout := time.Duration(scope.cfg.Sandbox.StartupTimeoutSeconds)*time.Second + 30*time.Second
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if _, err := s.ensureBackend(ctx, scope); err != nil {
			s.log.Warn("background startup failed", "sandbox_id", scope.sandboxID, "error", err)
		}
	}()
}

// forward reverse-proxies a plain HTTP request into the backend port.
func (s *Server) forward(w http.ResponseWriter, r *http.Request, scope requestScope) {
	addr := s.orch.ServiceAddr(scope.sandboxID)
	target := &url.URL{Scheme: backendScheme(addr, "http", "https"), Host: addr}

	rp := httputil.NewSingleHostReverseProxy(target)
	rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		s.log.Warn("backend request failed", "sandbox_id", scope.sandboxID, "path", r.URL.Path, "error", err)
		s.writeError(w, xerrors.Wrap(xerrors.CodeProxyFailure, err, "backend request failed"))
	}
	rp.ServeHTTP(w, r)
}

func (s *Server) publish(ctx context.Context, event events.Event) {
	if err := s.bus.Publish(ctx, event); err != nil {
		s.log.Warn("event publish failed", "event_type", event.Type, "error", err)
	}
}

// acceptsHTML reports whether the request is a plain browser navigation.
func acceptsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// bearerToken extracts the session token from the Authorization header or
// the session cookie.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if cookie, err := r.Cookie("agentgate_session"); err == nil {
		return cookie.Value
	}
	return ""
}

// listenPort extracts the port portion of the configured listen address.
func listenPort(address string) string {
	if _, port, err := net.SplitHostPort(address); err == nil {
		return port
	}
	return strings.TrimPrefix(address, ":")
}
