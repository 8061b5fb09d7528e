package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"agentgate/internal/chain"
	"agentgate/internal/config"
	"agentgate/internal/events"
	"agentgate/internal/gateway"
	"agentgate/internal/sandbox"
	"agentgate/internal/tenant"
	"agentgate/internal/wallet"
)

type stubControlPlane struct {
	mu     sync.Mutex
	procs  []sandbox.Process
	starts int32
	addr   string
}

func (s *stubControlPlane) EnsureSandbox(context.Context, string, string, sandbox.SleepPolicy) error {
	return nil
}

func (s *stubControlPlane) ListProcesses(context.Context, string) ([]sandbox.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sandbox.Process(nil), s.procs...), nil
}

func (s *stubControlPlane) StartProcess(_ context.Context, _ string, spec sandbox.ProcessSpec) (*sandbox.Process, error) {
	n := atomic.AddInt32(&s.starts, 1)
	proc := sandbox.Process{ID: fmt.Sprintf("proc-%d", n), Command: spec.Command, Status: sandbox.StatusRunning}
	s.mu.Lock()
	s.procs = append(s.procs, proc)
	s.mu.Unlock()
	return &proc, nil
}

func (s *stubControlPlane) KillProcess(_ context.Context, _ string, pid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	remaining := s.procs[:0]
	for _, proc := range s.procs {
		if proc.ID != pid {
			remaining = append(remaining, proc)
		}
	}
	s.procs = remaining
	return nil
}

func (s *stubControlPlane) ProcessOutput(context.Context, string, string) (string, error) {
	return "", nil
}

func (s *stubControlPlane) ConfigureMount(context.Context, string, sandbox.Mount) error {
	return nil
}

func (s *stubControlPlane) ServiceAddr(string, int) string {
	return s.addr
}

func completeConfig() config.Config {
	cfg := config.Config{}
	cfg.Agent.ProviderKey = "pk"
	cfg.Agent.GatewaySecret = "secret"
	cfg.Chain.Account = "alice.agent"
	cfg.Chain.OwnerAccount = "alice"
	cfg.Sandbox.Endpoint = "https://sandboxes.example.dev/api"
	cfg.Sandbox.StartupTimeoutSeconds = 1
	cfg.ApplyDefaults()
	return cfg
}

func newTestServer(t *testing.T, cfg config.Config, cp sandbox.ControlPlane, chainURL string) *Server {
	t.Helper()
	if chainURL == "" {
		chainURL = "http://127.0.0.1:1"
	}
	cfg.Chain.RPCURL = chainURL
	chains, err := chain.NewRegistry(cfg.Chain)
	if err != nil {
		t.Fatalf("chain registry: %v", err)
	}
	memBus := events.NewMemoryBus()
	orch := gateway.NewOrchestrator(cp, memBus, gateway.Options{
		StartupTimeout:   time.Second,
		WarmProbeTimeout: 200 * time.Millisecond,
	})
	return NewServer(cfg, Deps{
		TenantStore:  tenant.NewMemoryStore(),
		Chains:       chains,
		Sandboxes:    sandbox.NewRegistry(cp),
		Orchestrator: orch,
		Bus:          memBus,
		DebugEvents:  memBus,
	})
}

func sessionCookie(t *testing.T, secret string) *http.Cookie {
	t.Helper()
	token, _, err := wallet.NewTokenManager(secret).Issue("alice", "active")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return &http.Cookie{Name: "agentgate_session", Value: token}
}

func TestHealthzNeedsNoAuth(t *testing.T) {
	server := newTestServer(t, completeConfig(), &stubControlPlane{addr: "127.0.0.1:1"}, "")

	rec := httptest.NewRecorder()
	server.route(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["service"] != "agentgate" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestMissingConfigShortCircuits(t *testing.T) {
	cfg := completeConfig()
	cfg.Agent.GatewaySecret = ""
	cfg.Chain.OwnerAccount = ""
	server := newTestServer(t, cfg, &stubControlPlane{addr: "127.0.0.1:1"}, "")

	rec := httptest.NewRecorder()
	server.route(rec, httptest.NewRequest(http.MethodGet, "/anything", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "agent.gateway_secret") || !strings.Contains(body, "chain.owner_account") {
		t.Fatalf("missing keys not itemized: %s", body)
	}
}

func chainStub(t *testing.T, rejectionCode int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chain/push_transaction" {
			t.Fatalf("unexpected chain call %s", r.URL.Path)
		}
		if rejectionCode == 0 {
			w.WriteHeader(http.StatusAccepted)
			fmt.Fprint(w, `{"transaction_id":"abc"}`)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]any{
			"code": 500,
			"error": map[string]any{
				"code": rejectionCode,
				"name": "assert_exception",
				"what": "rejected",
			},
		})
	}))
}

func authorizeBody() string {
	return `{"signer":{"actor":"alice","permission":"active"},"transaction":"deadbeef","signatures":["SIG_K1_bad"],"chainId":"abc"}`
}

func TestAuthorizeTamperedSignatureRejected(t *testing.T) {
	node := chainStub(t, 3090003)
	defer node.Close()
	server := newTestServer(t, completeConfig(), &stubControlPlane{addr: "127.0.0.1:1"}, node.URL)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/authorize", strings.NewReader(authorizeBody()))
	server.route(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	var body struct {
		Success bool   `json:"success"`
		Token   string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Success || body.Token != "" {
		t.Fatalf("token issued for rejected proof: %+v", body)
	}
}

func TestAuthorizeDuplicateTransactionAccepted(t *testing.T) {
	node := chainStub(t, 3040008)
	defer node.Close()
	server := newTestServer(t, completeConfig(), &stubControlPlane{addr: "127.0.0.1:1"}, node.URL)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/authorize", strings.NewReader(authorizeBody()))
	server.route(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Success bool   `json:"success"`
		Actor   string `json:"actor"`
		Token   string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Success || body.Actor != "alice" || body.Token == "" {
		t.Fatalf("unexpected grant: %+v", body)
	}
	if _, err := wallet.NewTokenManager("secret").Verify(body.Token); err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
}

func TestOwnershipMismatchIsForbidden(t *testing.T) {
	node := chainStub(t, 0)
	defer node.Close()
	cfg := completeConfig()
	cfg.Chain.OwnerAccount = "bob"
	server := newTestServer(t, cfg, &stubControlPlane{addr: "127.0.0.1:1"}, node.URL)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/authorize", strings.NewReader(authorizeBody()))
	server.route(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403: %s", rec.Code, rec.Body.String())
	}
}

func TestBrowserWithoutTokenGetsLoginPage(t *testing.T) {
	server := newTestServer(t, completeConfig(), &stubControlPlane{addr: "127.0.0.1:1"}, "")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	server.route(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "text/html") {
		t.Fatalf("expected login page, got content type %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "Wallet sign-in required") {
		t.Fatal("login page not rendered")
	}
}

func TestNonBrowserWithoutTokenGets401JSON(t *testing.T) {
	server := newTestServer(t, completeConfig(), &stubControlPlane{addr: "127.0.0.1:1"}, "")

	rec := httptest.NewRecorder()
	server.route(rec, httptest.NewRequest(http.MethodGet, "/api/info", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("expected JSON error, got content type %q", ct)
	}
}

func TestColdBrowserGetShowsInterstitial(t *testing.T) {
	cp := &stubControlPlane{addr: "127.0.0.1:1"}
	cfg := completeConfig()
	server := newTestServer(t, cfg, cp, "")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept", "text/html")
	req.AddCookie(sessionCookie(t, "secret"))
	server.route(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "waking up") {
		t.Fatal("interstitial not rendered")
	}

	// The startup proceeds in the background.
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&cp.starts) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("background startup never triggered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWarmBackendIsProxied(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "backend saw %s", r.URL.Path)
	}))
	defer backend.Close()
	backendAddr := strings.TrimPrefix(backend.URL, "http://")

	cp := &stubControlPlane{
		addr:  backendAddr,
		procs: []sandbox.Process{{ID: "warm-1", Command: "agent-gateway serve", Status: sandbox.StatusRunning}},
	}
	server := newTestServer(t, completeConfig(), cp, "")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/some/path", nil)
	req.AddCookie(sessionCookie(t, "secret"))
	server.route(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Body.String(); got != "backend saw /some/path" {
		t.Fatalf("unexpected proxied body: %q", got)
	}
	if atomic.LoadInt32(&cp.starts) != 0 {
		t.Fatal("warm backend triggered a process start")
	}
}

func TestStatusReflectsReachability(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	cp := &stubControlPlane{
		addr:  listener.Addr().String(),
		procs: []sandbox.Process{{ID: "warm-1", Command: "agent-gateway serve", Status: sandbox.StatusRunning}},
	}
	server := newTestServer(t, completeConfig(), cp, "")

	rec := httptest.NewRecorder()
	server.route(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		OK        bool   `json:"ok"`
		Status    string `json:"status"`
		ProcessID string `json:"processId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.OK || body.Status != sandbox.StatusRunning || body.ProcessID != "warm-1" {
		t.Fatalf("unexpected status: %+v", body)
	}
}

func TestDebugRouterNeedsEnablement(t *testing.T) {
	cfg := completeConfig()
	server := newTestServer(t, cfg, &stubControlPlane{addr: "127.0.0.1:1"}, "")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/debug/events", nil)
	req.AddCookie(sessionCookie(t, "secret"))
	server.route(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("disabled debug router returned %d", rec.Code)
	}

	cfg.Debug.Enabled = true
	server = newTestServer(t, cfg, &stubControlPlane{addr: "127.0.0.1:1"}, "")
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/debug/events", nil)
	req.AddCookie(sessionCookie(t, "secret"))
	server.route(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("enabled debug router returned %d", rec.Code)
	}
}

func TestMultiTenantUnknownHostIs404(t *testing.T) {
	cfg := completeConfig()
	cfg.Tenancy.MultiTenant = true
	server := newTestServer(t, cfg, &stubControlPlane{addr: "127.0.0.1:1"}, "")

	// Syntactically invalid tenant hostname.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Host = "www.agents.example.com"
	server.route(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("reserved label returned %d, want 404", rec.Code)
	}

	// Valid id with no provisioned record.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Host = "ghost.agents.example.com"
	server.route(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unprovisioned tenant returned %d, want 404", rec.Code)
	}
}
