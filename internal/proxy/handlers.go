package proxy

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"agentgate/internal/chain"
	xerrors "agentgate/internal/errors"
	"agentgate/internal/events"
	"agentgate/internal/observability/metrics"
	"agentgate/internal/wallet"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": s.cfg.Server.ServiceName,
		"port":    listenPort(s.cfg.Server.Address),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	scope, err := s.resolveScope(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	ok, status, pid := s.orch.Status(r.Context(), scope.sandboxID)
	body := map[string]any{"ok": ok, "status": status}
	if pid != "" {
		body["processId"] = pid
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	scope, err := s.resolveScope(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var proof wallet.Proof
	if err := json.NewDecoder(r.Body).Decode(&proof); err != nil {
		s.writeAuthFailure(w, r, scope, http.StatusBadRequest, "malformed proof body")
		return
	}

	client, err := s.chainClient(scope)
	if err != nil {
		s.writeError(w, err)
		return
	}

	grant, err := wallet.NewAuthenticator(client).Authorize(r.Context(), proof,
		scope.cfg.Chain.OwnerAccount, scope.cfg.Agent.GatewaySecret)
	if err != nil {
		switch {
		case errors.Is(err, wallet.ErrOwnershipMismatch):
			s.writeAuthFailure(w, r, scope, http.StatusForbidden, err.Error())
		case errors.Is(err, wallet.ErrProofExpired):
			s.writeAuthFailure(w, r, scope, http.StatusUnauthorized, err.Error())
		case errors.Is(err, wallet.ErrProofInvalid):
			s.writeAuthFailure(w, r, scope, http.StatusUnauthorized, "identity proof rejected")
		default:
			s.writeError(w, err)
		}
		return
	}

	metrics.Inc(metrics.CounterAuthGranted)
	s.publish(r.Context(), events.New(events.TypeAuthGranted, scope.tenantID, map[string]string{
		"actor": grant.Actor,
	}))
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"actor":      grant.Actor,
		"permission": grant.Permission,
		"token":      grant.Token,
	})
}

func (s *Server) writeAuthFailure(w http.ResponseWriter, r *http.Request, scope requestScope, status int, message string) {
	metrics.Inc(metrics.CounterAuthRejected)
	s.publish(r.Context(), events.New(events.TypeAuthRejected, scope.tenantID, map[string]string{
		"reason": message,
	}))
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   map[string]string{"code": string(xerrors.CodeAuthRejected), "message": message},
	})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	scope, err := s.resolveScope(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	token := bearerToken(r)
	if token == "" {
		var body struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			token = body.Token
		}
	}

	claims, err := wallet.NewTokenManager(scope.cfg.Agent.GatewaySecret).Verify(token)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"valid": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":     true,
		"actor":     claims.Actor,
		"expiresAt": time.Unix(claims.ExpiresAt, 0).UTC().Format(time.RFC3339),
	})
}

// chainClient selects the chain client for the scope's network, falling back
// to the registry default.
func (s *Server) chainClient(scope requestScope) (*chain.Client, error) {
	if name := scope.cfg.Chain.Network; name != "" {
		if client, ok := s.chains.Client(name); ok {
			return client, nil
		}
	}
	return s.chains.DefaultClient()
}

// serveAdmin handles the authenticated admin sub-router.
func (s *Server) serveAdmin(w http.ResponseWriter, r *http.Request, scope requestScope) {
	switch r.URL.Path {
	case "/admin/config":
		writeJSON(w, http.StatusOK, redactedConfig(scope))
	case "/admin/networks":
		writeJSON(w, http.StatusOK, map[string]any{"networks": s.chains.Networks()})
	case "/admin/events":
		s.writeRecentEvents(w)
	default:
		http.NotFound(w, r)
	}
}

// serveAPI handles the authenticated API sub-router.
func (s *Server) serveAPI(w http.ResponseWriter, r *http.Request, scope requestScope) {
	switch r.URL.Path {
	case "/api/info":
		writeJSON(w, http.StatusOK, map[string]any{
			"service":     s.cfg.Server.ServiceName,
			"multiTenant": s.cfg.Tenancy.MultiTenant,
			"tenant":      scope.tenantID,
			"account":     scope.cfg.Chain.Account,
			"network":     scope.cfg.Chain.Network,
		})
	default:
		http.NotFound(w, r)
	}
}

// serveDebug handles the debug sub-router, which needs explicit enablement
// on top of authentication.
func (s *Server) serveDebug(w http.ResponseWriter, r *http.Request, scope requestScope) {
	if !s.cfg.Debug.Enabled {
		http.NotFound(w, r)
		return
	}
	switch r.URL.Path {
	case "/debug/events":
		s.writeRecentEvents(w)
	case "/debug/state":
		ok, status, pid := s.orch.Status(r.Context(), scope.sandboxID)
		writeJSON(w, http.StatusOK, map[string]any{
			"sandboxId":   scope.sandboxID,
			"initialized": s.sandboxes.Initialized(scope.sandboxID),
			"confirmed":   s.orch.Confirmed(scope.sandboxID),
			"ok":          ok,
			"status":      status,
			"processId":   pid,
		})
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) writeRecentEvents(w http.ResponseWriter) {
	if s.memBus == nil {
		writeJSON(w, http.StatusOK, map[string]any{"events": []events.Event{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": s.memBus.Recent()})
}

// validDebugSignature checks the signed-secret debug entry: sig must be the
// hex HMAC of a fixed label under the tenant's gateway secret.
func (s *Server) validDebugSignature(r *http.Request, scope requestScope) bool {
	sig := r.URL.Query().Get("sig")
	if sig == "" || scope.cfg.Agent.GatewaySecret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(scope.cfg.Agent.GatewaySecret))
	mac.Write([]byte("agentgate/debug/v1"))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sig))
}

// redactedConfig is the admin view of the effective configuration with every
// secret masked.
func redactedConfig(scope requestScope) map[string]any {
	return map[string]any{
		"tenant":       scope.tenantID,
		"sandboxId":    scope.sandboxID,
		"account":      scope.cfg.Chain.Account,
		"ownerAccount": scope.cfg.Chain.OwnerAccount,
		"permission":   scope.cfg.Chain.Permission,
		"network":      scope.cfg.Chain.Network,
		"sleepPolicy":  scope.cfg.Sandbox.SleepPolicy,
		"providerKey":  mask(scope.cfg.Agent.ProviderKey),
		"secret":       mask(scope.cfg.Agent.GatewaySecret),
	}
}

func mask(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 4 {
		return "****"
	}
	return value[:2] + "****" + value[len(value)-2:]
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	body := map[string]string{"code": string(code)}
	if gerr, ok := xerrors.From(err); ok {
		body["message"] = gerr.Message()
		if hint := gerr.Hint(); hint != "" {
			body["hint"] = hint
		}
		for key, value := range gerr.Metadata() {
			body[key] = value
		}
	} else {
		body["message"] = err.Error()
	}
	if xerrors.ShouldAlert(err) {
		s.log.Error("request failed", "code", string(code), "error", err)
	}
	writeJSON(w, statusFor(code), map[string]any{"error": body})
}

func statusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeConfigIncomplete, xerrors.CodeChainUnavailable, xerrors.CodeSandboxFailure:
		return http.StatusServiceUnavailable
	case xerrors.CodeTenantNotFound:
		return http.StatusNotFound
	case xerrors.CodeAuthRejected, xerrors.CodeProofExpired:
		return http.StatusUnauthorized
	case xerrors.CodeOwnershipMismatch:
		return http.StatusForbidden
	case xerrors.CodeStartupFailure, xerrors.CodeProxyFailure:
		return http.StatusBadGateway
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
