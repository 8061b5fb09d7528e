// Package agentgate is a small client for the gateway's auth and status API.
package agentgate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
// It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with a gateway instance.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu           sync.RWMutex
	sessionToken string
}

// Signer identifies the wallet account and permission that signed a proof.
type Signer struct {
	Actor      string `json:"actor"`
	Permission string `json:"permission"`
}

// Proof is the signed identity-assertion transaction submitted for login.
type Proof struct {
	Signer      Signer   `json:"signer"`
	Transaction string   `json:"transaction"`
	Signatures  []string `json:"signatures"`
	ChainID     string   `json:"chainId"`
}

// Grant is a successful authorization result.
type Grant struct {
	Success    bool   `json:"success"`
	Actor      string `json:"actor"`
	Permission string `json:"permission"`
	Token      string `json:"token"`
}

// Health is the gateway's liveness report.
type Health struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Port    string `json:"port"`
}

// Status reflects the backend process's reachability.
type Status struct {
	OK        bool   `json:"ok"`
	Status    string `json:"status"`
	ProcessID string `json:"processId,omitempty"`
}

// Validation is the result of a token validation call.
type Validation struct {
	Valid     bool   `json:"valid"`
	Actor     string `json:"actor,omitempty"`
	ExpiresAt string `json:"expiresAt,omitempty"`
}

// APIError represents a gateway-side rejection or failure.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
	Hint       string `json:"hint,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("agentgate api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("agentgate api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for one gateway host. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Authorize submits a signed identity proof and stores the issued session
// token for subsequent calls.
func (c *Client) Authorize(ctx context.Context, proof Proof) (Grant, error) {
	var grant Grant
	if err := c.post(ctx, "/auth/authorize", proof, &grant, false); err != nil {
		return Grant{}, err
	}
	c.mu.Lock()
	c.sessionToken = grant.Token
	c.mu.Unlock()
	return grant, nil
}

// Validate checks the stored session token against the gateway.
func (c *Client) Validate(ctx context.Context) (Validation, error) {
	var result Validation
	if err := c.post(ctx, "/auth/validate", struct{}{}, &result, true); err != nil {
		return Validation{}, err
	}
	return result, nil
}

// Health fetches the gateway's liveness report. No auth required.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var health Health
	if err := c.get(ctx, "/healthz", &health, false); err != nil {
		return Health{}, err
	}
	return health, nil
}

// Status fetches the backend reachability report. No auth required.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var status Status
	if err := c.get(ctx, "/api/status", &status, false); err != nil {
		return Status{}, err
	}
	return status, nil
}

// SessionToken returns the currently stored token string.
func (c *Client) SessionToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionToken
}

// SetSessionToken overrides the stored session token.
func (c *Client) SetSessionToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionToken = token
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any, withAuth bool) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body), withAuth)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any, withAuth bool) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil, withAuth)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader, withAuth bool) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if withAuth {
		if token := c.SessionToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr APIError
		apiErr.StatusCode = resp.StatusCode
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: &apiErr}); err != nil {
				_ = json.Unmarshal(data, &apiErr)
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
