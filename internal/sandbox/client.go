package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	xerrors "agentgate/internal/errors"
)

// ClientConfig describes how to reach the sandbox provider API.
type ClientConfig struct {
	Endpoint string
	APIKey   string
	// ServiceDomain is the wildcard domain under which sandbox service ports
	// are exposed, e.g. "sbx.example.dev" maps a sandbox to
	// "<id>-<port>.sbx.example.dev:443".
	ServiceDomain  string
	TimeoutSeconds int
}

// Client implements ControlPlane against the provider's HTTP API.
type Client struct {
	endpoint      string
	apiKey        string
	serviceDomain string
	http          *http.Client
}

// NewClient validates the configuration and constructs the HTTP client.
func NewClient(cfg ClientConfig) (*Client, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, errors.New("sandbox endpoint must be configured")
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 15
	}
	return &Client{
		endpoint:      endpoint,
		apiKey:        cfg.APIKey,
		serviceDomain: strings.TrimSpace(cfg.ServiceDomain),
		http:          &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
	}, nil
}

// EnsureSandbox creates or updates the sandbox record on the provider.
func (c *Client) EnsureSandbox(ctx context.Context, id, name string, policy SleepPolicy) error {
	payload := map[string]any{
		"id":           id,
		"name":         name,
		"sleep_policy": policy.String(),
	}
	return c.do(ctx, http.MethodPost, "/sandboxes", payload, nil)
}

// ListProcesses returns the processes currently listed for the sandbox.
func (c *Client) ListProcesses(ctx context.Context, id string) ([]Process, error) {
	var out struct {
		Processes []Process `json:"processes"`
	}
	path := fmt.Sprintf("/sandboxes/%s/processes", url.PathEscape(id))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Processes, nil
}

// StartProcess launches a process inside the sandbox.
func (c *Client) StartProcess(ctx context.Context, id string, spec ProcessSpec) (*Process, error) {
	var out Process
	path := fmt.Sprintf("/sandboxes/%s/processes", url.PathEscape(id))
	if err := c.do(ctx, http.MethodPost, path, spec, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// KillProcess terminates a process.
func (c *Client) KillProcess(ctx context.Context, id, pid string) error {
	path := fmt.Sprintf("/sandboxes/%s/processes/%s", url.PathEscape(id), url.PathEscape(pid))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// ProcessOutput retrieves the captured stdout/stderr of a process.
func (c *Client) ProcessOutput(ctx context.Context, id, pid string) (string, error) {
	var out struct {
		Output string `json:"output"`
	}
	path := fmt.Sprintf("/sandboxes/%s/processes/%s/output", url.PathEscape(id), url.PathEscape(pid))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	return out.Output, nil
}

// ConfigureMount attaches the persistence bucket to the sandbox.
func (c *Client) ConfigureMount(ctx context.Context, id string, mount Mount) error {
	path := fmt.Sprintf("/sandboxes/%s/mounts", url.PathEscape(id))
	return c.do(ctx, http.MethodPut, path, mount, nil)
}

// ServiceAddr maps a sandbox service port to its externally reachable address.
func (c *Client) ServiceAddr(id string, port int) string {
	if c.serviceDomain == "" {
		host := c.endpoint
		if u, err := url.Parse(c.endpoint); err == nil && u.Hostname() != "" {
			host = u.Hostname()
		}
		return fmt.Sprintf("%s:%d", host, port)
	}
	return fmt.Sprintf("%s-%d.%s:443", id, port, c.serviceDomain)
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeSandboxFailure, err, "sandbox control plane unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return xerrors.New(xerrors.CodeSandboxFailure,
			fmt.Sprintf("control plane returned %s", resp.Status),
			xerrors.WithMetadata("body", string(detail)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode control plane response: %w", err)
	}
	return nil
}
