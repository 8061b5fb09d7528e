package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Process statuses reported by the control plane.
const (
	StatusStarting = "starting"
	StatusRunning  = "running"
	StatusStopped  = "stopped"
)

// Process describes a process inside a sandbox.
type Process struct {
	ID      string `json:"id"`
	Command string `json:"command"`
	Status  string `json:"status"`
}

// Active reports whether the process is starting or running.
func (p Process) Active() bool {
	return p.Status == StatusStarting || p.Status == StatusRunning
}

// ProcessSpec describes a process launch request.
type ProcessSpec struct {
	Command string            `json:"command"`
	Env     map[string]string `json:"env,omitempty"`
}

// Mount describes the external persistence mount for a sandbox.
type Mount struct {
	Bucket    string `json:"bucket"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Path      string `json:"path"`
}

// SleepPolicy controls when a sandbox is suspended after inactivity.
type SleepPolicy struct {
	Never bool
	After time.Duration
}

// ParseSleepPolicy reads "never" or a Go duration string.
func ParseSleepPolicy(value string) (SleepPolicy, error) {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" || value == "never" {
		return SleepPolicy{Never: true}, nil
	}
	after, err := time.ParseDuration(value)
	if err != nil {
		return SleepPolicy{}, fmt.Errorf("invalid sleep policy %q: %w", value, err)
	}
	return SleepPolicy{After: after}, nil
}

func (p SleepPolicy) String() string {
	if p.Never {
		return "never"
	}
	return p.After.String()
}

// ControlPlane is the sandbox provider API surface the gateway consumes. The
// sandbox itself is the durable source of truth: process lists and keep-alive
// state are always re-queried, never cached across operations.
type ControlPlane interface {
	// EnsureSandbox creates the sandbox if needed and persists its display
	// name and sleep policy. Repeating the call with identical settings is
	// idempotent.
	EnsureSandbox(ctx context.Context, id, name string, policy SleepPolicy) error
	ListProcesses(ctx context.Context, id string) ([]Process, error)
	StartProcess(ctx context.Context, id string, spec ProcessSpec) (*Process, error)
	KillProcess(ctx context.Context, id, pid string) error
	ProcessOutput(ctx context.Context, id, pid string) (string, error)
	ConfigureMount(ctx context.Context, id string, mount Mount) error
	// ServiceAddr returns the host:port at which a service listening on the
	// given port inside the sandbox is reachable from the gateway.
	ServiceAddr(id string, port int) string
}
