package sandbox

import (
	"context"
	"fmt"
	"sync"

	"agentgate/pkg/logger"
)

// Handle identifies an acquired sandbox.
type Handle struct {
	ID     string
	Policy SleepPolicy
}

// Registry hands out sandbox handles and performs the one-time initialization
// for each sandbox id. The seen-set is an explicit process-scoped cache: it is
// never evicted, which is fine because its size is bounded by the number of
// distinct tenant ids this process serves. It is not durable — repeating the
// initialization after a restart resends identical settings, which the
// control plane treats as idempotent.
type Registry struct {
	cp ControlPlane

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewRegistry constructs the registry around a control plane.
func NewRegistry(cp ControlPlane) *Registry {
	return &Registry{cp: cp, seen: make(map[string]struct{})}
}

// Acquire returns a handle for the sandbox backing id. The first acquisition
// in this process lifetime persists the display name and sleep policy; later
// acquisitions skip the write because the settings are already durable.
func (r *Registry) Acquire(ctx context.Context, id string, policy SleepPolicy) (*Handle, error) {
	r.mu.Lock()
	_, initialized := r.seen[id]
	r.mu.Unlock()

	if !initialized {
		name := fmt.Sprintf("agent-%s", id)
		if err := r.cp.EnsureSandbox(ctx, id, name, policy); err != nil {
			return nil, fmt.Errorf("initialize sandbox %s: %w", id, err)
		}
		logger.Named("sandbox").Info("sandbox initialized",
			"sandbox_id", id,
			"sleep_policy", policy.String(),
		)
		r.mu.Lock()
		r.seen[id] = struct{}{}
		r.mu.Unlock()
	}

	return &Handle{ID: id, Policy: policy}, nil
}

// Initialized reports whether id has been initialized in this process.
func (r *Registry) Initialized(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.seen[id]
	return ok
}
