package gateway

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	xerrors "agentgate/internal/errors"
	"agentgate/internal/events"
	"agentgate/internal/sandbox"
	"agentgate/pkg/logger"
)

// defaultLaunchCommand starts the long-lived gateway process. The matcher
// below must recognise it while excluding one-shot CLI helper invocations of
// the same binary.
const defaultLaunchCommand = "agent-gateway serve"

// Options configures the orchestrator.
type Options struct {
	InternalPort   int
	LaunchCommand  string
	StartupTimeout time.Duration
	// WarmProbeTimeout bounds the reachability check for a process that is
	// already listed; warm sandboxes answer quickly, so this stays short.
	WarmProbeTimeout time.Duration
}

// startOp is the per-sandbox in-flight startup shared by concurrent callers.
type startOp struct {
	done chan struct{}
	proc *sandbox.Process
	err  error
}

// Orchestrator ensures a sandbox's gateway process is running and reachable.
// Startup attempts are serialized per sandbox id: a caller that finds an
// in-flight operation joins it and observes the identical outcome. Entries
// are removed when the operation finishes, success or failure, so later
// requests may retry.
type Orchestrator struct {
	cp   sandbox.ControlPlane
	bus  events.Bus
	log  *slog.Logger
	opts Options

	mu        sync.Mutex
	inflight  map[string]*startOp
	confirmed map[string]struct{}
}

// NewOrchestrator constructs the orchestrator.
func NewOrchestrator(cp sandbox.ControlPlane, bus events.Bus, opts Options) *Orchestrator {
	if opts.InternalPort == 0 {
		opts.InternalPort = 3000
	}
	if opts.LaunchCommand == "" {
		opts.LaunchCommand = defaultLaunchCommand
	}
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = 90 * time.Second
	}
	if opts.WarmProbeTimeout <= 0 {
		opts.WarmProbeTimeout = 10 * time.Second
	}
	if bus == nil {
		bus = events.NopBus{}
	}
	return &Orchestrator{
		cp:        cp,
		bus:       bus,
		log:       logger.Named("gateway"),
		opts:      opts,
		inflight:  make(map[string]*startOp),
		confirmed: make(map[string]struct{}),
	}
}

// ServiceAddr returns the reachable address of the sandbox's gateway port.
func (o *Orchestrator) ServiceAddr(id string) string {
	return o.cp.ServiceAddr(id, o.opts.InternalPort)
}

// Confirmed reports whether a gateway process for id has been observed
// reachable at some point in this process lifetime.
func (o *Orchestrator) Confirmed(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.confirmed[id]
	return ok
}

// EnsureReady returns a running, reachable gateway process for the sandbox,
// starting one if necessary. Concurrent callers for the same sandbox share a
// single attempt and its outcome.
func (o *Orchestrator) EnsureReady(ctx context.Context, handle *sandbox.Handle, env Env) (*sandbox.Process, error) {
	o.mu.Lock()
	if op, ok := o.inflight[handle.ID]; ok {
		o.mu.Unlock()
		select {
		case <-op.done:
			return op.proc, op.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	op := &startOp{done: make(chan struct{})}
	o.inflight[handle.ID] = op
	o.mu.Unlock()

	op.proc, op.err = o.ensure(ctx, handle.ID, env)
	close(op.done)

	o.mu.Lock()
	delete(o.inflight, handle.ID)
	if op.err == nil {
		o.confirmed[handle.ID] = struct{}{}
	}
	o.mu.Unlock()

	return op.proc, op.err
}

func (o *Orchestrator) ensure(ctx context.Context, id string, env Env) (*sandbox.Process, error) {
	// Persistence mount configuration is best-effort: the agent degrades
	// gracefully without it, a failed start does not.
	if env.PersistBucket != "" {
		mount := sandbox.Mount{
			Bucket:    env.PersistBucket,
			AccessKey: env.PersistAccessKey,
			SecretKey: env.PersistSecretKey,
			Path:      env.PersistMountPath,
		}
		if err := o.cp.ConfigureMount(ctx, id, mount); err != nil {
			o.log.Warn("persistence mount configuration failed", "sandbox_id", id, "error", err)
		}
	}

	procs, err := o.cp.ListProcesses(ctx, id)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSandboxFailure, err, "list sandbox processes")
	}

	existing := matchGatewayProcesses(procs, o.opts.LaunchCommand)
	addr := o.ServiceAddr(id)

	if len(existing) > 0 {
		if err := waitForService(ctx, addr, o.opts.WarmProbeTimeout); err == nil {
			// Fast path: the sandbox is warm.
			return &existing[0], nil
		}
		// Listed but unreachable: zombies. Terminate every match, not just
		// the first, so repeated cold starts cannot accumulate duplicates.
		for _, zombie := range existing {
			if killErr := o.cp.KillProcess(ctx, id, zombie.ID); killErr != nil {
				o.log.Warn("failed to kill zombie process", "sandbox_id", id, "pid", zombie.ID, "error", killErr)
				continue
			}
			o.log.Info("killed zombie gateway process", "sandbox_id", id, "pid", zombie.ID)
			o.publish(ctx, events.New(events.TypeZombieKilled, env.TenantID, map[string]string{
				"sandbox_id": id,
				"pid":        zombie.ID,
			}))
		}
	}

	proc, err := o.cp.StartProcess(ctx, id, sandbox.ProcessSpec{
		Command: o.opts.LaunchCommand,
		Env:     env.Vars(),
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSandboxFailure, err, "start gateway process")
	}
	o.log.Info("gateway process launched", "sandbox_id", id, "pid", proc.ID)

	if err := waitForService(ctx, addr, o.opts.StartupTimeout); err != nil {
		return nil, o.startupFailure(ctx, id, proc, env, err)
	}

	o.publish(ctx, events.New(events.TypeProcessStarted, env.TenantID, map[string]string{
		"sandbox_id": id,
		"pid":        proc.ID,
	}))
	return proc, nil
}

// startupFailure captures the process output, attaches a context-specific
// hint and performs the mandatory cleanup of the process that never became
// reachable. There is no automatic retry at this layer.
func (o *Orchestrator) startupFailure(ctx context.Context, id string, proc *sandbox.Process, env Env, cause error) error {
	output, outErr := o.cp.ProcessOutput(ctx, id, proc.ID)
	if outErr != nil {
		o.log.Warn("could not retrieve process output", "sandbox_id", id, "pid", proc.ID, "error", outErr)
	}

	if killErr := o.cp.KillProcess(ctx, id, proc.ID); killErr != nil {
		o.log.Warn("failed to kill unreachable process", "sandbox_id", id, "pid", proc.ID, "error", killErr)
	}

	hint := startupHint(output)
	o.publish(ctx, events.New(events.TypeStartupFailed, env.TenantID, map[string]string{
		"sandbox_id": id,
		"pid":        proc.ID,
		"hint":       hint,
	}))

	opts := []xerrors.Option{xerrors.WithHint(hint)}
	if output != "" {
		opts = append(opts, xerrors.WithMetadata("output", tail(output, 2048)))
	}
	return xerrors.Wrap(xerrors.CodeStartupFailure, cause, "gateway process never became reachable", opts...)
}

// startupHint maps well-known failure signatures in the captured output to
// actionable guidance.
func startupHint(output string) string {
	lower := strings.ToLower(output)
	switch {
	case strings.Contains(lower, "api key") || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "401"):
		return "the AI provider rejected the configured key; verify provider_key"
	case strings.Contains(lower, "out of memory") || strings.Contains(lower, "oom") || strings.Contains(lower, "sigkill"):
		return "the sandbox ran out of memory; raise the sandbox memory limit"
	default:
		return "inspect the captured process output for the underlying failure"
	}
}

// Status reflects the backend's current reachability without starting
// anything. The process list is always re-queried from the sandbox.
func (o *Orchestrator) Status(ctx context.Context, id string) (ok bool, status string, pid string) {
	procs, err := o.cp.ListProcesses(ctx, id)
	if err != nil {
		return false, "unknown", ""
	}
	matches := matchGatewayProcesses(procs, o.opts.LaunchCommand)
	if len(matches) == 0 {
		return false, "stopped", ""
	}
	proc := matches[0]
	if err := waitForService(ctx, o.ServiceAddr(id), 2*time.Second); err != nil {
		return false, proc.Status, proc.ID
	}
	return true, sandbox.StatusRunning, proc.ID
}

func (o *Orchestrator) publish(ctx context.Context, event events.Event) {
	if err := o.bus.Publish(ctx, event); err != nil {
		o.log.Warn("event publish failed", "event_type", event.Type, "error", err)
	}
}

// matchGatewayProcesses selects the active processes whose command is a
// gateway launch. CLI helper invocations of the same binary never match.
func matchGatewayProcesses(procs []sandbox.Process, launchCommand string) []sandbox.Process {
	binary := strings.Fields(launchCommand)[0]
	var matches []sandbox.Process
	for _, proc := range procs {
		if !proc.Active() {
			continue
		}
		if !strings.Contains(proc.Command, binary) {
			continue
		}
		if strings.Contains(proc.Command, " cli") || strings.Contains(proc.Command, "--help") {
			continue
		}
		matches = append(matches, proc)
	}
	return matches
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
