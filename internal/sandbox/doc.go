// Package sandbox talks to the sandbox provider's control plane. It creates
// sandboxes, manages the processes inside them and exposes the addresses at
// which their service ports are reachable.
package sandbox
