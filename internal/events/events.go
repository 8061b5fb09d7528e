package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Lifecycle event types emitted by the gateway core.
const (
	TypeTenantResolved = "tenant_resolved"
	TypeProcessStarted = "process_started"
	TypeZombieKilled   = "zombie_killed"
	TypeStartupFailed  = "startup_failed"
	TypeAuthGranted    = "auth_granted"
	TypeAuthRejected   = "auth_rejected"
)

// Event is a single lifecycle occurrence. Events are observability output:
// publishing is best-effort and must never block or fail the request path.
type Event struct {
	ID     string            `json:"id"`
	Type   string            `json:"type"`
	Tenant string            `json:"tenant,omitempty"`
	At     time.Time         `json:"at"`
	Fields map[string]string `json:"fields,omitempty"`
}

// New constructs an event with a fresh id and timestamp.
func New(eventType, tenant string, fields map[string]string) Event {
	return Event{
		ID:     uuid.NewString(),
		Type:   eventType,
		Tenant: tenant,
		At:     time.Now().UTC(),
		Fields: fields,
	}
}

// Bus publishes lifecycle events to whatever backend the operator selected.
type Bus interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NopBus drops every event.
type NopBus struct{}

func (NopBus) Publish(context.Context, Event) error { return nil }
func (NopBus) Close() error                         { return nil }

const memoryBusCapacity = 256

// MemoryBus retains the most recent events in a ring buffer. It backs the
// debug sub-router's event listing and the test suite.
type MemoryBus struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryBus constructs an empty in-memory bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

// Publish appends the event, evicting the oldest past capacity.
func (b *MemoryBus) Publish(_ context.Context, event Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	if len(b.events) > memoryBusCapacity {
		b.events = b.events[len(b.events)-memoryBusCapacity:]
	}
	return nil
}

// Recent returns a copy of the retained events, newest last.
func (b *MemoryBus) Recent() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.events...)
}

// Close implements the Bus interface.
func (b *MemoryBus) Close() error { return nil }

// TeeBus fans each event out to a primary and a secondary bus. The secondary
// (typically the in-memory bus behind the debug listing) never fails a
// publish.
type TeeBus struct {
	primary   Bus
	secondary Bus
}

// NewTeeBus constructs the fan-out bus.
func NewTeeBus(primary, secondary Bus) *TeeBus {
	return &TeeBus{primary: primary, secondary: secondary}
}

// Publish delivers to both buses; the primary's error wins.
func (b *TeeBus) Publish(ctx context.Context, event Event) error {
	_ = b.secondary.Publish(ctx, event)
	return b.primary.Publish(ctx, event)
}

// Close closes the primary bus only; the secondary is process-local.
func (b *TeeBus) Close() error {
	return b.primary.Close()
}
