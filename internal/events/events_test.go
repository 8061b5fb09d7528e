package events

import (
	"context"
	"testing"
)

func TestMemoryBusRetainsRecentEvents(t *testing.T) {
	bus := NewMemoryBus()
	for i := 0; i < memoryBusCapacity+10; i++ {
		if err := bus.Publish(context.Background(), New(TypeProcessStarted, "alice", nil)); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	recent := bus.Recent()
	if len(recent) != memoryBusCapacity {
		t.Fatalf("retained %d events, want %d", len(recent), memoryBusCapacity)
	}
	for _, event := range recent {
		if event.ID == "" || event.At.IsZero() {
			t.Fatalf("event missing id or timestamp: %+v", event)
		}
	}
}

func TestTeeBusDeliversToBoth(t *testing.T) {
	primary := NewMemoryBus()
	secondary := NewMemoryBus()
	tee := NewTeeBus(primary, secondary)

	if err := tee.Publish(context.Background(), New(TypeAuthGranted, "alice", map[string]string{"actor": "alice"})); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(primary.Recent()) != 1 || len(secondary.Recent()) != 1 {
		t.Fatalf("fan-out incomplete: primary=%d secondary=%d", len(primary.Recent()), len(secondary.Recent()))
	}
}
