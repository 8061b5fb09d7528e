package tenant

import (
	"context"
	"errors"
	"testing"

	"agentgate/internal/config"
)

func TestMemoryStoreLookup(t *testing.T) {
	store := NewMemoryStore(&Record{
		ID:            "alice",
		AgentAccount:  "alice.agent",
		OwnerAccount:  "alice",
		ProviderKey:   "pk",
		GatewaySecret: "secret",
	})
	defer store.Close()

	record, err := store.Lookup(context.Background(), "alice")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if record.AgentAccount != "alice.agent" {
		t.Fatalf("unexpected record: %+v", record)
	}

	if _, err := store.Lookup(context.Background(), "bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMergeOverlaysOnlySetFields(t *testing.T) {
	base := config.Config{}
	base.Agent.ProviderKey = "ambient-pk"
	base.Agent.GatewaySecret = "ambient-secret"
	base.Chain.Account = "ambient.acct"
	base.Chain.Permission = "active"
	base.Sandbox.SleepPolicy = "never"

	record := Record{
		ID:            "alice",
		AgentAccount:  "alice.agent",
		OwnerAccount:  "alice",
		GatewaySecret: "tenant-secret",
		SleepPolicy:   "30m",
	}

	merged := record.Merge(base)
	if merged.Chain.Account != "alice.agent" {
		t.Fatalf("account not overlaid: %q", merged.Chain.Account)
	}
	if merged.Chain.OwnerAccount != "alice" {
		t.Fatalf("owner not overlaid: %q", merged.Chain.OwnerAccount)
	}
	if merged.Agent.GatewaySecret != "tenant-secret" {
		t.Fatalf("secret not overlaid: %q", merged.Agent.GatewaySecret)
	}
	if merged.Sandbox.SleepPolicy != "30m" {
		t.Fatalf("sleep policy not overlaid: %q", merged.Sandbox.SleepPolicy)
	}
	// Empty record fields keep ambient values.
	if merged.Agent.ProviderKey != "ambient-pk" {
		t.Fatalf("provider key should stay ambient, got %q", merged.Agent.ProviderKey)
	}
	if merged.Chain.Permission != "active" {
		t.Fatalf("permission should stay ambient, got %q", merged.Chain.Permission)
	}
	// The base itself must be untouched.
	if base.Chain.Account != "ambient.acct" {
		t.Fatalf("merge mutated base config")
	}
}
