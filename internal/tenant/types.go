package tenant

import (
	"context"
	"errors"
	"strings"

	"agentgate/internal/config"
)

// ErrNotFound signals that a syntactically valid tenant id has no stored
// record. Callers must surface this as a hard 404: falling back to
// single-tenant mode here would mask misprovisioning.
var ErrNotFound = errors.New("tenant record not found")

// Record is the per-tenant configuration document. It is loaded fresh for
// every request and immutable within it.
type Record struct {
	ID            string `json:"id"`
	AgentAccount  string `json:"agent_account"`
	OwnerAccount  string `json:"owner_account"`
	ChainKey      string `json:"chain_key,omitempty"`
	Permission    string `json:"permission,omitempty"`
	Network       string `json:"network,omitempty"`
	ProviderKey   string `json:"provider_key"`
	GatewaySecret string `json:"gateway_secret"`
	TelegramToken string `json:"telegram_token,omitempty"`
	XMTPKey       string `json:"xmtp_key,omitempty"`
	SleepPolicy   string `json:"sleep_policy,omitempty"`
}

// Store abstracts the keyed tenant record store. Implementations must be safe
// for concurrent use.
type Store interface {
	Lookup(ctx context.Context, id string) (*Record, error)
	Close() error
}

// Merge overlays the record onto the ambient configuration, producing the
// effective configuration for the request's duration. Empty record fields
// leave the ambient value in place. This is the single merge path for both
// tenancy modes; keep new fields here rather than copying them ad hoc.
func (r *Record) Merge(base config.Config) config.Config {
	merged := base
	if r == nil {
		return merged
	}
	if v := strings.TrimSpace(r.AgentAccount); v != "" {
		merged.Chain.Account = v
	}
	if v := strings.TrimSpace(r.OwnerAccount); v != "" {
		merged.Chain.OwnerAccount = v
	}
	if v := strings.TrimSpace(r.ChainKey); v != "" {
		merged.Chain.PrivateKey = v
	}
	if v := strings.TrimSpace(r.Permission); v != "" {
		merged.Chain.Permission = v
	}
	if v := strings.TrimSpace(r.Network); v != "" {
		merged.Chain.Network = v
	}
	if v := strings.TrimSpace(r.ProviderKey); v != "" {
		merged.Agent.ProviderKey = v
	}
	if v := strings.TrimSpace(r.GatewaySecret); v != "" {
		merged.Agent.GatewaySecret = v
	}
	if v := strings.TrimSpace(r.TelegramToken); v != "" {
		merged.Agent.TelegramToken = v
	}
	if v := strings.TrimSpace(r.XMTPKey); v != "" {
		merged.Agent.XMTPKey = v
	}
	if v := strings.TrimSpace(r.SleepPolicy); v != "" {
		merged.Sandbox.SleepPolicy = v
	}
	return merged
}
