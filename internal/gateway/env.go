package gateway

import (
	"agentgate/internal/config"
)

// Env is the single typed variable set handed to a gateway process. Both
// tenancy modes build it through BuildEnv so the two paths cannot drift.
type Env struct {
	ProviderKey      string
	ChainAccount     string
	ChainKey         string
	ChainNetwork     string
	GatewaySecret    string
	TelegramToken    string
	XMTPKey          string
	PersistBucket    string
	PersistAccessKey string
	PersistSecretKey string
	PersistMountPath string

	// TenantID and Permissive are set in multi-tenant mode only. The
	// container does not gate access with its own token in that mode; the
	// gateway's wallet auth is the sole perimeter, and the tenant id scopes
	// the data path.
	TenantID   string
	Permissive bool
}

// BuildEnv assembles the process environment from the effective (merged)
// configuration.
func BuildEnv(cfg config.Config, multiTenant bool, tenantID string) Env {
	env := Env{
		ProviderKey:      cfg.Agent.ProviderKey,
		ChainAccount:     cfg.Chain.Account,
		ChainKey:         cfg.Chain.PrivateKey,
		ChainNetwork:     cfg.Chain.Network,
		GatewaySecret:    cfg.Agent.GatewaySecret,
		TelegramToken:    cfg.Agent.TelegramToken,
		XMTPKey:          cfg.Agent.XMTPKey,
		PersistBucket:    cfg.Sandbox.Persistence.Bucket,
		PersistAccessKey: cfg.Sandbox.Persistence.AccessKey,
		PersistSecretKey: cfg.Sandbox.Persistence.SecretKey,
		PersistMountPath: cfg.Sandbox.Persistence.MountPath,
	}
	if multiTenant {
		env.TenantID = tenantID
		env.Permissive = true
	}
	return env
}

// Vars renders the environment as the variable map passed to StartProcess.
// Empty values are omitted.
func (e Env) Vars() map[string]string {
	vars := make(map[string]string, 12)
	set := func(key, value string) {
		if value != "" {
			vars[key] = value
		}
	}
	set("PROVIDER_API_KEY", e.ProviderKey)
	set("CHAIN_ACCOUNT", e.ChainAccount)
	set("CHAIN_PRIVATE_KEY", e.ChainKey)
	set("CHAIN_NETWORK", e.ChainNetwork)
	set("GATEWAY_SECRET", e.GatewaySecret)
	set("TELEGRAM_BOT_TOKEN", e.TelegramToken)
	set("XMTP_WALLET_KEY", e.XMTPKey)
	set("PERSIST_BUCKET", e.PersistBucket)
	set("PERSIST_ACCESS_KEY", e.PersistAccessKey)
	set("PERSIST_SECRET_KEY", e.PersistSecretKey)
	set("TENANT_ID", e.TenantID)
	if e.Permissive {
		vars["AGENT_DEV_MODE"] = "true"
	}
	return vars
}
