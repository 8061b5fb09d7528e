package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Config captures the ambient configuration the gateway starts with. In
// multi-tenant mode a tenant record is merged on top of it for the duration
// of a request.
type Config struct {
	Server  ServerConfig  `json:"server"`
	Agent   AgentConfig   `json:"agent"`
	Chain   ChainConfig   `json:"chain"`
	Sandbox SandboxConfig `json:"sandbox"`
	Tenancy TenancyConfig `json:"tenancy"`
	Events  EventsConfig  `json:"events"`
	Log     LogConfig     `json:"log"`
	Debug   DebugConfig   `json:"debug"`
}

// ServerConfig controls the edge listener.
type ServerConfig struct {
	Address        string `json:"address"`
	ServiceName    string `json:"service_name"`
	MetricsAddress string `json:"metrics_address,omitempty"`
	// PerimeterHeader, when set, replaces the wallet-token gate: requests
	// carrying this header (set by an upstream access proxy that already
	// authenticated the caller) pass the auth gate directly.
	PerimeterHeader string `json:"perimeter_header,omitempty"`
	DevMode         bool   `json:"dev_mode"`
}

// AgentConfig carries the credentials handed to the tenant's backend process.
type AgentConfig struct {
	ProviderKey   string `json:"provider_key"`
	GatewaySecret string `json:"gateway_secret"`
	TelegramToken string `json:"telegram_token,omitempty"`
	XMTPKey       string `json:"xmtp_key,omitempty"`
}

// ChainConfig selects the blockchain identity and network.
type ChainConfig struct {
	Account      string `json:"account"`
	OwnerAccount string `json:"owner_account"`
	Permission   string `json:"permission"`
	PrivateKey   string `json:"private_key,omitempty"`
	Network      string `json:"network"`
	RPCURL       string `json:"rpc_url"`
	Definitions  string `json:"definitions,omitempty"`
}

// SandboxConfig describes the sandbox control plane and the backend process
// expectations inside a sandbox.
type SandboxConfig struct {
	Endpoint              string            `json:"endpoint"`
	APIKey                string            `json:"api_key"`
	ServiceDomain         string            `json:"service_domain,omitempty"`
	SandboxID             string            `json:"sandbox_id,omitempty"`
	SleepPolicy           string            `json:"sleep_policy"`
	InternalPort          int               `json:"internal_port"`
	StartupTimeoutSeconds int               `json:"startup_timeout_seconds"`
	Persistence           PersistenceConfig `json:"persistence"`
}

// PersistenceConfig holds the credentials for the external persistence mount.
type PersistenceConfig struct {
	Bucket    string `json:"bucket,omitempty"`
	AccessKey string `json:"access_key,omitempty"`
	SecretKey string `json:"secret_key,omitempty"`
	MountPath string `json:"mount_path,omitempty"`
}

// TenancyConfig enables multi-tenant mode and binds the tenant record store.
type TenancyConfig struct {
	MultiTenant bool              `json:"multi_tenant"`
	Store       TenantStoreConfig `json:"store"`
}

// TenantStoreConfig selects a tenant record store driver.
type TenantStoreConfig struct {
	Driver string      `json:"driver"`
	Redis  RedisConfig `json:"redis"`
	DSN    string      `json:"dsn,omitempty"`
}

// RedisConfig is shared by the tenant store and the event bus.
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db"`
}

// EventsConfig selects the lifecycle event bus driver.
type EventsConfig struct {
	Driver   string         `json:"driver"`
	Redis    RedisConfig    `json:"redis"`
	Stream   string         `json:"stream,omitempty"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RabbitMQConfig holds RabbitMQ event bus parameters.
type RabbitMQConfig struct {
	URL   string `json:"url,omitempty"`
	Queue string `json:"queue,omitempty"`
}

// LogConfig mirrors pkg/logger's configuration surface.
type LogConfig struct {
	Level       string         `json:"level"`
	Format      string         `json:"format"`
	OutputPaths []string       `json:"output_paths,omitempty"`
	Audit       AuditLogConfig `json:"audit"`
}

// AuditLogConfig controls the rotating audit trail.
type AuditLogConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
}

// DebugConfig gates the debug sub-router.
type DebugConfig struct {
	Enabled bool `json:"enabled"`
}

// Load parses the JSON configuration file at path.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("configuration path is empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open configuration: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read configuration: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse configuration: %w", err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills in the fields the operator is allowed to omit.
func (c *Config) ApplyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8787"
	}
	if c.Server.ServiceName == "" {
		c.Server.ServiceName = "agentgate"
	}
	if c.Chain.Permission == "" {
		c.Chain.Permission = "active"
	}
	if c.Sandbox.SleepPolicy == "" {
		// Cold starts are multi-second; keeping the sandbox alive is the
		// default trade-off.
		c.Sandbox.SleepPolicy = "never"
	}
	if c.Sandbox.InternalPort == 0 {
		c.Sandbox.InternalPort = 3000
	}
	if c.Sandbox.SandboxID == "" && !c.Tenancy.MultiTenant {
		c.Sandbox.SandboxID = "default"
	}
	if c.Sandbox.StartupTimeoutSeconds == 0 {
		c.Sandbox.StartupTimeoutSeconds = 90
	}
	if c.Tenancy.Store.Driver == "" {
		c.Tenancy.Store.Driver = "memory"
	}
	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// MissingKeys lists the required settings that are absent. The gateway serves
// a 503 with this list instead of limping along with silent defaults. The
// check only applies to single-tenant mode: in multi-tenant mode the tenant
// record supplies these fields, and provisioning them is an external concern.
func (c *Config) MissingKeys() []string {
	if c.Server.DevMode || c.Tenancy.MultiTenant {
		return nil
	}
	var missing []string
	if strings.TrimSpace(c.Agent.ProviderKey) == "" {
		missing = append(missing, "agent.provider_key")
	}
	if strings.TrimSpace(c.Agent.GatewaySecret) == "" {
		missing = append(missing, "agent.gateway_secret")
	}
	if strings.TrimSpace(c.Chain.Account) == "" {
		missing = append(missing, "chain.account")
	}
	if strings.TrimSpace(c.Chain.OwnerAccount) == "" {
		missing = append(missing, "chain.owner_account")
	}
	if strings.TrimSpace(c.Sandbox.Endpoint) == "" {
		missing = append(missing, "sandbox.endpoint")
	}
	return missing
}
