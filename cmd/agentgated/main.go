package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"agentgate/internal/chain"
	"agentgate/internal/config"
	"agentgate/internal/events"
	"agentgate/internal/gateway"
	"agentgate/internal/observability/metrics"
	"agentgate/internal/proxy"
	"agentgate/internal/sandbox"
	"agentgate/internal/tenant"
	"agentgate/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("agentgated failed: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("AGENTGATE_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "agentgate.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Log.Audit.Enabled,
			Path:       cfg.Log.Audit.Path,
			MaxSizeMB:  cfg.Log.Audit.MaxSizeMB,
			MaxBackups: cfg.Log.Audit.MaxBackups,
			MaxAgeDays: cfg.Log.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	tenantStore, err := createTenantStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer tenantStore.Close()

	bus, memBus, err := createEventBus(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := bus.Close(); err != nil {
			log.Printf("closing event bus: %v", err)
		}
	}()

	chainRegistry, err := chain.NewRegistry(cfg.Chain)
	if err != nil {
		return err
	}

	controlPlane, err := sandbox.NewClient(sandbox.ClientConfig{
		Endpoint:      cfg.Sandbox.Endpoint,
		APIKey:        cfg.Sandbox.APIKey,
		ServiceDomain: cfg.Sandbox.ServiceDomain,
	})
	if err != nil {
		return err
	}
	sandboxes := sandbox.NewRegistry(controlPlane)

	orchestrator := gateway.NewOrchestrator(controlPlane, bus, gateway.Options{
		InternalPort:   cfg.Sandbox.InternalPort,
		StartupTimeout: time.Duration(cfg.Sandbox.StartupTimeoutSeconds) * time.Second,
	})

	if cfg.Server.MetricsAddress != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("metrics server exited: %v", err)
			}
		}()
	}

	server := proxy.NewServer(*cfg, proxy.Deps{
		TenantStore:  tenantStore,
		Chains:       chainRegistry,
		Sandboxes:    sandboxes,
		Orchestrator: orchestrator,
		Bus:          bus,
		DebugEvents:  memBus,
	})
	return server.Start(ctx)
}

func createTenantStore(ctx context.Context, cfg *config.Config) (tenant.Store, error) {
	switch cfg.Tenancy.Store.Driver {
	case "", "memory":
		return tenant.NewMemoryStore(), nil
	case "redis":
		return tenant.NewRedisStore(ctx, cfg.Tenancy.Store.Redis)
	case "mysql":
		return tenant.NewSQLStore(ctx, cfg.Tenancy.Store.DSN)
	default:
		return nil, fmt.Errorf("unknown tenant store driver: %s", cfg.Tenancy.Store.Driver)
	}
}

// createEventBus returns the configured bus plus the in-memory bus that backs
// the debug event listing. With a remote driver the memory bus still receives
// a copy of every event.
func createEventBus(ctx context.Context, cfg *config.Config) (events.Bus, *events.MemoryBus, error) {
	memBus := events.NewMemoryBus()
	switch cfg.Events.Driver {
	case "", "memory":
		return memBus, memBus, nil
	case "redis":
		redisBus, err := events.NewRedisBus(ctx, cfg.Events.Redis, cfg.Events.Stream)
		if err != nil {
			return nil, nil, err
		}
		return events.NewTeeBus(redisBus, memBus), memBus, nil
	case "rabbitmq":
		rabbitBus, err := events.NewRabbitMQBus(cfg.Events.RabbitMQ)
		if err != nil {
			return nil, nil, err
		}
		return events.NewTeeBus(rabbitBus, memBus), memBus, nil
	default:
		return nil, nil, fmt.Errorf("unknown event bus driver: %s", cfg.Events.Driver)
	}
}
