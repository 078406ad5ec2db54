package app

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"

	"issuance-backend/internal/clients"
	"issuance-backend/internal/config"
	"issuance-backend/internal/db"
	"issuance-backend/internal/events"
	"issuance-backend/internal/repository"
	"issuance-backend/internal/services"
	"issuance-backend/internal/settlement"
)

// ServiceContainer holds every long-lived service of the process.
type ServiceContainer struct {
	cfg *config.Config

	// Database (nil when no DSN is configured)
	DB *gorm.DB

	// Repositories (nil without a database)
	OperationRepo  repository.OperationRepository
	ProjectionRepo repository.ProjectionRepository

	// Core
	Protocol          *services.Protocol
	SettlementService *services.SettlementService
	SchedulerService  *services.SchedulerService
	MonitoringService *services.MonitoringService

	// Push
	WebSocketPushService *services.WebSocketPushService

	// NATS (nil when not configured)
	NATSClient *clients.NATSClient

	cleanupOnce sync.Once
}

// Container is the process-wide container, set by InitializeContainer.
var Container *ServiceContainer

// InitializeContainer builds the services in dependency order. A database
// or NATS failure is fatal only when that backend is configured.
func InitializeContainer(ctx context.Context, cfg *config.Config) (*ServiceContainer, error) {
	log.Println("🚀 Initializing Service Container...")

	c := &ServiceContainer{cfg: cfg}

	// 1. Database and repositories
	if err := c.initRepositories(); err != nil {
		return nil, fmt.Errorf("failed to initialize repositories: %w", err)
	}

	// 2. Protocol, settlement and replay
	if err := c.initCoreServices(ctx); err != nil {
		c.Cleanup()
		return nil, fmt.Errorf("failed to initialize core services: %w", err)
	}

	// 3. Event services
	if err := c.initEventServices(); err != nil {
		c.Cleanup()
		return nil, fmt.Errorf("failed to initialize event services: %w", err)
	}

	// 4. Scheduled tasks and monitoring
	c.initScheduler()
	c.MonitoringService = services.NewMonitoringService(c.DB, c.Protocol, c.NATSConnected())
	c.MonitoringService.Start()

	Container = c
	log.Println("✅ Service Container initialized successfully")
	return c, nil
}

func (c *ServiceContainer) initRepositories() error {
	log.Println("📦 Initializing Repositories...")

	conn, err := db.InitDB(c.cfg.Database)
	if err != nil {
		return err
	}
	if conn == nil {
		log.Println("⚠️ Running without database: no operation log, no projections")
		return nil
	}

	c.DB = conn
	c.OperationRepo = repository.NewOperationRepository(conn)
	c.ProjectionRepo = repository.NewProjectionRepository(conn)

	log.Println("✅ Repositories initialized")
	return nil
}

func (c *ServiceContainer) initCoreServices(ctx context.Context) error {
	log.Println("🔧 Initializing Core Services...")

	protocol, err := services.BuildProtocol(c.cfg, settlement.SystemClock{})
	if err != nil {
		return err
	}
	c.Protocol = protocol

	c.SettlementService = services.NewSettlementService(protocol, c.OperationRepo, c.ProjectionRepo)

	if c.cfg.Settlement.ReplayOnStart {
		if c.OperationRepo == nil {
			log.Println("⚠️ replayOnStart set but no database configured, skipping replay")
		} else {
			replayed, err := c.SettlementService.Replay(ctx)
			if err != nil {
				return fmt.Errorf("replay failed after %d operations: %w", replayed, err)
			}
			log.Printf("✅ Replayed %d operations, sequence now %d", replayed, c.SettlementService.Sequence())
		}
	}

	c.WebSocketPushService = services.NewWebSocketPushService()
	c.SettlementService.SetPusher(c.WebSocketPushService)

	log.Println("✅ Core services initialized")
	return nil
}

func (c *ServiceContainer) initEventServices() error {
	client, err := events.InitNATSServices(c.cfg, c.SettlementService)
	if err != nil {
		return err
	}
	c.NATSClient = client
	return nil
}

func (c *ServiceContainer) initScheduler() {
	var keeperInterval = c.cfg.Keeper.Interval()
	if !c.cfg.Keeper.Enabled {
		keeperInterval = 0
	}
	c.SchedulerService = services.NewSchedulerService(
		c.SettlementService,
		c.cfg.Settlement.BatchInterval(),
		keeperInterval,
		common.HexToAddress(c.cfg.Keeper.Operator),
		c.cfg.Keeper.MaxPerRun,
	)
	c.SchedulerService.Start()
}

// NATSConnected reports the bus state for health checks; nil without NATS.
func (c *ServiceContainer) NATSConnected() func() bool {
	if c.NATSClient == nil {
		return nil
	}
	return c.NATSClient.IsConnected
}

// Cleanup stops background work and releases connections.
func (c *ServiceContainer) Cleanup() {
	c.cleanupOnce.Do(func() {
		log.Println("🧹 Cleaning up Service Container...")

		if c.MonitoringService != nil {
			c.MonitoringService.Stop()
		}
		if c.SchedulerService != nil {
			c.SchedulerService.Stop()
		}
		if c.WebSocketPushService != nil {
			c.WebSocketPushService.Close()
		}
		if c.NATSClient != nil {
			c.NATSClient.Close()
		}
		if c.DB != nil {
			if sqlDB, err := c.DB.DB(); err == nil {
				if err := sqlDB.Close(); err != nil {
					log.Printf("⚠️ Failed to close database: %v", err)
				}
			}
		}

		log.Println("✅ Service Container cleaned up")
	})
}
