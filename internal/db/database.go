package db

import (
	"fmt"
	"log"

	"issuance-backend/internal/config"
	"issuance-backend/internal/metrics"
	"issuance-backend/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// InitDB connects and migrates. With no DSN configured it returns (nil, nil)
// and the service keeps state in memory only.
func InitDB(cfg config.DatabaseConfig) (*gorm.DB, error) {
	if cfg.DSN == "" {
		log.Println("⚠️ Database DSN not configured, settlement log will not be persisted")
		metrics.DBConnectionStatus.Set(0)
		return nil, nil
	}

	log.Printf("Connecting to database (driver=%s)", driverName(cfg))

	conn, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
		PrepareStmt:                              true,
		CreateBatchSize:                          1000,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		metrics.DBConnectionStatus.Set(0)
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	log.Println("✅ Database connected successfully")

	log.Println("🚀 Starting database schema migration with GORM AutoMigrate...")
	if err := Migrate(conn); err != nil {
		return nil, err
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if err := RunDataMigrations(sqlDB); err != nil {
		return nil, fmt.Errorf("data migrations failed: %w", err)
	}

	log.Println("✅ Database schema migrated successfully")
	metrics.DBConnectionStatus.Set(1)
	DB = conn
	return conn, nil
}

// Migrate creates or updates every table the service writes.
func Migrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(
		&models.SettlementOperation{},
		&models.SettlementEvent{},
		&models.RedemptionRecord{},
		&models.GatewayQueueEntry{},
	); err != nil {
		return fmt.Errorf("AutoMigrate failed: %w", err)
	}
	return nil
}

func driverName(cfg config.DatabaseConfig) string {
	if cfg.Driver == "" {
		return "postgres"
	}
	return cfg.Driver
}
