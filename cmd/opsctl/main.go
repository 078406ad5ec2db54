package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"issuance-backend/internal/config"
	"issuance-backend/internal/db"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "opsctl",
		Short:         "Operator tooling for the settlement log and its projections",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml")

	root.AddCommand(
		replayCheckCommand(),
		operationsCommand(),
		queueCommand(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

// openDatabase loads the config and connects; every subcommand needs the log.
func openDatabase() (*config.Config, *gorm.DB, func(), error) {
	if err := config.LoadConfig(configPath); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	conn, err := db.InitDB(config.AppConfig.Database)
	if err != nil {
		return nil, nil, nil, err
	}
	if conn == nil {
		return nil, nil, nil, fmt.Errorf("database.dsn is not configured")
	}
	closeFn := func() {
		if sqlDB, err := conn.DB(); err == nil {
			sqlDB.Close()
		}
	}
	return config.AppConfig, conn, closeFn, nil
}
