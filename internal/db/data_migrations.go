package db

import (
	"database/sql"
	"log"
	"strings"
)

// DataMigration represents a data migration
type DataMigration struct {
	Version     string
	Description string
	Up          func(*sql.DB) error
	Down        func(*sql.DB) error
}

// GetDataMigrations return all data migrations
func GetDataMigrations() []DataMigration {
	return []DataMigration{
		{
			Version:     "data_001",
			Description: "Index settlement event attributes for account lookups",
			Up:          indexEventAttributes,
			Down:        dropEventAttributesIndex,
		},
		{
			Version:     "data_002",
			Description: "Backfill settlement_operations.event_count",
			Up:          backfillEventCounts,
			Down:        func(*sql.DB) error { return nil },
		},
	}
}

func indexEventAttributes(db *sql.DB) error {
	log.Println("🔄 Creating GIN index on settlement_events.attributes...")
	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_settlement_events_attributes ON settlement_events USING GIN (attributes)`)
	return err
}

func dropEventAttributesIndex(db *sql.DB) error {
	_, err := db.Exec(`DROP INDEX IF EXISTS idx_settlement_events_attributes`)
	return err
}

func backfillEventCounts(db *sql.DB) error {
	log.Println("🔄 Backfilling event counts...")
	result, err := db.Exec(`
		UPDATE settlement_operations o
		SET event_count = sub.n
		FROM (
			SELECT operation_id, COUNT(*) AS n
			FROM settlement_events
			GROUP BY operation_id
		) sub
		WHERE o.operation_id = sub.operation_id AND o.event_count = 0
	`)
	if err != nil {
		return err
	}
	rowsAffected, _ := result.RowsAffected()
	log.Printf("✅ Backfilled event_count on %d operations", rowsAffected)
	return nil
}

// RunDataMigrations applies every migration not yet recorded in schema_migrations_log.
func RunDataMigrations(db *sql.DB) error {
	for _, migration := range GetDataMigrations() {
		var count int
		err := db.QueryRow(
			"SELECT COUNT(*) FROM schema_migrations_log WHERE version = $1",
			migration.Version,
		).Scan(&count)

		if err != nil {
			if !strings.Contains(err.Error(), "does not exist") {
				return err
			}
			log.Printf("📋 Creating schema_migrations_log table...")
			createTableSQL := `
				CREATE TABLE IF NOT EXISTS schema_migrations_log (
					id SERIAL PRIMARY KEY,
					version VARCHAR(50) NOT NULL UNIQUE,
					description TEXT,
					executed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
					rollback_at TIMESTAMP,
					status VARCHAR(20) DEFAULT 'completed'
				)
			`
			if _, createErr := db.Exec(createTableSQL); createErr != nil {
				return createErr
			}
			count = 0
		}

		if count > 0 {
			log.Printf("📋 Data migration %s already applied", migration.Version)
			continue
		}

		log.Printf("🚀 Running data migration: %s", migration.Description)
		if err := migration.Up(db); err != nil {
			return err
		}

		if _, err := db.Exec(
			"INSERT INTO schema_migrations_log (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			return err
		}

		log.Printf("✅ Data migration %s completed", migration.Version)
	}
	return nil
}
