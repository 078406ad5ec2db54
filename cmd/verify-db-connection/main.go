package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"strings"

	_ "github.com/lib/pq"

	"issuance-backend/internal/config"
)

// expected minimum VARCHAR widths of the columns that hold addresses, ids and amounts
var columnWidths = []struct {
	table, column string
	width         int64
}{
	{"settlement_operations", "operation_id", 36},
	{"settlement_operations", "sender", 42},
	{"settlement_events", "operation_id", 36},
	{"redemption_records", "user", 42},
	{"redemption_records", "assets", 78},
	{"redemption_records", "shares", 78},
	{"gateway_queue_entries", "entry_id", 66},
	{"gateway_queue_entries", "amount", 78},
}

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	fmt.Println("🔍 Verifying database connection and settlement log...")
	fmt.Println(strings.Repeat("=", 60))

	if err := config.LoadConfig(*configPath); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if config.AppConfig.Database.DSN == "" {
		log.Fatalf("database.dsn is not configured")
	}

	sqlDB, err := sql.Open("postgres", config.AppConfig.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer sqlDB.Close()

	var dbName string
	if err := sqlDB.QueryRow("SELECT current_database()").Scan(&dbName); err != nil {
		log.Fatalf("Failed to get database name: %v", err)
	}
	fmt.Printf("📋 Connected to database: %s\n", dbName)

	failures := 0
	for _, col := range columnWidths {
		var size sql.NullInt64
		err := sqlDB.QueryRow(`
			SELECT character_maximum_length
			FROM information_schema.columns
			WHERE table_schema = 'public'
			AND table_name = $1
			AND column_name = $2
		`, col.table, col.column).Scan(&size)
		switch {
		case err == sql.ErrNoRows:
			fmt.Printf("❌ %s.%s does not exist (start the server once to migrate)\n", col.table, col.column)
			failures++
		case err != nil:
			log.Fatalf("Failed to query column size: %v", err)
		case !size.Valid || size.Int64 < col.width:
			fmt.Printf("❌ %s.%s is VARCHAR(%d), need at least %d\n", col.table, col.column, size.Int64, col.width)
			failures++
		default:
			fmt.Printf("✅ %s.%s VARCHAR(%d)\n", col.table, col.column, size.Int64)
		}
	}

	// Replay needs a gapless sequence starting at 1.
	var count, maxSeq sql.NullInt64
	err = sqlDB.QueryRow(`SELECT COUNT(*), MAX(sequence) FROM settlement_operations`).Scan(&count, &maxSeq)
	if err != nil {
		fmt.Printf("❌ Failed to read settlement_operations: %v\n", err)
		failures++
	} else if count.Int64 != maxSeq.Int64 {
		fmt.Printf("❌ Operation log has gaps: %d rows, max sequence %d\n", count.Int64, maxSeq.Int64)
		failures++
	} else {
		fmt.Printf("✅ Operation log: %d operations, no gaps\n", count.Int64)
	}

	fmt.Println(strings.Repeat("=", 60))
	if failures > 0 {
		log.Fatalf("%d check(s) failed", failures)
	}
	fmt.Println("✅ Database is ready")
}
