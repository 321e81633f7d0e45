package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"evalhub/config"
	"evalhub/pkg/database"
)

const usage = `
EvalHub Attachments - Database CLI Tool

Usage:
  migrate [command] [flags]

Commands:
  up          Run all migrations (SQL + GORM)
  down        Drop the attachments schema
  status      Show database connection status
  reset       Drop the schema and re-run migrations (DANGEROUS)
  truncate    Truncate the attachments table (DANGEROUS)

Flags:
  -migrations string   Path to migrations directory (default "migrations")

Examples:
  go run cmd/migrate/main.go up
  go run cmd/migrate/main.go status
  go run cmd/migrate/main.go reset
`

func main() {
	migrationsDir := flag.String("migrations", "migrations", "Path to migrations directory")

	flag.Usage = func() {
		fmt.Print(usage)
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	command := flag.Arg(0)

	cfg := config.LoadConfig()
	database.Connect(cfg)
	defer database.Close()

	switch command {
	case "up":
		runMigrationsUp(*migrationsDir)
	case "down":
		runMigrationsDown()
	case "status":
		showStatus()
	case "reset":
		runReset(*migrationsDir)
	case "truncate":
		runTruncate()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}

func runMigrationsUp(migrationsDir string) {
	log.Println("🚀 Running migrations UP...")

	if err := database.RunFullMigration(migrationsDir); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}

	log.Println("✅ Migrations completed successfully!")
}

func runMigrationsDown() {
	log.Println("⬇️  Dropping the attachments schema...")

	if err := database.DropSchema(); err != nil {
		log.Fatalf("❌ Drop failed: %v", err)
	}

	log.Println("✅ Schema dropped successfully!")
}

func showStatus() {
	log.Println("🔍 Checking database status...")

	if err := database.Ping(); err != nil {
		log.Fatalf("❌ Database connection failed: %v", err)
	}
	log.Println("✅ Database connection: OK")

	exists, err := database.TypeExists("attachment_status")
	if err != nil {
		log.Printf("⚠️  Error checking attachment_status type: %v", err)
	} else if exists {
		log.Println("✅ Enum attachment_status exists")
	} else {
		log.Println("❌ Enum attachment_status does not exist")
	}

	tableExists, err := database.TableExists("attachments")
	if err != nil {
		log.Printf("⚠️  Error checking attachments table: %v", err)
		return
	}
	if tableExists {
		count, _ := database.GetTableCount("attachments")
		log.Printf("✅ Table %-20s exists (%d rows)", "attachments", count)
	} else {
		log.Printf("❌ Table %-20s does not exist", "attachments")
	}
}

func runReset(migrationsDir string) {
	log.Println("⚠️  WARNING: This will DROP the attachments schema and re-run migrations!")

	log.Println("🗑️  Dropping schema...")
	if err := database.DropSchema(); err != nil {
		log.Fatalf("❌ Failed to drop schema: %v", err)
	}

	log.Println("🚀 Running migrations...")
	if err := database.RunFullMigration(migrationsDir); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}

	log.Println("✅ Database reset completed!")
}

func runTruncate() {
	log.Println("⚠️  WARNING: This will TRUNCATE the attachments table!")

	if err := database.TruncateAllTables(); err != nil {
		log.Fatalf("❌ Truncate failed: %v", err)
	}

	log.Println("✅ Attachments table truncated!")
}
