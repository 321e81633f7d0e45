package database

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"evalhub/config"
	"evalhub/internal/domain/attachment"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func Connect(cfg *config.Config) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
		// Surfaces unique violations as gorm.ErrDuplicatedKey.
		TranslateError: true,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		log.Fatalf("Failed to get generic database object: %v", err)
	}

	// Connection pool settings
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Println("Database connection established")
}

func Close() {
	if DB == nil {
		return
	}
	if sqlDB, err := DB.DB(); err == nil {
		sqlDB.Close()
	}
}

func Ping() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

// HealthCheck pings the database. Nil when no database is configured, so
// storage-only deployments still report healthy.
func HealthCheck() error {
	if DB == nil {
		return nil
	}
	return Ping()
}

// TableExists reports whether the named table exists.
func TableExists(name string) (bool, error) {
	if DB == nil {
		return false, fmt.Errorf("database not initialized")
	}
	return DB.Migrator().HasTable(name), nil
}

// TypeExists reports whether the named Postgres enum type exists.
func TypeExists(name string) (bool, error) {
	if DB == nil {
		return false, fmt.Errorf("database not initialized")
	}
	var count int64
	err := DB.Raw("SELECT count(*) FROM pg_type WHERE typname = ?", name).Scan(&count).Error
	return count > 0, err
}

func GetTableCount(name string) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}
	var count int64
	err := DB.Table(name).Count(&count).Error
	return count, err
}

// ApplyRawMigrations reads .sql files from the migrations directory and executes them.
// Files run in lexical order; each file must be idempotent.
func ApplyRawMigrations(migrationsDir string) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	files, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	for _, file := range files {
		if filepath.Ext(file.Name()) == ".sql" {
			path := filepath.Join(migrationsDir, file.Name())
			content, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read migration file %s: %w", file.Name(), err)
			}

			log.Printf("Applying migration: %s", file.Name())
			if err := DB.Exec(string(content)).Error; err != nil {
				return fmt.Errorf("failed to execute migration %s: %w", file.Name(), err)
			}
		}
	}
	return nil
}

// RunFullMigration applies the raw SQL migrations, then lets GORM reconcile
// the attachments table with the entity definition.
func RunFullMigration(migrationsDir string) error {
	if err := ApplyRawMigrations(migrationsDir); err != nil {
		return err
	}
	return DB.AutoMigrate(&attachment.Attachment{})
}

// DropSchema drops everything this service owns.
func DropSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	if err := DB.Migrator().DropTable(&attachment.Attachment{}); err != nil {
		return err
	}
	return DB.Exec("DROP TYPE IF EXISTS attachment_status").Error
}

func TruncateAllTables() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	return DB.Exec("TRUNCATE TABLE attachments").Error
}
