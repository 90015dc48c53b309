package database

import (
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"
)

const sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

// Connect opens PostgreSQL for postgres:// DSNs and the pure-Go SQLite driver
// for anything else. Callers may pass a *gorm.Config to override defaults.
func Connect(dsn string, opts ...gorm.Option) (*gorm.DB, error) {
	if len(opts) == 0 {
		opts = []gorm.Option{&gorm.Config{}}
	}

	if IsPostgres(dsn) {
		log.Println("Connecting to PostgreSQL...")
		return gorm.Open(postgres.Open(dsn), opts...)
	}

	log.Println("Using SQLite for local development:", dsn)

	db, err := gorm.Open(
		gormsqlite.New(gormsqlite.Config{
			DriverName: "sqlite",
			DSN:        withPragmas(dsn),
		}),
		opts...,
	)
	if err != nil {
		return nil, err
	}

	// SQLite has a single writer; one pooled connection turns write
	// contention into pool waits instead of SQLITE_BUSY failures.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}

func IsPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Migrate brings the schema up to date for the given models.
func Migrate(db *gorm.DB, models ...any) error {
	log.Printf("migrate models=%d dialect=%s", len(models), db.Dialector.Name())
	return db.AutoMigrate(models...)
}

func withPragmas(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&" + sqlitePragmas
	}
	return dsn + "?" + sqlitePragmas
}

// SetLockTimeout bounds row lock waits for the rest of a postgres
// transaction. SQLite relies on busy_timeout instead.
func SetLockTimeout(tx *gorm.DB, wait time.Duration) error {
	if tx.Dialector.Name() != "postgres" || wait <= 0 {
		return nil
	}
	return tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", wait.Milliseconds())).Error
}
