package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/RezaEskandarii/pgqueue/internal/constants"
	"github.com/RezaEskandarii/pgqueue/internal/lock"
	"github.com/RezaEskandarii/pgqueue/migrations"
	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const migrationsTable = "pgqueue_schema_migrations"

// Migrate applies the embedded migrations to the database at postgresURL.
// Only one process migrates at a time: the caller's lock manager holds
// constants.MigrationLock for the duration.
//
// The function performs the following steps:
//  1. Opens a dedicated connection pool from postgresURL.
//  2. Acquires the migration lock.
//  3. Pings the database to verify the connection.
//  4. Applies every pending up migration from the embedded source.
//
// If any step fails, the function returns an error. The lock is released and
// the pool is closed on return.
func Migrate(ctx context.Context, postgresURL string, distributedLock lock.DistributedLockManager, logger *logrus.Entry) error {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	db, err := sql.Open("postgres", postgresURL)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	if err := distributedLock.Acquire(ctx, constants.MigrationLock); err != nil {
		return err
	}
	defer func() {
		if err := distributedLock.Release(context.Background(), constants.MigrationLock); err != nil {
			logger.WithError(err).Warn("failed to release migration lock")
		}
	}()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	m, err := newMigrator(db)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.WithFields(logrus.Fields{
		"version": version,
		"dirty":   dirty,
	}).Info("migrations complete")
	return nil
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}

	driver, err := migratepg.WithInstance(db, &migratepg.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("migrate init: %w", err)
	}
	return m, nil
}
