// Package testutil starts the Postgres fixture shared by integration tests.
package testutil

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"order-fulfillment/internal/database"
)

const postgresImage = "postgres:16-alpine"

var (
	once     sync.Once
	shared   *sql.DB
	startErr error
)

// Postgres returns a migrated pool backed by one container per test binary.
// The container is reaped by the testcontainers sidecar when the process exits.
// Tests are skipped under -short or when no Docker provider is reachable.
func Postgres(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test: skipped with -short")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	once.Do(func() {
		shared, startErr = start()
	})
	if startErr != nil {
		t.Skipf("postgres container unavailable: %v", startErr)
	}
	return shared
}

func start() (*sql.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := postgres.Run(ctx, postgresImage,
		postgres.WithDatabase("fulfillment"),
		postgres.WithUsername("fulfillment"),
		postgres.WithPassword("fulfillment"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, err
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(60)
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, db); err != nil {
		return nil, err
	}
	return db, nil
}
