package pgstore

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/storage"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/storage/storagetest"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/postgres"
)

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func testPostgresConfig() config.PostgresConfig {
	port, err := strconv.Atoi(envOrDefault("TEST_POSTGRES_PORT", "5432"))
	if err != nil {
		port = 5432
	}
	return config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            port,
		Database:        envOrDefault("TEST_POSTGRES_DB", "indexengine_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "indexengine"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

func TestPostgresStore(t *testing.T) {
	probe, err := postgres.New(testPostgresConfig())
	if err != nil {
		t.Skipf("skipping postgres store test: postgres unavailable: %v", err)
	}
	probe.Close()
	storagetest.Run(t, func(t *testing.T) storage.Store {
		db, err := postgres.New(testPostgresConfig())
		require.NoError(t, err)
		s := New(db)
		ctx := context.Background()
		require.NoError(t, s.EnsureSchema(ctx))
		require.NoError(t, db.Exec(ctx,
			`TRUNCATE documents, mapped_results, reduced_results, scheduled_reductions`))
		return s
	})
}
