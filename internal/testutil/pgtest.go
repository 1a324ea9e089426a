// Package testutil provides a throwaway Postgres database for integration
// tests. Tests get a real database either from POSTGRES_URL (CI) or from a
// disposable container started on demand.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Postgres returns an open, migrated test database. When POSTGRES_URL is set
// it is used directly (the schema is migrated but not dropped); otherwise a
// postgres container is started and torn down with the test.
func Postgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	url := os.Getenv("POSTGRES_URL")
	if url == "" {
		ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
			tcpostgres.WithDatabase("conectapro_test"),
			tcpostgres.WithUsername("postgres"),
			tcpostgres.WithPassword("postgres"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		if err != nil {
			t.Skipf("could not start postgres container: %v", err)
		}
		t.Cleanup(func() {
			_ = ctr.Terminate(context.Background())
		})

		url, err = ctr.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			t.Fatalf("container connection string: %v", err)
		}
	}

	db, err := sql.Open("postgres", url)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("ping database: %v", err)
	}

	goose.SetLogger(goose.NopLogger())
	if err := goose.UpContext(ctx, db, migrationsDir(t)); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	return db
}

// migrationsDir walks up from the test's working directory to the
// repository's migrations folder.
func migrationsDir(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		candidate := filepath.Join(dir, "migrations")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("migrations directory not found")
		}
		dir = parent
	}
}
