package testhelpers

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ekaya-inc/finsql-engine/pkg/retry"
)

// PostgresImage is the image used for store integration tests.
const PostgresImage = "postgres:16-alpine"

const (
	pgUser     = "finsql"
	pgPassword = "test_password"
	pgDatabase = "finsql_test"
)

// TestDB is a PostgreSQL container seeded with the filing fixture.
type TestDB struct {
	Container testcontainers.Container
	Pool      *pgxpool.Pool
	ConnStr   string
	Host      string
	Port      int
}

var sharedTestDB = sync.OnceValues(startTestDB)

// GetTestDB returns the PostgreSQL container shared by every integration test
// in the run, starting and seeding it on first use. Skipped with -short.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	db, err := sharedTestDB()
	if err != nil {
		t.Fatalf("Failed to start fixture database: %v", err)
	}
	return db
}

func startTestDB() (*TestDB, error) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        PostgresImage,
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_DB":       pgDatabase,
				"POSTGRES_USER":     pgUser,
				"POSTGRES_PASSWORD": pgPassword,
			},
			// Postgres logs readiness twice: once for the init server, once for the real one.
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	db := &TestDB{Container: container}
	if db.Host, err = container.Host(ctx); err != nil {
		return nil, fmt.Errorf("container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("container port: %w", err)
	}
	db.Port = port.Int()
	db.ConnStr = fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable",
		pgUser, pgPassword, net.JoinHostPort(db.Host, port.Port()), pgDatabase)

	if db.Pool, err = pgxpool.New(ctx, db.ConnStr); err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCfg := &retry.Config{MaxRetries: 10, InitialDelay: 250 * time.Millisecond, MaxDelay: time.Second, Multiplier: 1.5}
	if err := retry.Do(ctx, pingCfg, func() error { return db.Pool.Ping(ctx) }); err != nil {
		db.Pool.Close()
		return nil, fmt.Errorf("ping fixture database: %w", err)
	}

	if err := seedFixture(ctx, db.Pool); err != nil {
		db.Pool.Close()
		return nil, err
	}
	return db, nil
}

func seedFixture(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range FixtureStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("seed fixture statement %d: %w", i, err)
		}
	}
	return nil
}
