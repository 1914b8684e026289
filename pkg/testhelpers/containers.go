package testhelpers

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/querylens/schema-engine/pkg/database"
)

// TestImage is the PostgreSQL image used for integration tests. It ships
// with the pgvector extension compiled in.
const TestImage = "pgvector/pgvector:pg17"

// TestDB holds a shared test database container and a pool against the
// target (introspected) database, pre-seeded with a small fixture schema.
type TestDB struct {
	Container testcontainers.Container
	Pool      *pgxpool.Pool
	ConnStr   string
}

var (
	sharedTestDB     *TestDB
	sharedTestDBOnce sync.Once
	sharedTestDBErr  error
)

// GetTestDB returns a shared PostgreSQL container for integration tests.
// The container is created once and reused across all tests in the run.
// The target_test database carries the fixture schema for introspection
// tests.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedTestDBOnce.Do(func() {
		sharedTestDB, sharedTestDBErr = setupTestDB()
	})

	if sharedTestDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedTestDBErr)
	}

	return sharedTestDB
}

// fixtureSchema is a compact target schema exercising every introspection
// path: comments on tables and columns, composite defaults, and a foreign
// key between schemas.
const fixtureSchema = `
CREATE SCHEMA IF NOT EXISTS billing;

CREATE TABLE users (
    id BIGSERIAL PRIMARY KEY,
    email TEXT NOT NULL,
    display_name TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
COMMENT ON TABLE users IS 'Registered application users';
COMMENT ON COLUMN users.email IS 'Unique login email';

CREATE TABLE billing.invoices (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL REFERENCES users(id),
    amount_cents INTEGER NOT NULL DEFAULT 0,
    issued_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
COMMENT ON TABLE billing.invoices IS 'Issued invoices per user';

INSERT INTO users (email, display_name) VALUES
    ('a@example.com', 'Alice'),
    ('b@example.com', 'Bob');
INSERT INTO billing.invoices (user_id, amount_cents) VALUES (1, 1200), (2, 880);
`

func setupTestDB() (*TestDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        TestImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "target_test",
			"POSTGRES_USER":     "engine",
			"POSTGRES_PASSWORD": "test_password",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://engine:test_password@%s:%s/target_test?sslmode=disable",
		host, port.Port())

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection with retry
	for i := 0; i < 10; i++ {
		if err := pool.Ping(ctx); err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}

	if _, err := pool.Exec(ctx, fixtureSchema); err != nil {
		return nil, fmt.Errorf("failed to seed fixture schema: %w", err)
	}

	return &TestDB{
		Container: container,
		Pool:      pool,
		ConnStr:   connStr,
	}, nil
}

// EngineDB holds the engine database connection with migrations applied.
// Use this for testing handlers, services, and repositories against a real
// database.
type EngineDB struct {
	DB      *database.DB
	ConnStr string
}

var (
	sharedEngineDB     *EngineDB
	sharedEngineDBOnce sync.Once
	sharedEngineDBErr  error
)

// GetEngineDB returns a shared engine database for integration tests.
// The database has migrations applied and is reused across all tests.
func GetEngineDB(t *testing.T) *EngineDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	// Ensure test container is running first
	testDB := GetTestDB(t)

	sharedEngineDBOnce.Do(func() {
		sharedEngineDB, sharedEngineDBErr = setupEngineDB(testDB)
	})

	if sharedEngineDBErr != nil {
		t.Fatalf("Failed to setup engine database: %v", sharedEngineDBErr)
	}

	return sharedEngineDB
}

func setupEngineDB(testDB *TestDB) (*EngineDB, error) {
	ctx := context.Background()

	if _, err := testDB.Pool.Exec(ctx, "CREATE DATABASE engine_test"); err != nil {
		return nil, fmt.Errorf("failed to create engine database: %w", err)
	}

	host, err := testDB.Container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := testDB.Container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://engine:test_password@%s:%s/engine_test?sslmode=disable",
		host, port.Port())

	// Run migrations using database/sql (required by golang-migrate)
	sqlDB, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open sql connection: %w", err)
	}
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB, migrationsDir(), zap.NewNop()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	db, err := database.NewEngineDB(ctx, connStr, 5)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to engine database: %w", err)
	}

	return &EngineDB{
		DB:      db,
		ConnStr: connStr,
	}, nil
}

// migrationsDir resolves the migrations directory relative to this file so
// integration tests work from any package directory.
func migrationsDir() string {
	_, thisFile, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(thisFile), "..", "..", "migrations")
}
