package helpers

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/stafftrack/attendance-platform/internal/auth"
	"github.com/stafftrack/attendance-platform/internal/ingest"
)

// GetTestDatabasePool creates a database connection pool for testing
func GetTestDatabasePool(ctx context.Context) (*pgxpool.Pool, error) {
	databaseURL := buildDatabaseURL()

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test the connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// buildDatabaseURL constructs the database URL from environment variables
func buildDatabaseURL() string {
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		host = "localhost"
	}

	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}

	user := os.Getenv("POSTGRES_USER")
	if user == "" {
		user = "postgres"
	}

	password := os.Getenv("POSTGRES_PASSWORD")
	if password == "" {
		password = "postgres"
	}

	dbname := os.Getenv("POSTGRES_DB")
	if dbname == "" {
		dbname = "attendance"
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=prefer",
		user, password, host, port, dbname)
}

// TestDatabase provides database utilities for testing
type TestDatabase struct {
	Pool *pgxpool.Pool
	ctx  context.Context
}

// NewTestDatabase creates a new test database instance with the schema
// applied. The test is skipped when no database is reachable, so the
// unit suite stays runnable without infrastructure.
func NewTestDatabase(t *testing.T) *TestDatabase {
	ctx := context.Background()

	pool, err := GetTestDatabasePool(ctx)
	if err != nil {
		t.Skipf("Skipping: test database unavailable: %v", err)
	}

	if err := ingest.NewPostgresStore(pool).EnsureSchema(ctx); err != nil {
		pool.Close()
		t.Fatalf("Failed to ensure schema: %v", err)
	}

	return &TestDatabase{
		Pool: pool,
		ctx:  ctx,
	}
}

// Close closes the database connection
func (db *TestDatabase) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// CreateTestEmployee inserts an employee with a bcrypt-hashed PIN and
// returns the employee ID.
func (db *TestDatabase) CreateTestEmployee(t *testing.T, employeeNo, fullName, pin string) uuid.UUID {
	var pinHash *string
	if pin != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.MinCost)
		if err != nil {
			t.Fatalf("Failed to hash PIN: %v", err)
		}
		s := string(hashed)
		pinHash = &s
	}

	id := uuid.New()
	_, err := db.Pool.Exec(db.ctx, `
		INSERT INTO employees (id, employee_no, full_name, department, status, pin_hash)
		VALUES ($1, $2, $3, 'Operations', 'ACTIVE', $4)
	`, id, employeeNo, fullName, pinHash)
	if err != nil {
		t.Fatalf("Failed to create test employee: %v", err)
	}
	return id
}

// CreateTestToken binds a token UID to an employee and returns the
// token ID.
func (db *TestDatabase) CreateTestToken(t *testing.T, employeeID uuid.UUID, tokenUID, status string) uuid.UUID {
	id := uuid.New()
	_, err := db.Pool.Exec(db.ctx, `
		INSERT INTO tokens (id, token_uid, employee_id, status)
		VALUES ($1, $2, $3, $4)
	`, id, tokenUID, employeeID, status)
	if err != nil {
		t.Fatalf("Failed to create test token: %v", err)
	}
	return id
}

// CreateTestDevice registers a device with the given API key and
// returns the device_id.
func (db *TestDatabase) CreateTestDevice(t *testing.T, deviceID, apiKey string) string {
	_, err := db.Pool.Exec(db.ctx, `
		INSERT INTO devices (id, device_id, name, location, api_key_hash, status)
		VALUES ($1, $2, 'Test device', 'Test lab', $3, 'OFFLINE')
	`, uuid.New(), deviceID, auth.HashAPIKey(apiKey))
	if err != nil {
		t.Fatalf("Failed to create test device: %v", err)
	}
	return deviceID
}

// Cleanup removes the rows created by this test run.
func (db *TestDatabase) Cleanup(t *testing.T) {
	tables := []string{
		"attendance_events",
		"tokens",
		"devices",
		"employees",
	}

	for _, table := range tables {
		if _, err := db.Pool.Exec(db.ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
			t.Logf("Warning: Failed to cleanup table %s: %v", table, err)
		}
	}
}
