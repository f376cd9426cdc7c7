package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stafftrack/attendance-platform/internal/models"
)

// PostgresStore is the authoritative Store backed by pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store over an existing connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the tables the ingestion service owns. Employee,
// token, and device rows are managed by the external CRUD collaborators;
// the schema here exists so a fresh deployment can start and so the
// integration tests have something to write into.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS employees (
		id           UUID PRIMARY KEY,
		employee_no  TEXT NOT NULL UNIQUE,
		full_name    TEXT NOT NULL,
		department   TEXT NOT NULL DEFAULT '',
		status       TEXT NOT NULL DEFAULT 'ACTIVE',
		pin_hash     TEXT
	);
	CREATE TABLE IF NOT EXISTS tokens (
		id          UUID PRIMARY KEY,
		token_uid   TEXT NOT NULL UNIQUE,
		employee_id UUID NOT NULL REFERENCES employees(id),
		status      TEXT NOT NULL DEFAULT 'ACTIVE'
	);
	CREATE TABLE IF NOT EXISTS devices (
		id           UUID PRIMARY KEY,
		device_id    TEXT NOT NULL UNIQUE,
		name         TEXT NOT NULL DEFAULT '',
		location     TEXT NOT NULL DEFAULT '',
		api_key_hash TEXT NOT NULL UNIQUE,
		status       TEXT NOT NULL DEFAULT 'OFFLINE',
		last_seen_at TIMESTAMPTZ
	);
	CREATE TABLE IF NOT EXISTS attendance_events (
		id              UUID PRIMARY KEY,
		employee_id     UUID NOT NULL REFERENCES employees(id),
		token_id        UUID REFERENCES tokens(id),
		direction       TEXT NOT NULL,
		event_timestamp TIMESTAMPTZ NOT NULL,
		device_id       TEXT NOT NULL,
		entry_origin    TEXT NOT NULL DEFAULT 'TOKEN',
		notes           TEXT NOT NULL DEFAULT '',
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS idx_attendance_events_employee_ts
		ON attendance_events(employee_id, event_timestamp DESC);
	`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// GetTokenBinding resolves a token UID to its employee binding.
func (s *PostgresStore) GetTokenBinding(ctx context.Context, tokenUID string) (*TokenBinding, error) {
	var binding TokenBinding
	var tokenStatus, employeeStatus string

	err := s.pool.QueryRow(ctx, `
		SELECT t.id, t.token_uid, t.status, e.id, e.full_name, e.employee_no, e.department, e.status
		FROM tokens t
		JOIN employees e ON e.id = t.employee_id
		WHERE t.token_uid = $1`,
		tokenUID,
	).Scan(
		&binding.TokenID,
		&binding.TokenUID,
		&tokenStatus,
		&binding.EmployeeID,
		&binding.EmployeeName,
		&binding.EmployeeNo,
		&binding.Department,
		&employeeStatus,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve token %s: %w", tokenUID, err)
	}

	binding.TokenActive = tokenStatus == "ACTIVE"
	binding.EmployeeActive = employeeStatus == "ACTIVE"
	return &binding, nil
}

// GetEmployeeByNo returns the employee with the given number.
func (s *PostgresStore) GetEmployeeByNo(ctx context.Context, employeeNo string) (*Employee, error) {
	var emp Employee
	var status string
	var pinHash *string

	err := s.pool.QueryRow(ctx, `
		SELECT id, full_name, employee_no, department, status, pin_hash
		FROM employees WHERE employee_no = $1`,
		employeeNo,
	).Scan(&emp.ID, &emp.FullName, &emp.EmployeeNo, &emp.Department, &status, &pinHash)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get employee %s: %w", employeeNo, err)
	}

	emp.Active = status == "ACTIVE"
	if pinHash != nil {
		emp.PINHash = *pinHash
	}
	return &emp, nil
}

// GetEvent returns the persisted event with the given ID.
func (s *PostgresStore) GetEvent(ctx context.Context, id uuid.UUID) (*models.AttendanceEvent, error) {
	event, err := s.scanEvent(s.pool.QueryRow(ctx, `
		SELECT id, employee_id, token_id, direction, event_timestamp, device_id, entry_origin, notes, created_at
		FROM attendance_events WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get event %s: %w", id, err)
	}
	return event, nil
}

// GetLastEvent returns the employee's most recent event.
func (s *PostgresStore) GetLastEvent(ctx context.Context, employeeID uuid.UUID) (*models.AttendanceEvent, error) {
	event, err := s.scanEvent(s.pool.QueryRow(ctx, `
		SELECT id, employee_id, token_id, direction, event_timestamp, device_id, entry_origin, notes, created_at
		FROM attendance_events
		WHERE employee_id = $1
		ORDER BY event_timestamp DESC
		LIMIT 1`, employeeID))
	if err != nil {
		return nil, fmt.Errorf("failed to get last event for %s: %w", employeeID, err)
	}
	return event, nil
}

// GetLastEventBetween returns the most recent event in [start, end).
func (s *PostgresStore) GetLastEventBetween(ctx context.Context, employeeID uuid.UUID, start, end time.Time) (*models.AttendanceEvent, error) {
	event, err := s.scanEvent(s.pool.QueryRow(ctx, `
		SELECT id, employee_id, token_id, direction, event_timestamp, device_id, entry_origin, notes, created_at
		FROM attendance_events
		WHERE employee_id = $1 AND event_timestamp >= $2 AND event_timestamp < $3
		ORDER BY event_timestamp DESC
		LIMIT 1`, employeeID, start, end))
	if err != nil {
		return nil, fmt.Errorf("failed to get last event of day for %s: %w", employeeID, err)
	}
	return event, nil
}

// CreateEvent inserts the event and refreshes the device liveness in
// one transaction.
func (s *PostgresStore) CreateEvent(ctx context.Context, event *models.AttendanceEvent) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO attendance_events
			(id, employee_id, token_id, direction, event_timestamp, device_id, entry_origin, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		event.ID,
		event.EmployeeID,
		event.TokenID,
		string(event.Direction),
		event.EventTimestamp,
		event.DeviceID,
		string(event.EntryOrigin),
		event.Notes,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event %s: %w", event.ID, err)
	}

	// Device rows are provisioned out-of-band; an unknown device_id on
	// the event is tolerated (not foreign-key-enforced).
	_, err = tx.Exec(ctx, `
		UPDATE devices
		SET status = 'ONLINE', last_seen_at = now()
		WHERE device_id = $1`,
		event.DeviceID,
	)
	if err != nil {
		return fmt.Errorf("failed to refresh device %s: %w", event.DeviceID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit event %s: %w", event.ID, err)
	}
	return nil
}

func (s *PostgresStore) scanEvent(row pgx.Row) (*models.AttendanceEvent, error) {
	var event models.AttendanceEvent
	var direction, origin string

	err := row.Scan(
		&event.ID,
		&event.EmployeeID,
		&event.TokenID,
		&direction,
		&event.EventTimestamp,
		&event.DeviceID,
		&origin,
		&event.Notes,
		&event.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	event.Direction = models.Direction(direction)
	event.EntryOrigin = models.EntryOrigin(origin)
	return &event, nil
}
