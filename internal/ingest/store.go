package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/stafftrack/attendance-platform/internal/models"
)

// TokenBinding is the resolved state of a token and its bound employee
// at tap time.
type TokenBinding struct {
	TokenID        uuid.UUID
	TokenUID       string
	TokenActive    bool
	EmployeeID     uuid.UUID
	EmployeeName   string
	EmployeeNo     string
	Department     string
	EmployeeActive bool
}

// Employee is the subset of the employee record the ingest paths need.
type Employee struct {
	ID         uuid.UUID
	FullName   string
	EmployeeNo string
	Department string
	Active     bool
	PINHash    string
}

// Store is the persistence boundary of the ingestion service. The pgx
// implementation is authoritative; tests use an in-memory one.
type Store interface {
	// GetTokenBinding resolves a normalized token UID to its binding,
	// or nil when no such token exists.
	GetTokenBinding(ctx context.Context, tokenUID string) (*TokenBinding, error)

	// GetEmployeeByNo returns the employee with the given number, or
	// nil when not found. Used by the self-service PIN path.
	GetEmployeeByNo(ctx context.Context, employeeNo string) (*Employee, error)

	// GetEvent returns the persisted event with the given ID, or nil.
	GetEvent(ctx context.Context, id uuid.UUID) (*models.AttendanceEvent, error)

	// GetLastEvent returns the employee's most recent event by event
	// timestamp, across all devices, or nil when there is none.
	GetLastEvent(ctx context.Context, employeeID uuid.UUID) (*models.AttendanceEvent, error)

	// GetLastEventBetween returns the employee's most recent event with
	// start <= event_timestamp < end, or nil.
	GetLastEventBetween(ctx context.Context, employeeID uuid.UUID, start, end time.Time) (*models.AttendanceEvent, error)

	// CreateEvent persists the event and refreshes the device's
	// liveness (ONLINE, last-seen) in the same transaction. This is the
	// sole durability point of an ingest.
	CreateEvent(ctx context.Context, event *models.AttendanceEvent) error
}
