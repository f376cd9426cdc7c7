// Package ingest is the authoritative end of the capture pipeline:
// validation, idempotent deduplication, direction inference, and the
// append-only persistence of attendance events.
package ingest

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/stafftrack/attendance-platform/internal/metrics"
	"github.com/stafftrack/attendance-platform/internal/models"
)

// Service implements event ingestion. Concurrent submissions for the
// same employee are serialized on a per-employee mutex so duplicate
// suppression and direction inference are race-free; different
// employees proceed independently.
type Service struct {
	store      Store
	scanBuffer *ScanBuffer
	metrics    *metrics.IngestMetrics

	// dupWindow is the duplicate-tap suppression window. A policy
	// constant with no derivation in the business rules, so it stays
	// configurable.
	dupWindow time.Duration

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// Result is the outcome of a successful ingest.
type Result struct {
	Event        *models.AttendanceEvent
	EmployeeName string
	EmployeeNo   string
	Department   string
	Message      string

	// Existing is true when the submission was an idempotent redelivery
	// answered from the already-persisted event.
	Existing bool
}

// NewService creates an ingestion service. dupWindow zero means the
// default of 60 seconds. The metrics collector may be nil.
func NewService(store Store, scanBuffer *ScanBuffer, ingestMetrics *metrics.IngestMetrics, dupWindow time.Duration) *Service {
	if dupWindow <= 0 {
		dupWindow = 60 * time.Second
	}
	return &Service{
		store:      store,
		scanBuffer: scanBuffer,
		metrics:    ingestMetrics,
		dupWindow:  dupWindow,
		locks:      make(map[uuid.UUID]*sync.Mutex),
	}
}

// employeeLock returns the per-employee mutex, creating one on first
// use.
func (s *Service) employeeLock(employeeID uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lock, ok := s.locks[employeeID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	s.locks[employeeID] = lock
	return lock
}

// NormalizeTokenUID canonicalizes a raw reader UID: uppercase, with
// spaces, dashes, and colons stripped.
func NormalizeTokenUID(raw string) string {
	replacer := strings.NewReplacer(" ", "", "-", "", ":", "")
	return strings.ToUpper(replacer.Replace(raw))
}

// Ingest records a token-tap submission. Returns ErrTokenUnassigned
// after parking unknown tokens in the scan buffer; ErrTokenInactive,
// ErrSubjectInactive, and ErrDuplicateEvent are hard rejections with no
// state change.
func (s *Service) Ingest(ctx context.Context, submission models.EventSubmission) (*Result, error) {
	start := time.Now()

	tokenUID := NormalizeTokenUID(submission.TokenID)

	binding, err := s.store.GetTokenBinding(ctx, tokenUID)
	if err != nil {
		return nil, err
	}
	if binding == nil {
		s.scanBuffer.Add(tokenUID)
		if s.metrics != nil {
			s.metrics.RecordUnassignedToken(ctx, submission.DeviceID)
		}
		log.Printf(`{"level":"info","message":"Unassigned token routed to scan buffer","token_uid":"%s","device_id":"%s"}`,
			tokenUID, submission.DeviceID)
		return nil, ErrTokenUnassigned
	}
	if !binding.TokenActive {
		s.recordRejection(ctx, submission.DeviceID, "token_inactive")
		return nil, ErrTokenInactive
	}
	if !binding.EmployeeActive {
		s.recordRejection(ctx, submission.DeviceID, "subject_inactive")
		return nil, ErrSubjectInactive
	}

	lock := s.employeeLock(binding.EmployeeID)
	lock.Lock()
	defer lock.Unlock()

	// Idempotency: a redelivery of an already-accepted event returns
	// the persisted event unchanged. The prior Accepted response may
	// have been lost in transit; this is not an error.
	if submission.ClientEventID != nil {
		clientEventID, err := uuid.Parse(*submission.ClientEventID)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidClientEventID, *submission.ClientEventID)
		}
		existing, err := s.store.GetEvent(ctx, clientEventID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if s.metrics != nil {
				s.metrics.RecordReplayed(ctx, submission.DeviceID)
			}
			return &Result{
				Event:        existing,
				EmployeeName: binding.EmployeeName,
				EmployeeNo:   binding.EmployeeNo,
				Department:   binding.Department,
				Message:      directionMessage(binding.EmployeeName, existing.Direction),
				Existing:     true,
			}, nil
		}
	}

	if err := s.checkDuplicate(ctx, binding.EmployeeID, submission.EventTimestamp); err != nil {
		s.recordRejection(ctx, submission.DeviceID, "duplicate")
		return nil, err
	}

	direction := models.DirectionIn
	if submission.Direction != nil {
		direction = *submission.Direction
	} else {
		direction, err = s.inferDirection(ctx, binding.EmployeeID, submission.EventTimestamp)
		if err != nil {
			return nil, err
		}
	}

	eventID := uuid.New()
	if submission.ClientEventID != nil {
		// Parse already validated above.
		eventID = uuid.MustParse(*submission.ClientEventID)
	}

	tokenID := binding.TokenID
	event := &models.AttendanceEvent{
		ID:             eventID,
		EmployeeID:     binding.EmployeeID,
		TokenID:        &tokenID,
		Direction:      direction,
		EventTimestamp: submission.EventTimestamp,
		DeviceID:       submission.DeviceID,
		EntryOrigin:    models.EntryOriginToken,
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.store.CreateEvent(ctx, event); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordIngested(ctx, submission.DeviceID, string(direction), time.Since(start))
	}
	log.Printf(`{"level":"info","message":"Attendance event recorded","event_id":"%s","employee_no":"%s","direction":"%s","device_id":"%s"}`,
		event.ID, binding.EmployeeNo, direction, submission.DeviceID)

	return &Result{
		Event:        event,
		EmployeeName: binding.EmployeeName,
		EmployeeNo:   binding.EmployeeNo,
		Department:   binding.Department,
		Message:      directionMessage(binding.EmployeeName, direction),
	}, nil
}

// IngestPIN records a self-service clock event authenticated by the
// employee's PIN instead of a token. The event has no token reference
// and entry origin MANUAL_EMPLOYEE, but passes through the same
// duplicate suppression and direction inference as a tap.
func (s *Service) IngestPIN(ctx context.Context, submission models.PINSubmission) (*Result, error) {
	start := time.Now()

	employee, err := s.store.GetEmployeeByNo(ctx, submission.EmployeeNo)
	if err != nil {
		return nil, err
	}
	// A missing employee and a wrong PIN are indistinguishable to the
	// caller; don't leak which employee numbers exist.
	if employee == nil || employee.PINHash == "" {
		s.recordRejection(ctx, submission.DeviceID, "invalid_pin")
		return nil, ErrInvalidPIN
	}
	if err := bcrypt.CompareHashAndPassword([]byte(employee.PINHash), []byte(submission.PIN)); err != nil {
		s.recordRejection(ctx, submission.DeviceID, "invalid_pin")
		return nil, ErrInvalidPIN
	}
	if !employee.Active {
		s.recordRejection(ctx, submission.DeviceID, "subject_inactive")
		return nil, ErrSubjectInactive
	}

	lock := s.employeeLock(employee.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.checkDuplicate(ctx, employee.ID, submission.EventTimestamp); err != nil {
		s.recordRejection(ctx, submission.DeviceID, "duplicate")
		return nil, err
	}

	direction, err := s.inferDirection(ctx, employee.ID, submission.EventTimestamp)
	if err != nil {
		return nil, err
	}

	event := &models.AttendanceEvent{
		ID:             uuid.New(),
		EmployeeID:     employee.ID,
		Direction:      direction,
		EventTimestamp: submission.EventTimestamp,
		DeviceID:       submission.DeviceID,
		EntryOrigin:    models.EntryOriginManualEmployee,
		Notes:          submission.Notes,
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.store.CreateEvent(ctx, event); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordIngested(ctx, submission.DeviceID, string(direction), time.Since(start))
	}
	log.Printf(`{"level":"info","message":"Self-service attendance recorded","event_id":"%s","employee_no":"%s","direction":"%s"}`,
		event.ID, employee.EmployeeNo, direction)

	return &Result{
		Event:        event,
		EmployeeName: employee.FullName,
		EmployeeNo:   employee.EmployeeNo,
		Department:   employee.Department,
		Message:      directionMessage(employee.FullName, direction),
	}, nil
}

// checkDuplicate rejects a submission whose timestamp lands within the
// suppression window of the employee's most recent event, regardless of
// device and regardless of which of the two taps arrived first.
func (s *Service) checkDuplicate(ctx context.Context, employeeID uuid.UUID, eventTimestamp time.Time) error {
	last, err := s.store.GetLastEvent(ctx, employeeID)
	if err != nil {
		return err
	}
	if last == nil {
		return nil
	}
	diff := eventTimestamp.Sub(last.EventTimestamp)
	if diff < 0 {
		diff = -diff
	}
	if diff < s.dupWindow {
		return ErrDuplicateEvent
	}
	return nil
}

// inferDirection computes IN/OUT from the employee's most recent event
// within the same calendar day as the submitted timestamp. A pure
// function of stored history: replaying the same history yields the
// same inference.
func (s *Service) inferDirection(ctx context.Context, employeeID uuid.UUID, eventTimestamp time.Time) (models.Direction, error) {
	dayStart := time.Date(
		eventTimestamp.Year(), eventTimestamp.Month(), eventTimestamp.Day(),
		0, 0, 0, 0, eventTimestamp.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)

	lastToday, err := s.store.GetLastEventBetween(ctx, employeeID, dayStart, dayEnd)
	if err != nil {
		return "", err
	}
	return NextDirection(lastToday), nil
}

// NextDirection is the inference rule: no prior event today, or the
// most recent was OUT, means IN; otherwise OUT.
func NextDirection(lastToday *models.AttendanceEvent) models.Direction {
	if lastToday == nil || lastToday.Direction == models.DirectionOut {
		return models.DirectionIn
	}
	return models.DirectionOut
}

func (s *Service) recordRejection(ctx context.Context, deviceID, reason string) {
	if s.metrics != nil {
		s.metrics.RecordRejected(ctx, deviceID, reason)
	}
}

func directionMessage(employeeName string, direction models.Direction) string {
	if direction == models.DirectionIn {
		return fmt.Sprintf("Welcome, %s!", employeeName)
	}
	return fmt.Sprintf("Goodbye, %s. Have a great day!", employeeName)
}
