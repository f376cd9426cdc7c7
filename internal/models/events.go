package models

import (
	"time"

	"github.com/google/uuid"
)

// Direction is the polarity of a presence event
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// EntryOrigin tracks how an attendance event was recorded
type EntryOrigin string

const (
	EntryOriginToken          EntryOrigin = "TOKEN"
	EntryOriginManualEmployee EntryOrigin = "MANUAL_EMPLOYEE"
)

// DeviceStatus is the liveness state of a capture device
type DeviceStatus string

const (
	DeviceStatusOnline      DeviceStatus = "ONLINE"
	DeviceStatusOffline     DeviceStatus = "OFFLINE"
	DeviceStatusMaintenance DeviceStatus = "MAINTENANCE"
)

// CapturedEventStatus is the delivery state of an agent-local event
type CapturedEventStatus string

const (
	CapturedEventPending CapturedEventStatus = "PENDING"
	CapturedEventSynced  CapturedEventStatus = "SYNCED"
	CapturedEventFailed  CapturedEventStatus = "FAILED"
)

// CapturedEvent is an agent-local record of a physical tap. The ID is
// client-generated so redelivery after a lost response stays idempotent.
type CapturedEvent struct {
	ID              uuid.UUID           `json:"id"`
	TokenID         string              `json:"token_id"`
	DeviceID        string              `json:"device_id"`
	Timestamp       time.Time           `json:"timestamp"`
	CreatedAt       time.Time           `json:"created_at"`
	SyncAttempts    int                 `json:"sync_attempts"`
	LastSyncAttempt *time.Time          `json:"last_sync_attempt,omitempty"`
	Status          CapturedEventStatus `json:"status"`
}

// AttendanceEvent is the authoritative, service-side presence record.
// Immutable once persisted; corrections go through a separate path.
type AttendanceEvent struct {
	ID             uuid.UUID   `json:"id"`
	EmployeeID     uuid.UUID   `json:"employee_id"`
	TokenID        *uuid.UUID  `json:"token_id,omitempty"`
	Direction      Direction   `json:"direction"`
	EventTimestamp time.Time   `json:"event_timestamp"`
	DeviceID       string      `json:"device_id"`
	EntryOrigin    EntryOrigin `json:"entry_origin"`
	Notes          string      `json:"notes,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}
