package models

import "time"

// EventSubmission is the device-to-service payload for a tap.
// EventTimestamp is the capture-side time, not server receive time.
type EventSubmission struct {
	TokenID        string     `json:"token_id" binding:"required"`
	DeviceID       string     `json:"device_id" binding:"required"`
	EventTimestamp time.Time  `json:"event_timestamp" binding:"required"`
	ClientEventID  *string    `json:"client_event_id,omitempty"`
	Direction      *Direction `json:"direction,omitempty"`
}

// PINSubmission is the self-service clock-in payload
type PINSubmission struct {
	EmployeeNo     string    `json:"employee_no" binding:"required"`
	PIN            string    `json:"pin" binding:"required"`
	DeviceID       string    `json:"device_id" binding:"required"`
	EventTimestamp time.Time `json:"event_timestamp" binding:"required"`
	Notes          string    `json:"notes,omitempty"`
}

// AttendanceEventResponse is the created/existing event plus display
// message. Fields are listed explicitly; nothing is copied wholesale
// from internal records.
type AttendanceEventResponse struct {
	ID             string      `json:"id"`
	EmployeeID     string      `json:"employee_id"`
	EmployeeName   string      `json:"employee_name"`
	EmployeeNo     string      `json:"employee_no"`
	Direction      Direction   `json:"direction"`
	EventTimestamp time.Time   `json:"event_timestamp"`
	DeviceID       string      `json:"device_id"`
	EntryOrigin    EntryOrigin `json:"entry_origin"`
	Message        string      `json:"message"`
}

// ScanModeResponse is returned with HTTP 202 when a tapped token is not
// bound to any employee. The tap is parked for the enrollment wizard
// instead of being rejected.
type ScanModeResponse struct {
	Status     string    `json:"status"`
	Message    string    `json:"message"`
	TokenID    string    `json:"token_id"`
	DetectedAt time.Time `json:"detected_at"`
}

// ScanModeStatus is the Status value of a ScanModeResponse
const ScanModeStatus = "pending_assignment"

// AttendanceFeedEvent is the realtime broadcast sent to dashboard
// WebSocket clients after each successful ingest
type AttendanceFeedEvent struct {
	Direction    Direction   `json:"direction"`
	EmployeeName string      `json:"employee_name"`
	EmployeeNo   string      `json:"employee_no"`
	Department   string      `json:"department"`
	Timestamp    time.Time   `json:"timestamp"`
	DeviceID     string      `json:"device_id"`
	Message      string      `json:"message"`
	EntryOrigin  EntryOrigin `json:"entry_origin"`
}
