package ingest

import "errors"

// Ingest failure classes. All of these are deterministic: retrying the
// same submission yields the same failure, so the agent must not retry.
var (
	// ErrTokenUnassigned: the token exists physically but is not bound
	// to any employee. The tap is parked in the scan buffer for the
	// enrollment workflow; callers surface this as pending-assignment,
	// not as an error.
	ErrTokenUnassigned = errors.New("token not assigned to any employee")

	// ErrTokenInactive: the token is bound but revoked or suspended.
	ErrTokenInactive = errors.New("token is not active")

	// ErrSubjectInactive: the bound employee is not active.
	ErrSubjectInactive = errors.New("employee is not active")

	// ErrDuplicateEvent: the subject's most recent event is within the
	// duplicate-suppression window of the submitted timestamp.
	ErrDuplicateEvent = errors.New("duplicate event within suppression window")

	// ErrInvalidPIN: self-service PIN verification failed.
	ErrInvalidPIN = errors.New("invalid employee number or PIN")

	// ErrInvalidClientEventID: the supplied idempotency key is not a
	// valid identifier.
	ErrInvalidClientEventID = errors.New("client_event_id is not a valid UUID")
)
