package models

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}

// Failure kinds carried on non-2xx responses so the agent can classify
// outcomes without parsing human-readable text
const (
	ErrCodeInvalidRequest  = "INVALID_REQUEST"
	ErrCodeTokenNotFound   = "TOKEN_NOT_FOUND"
	ErrCodeTokenInactive   = "TOKEN_INACTIVE"
	ErrCodeSubjectInactive = "SUBJECT_INACTIVE"
	ErrCodeDuplicateEvent  = "DUPLICATE_EVENT"
	ErrCodeDeviceMismatch  = "DEVICE_MISMATCH"
	ErrCodeInvalidPIN      = "INVALID_PIN"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeInternalError   = "INTERNAL_ERROR"
)
