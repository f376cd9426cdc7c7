// Package client wraps the device-to-service submission API and
// classifies every delivery into an explicit outcome so callers must
// branch on the failure class instead of guessing from error strings.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/stafftrack/attendance-platform/internal/models"
)

// OutcomeKind classifies a delivery attempt.
type OutcomeKind string

const (
	// OutcomeAccepted: the service durably persisted (or had already
	// persisted) the event. Safe to mark the local copy SYNCED.
	OutcomeAccepted OutcomeKind = "ACCEPTED"

	// OutcomePendingAssignment: the token is not bound to any employee;
	// the service parked it for enrollment. Non-retryable, but not a
	// hard failure either.
	OutcomePendingAssignment OutcomeKind = "PENDING_ASSIGNMENT"

	// OutcomeRejected: deterministic validation/state failure. Retrying
	// the same payload can only fail the same way.
	OutcomeRejected OutcomeKind = "REJECTED"

	// OutcomeTransientFailure: timeout, connection failure, or a 5xx.
	// Always retry-eligible.
	OutcomeTransientFailure OutcomeKind = "TRANSIENT_FAILURE"
)

// Outcome is the result of a single delivery attempt.
type Outcome struct {
	Kind OutcomeKind

	// Event is set on OutcomeAccepted.
	Event *models.AttendanceEventResponse

	// ScanMode is set on OutcomePendingAssignment.
	ScanMode *models.ScanModeResponse

	// Code and Reason are set on OutcomeRejected.
	Code   string
	Reason string

	// Err is set on OutcomeTransientFailure.
	Err error
}

// Client submits captured events to the central ingestion service. A
// fixed per-device API key is attached to every request. The circuit
// breaker stops hammering a dead service; while open, deliveries fail
// fast as transient.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

// New creates a delivery client. timeout bounds every request,
// including the direct-delivery attempt from the capture loop, so a
// hung request cannot stall token reads indefinitely.
func New(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	settings := gobreaker.Settings{
		Name:        "attendance-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    gobreaker.NewCircuitBreaker(settings),
		logger:     logger,
	}
}

// Deliver submits one event. It never returns an error: every possible
// failure maps onto an Outcome the caller must handle.
func (c *Client) Deliver(ctx context.Context, submission models.EventSubmission) Outcome {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.post(ctx, submission)
	})
	if err != nil {
		// Breaker-open and transport errors are both transient from the
		// coordinator's point of view.
		c.logger.Warn("delivery failed", "client_event_id", deref(submission.ClientEventID), "error", err)
		return Outcome{Kind: OutcomeTransientFailure, Err: err}
	}
	return result.(Outcome)
}

// post performs the HTTP exchange. It returns an error only for
// conditions that should count against the circuit breaker (transport
// failures and 5xx); any classified response returns a nil error.
func (c *Client) post(ctx context.Context, submission models.EventSubmission) (Outcome, error) {
	body, err := json.Marshal(submission)
	if err != nil {
		return Outcome{}, fmt.Errorf("marshal submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/attendance-events", bytes.NewReader(body))
	if err != nil {
		return Outcome{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("submit event: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusAccepted:
		var scanMode models.ScanModeResponse
		if err := json.NewDecoder(resp.Body).Decode(&scanMode); err != nil {
			return Outcome{}, fmt.Errorf("decode scan-mode response: %w", err)
		}
		return Outcome{Kind: OutcomePendingAssignment, ScanMode: &scanMode}, nil

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var event models.AttendanceEventResponse
		if err := json.NewDecoder(resp.Body).Decode(&event); err != nil {
			return Outcome{}, fmt.Errorf("decode event response: %w", err)
		}
		return Outcome{Kind: OutcomeAccepted, Event: &event}, nil

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var apiErr models.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
			apiErr = models.ErrorResponse{Error: resp.Status, Code: models.ErrCodeInvalidRequest}
		}
		return Outcome{Kind: OutcomeRejected, Code: apiErr.Code, Reason: apiErr.Error}, nil

	default:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Outcome{}, fmt.Errorf("service returned status %d: %s", resp.StatusCode, string(raw))
	}
}

// HealthCheck probes the service's unauthenticated health endpoint.
// Best-effort: used to skip futile sync passes, never for correctness.
func (c *Client) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
