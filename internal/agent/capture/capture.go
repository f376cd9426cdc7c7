// Package capture polls the token reader and turns new taps into
// delivery attempts, falling back to the local durable queue when the
// service cannot be reached.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stafftrack/attendance-platform/internal/agent/buffer"
	"github.com/stafftrack/attendance-platform/internal/agent/client"
	"github.com/stafftrack/attendance-platform/internal/models"
)

// TokenSource abstracts the physical reader. WaitForToken blocks for at
// most timeout and returns the token identifier of a present token, or
// "" when none is on the reader. A "" read doubles as the token-removed
// signal that re-arms the repeat-read debounce.
type TokenSource interface {
	WaitForToken(ctx context.Context, timeout time.Duration) (string, error)
}

// Notifier surfaces capture results to the operator display. The
// concrete display is out of scope here; the default implementation
// logs.
type Notifier interface {
	Delivered(event *models.AttendanceEventResponse)
	PendingAssignment(tokenID string)
	Rejected(tokenID, code, reason string)
	Buffered(tokenID string, pending int)
}

// Kicker is the slice of the sync coordinator the loop needs: an
// immediate-sync request after a failed direct delivery.
type Kicker interface {
	Kick()
}

// Loop drives the capture thread. Runs single-threaded; the only
// shared resource with the sync coordinator is the durable queue.
type Loop struct {
	source      TokenSource
	deliverer   Deliverer
	queue       *buffer.Queue
	coordinator Kicker
	notifier    Notifier
	deviceID    string
	poll        time.Duration
	logger      *slog.Logger

	// now is swappable in tests
	now func() time.Time

	// lastToken implements the repeat-read debounce: the same token
	// held continuously against the reader produces one event, not one
	// per poll. Purely ergonomic; server-side duplicate suppression is
	// independent of this.
	lastToken string
}

// Deliverer is the direct-delivery slice of the delivery client.
type Deliverer interface {
	Deliver(ctx context.Context, submission models.EventSubmission) client.Outcome
}

// Config holds the capture loop parameters.
type Config struct {
	DeviceID string

	// PollInterval is how often the reader is polled. Zero means 500ms.
	PollInterval time.Duration

	Notifier Notifier
	Logger   *slog.Logger
}

// New creates a capture loop.
func New(source TokenSource, deliverer Deliverer, queue *buffer.Queue, coordinator Kicker, cfg Config) *Loop {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = &LogNotifier{Logger: logger}
	}
	return &Loop{
		source:      source,
		deliverer:   deliverer,
		queue:       queue,
		coordinator: coordinator,
		notifier:    notifier,
		deviceID:    cfg.DeviceID,
		poll:        poll,
		logger:      logger,
		now:         time.Now,
	}
}

// Run polls the token source until ctx is cancelled. A local storage
// failure ends the loop with an error: the durable queue is the only
// guarantee between a tap and a confirmed delivery, so the agent must
// fail loudly rather than capture into the void.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("capture loop started", "device_id", l.deviceID, "poll_interval", l.poll)

	for {
		if ctx.Err() != nil {
			l.logger.Info("capture loop stopped")
			return ctx.Err()
		}

		tokenID, err := l.source.WaitForToken(ctx, l.poll)
		if err != nil {
			// Cancellation surfaces through the source as well; it is
			// shutdown, not a reader failure.
			if ctx.Err() != nil {
				l.logger.Info("capture loop stopped")
				return ctx.Err()
			}
			l.logger.Error("token read failed", "error", err)
			// Reader errors are not fatal; back off briefly and retry.
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		if tokenID == "" {
			l.lastToken = ""
			continue
		}
		if tokenID == l.lastToken {
			continue
		}
		l.lastToken = tokenID

		if err := l.HandleTap(ctx, tokenID); err != nil {
			return err
		}
	}
}

// HandleTap processes one new token read: construct a CapturedEvent
// with a fresh client-generated identifier, attempt direct delivery,
// and buffer on transient failure. Every path resolves in bounded time
// to delivered, buffered, or permanently rejected.
func (l *Loop) HandleTap(ctx context.Context, tokenID string) error {
	event := &models.CapturedEvent{
		ID:        uuid.New(),
		TokenID:   tokenID,
		DeviceID:  l.deviceID,
		Timestamp: l.now().UTC(),
	}
	l.logger.Info("token detected", "token_id", tokenID, "event_id", event.ID)

	clientEventID := event.ID.String()
	outcome := l.deliverer.Deliver(ctx, models.EventSubmission{
		TokenID:        event.TokenID,
		DeviceID:       event.DeviceID,
		EventTimestamp: event.Timestamp,
		ClientEventID:  &clientEventID,
	})

	switch outcome.Kind {
	case client.OutcomeAccepted:
		l.notifier.Delivered(outcome.Event)

	case client.OutcomePendingAssignment:
		l.notifier.PendingAssignment(tokenID)

	case client.OutcomeRejected:
		// Known-invalid: buffering would only replay the same rejection.
		l.notifier.Rejected(tokenID, outcome.Code, outcome.Reason)

	case client.OutcomeTransientFailure:
		if err := l.queue.Enqueue(ctx, event); err != nil {
			return fmt.Errorf("capture: buffering event %s: %w", event.ID, err)
		}
		stats, err := l.queue.Stats(ctx)
		if err != nil {
			return fmt.Errorf("capture: reading buffer stats: %w", err)
		}
		l.notifier.Buffered(tokenID, stats[models.CapturedEventPending])
		l.coordinator.Kick()
	}
	return nil
}

// LogNotifier is the default Notifier; it writes capture results to the
// structured log in place of a physical display.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) Delivered(event *models.AttendanceEventResponse) {
	n.Logger.Info("attendance recorded",
		"employee", event.EmployeeName, "direction", event.Direction, "message", event.Message)
}

func (n *LogNotifier) PendingAssignment(tokenID string) {
	n.Logger.Info("token queued for assignment", "token_id", tokenID)
}

func (n *LogNotifier) Rejected(tokenID, code, reason string) {
	n.Logger.Warn("tap rejected", "token_id", tokenID, "code", code, "reason", reason)
}

func (n *LogNotifier) Buffered(tokenID string, pending int) {
	n.Logger.Warn("service unreachable, tap buffered", "token_id", tokenID, "pending", pending)
}
