// Package syncer drains the local durable queue to the central service
// in the background, on a timer and on demand after a failed direct
// delivery.
package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/stafftrack/attendance-platform/internal/agent/buffer"
	"github.com/stafftrack/attendance-platform/internal/agent/client"
	"github.com/stafftrack/attendance-platform/internal/models"
)

// Deliverer is the slice of the delivery client the coordinator needs.
type Deliverer interface {
	Deliver(ctx context.Context, submission models.EventSubmission) client.Outcome
	HealthCheck(ctx context.Context) bool
}

// Coordinator owns the background drain loop. Exactly one drain pass
// runs at a time; a kick received while draining coalesces into at most
// one follow-up pass.
type Coordinator struct {
	queue     *buffer.Queue
	deliverer Deliverer
	interval  time.Duration
	batchSize int
	logger    *slog.Logger

	kick chan struct{}
	mu   sync.Mutex
}

// Config holds the coordinator parameters.
type Config struct {
	// Interval between periodic drain passes. Zero means 30 seconds.
	Interval time.Duration

	// BatchSize bounds how many events one pass attempts, keeping
	// cycle latency predictable. Zero means 50.
	BatchSize int

	Logger *slog.Logger
}

// New creates a coordinator over the given queue and deliverer.
func New(queue *buffer.Queue, deliverer Deliverer, cfg Config) *Coordinator {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Coordinator{
		queue:     queue,
		deliverer: deliverer,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
		kick:      make(chan struct{}, 1),
	}
}

// Kick requests an immediate drain pass without blocking the caller.
// If a kick is already pending the request is coalesced.
func (c *Coordinator) Kick() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Run drives the drain loop until ctx is cancelled. Intended to run on
// its own goroutine, independent of the capture thread.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Info("sync coordinator started", "interval", c.interval, "batch_size", c.batchSize)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("sync coordinator stopped")
			return ctx.Err()
		case <-ticker.C:
		case <-c.kick:
		}
		if _, err := c.SyncOnce(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error("sync pass failed", "error", err)
		}
	}
}

// SyncOnce performs a single drain pass and returns the number of
// events the service accepted. Skips the pass entirely when the
// health probe says the service is unreachable, and aborts the rest of
// a batch on the first transient failure rather than burning every
// event against a dead connection.
func (c *Coordinator) SyncOnce(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.deliverer.HealthCheck(ctx) {
		c.logger.Debug("service unreachable, skipping sync pass")
		return 0, nil
	}

	pending, err := c.queue.ListPending(ctx, c.batchSize)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	c.logger.Info("syncing buffered events", "count", len(pending))

	synced := 0
	for _, event := range pending {
		if ctx.Err() != nil {
			return synced, ctx.Err()
		}

		clientEventID := event.ID.String()
		outcome := c.deliverer.Deliver(ctx, models.EventSubmission{
			TokenID:        event.TokenID,
			DeviceID:       event.DeviceID,
			EventTimestamp: event.Timestamp,
			ClientEventID:  &clientEventID,
		})

		switch outcome.Kind {
		case client.OutcomeAccepted:
			if err := c.queue.MarkSynced(ctx, event.ID); err != nil {
				return synced, err
			}
			synced++

		case client.OutcomePendingAssignment:
			// The service took custody of the tap for enrollment; there
			// is nothing left to deliver.
			c.logger.Info("buffered token pending assignment", "event_id", event.ID, "token_id", event.TokenID)
			if err := c.queue.MarkSynced(ctx, event.ID); err != nil {
				return synced, err
			}

		case client.OutcomeRejected:
			c.logger.Warn("buffered event rejected",
				"event_id", event.ID, "code", outcome.Code, "reason", outcome.Reason)
			if err := c.queue.MarkFailed(ctx, event.ID, true); err != nil {
				return synced, err
			}

		case client.OutcomeTransientFailure:
			if err := c.queue.MarkFailed(ctx, event.ID, false); err != nil {
				return synced, err
			}
			// Assume the service just went down; the remaining events
			// keep their place in FIFO order for the next pass.
			c.logger.Warn("aborting sync pass on transient failure",
				"event_id", event.ID, "error", outcome.Err)
			return synced, nil
		}
	}

	if synced > 0 {
		c.logger.Info("sync pass complete", "synced", synced, "attempted", len(pending))
	}
	return synced, nil
}
