// Package buffer is the agent's local durable queue. Every captured tap
// is persisted here before any delivery attempt is retried, so a crash
// between capture and a confirmed delivery never loses an event.
package buffer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/stafftrack/attendance-platform/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS buffered_events (
    id                TEXT PRIMARY KEY,
    token_id          TEXT NOT NULL,
    device_id         TEXT NOT NULL,
    timestamp         TEXT NOT NULL,
    created_at        TEXT NOT NULL,
    sync_attempts     INTEGER NOT NULL DEFAULT 0,
    last_sync_attempt TEXT,
    status            TEXT NOT NULL DEFAULT 'PENDING'
);
CREATE INDEX IF NOT EXISTS idx_buffered_events_status
    ON buffered_events(status, timestamp);
`

// timeLayout is a fixed-width UTC rendering. Timestamps are compared
// lexically in SQL (ORDER BY, cleanup cutoff), so every digit must be
// present: RFC3339Nano drops trailing fractional zeros, which makes
// "08:30:00.5Z" sort after "08:30:00.52Z".
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// Queue is a SQLite-backed store of CapturedEvents. The pool is sized
// to one connection: SQLite serializes writes anyway, and a single
// connection keeps the capture thread and the sync coordinator on a
// strict single-writer discipline.
type Queue struct {
	pool        *sqlitex.Pool
	maxAttempts int
	logger      *slog.Logger
}

// Config holds the parameters for opening the queue.
type Config struct {
	// Path is the filesystem path to the SQLite database file. Use
	// ":memory:" in tests.
	Path string

	// MaxSyncAttempts is the number of transient delivery failures
	// tolerated before an event is marked FAILED and surfaced for
	// operator attention. Zero means the default of 5.
	MaxSyncAttempts int

	Logger *slog.Logger
}

// Open creates (or reopens) the queue at cfg.Path. Mutations are
// durable before the corresponding call returns: the connection runs
// with synchronous=FULL so an fsync happens at every commit.
func Open(cfg Config) (*Queue, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("buffer: Path is required")
	}
	maxAttempts := cfg.MaxSyncAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize: 1,
		PrepareConn: func(conn *sqlite.Conn) error {
			pragmas := []string{
				"PRAGMA journal_mode=WAL",
				"PRAGMA synchronous=FULL",
				"PRAGMA busy_timeout=5000",
			}
			for _, pragma := range pragmas {
				if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
					return fmt.Errorf("buffer: %s: %w", pragma, err)
				}
			}
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("buffer: opening %s: %w", cfg.Path, err)
	}

	logger.Info("offline buffer opened", "path", cfg.Path, "max_sync_attempts", maxAttempts)

	return &Queue{pool: pool, maxAttempts: maxAttempts, logger: logger}, nil
}

// Close releases the underlying connection pool.
func (q *Queue) Close() error {
	return q.pool.Close()
}

// Enqueue persists the event with status PENDING. Idempotent: enqueueing
// an ID that already exists is a no-op, not an error, so a crash-retry
// of the same capture cannot double-buffer it.
func (q *Queue) Enqueue(ctx context.Context, event *models.CapturedEvent) error {
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("buffer: take conn: %w", err)
	}
	defer q.pool.Put(conn)

	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	err = sqlitex.Execute(conn, `
		INSERT INTO buffered_events (id, token_id, device_id, timestamp, created_at, status)
		VALUES (?, ?, ?, ?, ?, 'PENDING')
		ON CONFLICT(id) DO NOTHING`,
		&sqlitex.ExecOptions{
			Args: []any{
				event.ID.String(),
				event.TokenID,
				event.DeviceID,
				formatTime(event.Timestamp),
				formatTime(createdAt),
			},
		})
	if err != nil {
		return fmt.Errorf("buffer: enqueue %s: %w", event.ID, err)
	}

	if conn.Changes() == 0 {
		q.logger.Warn("event already buffered", "event_id", event.ID)
		return nil
	}

	q.logger.Info("event buffered", "event_id", event.ID, "token_id", event.TokenID)
	return nil
}

// ListPending returns up to limit PENDING events in ascending capture
// time, which is the FIFO delivery order for taps from this device.
func (q *Queue) ListPending(ctx context.Context, limit int) ([]*models.CapturedEvent, error) {
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("buffer: take conn: %w", err)
	}
	defer q.pool.Put(conn)

	var events []*models.CapturedEvent
	err = sqlitex.Execute(conn, `
		SELECT id, token_id, device_id, timestamp, created_at, sync_attempts, last_sync_attempt, status
		FROM buffered_events
		WHERE status = 'PENDING'
		ORDER BY timestamp ASC
		LIMIT ?`,
		&sqlitex.ExecOptions{
			Args: []any{limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				event, err := scanEvent(stmt)
				if err != nil {
					return err
				}
				events = append(events, event)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("buffer: list pending: %w", err)
	}
	return events, nil
}

// Get returns a single event by ID, or nil if it does not exist.
func (q *Queue) Get(ctx context.Context, id uuid.UUID) (*models.CapturedEvent, error) {
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("buffer: take conn: %w", err)
	}
	defer q.pool.Put(conn)

	var event *models.CapturedEvent
	err = sqlitex.Execute(conn, `
		SELECT id, token_id, device_id, timestamp, created_at, sync_attempts, last_sync_attempt, status
		FROM buffered_events WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var scanErr error
				event, scanErr = scanEvent(stmt)
				return scanErr
			},
		})
	if err != nil {
		return nil, fmt.Errorf("buffer: get %s: %w", id, err)
	}
	return event, nil
}

// MarkSynced transitions the event to SYNCED. The row is retained for
// audit; cleanup is a separate, explicitly scheduled operation.
func (q *Queue) MarkSynced(ctx context.Context, id uuid.UUID) error {
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("buffer: take conn: %w", err)
	}
	defer q.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		UPDATE buffered_events
		SET status = 'SYNCED', last_sync_attempt = ?
		WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{formatTime(time.Now()), id.String()},
		})
	if err != nil {
		return fmt.Errorf("buffer: mark synced %s: %w", id, err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("buffer: mark synced %s: event not found", id)
	}
	q.logger.Info("event synced", "event_id", id)
	return nil
}

// MarkFailed records a failed delivery attempt. The event stays PENDING
// and retry-eligible until the attempt cap is exceeded, then flips to
// FAILED. Pass permanent=true for deterministic rejections, which go to
// FAILED immediately regardless of attempt count.
func (q *Queue) MarkFailed(ctx context.Context, id uuid.UUID, permanent bool) error {
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("buffer: take conn: %w", err)
	}
	defer q.pool.Put(conn)

	query := `
		UPDATE buffered_events
		SET sync_attempts = sync_attempts + 1,
		    last_sync_attempt = ?,
		    status = CASE WHEN sync_attempts + 1 > ? THEN 'FAILED' ELSE 'PENDING' END
		WHERE id = ?`
	args := []any{formatTime(time.Now()), q.maxAttempts, id.String()}
	if permanent {
		query = `
		UPDATE buffered_events
		SET sync_attempts = sync_attempts + 1,
		    last_sync_attempt = ?,
		    status = 'FAILED'
		WHERE id = ?`
		args = []any{formatTime(time.Now()), id.String()}
	}

	if err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args}); err != nil {
		return fmt.Errorf("buffer: mark failed %s: %w", id, err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("buffer: mark failed %s: event not found", id)
	}
	q.logger.Warn("event sync failed", "event_id", id, "permanent", permanent)
	return nil
}

// Stats returns event counts by delivery status.
func (q *Queue) Stats(ctx context.Context) (map[models.CapturedEventStatus]int, error) {
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("buffer: take conn: %w", err)
	}
	defer q.pool.Put(conn)

	stats := map[models.CapturedEventStatus]int{
		models.CapturedEventPending: 0,
		models.CapturedEventSynced:  0,
		models.CapturedEventFailed:  0,
	}
	err = sqlitex.Execute(conn, `
		SELECT status, COUNT(*) FROM buffered_events GROUP BY status`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				stats[models.CapturedEventStatus(stmt.ColumnText(0))] = stmt.ColumnInt(1)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("buffer: stats: %w", err)
	}
	return stats, nil
}

// CleanupSynced deletes SYNCED rows older than the cutoff. PENDING and
// FAILED rows are never deleted here: FAILED events need operator
// attention and PENDING events are still owed a delivery.
func (q *Queue) CleanupSynced(ctx context.Context, olderThan time.Duration) (int, error) {
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("buffer: take conn: %w", err)
	}
	defer q.pool.Put(conn)

	cutoff := time.Now().Add(-olderThan)
	err = sqlitex.Execute(conn, `
		DELETE FROM buffered_events
		WHERE status = 'SYNCED' AND created_at < ?`,
		&sqlitex.ExecOptions{
			Args: []any{formatTime(cutoff)},
		})
	if err != nil {
		return 0, fmt.Errorf("buffer: cleanup: %w", err)
	}
	deleted := conn.Changes()
	if deleted > 0 {
		q.logger.Info("cleaned up synced events", "deleted", deleted)
	}
	return deleted, nil
}

func scanEvent(stmt *sqlite.Stmt) (*models.CapturedEvent, error) {
	id, err := uuid.Parse(stmt.ColumnText(0))
	if err != nil {
		return nil, fmt.Errorf("buffer: bad event id %q: %w", stmt.ColumnText(0), err)
	}
	timestamp, err := time.Parse(timeLayout, stmt.ColumnText(3))
	if err != nil {
		return nil, fmt.Errorf("buffer: bad timestamp for %s: %w", id, err)
	}
	createdAt, err := time.Parse(timeLayout, stmt.ColumnText(4))
	if err != nil {
		return nil, fmt.Errorf("buffer: bad created_at for %s: %w", id, err)
	}
	event := &models.CapturedEvent{
		ID:           id,
		TokenID:      stmt.ColumnText(1),
		DeviceID:     stmt.ColumnText(2),
		Timestamp:    timestamp,
		CreatedAt:    createdAt,
		SyncAttempts: stmt.ColumnInt(5),
		Status:       models.CapturedEventStatus(stmt.ColumnText(7)),
	}
	if raw := stmt.ColumnText(6); raw != "" {
		last, err := time.Parse(timeLayout, raw)
		if err != nil {
			return nil, fmt.Errorf("buffer: bad last_sync_attempt for %s: %w", id, err)
		}
		event.LastSyncAttempt = &last
	}
	return event, nil
}
