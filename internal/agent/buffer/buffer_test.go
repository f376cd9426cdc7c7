package buffer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stafftrack/attendance-platform/internal/models"
)

func openTestQueue(t *testing.T) (*Queue, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "buffer.db")
	queue, err := Open(Config{Path: path, MaxSyncAttempts: 3})
	require.NoError(t, err)
	t.Cleanup(func() { queue.Close() })
	return queue, path
}

func newEvent(tokenID string, ts time.Time) *models.CapturedEvent {
	return &models.CapturedEvent{
		ID:        uuid.New(),
		TokenID:   tokenID,
		DeviceID:  "GATE-1",
		Timestamp: ts,
	}
}

func TestQueue_EnqueueAndListPending(t *testing.T) {
	queue, _ := openTestQueue(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)
	first := newEvent("04A2B3C4D5", base)
	second := newEvent("04FFEE0011", base.Add(10*time.Second))

	// Enqueue out of capture order to prove listing sorts by timestamp.
	require.NoError(t, queue.Enqueue(ctx, second))
	require.NoError(t, queue.Enqueue(ctx, first))

	pending, err := queue.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, second.ID, pending[1].ID)
	assert.Equal(t, models.CapturedEventPending, pending[0].Status)
	assert.Equal(t, "04A2B3C4D5", pending[0].TokenID)
	assert.Equal(t, "GATE-1", pending[0].DeviceID)
	assert.True(t, pending[0].Timestamp.Equal(base))
}

func TestQueue_ListPendingOrdersSubSecondTimestamps(t *testing.T) {
	queue, _ := openTestQueue(t)
	ctx := context.Background()

	// Two taps 20ms apart. The earlier fraction (.5) renders shorter
	// than the later one (.52) under variable-width formats and then
	// sorts lexically after it, so the stored form must be fixed-width.
	base := time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)
	first := newEvent("TOKEN-A", base.Add(500*time.Millisecond))
	second := newEvent("TOKEN-B", base.Add(520*time.Millisecond))

	require.NoError(t, queue.Enqueue(ctx, second))
	require.NoError(t, queue.Enqueue(ctx, first))

	pending, err := queue.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, second.ID, pending[1].ID)
	assert.True(t, pending[0].Timestamp.Equal(first.Timestamp))
}

func TestQueue_CleanupCutoffComparesSubSecondTimestamps(t *testing.T) {
	queue, _ := openTestQueue(t)
	ctx := context.Background()

	// A SYNCED row with a sub-second created_at must still compare
	// against the cutoff through the same fixed-width encoding.
	old := newEvent("A", time.Now().UTC())
	old.CreatedAt = time.Now().UTC().Add(-48*time.Hour + 500*time.Millisecond)

	require.NoError(t, queue.Enqueue(ctx, old))
	require.NoError(t, queue.MarkSynced(ctx, old.ID))

	deleted, err := queue.CleanupSynced(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
}

func TestQueue_EnqueueIdempotent(t *testing.T) {
	queue, _ := openTestQueue(t)
	ctx := context.Background()

	event := newEvent("04A2B3C4D5", time.Now().UTC())
	require.NoError(t, queue.Enqueue(ctx, event))

	// Second enqueue with the same ID is a no-op, not an error.
	require.NoError(t, queue.Enqueue(ctx, event))

	pending, err := queue.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestQueue_ListPendingRespectsLimit(t *testing.T) {
	queue, _ := openTestQueue(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		require.NoError(t, queue.Enqueue(ctx, newEvent("TOKEN", base.Add(time.Duration(i)*time.Minute))))
	}

	pending, err := queue.ListPending(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, pending, 3)
}

func TestQueue_MarkSynced(t *testing.T) {
	queue, _ := openTestQueue(t)
	ctx := context.Background()

	event := newEvent("04A2B3C4D5", time.Now().UTC())
	require.NoError(t, queue.Enqueue(ctx, event))
	require.NoError(t, queue.MarkSynced(ctx, event.ID))

	pending, err := queue.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	stored, err := queue.Get(ctx, event.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.CapturedEventSynced, stored.Status)
	assert.NotNil(t, stored.LastSyncAttempt)
}

func TestQueue_MarkSyncedUnknownEvent(t *testing.T) {
	queue, _ := openTestQueue(t)
	err := queue.MarkSynced(context.Background(), uuid.New())
	assert.Error(t, err)
}

func TestQueue_MarkFailedStaysPendingUntilCap(t *testing.T) {
	queue, _ := openTestQueue(t)
	ctx := context.Background()

	event := newEvent("04A2B3C4D5", time.Now().UTC())
	require.NoError(t, queue.Enqueue(ctx, event))

	// Max attempts is 3: the first three failures keep it PENDING.
	for i := 1; i <= 3; i++ {
		require.NoError(t, queue.MarkFailed(ctx, event.ID, false))
		stored, err := queue.Get(ctx, event.ID)
		require.NoError(t, err)
		assert.Equal(t, models.CapturedEventPending, stored.Status, "attempt %d", i)
		assert.Equal(t, i, stored.SyncAttempts)
	}

	// Exceeding the cap flips it to FAILED; it is never deleted.
	require.NoError(t, queue.MarkFailed(ctx, event.ID, false))
	stored, err := queue.Get(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CapturedEventFailed, stored.Status)
	assert.Equal(t, 4, stored.SyncAttempts)

	pending, err := queue.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestQueue_MarkFailedPermanent(t *testing.T) {
	queue, _ := openTestQueue(t)
	ctx := context.Background()

	event := newEvent("04A2B3C4D5", time.Now().UTC())
	require.NoError(t, queue.Enqueue(ctx, event))

	// A deterministic rejection goes straight to FAILED.
	require.NoError(t, queue.MarkFailed(ctx, event.ID, true))
	stored, err := queue.Get(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CapturedEventFailed, stored.Status)
}

func TestQueue_Stats(t *testing.T) {
	queue, _ := openTestQueue(t)
	ctx := context.Background()

	synced := newEvent("A", time.Now().UTC())
	pending := newEvent("B", time.Now().UTC())
	require.NoError(t, queue.Enqueue(ctx, synced))
	require.NoError(t, queue.Enqueue(ctx, pending))
	require.NoError(t, queue.MarkSynced(ctx, synced.ID))

	stats, err := queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[models.CapturedEventPending])
	assert.Equal(t, 1, stats[models.CapturedEventSynced])
	assert.Equal(t, 0, stats[models.CapturedEventFailed])
}

func TestQueue_CleanupSyncedOnly(t *testing.T) {
	queue, _ := openTestQueue(t)
	ctx := context.Background()

	old := newEvent("A", time.Now().UTC().Add(-48*time.Hour))
	old.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	stillPending := newEvent("B", time.Now().UTC().Add(-48*time.Hour))
	stillPending.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)

	require.NoError(t, queue.Enqueue(ctx, old))
	require.NoError(t, queue.Enqueue(ctx, stillPending))
	require.NoError(t, queue.MarkSynced(ctx, old.ID))

	deleted, err := queue.CleanupSynced(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	// The PENDING event survives cleanup no matter how old it is.
	stored, err := queue.Get(ctx, stillPending.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.CapturedEventPending, stored.Status)
}

func TestQueue_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buffer.db")
	ctx := context.Background()

	queue, err := Open(Config{Path: path})
	require.NoError(t, err)

	event := newEvent("04A2B3C4D5", time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC))
	require.NoError(t, queue.Enqueue(ctx, event))

	// Simulate a crash between enqueue and delivery: close without
	// marking anything.
	require.NoError(t, queue.Close())

	reopened, err := Open(Config{Path: path})
	require.NoError(t, err)
	defer reopened.Close()

	pending, err := reopened.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, event.ID, pending[0].ID)
	assert.Equal(t, models.CapturedEventPending, pending[0].Status)
}
