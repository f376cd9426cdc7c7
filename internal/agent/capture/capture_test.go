package capture

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stafftrack/attendance-platform/internal/agent/buffer"
	"github.com/stafftrack/attendance-platform/internal/agent/client"
	"github.com/stafftrack/attendance-platform/internal/models"
)

// scriptedSource replays a fixed sequence of reads, then cancels the
// loop so Run returns.
type scriptedSource struct {
	reads  []string
	cancel context.CancelFunc
}

func (s *scriptedSource) WaitForToken(_ context.Context, _ time.Duration) (string, error) {
	if len(s.reads) == 0 {
		s.cancel()
		return "", nil
	}
	next := s.reads[0]
	s.reads = s.reads[1:]
	return next, nil
}

type tapDeliverer struct {
	outcome   client.Outcome
	submitted []models.EventSubmission
}

func (d *tapDeliverer) Deliver(_ context.Context, s models.EventSubmission) client.Outcome {
	d.submitted = append(d.submitted, s)
	return d.outcome
}

type countingKicker struct{ kicks int }

func (k *countingKicker) Kick() { k.kicks++ }

type recordingNotifier struct {
	delivered []string
	pending   []string
	rejected  []string
	buffered  []string
}

func (n *recordingNotifier) Delivered(event *models.AttendanceEventResponse) {
	n.delivered = append(n.delivered, event.EmployeeName)
}
func (n *recordingNotifier) PendingAssignment(tokenID string) {
	n.pending = append(n.pending, tokenID)
}
func (n *recordingNotifier) Rejected(tokenID, code, reason string) {
	n.rejected = append(n.rejected, tokenID)
}
func (n *recordingNotifier) Buffered(tokenID string, pending int) {
	n.buffered = append(n.buffered, tokenID)
}

func openTestQueue(t *testing.T) *buffer.Queue {
	t.Helper()
	q, err := buffer.Open(buffer.Config{Path: filepath.Join(t.TempDir(), "buffer.db")})
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func TestHandleTap_DirectDelivery(t *testing.T) {
	q := openTestQueue(t)
	deliverer := &tapDeliverer{outcome: client.Outcome{
		Kind:  client.OutcomeAccepted,
		Event: &models.AttendanceEventResponse{EmployeeName: "Maria Santos", Direction: models.DirectionIn},
	}}
	kicker := &countingKicker{}
	notifier := &recordingNotifier{}

	loop := New(nil, deliverer, q, kicker, Config{DeviceID: "GATE-1", Notifier: notifier})
	captured := time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)
	loop.now = func() time.Time { return captured }

	require.NoError(t, loop.HandleTap(context.Background(), "04A2B3C4D5"))

	require.Len(t, deliverer.submitted, 1)
	submission := deliverer.submitted[0]
	assert.Equal(t, "04A2B3C4D5", submission.TokenID)
	assert.Equal(t, "GATE-1", submission.DeviceID)
	assert.Equal(t, captured, submission.EventTimestamp)
	require.NotNil(t, submission.ClientEventID)

	assert.Equal(t, []string{"Maria Santos"}, notifier.delivered)
	assert.Zero(t, kicker.kicks)

	// Nothing buffered on the direct path.
	pending, err := q.ListPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestHandleTap_TransientFailureBuffersAndKicks(t *testing.T) {
	q := openTestQueue(t)
	deliverer := &tapDeliverer{outcome: client.Outcome{
		Kind: client.OutcomeTransientFailure,
		Err:  errors.New("connection refused"),
	}}
	kicker := &countingKicker{}
	notifier := &recordingNotifier{}

	loop := New(nil, deliverer, q, kicker, Config{DeviceID: "GATE-1", Notifier: notifier})
	require.NoError(t, loop.HandleTap(context.Background(), "04A2B3C4D5"))

	pending, err := q.ListPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "04A2B3C4D5", pending[0].TokenID)

	// The buffered copy and the direct attempt share the same ID, so a
	// late-arriving direct delivery cannot double-record the tap.
	assert.Equal(t, pending[0].ID.String(), *deliverer.submitted[0].ClientEventID)

	assert.Equal(t, []string{"04A2B3C4D5"}, notifier.buffered)
	assert.Equal(t, 1, kicker.kicks)
}

func TestHandleTap_RejectedIsNotBuffered(t *testing.T) {
	q := openTestQueue(t)
	deliverer := &tapDeliverer{outcome: client.Outcome{
		Kind:   client.OutcomeRejected,
		Code:   models.ErrCodeTokenInactive,
		Reason: "Token is inactive",
	}}
	notifier := &recordingNotifier{}

	loop := New(nil, deliverer, q, &countingKicker{}, Config{DeviceID: "GATE-1", Notifier: notifier})
	require.NoError(t, loop.HandleTap(context.Background(), "DEADBEEF"))

	assert.Equal(t, []string{"DEADBEEF"}, notifier.rejected)
	pending, err := q.ListPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestHandleTap_PendingAssignment(t *testing.T) {
	q := openTestQueue(t)
	deliverer := &tapDeliverer{outcome: client.Outcome{
		Kind:     client.OutcomePendingAssignment,
		ScanMode: &models.ScanModeResponse{Status: models.ScanModeStatus, TokenID: "NEWTOKEN"},
	}}
	notifier := &recordingNotifier{}

	loop := New(nil, deliverer, q, &countingKicker{}, Config{DeviceID: "GATE-1", Notifier: notifier})
	require.NoError(t, loop.HandleTap(context.Background(), "NEWTOKEN"))

	assert.Equal(t, []string{"NEWTOKEN"}, notifier.pending)
	pending, err := q.ListPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRun_DebouncesRepeatReads(t *testing.T) {
	q := openTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())

	// The same token held on the reader for three polls, removed, then
	// presented again: two taps, not four.
	source := &scriptedSource{
		reads:  []string{"TOKEN-A", "TOKEN-A", "TOKEN-A", "", "TOKEN-A"},
		cancel: cancel,
	}
	deliverer := &tapDeliverer{outcome: client.Outcome{
		Kind:  client.OutcomeAccepted,
		Event: &models.AttendanceEventResponse{EmployeeName: "Maria Santos"},
	}}

	loop := New(source, deliverer, q, &countingKicker{}, Config{DeviceID: "GATE-1", Notifier: &recordingNotifier{}})
	err := loop.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Len(t, deliverer.submitted, 2)
}

// cancelingSource cancels the loop's context and surfaces the
// cancellation through the read, the way a context-aware reader does
// during shutdown.
type cancelingSource struct {
	cancel context.CancelFunc
}

func (s *cancelingSource) WaitForToken(ctx context.Context, _ time.Duration) (string, error) {
	s.cancel()
	return "", ctx.Err()
}

func TestRun_ReadErrorDuringShutdownIsNotRetried(t *testing.T) {
	q := openTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())

	loop := New(&cancelingSource{cancel: cancel}, &tapDeliverer{}, q, &countingKicker{},
		Config{DeviceID: "GATE-1", Notifier: &recordingNotifier{}})

	start := time.Now()
	err := loop.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	// Shutdown must not take the reader-error backoff path.
	assert.Less(t, time.Since(start), time.Second)
}

func TestRun_DistinctTokensAreNotDebounced(t *testing.T) {
	q := openTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())

	source := &scriptedSource{
		reads:  []string{"TOKEN-A", "TOKEN-B", "TOKEN-A"},
		cancel: cancel,
	}
	deliverer := &tapDeliverer{outcome: client.Outcome{
		Kind:  client.OutcomeAccepted,
		Event: &models.AttendanceEventResponse{},
	}}

	loop := New(source, deliverer, q, &countingKicker{}, Config{DeviceID: "GATE-1", Notifier: &recordingNotifier{}})
	err := loop.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Len(t, deliverer.submitted, 3)
}
