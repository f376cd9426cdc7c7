package metrics

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestMetrics_Creation(t *testing.T) {
	t.Run("successfully create ingest metrics", func(t *testing.T) {
		metrics, err := NewIngestMetrics()
		require.NoError(t, err)
		assert.NotNil(t, metrics)
		assert.NotNil(t, metrics.eventsIngestedCounter)
		assert.NotNil(t, metrics.eventsRejectedCounter)
		assert.NotNil(t, metrics.eventsReplayedCounter)
		assert.NotNil(t, metrics.unassignedTokensCounter)
		assert.NotNil(t, metrics.ingestDurationHistogram)
	})
}

func TestIngestMetrics_RecordIngested(t *testing.T) {
	metrics, err := NewIngestMetrics()
	require.NoError(t, err)

	t.Run("record ingested event", func(t *testing.T) {
		ctx := context.Background()

		assert.NotPanics(t, func() {
			metrics.RecordIngested(ctx, "GATE-1", "IN", 25*time.Millisecond)
		})
	})

	t.Run("record with various durations", func(t *testing.T) {
		ctx := context.Background()
		durations := []time.Duration{
			time.Millisecond,
			100 * time.Millisecond,
			time.Second,
		}

		for i, duration := range durations {
			metrics.RecordIngested(ctx, fmt.Sprintf("GATE-%d", i), "OUT", duration)
		}
	})
}

func TestIngestMetrics_RecordRejected(t *testing.T) {
	metrics, err := NewIngestMetrics()
	require.NoError(t, err)

	t.Run("record rejections with different reasons", func(t *testing.T) {
		ctx := context.Background()
		reasons := []string{
			"duplicate",
			"token_inactive",
			"subject_inactive",
			"invalid_pin",
		}

		for _, reason := range reasons {
			assert.NotPanics(t, func() {
				metrics.RecordRejected(ctx, "GATE-1", reason)
			})
		}
	})
}

func TestIngestMetrics_RecordReplayedAndUnassigned(t *testing.T) {
	metrics, err := NewIngestMetrics()
	require.NoError(t, err)
	ctx := context.Background()

	assert.NotPanics(t, func() {
		metrics.RecordReplayed(ctx, "GATE-1")
		metrics.RecordUnassignedToken(ctx, "GATE-1")
	})
}

func TestIngestMetrics_ConcurrentRecording(t *testing.T) {
	metrics, err := NewIngestMetrics()
	require.NoError(t, err)

	t.Run("handle concurrent metric recording", func(t *testing.T) {
		ctx := context.Background()
		done := make(chan bool)

		for i := 0; i < 10; i++ {
			go func(id int) {
				deviceID := fmt.Sprintf("GATE-%d", id)

				if id%2 == 0 {
					metrics.RecordIngested(ctx, deviceID, "IN", time.Duration(id)*10*time.Millisecond)
				} else {
					metrics.RecordRejected(ctx, deviceID, "duplicate")
				}

				done <- true
			}(i)
		}

		for i := 0; i < 10; i++ {
			<-done
		}
	})
}
