package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanBuffer_AddAndGet(t *testing.T) {
	buffer := NewScanBuffer(time.Minute)

	assert.Nil(t, buffer.Get())

	buffer.Add("04A2B3C4D5")
	detected := buffer.Get()
	require.NotNil(t, detected)
	assert.Equal(t, "04A2B3C4D5", detected.TokenUID)
	assert.GreaterOrEqual(t, detected.AgeSeconds, 0.0)
}

func TestScanBuffer_NewTapReplacesOld(t *testing.T) {
	buffer := NewScanBuffer(time.Minute)

	buffer.Add("TOKEN-OLD")
	buffer.Add("TOKEN-NEW")

	detected := buffer.Get()
	require.NotNil(t, detected)
	assert.Equal(t, "TOKEN-NEW", detected.TokenUID)
}

func TestScanBuffer_Expiry(t *testing.T) {
	buffer := NewScanBuffer(time.Minute)
	current := time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)
	buffer.now = func() time.Time { return current }

	buffer.Add("04A2B3C4D5")

	current = current.Add(59 * time.Second)
	assert.NotNil(t, buffer.Get())

	current = current.Add(2 * time.Second)
	assert.Nil(t, buffer.Get())

	// The stale entry is gone for good, not resurrected by a clock
	// that moves backwards.
	current = current.Add(-10 * time.Second)
	assert.Nil(t, buffer.Get())
}

func TestScanBuffer_Clear(t *testing.T) {
	buffer := NewScanBuffer(time.Minute)
	buffer.Add("04A2B3C4D5")
	buffer.Clear()
	assert.Nil(t, buffer.Get())
}
