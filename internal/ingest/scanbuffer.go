package ingest

import (
	"sync"
	"time"
)

// ScanBuffer is a short-lived, single-slot side channel for tokens that
// were tapped but are not bound to any employee. The enrollment wizard
// polls it to pick up the most recent unassigned token. Constructor-
// injected; there is deliberately no package-level instance.
type ScanBuffer struct {
	mu         sync.Mutex
	tokenUID   string
	detectedAt time.Time
	ttl        time.Duration
	now        func() time.Time
}

// DetectedToken is a snapshot of the buffered token.
type DetectedToken struct {
	TokenUID   string    `json:"token_uid"`
	DetectedAt time.Time `json:"detected_at"`
	AgeSeconds float64   `json:"age_seconds"`
}

// NewScanBuffer creates a scan buffer whose entries expire after ttl.
// Zero means the default of 60 seconds.
func NewScanBuffer(ttl time.Duration) *ScanBuffer {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &ScanBuffer{ttl: ttl, now: time.Now}
}

// Add records an unassigned token, replacing any previous one. Only the
// most recent tap matters to the wizard.
func (b *ScanBuffer) Add(tokenUID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokenUID = tokenUID
	b.detectedAt = b.now()
}

// Get returns the buffered token, or nil if the buffer is empty or the
// entry has gone stale.
func (b *ScanBuffer) Get() *DetectedToken {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.tokenUID == "" {
		return nil
	}
	age := b.now().Sub(b.detectedAt)
	if age > b.ttl {
		b.tokenUID = ""
		return nil
	}
	return &DetectedToken{
		TokenUID:   b.tokenUID,
		DetectedAt: b.detectedAt,
		AgeSeconds: age.Seconds(),
	}
}

// Clear empties the buffer, typically after the wizard consumed the
// token.
func (b *ScanBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokenUID = ""
}
