package capture

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
	"time"
)

// LineTokenSource reads token identifiers as lines from a reader,
// typically stdin fed by the hardware driver process. The physical
// reader protocol itself lives outside this repository; anything that
// can print one UID per line can drive the capture loop.
type LineTokenSource struct {
	lines chan string
	done  chan struct{}

	quit     chan struct{}
	quitOnce sync.Once
}

// NewLineTokenSource starts reading r in the background. Blank lines
// are passed through as token-removed signals so the debounce re-arms.
func NewLineTokenSource(r io.Reader) *LineTokenSource {
	s := &LineTokenSource{
		lines: make(chan string),
		done:  make(chan struct{}),
		quit:  make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case s.lines <- strings.TrimSpace(scanner.Text()):
			case <-s.quit:
				return
			}
		}
	}()
	return s
}

// Close releases the reader goroutine. A pending line that nobody
// consumed is dropped. The underlying reader is not closed; a blocked
// Scan ends when its reader does.
func (s *LineTokenSource) Close() {
	s.quitOnce.Do(func() { close(s.quit) })
}

// WaitForToken returns the next line within timeout, or "" when none
// arrives.
func (s *LineTokenSource) WaitForToken(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case line := <-s.lines:
		return line, nil
	case <-s.done:
		// Input exhausted; behave like an empty reader until cancelled.
		select {
		case <-timer.C:
			return "", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	case <-timer.C:
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
