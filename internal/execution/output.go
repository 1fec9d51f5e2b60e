package execution

import (
	"fmt"
	"sync"

	"github.com/acarl005/stripansi"
)

const defaultMaxOutputBytes = 1024 * 1024 // kept in memory per stream per action

// captureBuffer keeps the last maxBytes written to one output stream of an
// action. Once detached it drops further writes, so an abandoned action can
// keep writing without touching the recorded section.
type captureBuffer struct {
	maxBytes int

	mu       sync.Mutex
	total    int64
	contents []byte
	overflow bool
	detached bool
}

func newCaptureBuffer(maxBytes int) *captureBuffer {
	if maxBytes <= 0 {
		maxBytes = defaultMaxOutputBytes
	}
	return &captureBuffer{maxBytes: maxBytes}
}

func (b *captureBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.detached {
		return len(p), nil
	}
	b.total += int64(len(p))
	b.contents = append(b.contents, p...)
	if len(b.contents) > b.maxBytes {
		b.contents = b.contents[len(b.contents)-b.maxBytes:]
		b.overflow = true
	}
	return len(p), nil
}

// Detach stops recording.
func (b *captureBuffer) Detach() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.detached = true
}

// String returns the recorded output without ANSI escape sequences, with a
// marker in front when older output was dropped.
func (b *captureBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := stripansi.Strip(string(b.contents))
	if b.overflow {
		dropped := b.total - int64(len(b.contents))
		return fmt.Sprintf("[output truncated: %d bytes dropped]\n%s", dropped, out)
	}
	return out
}
