package tool

import "sync"

// ringBuffer is a thread-safe, bounded byte buffer that keeps the most
// recent bytes when capacity is exceeded. Used for capturing process output.
type ringBuffer struct {
	mu      sync.Mutex
	data    []byte
	max     int
	written int64 // total bytes ever written (including dropped)
}

func newRingBuffer(maxBytes int) *ringBuffer {
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	return &ringBuffer{
		data: make([]byte, 0, min(maxBytes, 4096)),
		max:  maxBytes,
	}
}

// Write implements io.Writer.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.data = append(rb.data, p...)
	rb.written += int64(len(p))
	if len(rb.data) > rb.max {
		rb.data = rb.data[len(rb.data)-rb.max:]
	}
	return len(p), nil
}

func (rb *ringBuffer) String() string {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return string(rb.data)
}

// Truncated reports whether older output was dropped.
func (rb *ringBuffer) Truncated() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.written > int64(len(rb.data))
}
