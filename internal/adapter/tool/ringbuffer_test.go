package tool

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingBufferKeepsTail(t *testing.T) {
	rb := newRingBuffer(5)
	_, _ = rb.Write([]byte("abc"))
	assert.False(t, rb.Truncated())

	_, _ = rb.Write([]byte("defg"))
	assert.Equal(t, "cdefg", rb.String())
	assert.True(t, rb.Truncated())
}

func TestRingBufferDefaultCapacity(t *testing.T) {
	rb := newRingBuffer(0)
	payload := strings.Repeat("x", 10_000)
	n, err := rb.Write([]byte(payload))
	assert.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, rb.String())
}
