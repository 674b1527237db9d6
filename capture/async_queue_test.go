package capture

import (
	"bytes"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go2tv.app/gifcast/internal/logging"
)

type blockingWriter struct {
	mu      sync.Mutex
	release chan struct{}
	buf     bytes.Buffer
}

func (w *blockingWriter) Write(p []byte) (int, error) {
	<-w.release
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *blockingWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func TestFrameQueue_WritesInOrder(t *testing.T) {
	w := &blockingWriter{release: make(chan struct{})}
	close(w.release)

	q := newFrameQueue("test", w, 8, logging.Discard())
	for _, f := range []string{"a", "b", "c"} {
		q.Enqueue([]byte(f))
	}
	require.Eventually(t, func() bool { return w.String() == "abc" }, time.Second, 5*time.Millisecond)
	q.Close()
	assert.Zero(t, q.Dropped())
}

func TestFrameQueue_DropsOldestWhenFull(t *testing.T) {
	w := &blockingWriter{release: make(chan struct{})}
	q := newFrameQueue("test", w, 1, logging.Discard())

	q.Enqueue([]byte("1"))
	// Wait until the loop has taken "1" and is blocked writing it.
	require.Eventually(t, func() bool { return len(q.queue) == 0 }, time.Second, time.Millisecond)

	q.Enqueue([]byte("2"))
	q.Enqueue([]byte("3"))
	assert.Equal(t, uint64(1), q.Dropped())

	close(w.release)
	require.Eventually(t, func() bool { return w.String() == "13" }, time.Second, 5*time.Millisecond)
	q.Close()
}

func TestFrameQueue_NilSafe(t *testing.T) {
	var q *frameQueue
	q.Enqueue([]byte("x"))
	q.Close()
	assert.Zero(t, q.Dropped())
	assert.Nil(t, newFrameQueue("test", nil, 4, nil))
}

func TestShouldLog(t *testing.T) {
	var last atomic.Int64
	assert.True(t, shouldLog(&last, time.Hour))
	assert.False(t, shouldLog(&last, time.Hour))
	assert.True(t, shouldLog(nil, time.Hour))
}
