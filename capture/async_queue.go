package capture

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go2tv.app/gifcast/internal/logging"
)

const defaultFrameQueue = 4

// frameQueue moves raw frames from a backend callback to the encoder's stdin
// without blocking the callback. When the encoder falls behind the oldest
// queued frame is dropped, which keeps latency bounded at the cost of
// skipped frames.
type frameQueue struct {
	backend string
	dst     io.Writer
	log     *slog.Logger

	queue chan []byte
	done  chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup

	lastSlowLog atomic.Int64
	lastDropLog atomic.Int64
	dropped     atomic.Uint64
	written     atomic.Uint64
}

func newFrameQueue(backend string, dst io.Writer, queueSize int, log *slog.Logger) *frameQueue {
	if dst == nil || queueSize <= 0 {
		return nil
	}
	q := &frameQueue{
		backend: backend,
		dst:     dst,
		log:     logging.OrDiscard(log),
		queue:   make(chan []byte, queueSize),
		done:    make(chan struct{}),
	}
	q.wg.Add(1)
	go q.loop()
	return q
}

func (q *frameQueue) Enqueue(frame []byte) {
	if q == nil || len(frame) == 0 {
		return
	}

	select {
	case <-q.done:
		return
	default:
	}

	select {
	case q.queue <- frame:
		return
	default:
	}

	select {
	case <-q.queue:
		q.noteDrop()
	default:
	}

	select {
	case q.queue <- frame:
	default:
		q.noteDrop()
	}
}

func (q *frameQueue) noteDrop() {
	total := q.dropped.Add(1)
	if shouldLog(&q.lastDropLog, time.Second) {
		q.log.Debug("dropped raw frame", "backend", q.backend, "dropped_total", total, "queue", len(q.queue))
	}
}

// Dropped returns how many frames were discarded so far.
func (q *frameQueue) Dropped() uint64 {
	if q == nil {
		return 0
	}
	return q.dropped.Load()
}

// Close stops the writer loop. Frames still queued are discarded.
func (q *frameQueue) Close() {
	if q == nil {
		return
	}
	q.closeOnce.Do(func() {
		close(q.done)
		q.wg.Wait()
	})
}

func (q *frameQueue) loop() {
	defer q.wg.Done()

	for {
		select {
		case <-q.done:
			return
		case b := <-q.queue:
			start := time.Now()
			if _, err := q.dst.Write(b); err != nil {
				q.log.Debug("raw frame write failed", "backend", q.backend, "err", err)
				return
			}
			q.written.Add(1)
			d := time.Since(start)
			if d > 50*time.Millisecond && shouldLog(&q.lastSlowLog, time.Second) {
				q.log.Debug("slow raw frame write", "backend", q.backend, "duration", d, "bytes", len(b), "queue", len(q.queue))
			}
		}
	}
}

// shouldLog rate limits a log site to one record per period.
func shouldLog(last *atomic.Int64, period time.Duration) bool {
	if last == nil || period <= 0 {
		return true
	}

	now := time.Now().UnixNano()
	for {
		prev := last.Load()
		if prev != 0 && time.Duration(now-prev) < period {
			return false
		}
		if last.CompareAndSwap(prev, now) {
			return true
		}
	}
}
