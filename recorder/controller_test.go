package recorder

import (
	"bytes"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	ch        chan []byte
	stops     atomic.Int32
	closeOnce sync.Once
	// hang keeps Chunks open after Stop, like a backend that never flushes.
	hang bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{ch: make(chan []byte, 16)}
}

func (f *fakeStream) Chunks() <-chan []byte { return f.ch }

func (f *fakeStream) Stop() error {
	f.stops.Add(1)
	if !f.hang {
		f.end()
	}
	return nil
}

// end simulates the stream finishing on its own.
func (f *fakeStream) end() {
	f.closeOnce.Do(func() { close(f.ch) })
}

func (f *fakeStream) send(chunks ...string) {
	for _, c := range chunks {
		f.ch <- []byte(c)
	}
}

func waitRecording(t *testing.T, s *Session) Recording {
	t.Helper()
	select {
	case rec := <-s.Done():
		return rec
	case <-time.After(5 * time.Second):
		t.Fatal("session was not finalized")
		return Recording{}
	}
}

func TestController_StopCollectsChunksInOrder(t *testing.T) {
	c := NewController(nil)
	stream := newFakeStream()

	s, err := c.Start(stream, "Screen 1")
	require.NoError(t, err)
	assert.Equal(t, StateRecording, s.State())
	assert.NotEmpty(t, s.ID)

	stream.send("aaaaaaaaaa", "bbbbbbbbbbbbbbbbbbbb", "ccccccccccccccc")
	c.Stop()

	rec := waitRecording(t, s)
	assert.Equal(t, Finalized, s.State())
	assert.Equal(t, TriggerStop, rec.Trigger)
	assert.Equal(t, "Screen 1", rec.SourceName)
	assert.Equal(t, s.ID, rec.SessionID)
	assert.Equal(t, 45, rec.Bytes)
	assert.Len(t, rec.Chunks, 3)
	assert.Equal(t, "aaaaaaaaaabbbbbbbbbbbbbbbbbbbbccccccccccccccc", string(bytes.Join(rec.Chunks, nil)))
	assert.NoError(t, rec.Err)
	assert.Equal(t, int32(1), stream.stops.Load())
}

func TestController_StopIsIdempotent(t *testing.T) {
	c := NewController(nil)
	stream := newFakeStream()
	s, err := c.Start(stream, "w")
	require.NoError(t, err)
	stream.send("x")

	for i := 0; i < 5; i++ {
		c.Stop()
		s.Stop()
	}
	rec := waitRecording(t, s)
	assert.Equal(t, TriggerStop, rec.Trigger)

	_, open := <-s.Done()
	assert.False(t, open, "exactly one recording is delivered")
	assert.Equal(t, int32(1), stream.stops.Load())
}

func TestController_StreamEndFinalizes(t *testing.T) {
	c := NewController(nil)
	stream := newFakeStream()
	s, err := c.Start(stream, "w")
	require.NoError(t, err)

	stream.send("tail")
	stream.end()

	rec := waitRecording(t, s)
	assert.Equal(t, TriggerStreamEnd, rec.Trigger)
	assert.Equal(t, "tail", string(bytes.Join(rec.Chunks, nil)))
	// Tracks are released on every path out of Recording.
	assert.Equal(t, int32(1), stream.stops.Load())

	c.Stop()
	assert.Equal(t, int32(1), stream.stops.Load())
}

func TestController_ConcurrentTriggersFinalizeOnce(t *testing.T) {
	for i := 0; i < 50; i++ {
		c := NewController(nil)
		stream := newFakeStream()
		s, err := c.Start(stream, "w")
		require.NoError(t, err)
		stream.send("x")

		var wg sync.WaitGroup
		wg.Add(3)
		go func() { defer wg.Done(); stream.end() }()
		go func() { defer wg.Done(); s.Stop() }()
		go func() { defer wg.Done(); c.Stop() }()
		wg.Wait()

		waitRecording(t, s)
		_, open := <-s.Done()
		assert.False(t, open)
		assert.Equal(t, int32(1), stream.stops.Load())
	}
}

func TestController_EmptyRecording(t *testing.T) {
	c := NewController(nil)
	stream := newFakeStream()
	s, err := c.Start(stream, "w")
	require.NoError(t, err)

	c.Stop()
	rec := waitRecording(t, s)
	assert.ErrorIs(t, rec.Err, ErrEmptyRecording)
	assert.Empty(t, rec.Chunks)
	assert.Equal(t, Finalized, c.State())
}

func TestController_RejectsConcurrentStart(t *testing.T) {
	c := NewController(nil)
	first := newFakeStream()
	s, err := c.Start(first, "one")
	require.NoError(t, err)

	_, err = c.Start(newFakeStream(), "two")
	assert.ErrorIs(t, err, ErrSessionActive)
	assert.True(t, c.Active())

	c.Stop()
	waitRecording(t, s)
	assert.False(t, c.Active())

	second, err := c.Start(newFakeStream(), "two")
	require.NoError(t, err)
	assert.NotEqual(t, s.ID, second.ID)
	c.Stop()
	waitRecording(t, second)
}

func TestController_StopWhenIdle(t *testing.T) {
	c := NewController(nil)
	assert.NotPanics(t, c.Stop)
	assert.Equal(t, Idle, c.State())
}

func TestController_NilStream(t *testing.T) {
	_, err := NewController(nil).Start(nil, "w")
	assert.ErrorIs(t, err, ErrNilStream)
}

func TestController_DrainTimeout(t *testing.T) {
	c := NewController(&ControllerOptions{DrainTimeout: 50 * time.Millisecond})
	stream := newFakeStream()
	stream.hang = true
	s, err := c.Start(stream, "w")
	require.NoError(t, err)

	stream.send("kept")
	require.Eventually(t, func() bool { return s.sink.Len() == 1 }, time.Second, time.Millisecond)

	s.Stop()
	rec := waitRecording(t, s)
	assert.Equal(t, "kept", string(bytes.Join(rec.Chunks, nil)))

	// Late chunks are refused once frozen.
	stream.send("late")
	stream.end()
	require.Eventually(t, func() bool {
		select {
		case <-s.pumpDone:
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)
	assert.Equal(t, 1, s.sink.Len())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "recording", StateRecording.String())
	assert.Equal(t, "State(9)", State(9).String())
}
