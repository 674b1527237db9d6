// Package recorder owns the life of one recording: it pumps chunks from a
// capture stream into a Sink and finalizes the session exactly once, whether
// the user stopped it or the stream ended by itself.
package recorder

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"go2tv.app/gifcast/capture"
	"go2tv.app/gifcast/internal/logging"
)

var (
	ErrSessionActive  = errors.New("a recording session is already active")
	ErrEmptyRecording = errors.New("recording produced no data")
	ErrNilStream      = errors.New("recorder: stream is nil")
)

const defaultDrainTimeout = 10 * time.Second

// State of a recording session.
type State int32

const (
	Idle State = iota
	StateRecording
	Finalizing
	Finalized
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case StateRecording:
		return "recording"
	case Finalizing:
		return "finalizing"
	case Finalized:
		return "finalized"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Trigger is what caused finalization.
type Trigger string

const (
	TriggerStop      Trigger = "stop"
	TriggerStreamEnd Trigger = "stream_end"
)

// Recording is the outcome of a finalized session.
type Recording struct {
	SessionID  string
	SourceName string
	// Chunks is the frozen chunk sequence in arrival order.
	Chunks    [][]byte
	Bytes     int
	Trigger   Trigger
	StartedAt time.Time
	EndedAt   time.Time
	// StopErr is whatever releasing the stream reported. It does not make
	// the recording unusable.
	StopErr error
	// Err is ErrEmptyRecording when nothing was captured.
	Err error
}

type ControllerOptions struct {
	// DrainTimeout bounds how long finalization waits for chunks still in
	// flight after the stream was stopped.
	DrainTimeout time.Duration
	Logger       *slog.Logger
}

// Controller hands out sessions, one at a time.
type Controller struct {
	opts ControllerOptions
	log  *slog.Logger

	mu      sync.Mutex
	current *Session
}

func NewController(opts *ControllerOptions) *Controller {
	var o ControllerOptions
	if opts != nil {
		o = *opts
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = defaultDrainTimeout
	}
	return &Controller{opts: o, log: logging.OrDiscard(o.Logger)}
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a new sortable session identifier.
func NewID(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}

// Start begins recording stream under sourceName. It fails with
// ErrSessionActive while a previous session has not reached Finalized.
func (c *Controller) Start(stream capture.Stream, sourceName string) (*Session, error) {
	if stream == nil {
		return nil, ErrNilStream
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil && c.current.State() != Finalized {
		return nil, ErrSessionActive
	}

	now := time.Now()
	s := &Session{
		ID:           NewID(now),
		SourceName:   sourceName,
		StartedAt:    now,
		stream:       stream,
		sink:         NewSink(),
		drainTimeout: c.opts.DrainTimeout,
		pumpDone:     make(chan struct{}),
		done:         make(chan Recording, 1),
	}
	s.log = c.log.With("session", s.ID, "source", sourceName)
	s.state.Store(int32(StateRecording))
	c.current = s

	s.log.Info("recording started")
	go s.pump()
	return s, nil
}

// Stop stops the current session, if it is recording. It is a no-op when
// idle or already finalized.
func (c *Controller) Stop() {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s != nil {
		s.Stop()
	}
}

// State reports the state of the most recent session, Idle if none.
func (c *Controller) State() State {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s == nil {
		return Idle
	}
	return s.State()
}

// Active reports whether a session is recording or finalizing.
func (c *Controller) Active() bool {
	st := c.State()
	return st == StateRecording || st == Finalizing
}

// Session is one recording lifecycle. It exclusively owns its stream.
type Session struct {
	ID         string
	SourceName string
	StartedAt  time.Time

	stream       capture.Stream
	sink         *Sink
	drainTimeout time.Duration
	log          *slog.Logger

	state        atomic.Int32
	finalizeOnce sync.Once
	releaseOnce  sync.Once
	pumpDone     chan struct{}
	done         chan Recording
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Done delivers exactly one Recording once the session is finalized.
func (s *Session) Done() <-chan Recording {
	return s.done
}

// Stop ends the recording and blocks until the session is finalized.
// Calling it again, or after the stream has ended, does nothing.
func (s *Session) Stop() {
	if s.State() != StateRecording {
		// Finalization may be running; wait for it so Stop has the same
		// post-condition on every call.
		s.finalizeOnce.Do(func() {})
		return
	}
	s.finalize(TriggerStop)
}

func (s *Session) pump() {
	dropped := 0
	for chunk := range s.stream.Chunks() {
		if !s.sink.Append(chunk) {
			dropped++
		}
	}
	close(s.pumpDone)
	if dropped > 0 {
		s.log.Warn("chunks arrived after the recording was frozen", "dropped", dropped)
	}
	s.finalize(TriggerStreamEnd)
}

func (s *Session) releaseStream() error {
	var err error
	s.releaseOnce.Do(func() {
		err = s.stream.Stop()
	})
	return err
}

func (s *Session) finalize(trigger Trigger) {
	s.finalizeOnce.Do(func() {
		s.state.Store(int32(Finalizing))
		s.log.Debug("finalizing recording", "trigger", trigger)

		stopErr := s.releaseStream()
		if stopErr != nil {
			s.log.Warn("stopping capture stream failed", "err", stopErr)
		}

		timer := time.NewTimer(s.drainTimeout)
		select {
		case <-s.pumpDone:
		case <-timer.C:
			s.log.Warn("capture stream did not close in time, freezing what arrived", "timeout", s.drainTimeout)
		}
		timer.Stop()

		chunks := s.sink.Drain()
		rec := Recording{
			SessionID:  s.ID,
			SourceName: s.SourceName,
			Chunks:     chunks,
			Bytes:      s.sink.Bytes(),
			Trigger:    trigger,
			StartedAt:  s.StartedAt,
			EndedAt:    time.Now(),
			StopErr:    stopErr,
		}
		if len(chunks) == 0 {
			rec.Err = ErrEmptyRecording
			s.log.Warn("recording is empty, nothing to save", "trigger", trigger)
		} else {
			s.log.Info("recording finalized", "trigger", trigger, "chunks", len(chunks), "bytes", rec.Bytes)
		}

		s.state.Store(int32(Finalized))
		s.done <- rec
		close(s.done)
	})
}
