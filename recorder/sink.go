package recorder

import "sync"

// Sink accumulates encoded chunks in arrival order. It is append-only until
// Drain, after which it is frozen and further appends are refused.
//
// There is no size limit; chunks are expected to arrive slower than they can
// be buffered.
type Sink struct {
	mu     sync.Mutex
	chunks [][]byte
	bytes  int
	frozen bool
}

func NewSink() *Sink {
	return &Sink{}
}

// Append adds chunk to the sequence. It reports false once the sink has been
// drained. Empty chunks are accepted and ignored.
func (s *Sink) Append(chunk []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return false
	}
	if len(chunk) == 0 {
		return true
	}
	s.chunks = append(s.chunks, chunk)
	s.bytes += len(chunk)
	return true
}

// Drain freezes the sink and returns everything appended so far. Later calls
// return the same sequence.
func (s *Sink) Drain() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen = true
	return s.chunks
}

// Len returns the number of chunks held.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

// Bytes returns the total payload size held.
func (s *Sink) Bytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

func (s *Sink) Frozen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frozen
}
