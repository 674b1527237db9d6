// Package capture turns a screen or window into a live stream of encoded
// WebM chunks. Backends enumerate what can be recorded and hand back a
// Stream; everything after that is backend independent.
package capture

import (
	"context"
	"errors"
)

// Kind is the type of a capture source.
type Kind string

const (
	KindScreen Kind = "screen"
	KindWindow Kind = "window"
)

// ContainerMIME is the media type of the chunks every backend emits.
const ContainerMIME = "video/webm; codecs=vp9"

var (
	ErrStreamAcquisition = errors.New("could not acquire capture stream")
	ErrNotImplemented    = errors.New("screen capture backend is not implemented on this platform")
	ErrSourceNotFound    = errors.New("capture source not found")
	ErrInvalidOptions    = errors.New("invalid screen capture options")
)

// Source identifies something that can be recorded.
type Source struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

// Stream is a live encoded media stream.
//
// Chunks delivers encoded chunks in arrival order and is closed once the
// stream has ended, either on its own or because Stop was called. Stop
// releases every underlying track; it flushes pending output before Chunks
// is closed and is safe to call more than once.
type Stream interface {
	Chunks() <-chan []byte
	Stop() error
}

// Provider is a capture backend.
type Provider interface {
	Sources(ctx context.Context) ([]Source, error)
	// Acquire opens a stream for sourceID. Errors wrap ErrStreamAcquisition.
	Acquire(ctx context.Context, sourceID string) (Stream, error)
}

// Find returns the source with the given id.
func Find(sources []Source, id string) (Source, bool) {
	for _, s := range sources {
		if s.ID == id {
			return s, true
		}
	}
	return Source{}, false
}
