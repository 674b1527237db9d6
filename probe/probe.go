// Package probe reads the intrinsic pixel size of a recorded video.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	ErrProbeTimeout = errors.New("timed out waiting for video metadata")
	ErrNoDimensions = errors.New("video metadata has no dimensions")
)

const (
	DefaultTimeout = 10 * time.Second
	MinTimeout     = time.Second
	MaxTimeout     = 2 * time.Minute
)

// MaxDimension bounds either side of an accepted frame. Anything larger is
// treated as corrupt metadata.
const MaxDimension = 16384

type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (d Dimensions) Valid() bool {
	return d.Width > 0 && d.Height > 0 && d.Width <= MaxDimension && d.Height <= MaxDimension
}

func (d Dimensions) String() string {
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}

// Prober reports the dimensions of an encoded video held in memory.
type Prober interface {
	Probe(ctx context.Context, blob []byte) (Dimensions, error)
}

type ProberFunc func(ctx context.Context, blob []byte) (Dimensions, error)

func (f ProberFunc) Probe(ctx context.Context, blob []byte) (Dimensions, error) {
	return f(ctx, blob)
}

type bounded struct {
	p       Prober
	timeout time.Duration
}

// Bounded fails with ErrProbeTimeout when p has not answered within timeout.
// A non-positive timeout means DefaultTimeout.
func Bounded(p Prober, timeout time.Duration) Prober {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &bounded{p: p, timeout: timeout}
}

type probeResult struct {
	dim Dimensions
	err error
}

func (b *bounded) Probe(ctx context.Context, blob []byte) (Dimensions, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	// Buffered so a prober that ignores ctx does not leak a blocked sender.
	ch := make(chan probeResult, 1)
	go func() {
		d, err := b.p.Probe(ctx, blob)
		ch <- probeResult{dim: d, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Dimensions{}, fmt.Errorf("%w after %s: %w", ErrProbeTimeout, b.timeout, r.err)
		}
		return r.dim, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Dimensions{}, fmt.Errorf("%w after %s", ErrProbeTimeout, b.timeout)
		}
		return Dimensions{}, ctx.Err()
	}
}

type chain []Prober

// Chain asks each prober in order and returns the first valid answer.
func Chain(probers ...Prober) Prober {
	return chain(probers)
}

func (c chain) Probe(ctx context.Context, blob []byte) (Dimensions, error) {
	var errs []error
	for _, p := range c {
		d, err := p.Probe(ctx, blob)
		if err == nil && d.Valid() {
			return d, nil
		}
		if err == nil {
			err = fmt.Errorf("%w: got %s", ErrNoDimensions, d)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Dimensions{}, errors.Join(append(errs, err)...)
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return Dimensions{}, ErrNoDimensions
	}
	return Dimensions{}, errors.Join(errs...)
}

// Options configures Default.
type Options struct {
	FFprobePath string
	Timeout     time.Duration
	Logger      *slog.Logger
}

// Default reads the WebM header in process, falls back to ffprobe and bounds
// the whole lookup by opts.Timeout.
func Default(opts Options) Prober {
	return Bounded(Chain(
		WebM{},
		&FFprobe{Path: opts.FFprobePath, Logger: opts.Logger},
	), opts.Timeout)
}
