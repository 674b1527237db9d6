package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go2tv.app/gifcast/internal/logging"
	"go2tv.app/gifcast/internal/processutil"
)

const (
	// CaptureFrameRate is fixed; recordings are not tunable.
	CaptureFrameRate = 15

	defaultStopGrace         = 5 * time.Second
	defaultFirstChunkTimeout = 8 * time.Second
	chunkReadSize            = 64 * 1024
	chunkQueueSize           = 64
)

// encoderOptions describes one ffmpeg process that produces WebM on stdout.
type encoderOptions struct {
	ffmpegPath string
	inputArgs  []string
	// stdin carries raw frames. When nil, stdin is a control pipe and Stop
	// asks ffmpeg to finish by writing "q".
	stdin     io.Reader
	stopInput func() error
	release   func() error
	stopGrace time.Duration
	log       *slog.Logger
}

// encoderStream is a Stream backed by an ffmpeg child process.
type encoderStream struct {
	cmd     *exec.Cmd
	control io.WriteCloser
	opts    encoderOptions
	stderr  *processutil.TailBuffer
	log     *slog.Logger

	chunks    chan []byte
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	waitErr   error
	// abandon is closed once Stop has given up on the consumer.
	abandon chan struct{}

	stopOnce sync.Once
	stopErr  error
}

func encoderArgs(inputArgs []string) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if logging.DebugEnabled() {
		args = []string{"-hide_banner", "-loglevel", "info"}
	}
	args = append(args, inputArgs...)
	return append(args,
		"-an",
		"-c:v", "libvpx-vp9",
		"-deadline", "realtime",
		"-cpu-used", "8",
		"-row-mt", "1",
		"-pix_fmt", "yuv420p",
		"-r", fmt.Sprint(CaptureFrameRate),
		"-f", "webm",
		"pipe:1",
	)
}

// startEncoder launches ffmpeg and returns once the first chunk has arrived.
func startEncoder(ctx context.Context, opts encoderOptions) (*encoderStream, error) {
	if strings.TrimSpace(opts.ffmpegPath) == "" {
		return nil, fmt.Errorf("%w: ffmpeg path is required", ErrInvalidOptions)
	}
	if opts.stopGrace <= 0 {
		opts.stopGrace = defaultStopGrace
	}
	log := logging.OrDiscard(opts.log)

	s := &encoderStream{
		opts:    opts,
		stderr:  &processutil.TailBuffer{},
		log:     log,
		chunks:  make(chan []byte, chunkQueueSize),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
		abandon: make(chan struct{}),
	}

	// The process must outlive the acquire context, so it is not bound to ctx.
	s.cmd = processutil.CommandContext(context.Background(), opts.ffmpegPath, encoderArgs(opts.inputArgs)...)
	s.cmd.Stderr = s.stderr

	if opts.stdin != nil {
		s.cmd.Stdin = opts.stdin
	} else {
		control, err := s.cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("%w: ffmpeg stdin: %w", ErrStreamAcquisition, err)
		}
		s.control = control
	}
	stdout, err := s.cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: ffmpeg stdout: %w", ErrStreamAcquisition, err)
	}

	log.Debug("starting capture encoder", "ffmpeg", opts.ffmpegPath, "args", strings.Join(s.cmd.Args[1:], " "))
	if err := s.cmd.Start(); err != nil {
		s.releaseResources()
		return nil, fmt.Errorf("%w: ffmpeg start: %w", ErrStreamAcquisition, err)
	}

	go s.pump(stdout)

	if err := s.waitForFirstChunk(ctx, defaultFirstChunkTimeout); err != nil {
		_ = s.Stop()
		return nil, err
	}
	return s, nil
}

func (s *encoderStream) pump(stdout io.Reader) {
	buf := make([]byte, chunkReadSize)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.chunks <- chunk:
			case <-s.abandon:
			}
			s.readyOnce.Do(func() { close(s.ready) })
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				s.log.Debug("capture encoder read failed", "err", err)
			}
			break
		}
	}

	s.waitErr = s.cmd.Wait()
	if s.waitErr != nil {
		s.log.Debug("capture encoder exited", "err", s.waitErr, "stderr", s.stderr.Tail(300))
	}
	close(s.done)
	close(s.chunks)
}

func (s *encoderStream) waitForFirstChunk(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.ready:
		return nil
	case <-s.done:
		select {
		case <-s.ready:
			return nil
		default:
		}
		return fmt.Errorf("%w: ffmpeg exited before producing output: %v: %s", ErrStreamAcquisition, s.waitErr, s.stderr.Tail(300))
	case <-timer.C:
		return fmt.Errorf("%w: timed out after %s waiting for first chunk: %s", ErrStreamAcquisition, timeout, s.stderr.Tail(300))
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrStreamAcquisition, ctx.Err())
	}
}

func (s *encoderStream) Chunks() <-chan []byte {
	return s.chunks
}

// Err reports how the encoder process exited. It is nil while running.
func (s *encoderStream) Err() error {
	select {
	case <-s.done:
		if s.waitErr != nil {
			return fmt.Errorf("ffmpeg: %w: %s", s.waitErr, s.stderr.Tail(300))
		}
		return nil
	default:
		return nil
	}
}

// Stop asks ffmpeg to finish the container, waits up to the grace period
// for it to exit and kills it otherwise.
func (s *encoderStream) Stop() error {
	s.stopOnce.Do(func() {
		var out error
		if s.opts.stopInput != nil {
			out = errors.Join(out, s.opts.stopInput())
		}
		if s.control != nil {
			if _, err := io.WriteString(s.control, "q\n"); err != nil && !errors.Is(err, os.ErrClosed) {
				s.log.Debug("capture encoder quit request failed", "err", err)
			}
			_ = s.control.Close()
		}

		timer := time.NewTimer(s.opts.stopGrace)
		defer timer.Stop()
		select {
		case <-s.done:
		case <-timer.C:
			s.log.Warn("capture encoder did not exit in time, killing it", "grace", s.opts.stopGrace)
			if s.cmd.Process != nil {
				if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
					out = errors.Join(out, err)
				}
			}
		}

		// Nobody may be reading any more; let pump discard the rest.
		close(s.abandon)

		out = errors.Join(out, s.releaseResources())
		s.stopErr = out
	})
	return s.stopErr
}

func (s *encoderStream) releaseResources() error {
	if s.opts.release == nil {
		return nil
	}
	return s.opts.release()
}
