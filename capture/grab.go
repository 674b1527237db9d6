package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"go2tv.app/gifcast/internal/logging"
	"go2tv.app/gifcast/internal/processutil"
)

// FFmpegOptions configures the desktop grab backend.
type FFmpegOptions struct {
	// FFmpegPath defaults to "ffmpeg" from PATH.
	FFmpegPath string
	// StopGrace bounds how long Stop waits for ffmpeg to flush the container.
	StopGrace time.Duration
	// Display is the X11 display on Linux. Defaults to $DISPLAY or ":0".
	Display string
	Logger  *slog.Logger
}

// FFmpegProvider captures the local desktop with ffmpeg's platform grab
// device (x11grab, avfoundation or gdigrab) and encodes it to WebM/VP9.
type FFmpegProvider struct {
	opts FFmpegOptions
	log  *slog.Logger
}

func NewFFmpegProvider(opts *FFmpegOptions) *FFmpegProvider {
	var o FFmpegOptions
	if opts != nil {
		o = *opts
	}
	if strings.TrimSpace(o.FFmpegPath) == "" {
		o.FFmpegPath = "ffmpeg"
	}
	if o.StopGrace <= 0 {
		o.StopGrace = defaultStopGrace
	}
	return &FFmpegProvider{opts: o, log: logging.OrDiscard(o.Logger)}
}

// Sources lists the screens and windows the platform backend can grab.
func (p *FFmpegProvider) Sources(ctx context.Context) ([]Source, error) {
	return p.platformSources(ctx)
}

// Acquire starts an encoder for sourceID and returns once it is producing
// output.
func (p *FFmpegProvider) Acquire(ctx context.Context, sourceID string) (Stream, error) {
	kind, ref, err := parseSourceID(sourceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStreamAcquisition, err)
	}
	inputArgs, err := p.platformInputArgs(kind, ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStreamAcquisition, err)
	}

	s, err := startEncoder(ctx, encoderOptions{
		ffmpegPath: p.opts.FFmpegPath,
		inputArgs:  inputArgs,
		stopGrace:  p.opts.StopGrace,
		log:        p.log.With("source", sourceID),
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// run executes a short-lived helper and returns its combined output.
func (p *FFmpegProvider) run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := processutil.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if _, lookErr := exec.LookPath(name); lookErr != nil {
			return "", fmt.Errorf("%s not found: %w", name, lookErr)
		}
		return string(out), fmt.Errorf("%s: %w: %s", name, err, processutil.Tail(string(out), 300))
	}
	return string(out), nil
}
