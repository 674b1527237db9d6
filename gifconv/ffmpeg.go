package gifconv

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go2tv.app/gifcast/internal/logging"
	"go2tv.app/gifcast/internal/processutil"
)

const (
	gifFrameRate = 10
	// gifFrameDelay is 1/gifFrameRate in centiseconds.
	gifFrameDelay = 100 / gifFrameRate
)

// FFmpeg converts out of process with a generated palette.
type FFmpeg struct {
	// Path defaults to "ffmpeg" from PATH.
	Path   string
	Logger *slog.Logger
}

func (f *FFmpeg) Name() string { return "ffmpeg" }

func (f *FFmpeg) path() string {
	if p := strings.TrimSpace(f.Path); p != "" {
		return p
	}
	return "ffmpeg"
}

func paletteFilter(size Size) string {
	return fmt.Sprintf(
		"fps=%d,scale=%d:%d:flags=lanczos,split[a][b];[a]palettegen[p];[b][p]paletteuse",
		gifFrameRate, size.Width, size.Height,
	)
}

func (f *FFmpeg) args(videoPath, outputPath string, size Size) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", videoPath,
		"-vf", paletteFilter(size),
		"-loop", "0",
		outputPath,
	}
}

func (f *FFmpeg) Convert(ctx context.Context, videoPath, outputPath string, size Size) error {
	log := logging.OrDiscard(f.Logger)
	args := f.args(videoPath, outputPath, size)

	cmd := processutil.CommandContext(ctx, f.path(), args...)
	stderr := &processutil.TailBuffer{}
	cmd.Stderr = stderr

	log.Debug("running ffmpeg gif conversion", "args", strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg: %w: %s", err, stderr.Tail(300))
	}
	return nil
}
