package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go2tv.app/gifcast/internal/logging"
	"go2tv.app/gifcast/internal/processutil"
)

// FFprobe asks an external ffprobe for the first video stream's size. The
// blob is streamed on stdin.
type FFprobe struct {
	// Path defaults to "ffprobe" from PATH.
	Path   string
	Logger *slog.Logger
}

type ffprobeOutput struct {
	Streams []struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"streams"`
}

func (f *FFprobe) Probe(ctx context.Context, blob []byte) (Dimensions, error) {
	path := strings.TrimSpace(f.Path)
	if path == "" {
		path = "ffprobe"
	}
	log := logging.OrDiscard(f.Logger)

	cmd := processutil.CommandContext(ctx, path,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "json",
		"-i", "pipe:0",
	)
	cmd.Stdin = bytes.NewReader(blob)
	stderr := &processutil.TailBuffer{}
	cmd.Stderr = stderr

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return Dimensions{}, ctx.Err()
		}
		return Dimensions{}, fmt.Errorf("ffprobe: %w: %s", err, stderr.Tail(300))
	}
	d, err := parseFFprobeOutput(out)
	if err != nil {
		return Dimensions{}, err
	}
	log.Debug("ffprobe dimensions", "width", d.Width, "height", d.Height)
	return d, nil
}

func parseFFprobeOutput(out []byte) (Dimensions, error) {
	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return Dimensions{}, fmt.Errorf("ffprobe: decode output: %w", err)
	}
	for _, s := range parsed.Streams {
		d := Dimensions{Width: s.Width, Height: s.Height}
		if d.Valid() {
			return d, nil
		}
	}
	return Dimensions{}, fmt.Errorf("ffprobe: %w", ErrNoDimensions)
}
