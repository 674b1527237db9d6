package gifconv

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"go2tv.app/gifcast/internal/logging"
	"go2tv.app/gifcast/internal/processutil"
)

// MaxFrames caps how many frames the in-process renderer encodes.
const MaxFrames = 150

var errStopFrames = errors.New("stop frames")

// FrameSource yields decoded frames of a video, already scaled to size, at
// the GIF frame rate. It stops after limit frames or when fn returns an
// error.
type FrameSource interface {
	Frames(ctx context.Context, videoPath string, size Size, limit int, fn func(*image.RGBA) error) error
}

// FFmpegFrames decodes frames with ffmpeg into raw RGBA on a pipe.
type FFmpegFrames struct {
	Path   string
	Logger *slog.Logger
}

func (f *FFmpegFrames) Frames(ctx context.Context, videoPath string, size Size, limit int, fn func(*image.RGBA) error) error {
	path := strings.TrimSpace(f.Path)
	if path == "" {
		path = "ffmpeg"
	}
	log := logging.OrDiscard(f.Logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := processutil.CommandContext(ctx, path,
		"-hide_banner",
		"-loglevel", "error",
		"-i", videoPath,
		"-vf", fmt.Sprintf("fps=%d,scale=%d:%d:flags=lanczos", gifFrameRate, size.Width, size.Height),
		"-frames:v", fmt.Sprint(limit),
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"pipe:1",
	)
	stderr := &processutil.TailBuffer{}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg start: %w", err)
	}

	frameSize := size.Width * size.Height * 4
	n := 0
	var loopErr error
	for n < limit {
		buf := make([]byte, frameSize)
		if _, err := io.ReadFull(stdout, buf); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				loopErr = err
			}
			break
		}
		img := &image.RGBA{Pix: buf, Stride: size.Width * 4, Rect: image.Rect(0, 0, size.Width, size.Height)}
		if err := fn(img); err != nil {
			loopErr = err
			break
		}
		n++
	}

	stoppedEarly := loopErr != nil || n >= limit
	if stoppedEarly {
		cancel()
	}
	_, _ = io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()
	log.Debug("decoded frames", "frames", n, "video", videoPath)

	if loopErr != nil {
		return loopErr
	}
	if waitErr != nil && !stoppedEarly {
		return fmt.Errorf("ffmpeg decode: %w: %s", waitErr, stderr.Tail(300))
	}
	return nil
}

// Render converts in process: frames are quantized and encoded with
// image/gif, passed through a base64 data URI and written out.
type Render struct {
	Frames FrameSource
	// MaxFrames defaults to the package MaxFrames.
	MaxFrames int
	Logger    *slog.Logger
}

func (r *Render) Name() string { return "render" }

func (r *Render) Convert(ctx context.Context, videoPath, outputPath string, size Size) error {
	if _, err := os.Stat(videoPath); err != nil {
		return err
	}
	if r.Frames == nil {
		return errors.New("render: no frame source")
	}
	limit := r.MaxFrames
	if limit <= 0 || limit > MaxFrames {
		limit = MaxFrames
	}
	log := logging.OrDiscard(r.Logger)

	anim := &gif.GIF{LoopCount: 0}
	err := r.Frames.Frames(ctx, videoPath, size, limit, func(img *image.RGBA) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(anim.Image) >= limit {
			return errStopFrames
		}
		anim.Image = append(anim.Image, quantize(img))
		anim.Delay = append(anim.Delay, gifFrameDelay)
		return nil
	})
	if err != nil && !errors.Is(err, errStopFrames) {
		return fmt.Errorf("render: %w", err)
	}
	if len(anim.Image) == 0 {
		return errors.New("render: no frames decoded")
	}

	uri, err := EncodeDataURI(anim)
	if err != nil {
		return fmt.Errorf("render: encode: %w", err)
	}
	data, err := DecodeDataURI(uri)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	log.Debug("rendered gif", "frames", len(anim.Image), "bytes", len(data))
	return nil
}

// quantize maps a frame onto at most 256 colours. Frames that already fit
// keep their exact colours; others are dithered onto the Plan 9 palette.
func quantize(img *image.RGBA) *image.Paletted {
	bounds := img.Bounds()
	if pal, ok := exactPalette(img); ok {
		out := image.NewPaletted(bounds, pal)
		index := make(map[color.RGBA]uint8, len(pal))
		for i, c := range pal {
			index[c.(color.RGBA)] = uint8(i)
		}
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				out.SetColorIndex(x, y, index[opaque(img.RGBAAt(x, y))])
			}
		}
		return out
	}

	out := image.NewPaletted(bounds, palette.Plan9)
	draw.FloydSteinberg.Draw(out, bounds, img, bounds.Min)
	return out
}

func opaque(c color.RGBA) color.RGBA {
	c.A = 0xff
	return c
}

func exactPalette(img *image.RGBA) (color.Palette, bool) {
	seen := make(map[color.RGBA]struct{}, 256)
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			seen[opaque(img.RGBAAt(x, y))] = struct{}{}
			if len(seen) > 256 {
				return nil, false
			}
		}
	}

	colors := make([]color.RGBA, 0, len(seen))
	for c := range seen {
		colors = append(colors, c)
	}
	slices.SortFunc(colors, func(a, b color.RGBA) int {
		return cmp.Compare(packRGB(a), packRGB(b))
	})
	pal := make(color.Palette, len(colors))
	for i, c := range colors {
		pal[i] = c
	}
	return pal, true
}

func packRGB(c color.RGBA) uint32 {
	return uint32(c.R)<<16 | uint32(c.G)<<8 | uint32(c.B)
}
