// Package artifact turns a finished recording into files on disk: it derives
// output paths from the source name and writes the concatenated video.
package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"go2tv.app/gifcast/internal/logging"
)

var (
	ErrIOFailure        = errors.New("could not write artifact")
	ErrInvalidCollision = errors.New("invalid collision policy")
)

const (
	VideoExt = ".webm"
	GIFExt   = ".gif"

	timestampLayout = "20060102-150405"
)

// Video is a materialized recording. Width and Height are filled in once the
// file has been probed.
type Video struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// GIF is a converted animation.
type GIF struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// Collision decides what happens when an output path already exists.
type Collision string

const (
	// CollisionOverwrite replaces the existing file and logs a warning.
	CollisionOverwrite Collision = "overwrite"
	// CollisionTimestamp keeps the existing file and appends
	// -YYYYMMDD-HHMMSS to the new base name.
	CollisionTimestamp Collision = "timestamp"
)

func ParseCollision(s string) (Collision, error) {
	switch c := Collision(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return CollisionOverwrite, nil
	case CollisionOverwrite, CollisionTimestamp:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q (want overwrite or timestamp)", ErrInvalidCollision, s)
	}
}

// Sanitize replaces every run of whitespace in name with one underscore.
// Nothing else is escaped.
func Sanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	inSpace := false
	for _, r := range name {
		if unicode.IsSpace(r) {
			if !inSpace {
				b.WriteByte('_')
			}
			inSpace = true
			continue
		}
		inSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

// Paths are the sibling outputs of one session.
type Paths struct {
	Video string
	GIF   string
}

// PathsFor joins the sanitized source name to dir.
func PathsFor(dir, sourceName string) Paths {
	base := filepath.Join(dir, Sanitize(sourceName))
	return Paths{Video: base + VideoExt, GIF: base + GIFExt}
}

// GIFPathFor returns the GIF sibling of an existing video file.
func GIFPathFor(videoPath string) string {
	return strings.TrimSuffix(videoPath, filepath.Ext(videoPath)) + GIFExt
}

// WriteFileFunc writes data to name.
type WriteFileFunc func(name string, data []byte) error

type MaterializerOptions struct {
	// Dir is the downloads directory.
	Dir       string
	Collision Collision
	// WriteFile defaults to an atomic temp-file-and-rename write.
	WriteFile WriteFileFunc
	Now       func() time.Time
	Logger    *slog.Logger
}

// Materializer writes recordings into one directory.
type Materializer struct {
	opts MaterializerOptions
	log  *slog.Logger
}

func NewMaterializer(opts MaterializerOptions) *Materializer {
	if opts.Collision == "" {
		opts.Collision = CollisionOverwrite
	}
	if opts.WriteFile == nil {
		opts.WriteFile = writeFileAtomic
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Materializer{opts: opts, log: logging.OrDiscard(opts.Logger)}
}

func (m *Materializer) Dir() string {
	return m.opts.Dir
}

// Paths returns where a recording of sourceName will be written, applying
// the collision policy.
func (m *Materializer) Paths(sourceName string) Paths {
	p := PathsFor(m.opts.Dir, sourceName)
	if m.opts.Collision != CollisionTimestamp || !(exists(p.Video) || exists(p.GIF)) {
		return p
	}
	stamp := filepath.Join(m.opts.Dir, Sanitize(sourceName)+"-"+m.opts.Now().Format(timestampLayout))
	p = Paths{Video: stamp + VideoExt, GIF: stamp + GIFExt}
	// Same second: number the rest.
	for n := 2; exists(p.Video) || exists(p.GIF); n++ {
		base := stamp + "-" + strconv.Itoa(n)
		p = Paths{Video: base + VideoExt, GIF: base + GIFExt}
	}
	return p
}

// Assemble concatenates chunks byte for byte.
func Assemble(chunks [][]byte) []byte {
	return bytes.Join(chunks, nil)
}

// Write stores data at path. Failures wrap ErrIOFailure and leave no file
// behind.
func (m *Materializer) Write(ctx context.Context, path string, data []byte) (*Video, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if exists(path) {
		m.log.Warn("overwriting existing video", "path", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	if err := m.opts.WriteFile(path, data); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrIOFailure, path, err)
	}
	m.log.Debug("video written", "path", path, "bytes", len(data))
	return &Video{Path: path, Size: int64(len(data))}, nil
}

// Materialize concatenates chunks and writes them to the video path derived
// from sourceName.
func (m *Materializer) Materialize(ctx context.Context, chunks [][]byte, sourceName string) (*Video, error) {
	return m.Write(ctx, m.Paths(sourceName).Video, Assemble(chunks))
}

// StatGIF describes a GIF that a conversion strategy has written.
func StatGIF(path string) (*GIF, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return &GIF{Path: path, Size: fi.Size()}, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func writeFileAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(name), "."+filepath.Base(name)+".*.tmp")
	if err != nil {
		return err
	}
	cleanup := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), name); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}
