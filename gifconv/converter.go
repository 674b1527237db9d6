// Package gifconv derives an animated GIF from a recorded video. Strategies
// are tried strictly one after another until one produces a non-empty file.
package gifconv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"go2tv.app/gifcast/artifact"
	"go2tv.app/gifcast/internal/logging"
	"go2tv.app/gifcast/probe"
)

var (
	// ErrPrimaryConversion marks a failed attempt that was followed by a
	// fallback. It only shows up in Attempt reasons and logs.
	ErrPrimaryConversion = errors.New("primary GIF conversion failed")
	// ErrSecondaryConversion is returned when every strategy failed.
	ErrSecondaryConversion = errors.New("GIF conversion failed")
	ErrNoStrategies        = errors.New("no GIF conversion strategies configured")
	ErrEmptyOutput         = errors.New("strategy produced no output")
)

// Downscale is applied to both probed dimensions.
const Downscale = 0.7

type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// TargetSize scales d by Downscale, rounding half away from zero. Each side
// is at least one pixel.
func TargetSize(d probe.Dimensions) Size {
	scale := func(v int) int {
		return max(1, int(math.Round(float64(v)*Downscale)))
	}
	return Size{Width: scale(d.Width), Height: scale(d.Height)}
}

// Strategy writes a GIF of videoPath at size to outputPath.
type Strategy interface {
	Name() string
	Convert(ctx context.Context, videoPath, outputPath string, size Size) error
}

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Attempt records one strategy run.
type Attempt struct {
	Strategy string        `json:"strategy"`
	Outcome  Outcome       `json:"outcome"`
	Reason   string        `json:"reason,omitempty"`
	Duration time.Duration `json:"duration"`
}

type Converter struct {
	strategies []Strategy
	log        *slog.Logger
}

// NewConverter tries strategies in the given order.
func NewConverter(log *slog.Logger, strategies ...Strategy) *Converter {
	return &Converter{strategies: strategies, log: logging.OrDiscard(log)}
}

// Strategies returns the configured strategy names in order.
func (c *Converter) Strategies() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name()
	}
	return names
}

// Convert runs the strategies sequentially, all with the same size, and
// stops at the first success. Output left by a failed strategy is removed
// before the next one runs.
func (c *Converter) Convert(ctx context.Context, videoPath, outputPath string, size Size) (*artifact.GIF, []Attempt, error) {
	if len(c.strategies) == 0 {
		return nil, nil, ErrNoStrategies
	}

	var (
		attempts []Attempt
		lastErr  error
	)
	for i, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			return nil, attempts, err
		}

		start := time.Now()
		err := s.Convert(ctx, videoPath, outputPath, size)
		var gif *artifact.GIF
		if err == nil {
			gif, err = checkOutput(outputPath)
		}
		attempt := Attempt{Strategy: s.Name(), Duration: time.Since(start)}

		if err == nil {
			attempt.Outcome = OutcomeSuccess
			attempts = append(attempts, attempt)
			c.log.Info("gif written", "strategy", s.Name(), "path", gif.Path, "bytes", gif.Size,
				"width", size.Width, "height", size.Height, "duration", attempt.Duration)
			return gif, attempts, nil
		}

		_ = removeIfExists(outputPath)
		if i < len(c.strategies)-1 {
			err = fmt.Errorf("%w: %s: %w", ErrPrimaryConversion, s.Name(), err)
		}
		attempt.Outcome = OutcomeFailure
		attempt.Reason = err.Error()
		attempts = append(attempts, attempt)
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, attempts, ctxErr
		}
		if i < len(c.strategies)-1 {
			c.log.Warn("gif strategy failed, falling back", "strategy", s.Name(),
				"next", c.strategies[i+1].Name(), "err", err)
		}
	}

	return nil, attempts, fmt.Errorf("%w: %w", ErrSecondaryConversion, lastErr)
}

func checkOutput(path string) (*artifact.GIF, error) {
	gif, err := artifact.StatGIF(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrEmptyOutput
		}
		return nil, err
	}
	if gif.Size == 0 {
		return nil, ErrEmptyOutput
	}
	return gif, nil
}

func removeIfExists(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
