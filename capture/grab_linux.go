//go:build linux

package capture

import (
	"context"
	"fmt"
	"os"
	"strings"
)

func (p *FFmpegProvider) display() string {
	if d := strings.TrimSpace(p.opts.Display); d != "" {
		return d
	}
	if d := strings.TrimSpace(os.Getenv("DISPLAY")); d != "" {
		return d
	}
	return ":0"
}

func (p *FFmpegProvider) platformSources(ctx context.Context) ([]Source, error) {
	var sources []Source

	out, err := p.run(ctx, "xrandr", "--listactivemonitors")
	if err != nil {
		p.log.Debug("xrandr unavailable, offering the whole display", "err", err)
	}
	screens := parseXrandrMonitors(out)
	if len(screens) == 0 {
		screens = []Source{{ID: sourceID(KindScreen, "default"), Name: screenName(0), Kind: KindScreen}}
	}
	sources = append(sources, screens...)

	out, err = p.run(ctx, "wmctrl", "-l")
	if err != nil {
		p.log.Debug("wmctrl unavailable, windows will not be listed", "err", err)
		return sources, nil
	}
	return append(sources, parseWmctrl(out)...), nil
}

func (p *FFmpegProvider) platformInputArgs(kind Kind, ref string) ([]string, error) {
	display := p.display()
	args := []string{
		"-f", "x11grab",
		"-framerate", fmt.Sprint(CaptureFrameRate),
		"-draw_mouse", "1",
	}

	switch kind {
	case KindScreen:
		if ref == "default" {
			return append(args, "-i", display), nil
		}
		g, err := parseGeometry(ref)
		if err != nil {
			return nil, err
		}
		return append(args,
			"-video_size", fmt.Sprintf("%dx%d", g.Width, g.Height),
			"-i", fmt.Sprintf("%s+%d,%d", display, g.X, g.Y),
		), nil
	case KindWindow:
		if !strings.HasPrefix(ref, "0x") {
			return nil, fmt.Errorf("%w: bad X11 window id %q", ErrSourceNotFound, ref)
		}
		return append(args, "-window_id", ref, "-i", display), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, kind)
}
