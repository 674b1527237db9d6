//go:build windows

package capture

import (
	"context"
	"fmt"
)

const listWindowsScript = `Get-Process | Where-Object { $_.MainWindowTitle } | ForEach-Object { $_.MainWindowTitle }`

func (p *FFmpegProvider) platformSources(ctx context.Context) ([]Source, error) {
	sources := []Source{{ID: sourceID(KindScreen, "desktop"), Name: screenName(0), Kind: KindScreen}}

	out, err := p.run(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", listWindowsScript)
	if err != nil {
		p.log.Debug("window listing failed", "err", err)
		return sources, nil
	}
	return append(sources, parseWindowTitles(out)...), nil
}

func (p *FFmpegProvider) platformInputArgs(kind Kind, ref string) ([]string, error) {
	args := []string{
		"-f", "gdigrab",
		"-framerate", fmt.Sprint(CaptureFrameRate),
		"-draw_mouse", "1",
	}
	switch kind {
	case KindScreen:
		return append(args, "-i", "desktop"), nil
	case KindWindow:
		return append(args, "-i", "title="+ref), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, kind)
}
