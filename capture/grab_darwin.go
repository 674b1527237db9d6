//go:build darwin

package capture

import (
	"context"
	"fmt"
	"strconv"

	"go2tv.app/gifcast/internal/processutil"
)

func (p *FFmpegProvider) platformSources(ctx context.Context) ([]Source, error) {
	// -list_devices always exits non-zero because there is no real input.
	cmd := processutil.CommandContext(ctx, p.opts.FFmpegPath,
		"-hide_banner", "-f", "avfoundation", "-list_devices", "true", "-i", "")
	out, _ := cmd.CombinedOutput()

	sources := parseAVFoundationDevices(string(out))
	if len(sources) == 0 {
		return nil, fmt.Errorf("no avfoundation screen devices found: %s", processutil.Tail(string(out), 300))
	}
	return sources, nil
}

func (p *FFmpegProvider) platformInputArgs(kind Kind, ref string) ([]string, error) {
	if kind != KindScreen {
		return nil, fmt.Errorf("%w: window capture on macOS", ErrNotImplemented)
	}
	if _, err := strconv.Atoi(ref); err != nil {
		return nil, fmt.Errorf("%w: bad avfoundation device %q", ErrSourceNotFound, ref)
	}
	return []string{
		"-f", "avfoundation",
		"-capture_cursor", "1",
		"-framerate", fmt.Sprint(CaptureFrameRate),
		"-i", ref + ":none",
	}, nil
}
