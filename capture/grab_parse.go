package capture

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Source IDs are "<kind>:<ref>". The ref is backend specific: an X11
// geometry, an avfoundation device index, a window id or a window title.
func sourceID(kind Kind, ref string) string {
	return string(kind) + ":" + ref
}

func parseSourceID(id string) (Kind, string, error) {
	kind, ref, ok := strings.Cut(strings.TrimSpace(id), ":")
	if !ok || ref == "" {
		return "", "", fmt.Errorf("%w: malformed source id %q", ErrSourceNotFound, id)
	}
	switch Kind(kind) {
	case KindScreen, KindWindow:
		return Kind(kind), ref, nil
	default:
		return "", "", fmt.Errorf("%w: unknown source kind %q", ErrSourceNotFound, kind)
	}
}

func screenName(index int) string {
	return fmt.Sprintf("Screen %d", index+1)
}

// geometry is an X11 rectangle in WxH+X+Y form.
type geometry struct {
	Width, Height int
	X, Y          int
}

func (g geometry) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", g.Width, g.Height, g.X, g.Y)
}

var geometryPattern = regexp.MustCompile(`^(\d+)x(\d+)\+(-?\d+)\+(-?\d+)$`)

func parseGeometry(s string) (geometry, error) {
	m := geometryPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return geometry{}, fmt.Errorf("%w: bad geometry %q", ErrInvalidOptions, s)
	}
	var g geometry
	g.Width, _ = strconv.Atoi(m[1])
	g.Height, _ = strconv.Atoi(m[2])
	g.X, _ = strconv.Atoi(m[3])
	g.Y, _ = strconv.Atoi(m[4])
	if g.Width <= 0 || g.Height <= 0 {
		return geometry{}, fmt.Errorf("%w: empty geometry %q", ErrInvalidOptions, s)
	}
	return g, nil
}

// xrandr prints "W/mmwxH/mmh+X+Y" for each active monitor.
var xrandrMonitorPattern = regexp.MustCompile(`^\s*\d+:\s+\S+\s+(\d+)/\d+x(\d+)/\d+\+(-?\d+)\+(-?\d+)`)

// parseXrandrMonitors reads `xrandr --listactivemonitors` output.
func parseXrandrMonitors(out string) []Source {
	var sources []Source
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		m := xrandrMonitorPattern.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		var g geometry
		g.Width, _ = strconv.Atoi(m[1])
		g.Height, _ = strconv.Atoi(m[2])
		g.X, _ = strconv.Atoi(m[3])
		g.Y, _ = strconv.Atoi(m[4])
		sources = append(sources, Source{
			ID:   sourceID(KindScreen, g.String()),
			Name: screenName(len(sources)),
			Kind: KindScreen,
		})
	}
	return sources
}

// parseWmctrl reads `wmctrl -l` output: id, desktop, host, title.
// Sticky windows (desktop -1) are panels and docks and are skipped.
func parseWmctrl(out string) []Source {
	var sources []Source
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 {
			continue
		}
		id, desktop := fields[0], fields[1]
		if !strings.HasPrefix(id, "0x") || desktop == "-1" {
			continue
		}
		title := strings.Join(fields[3:], " ")
		sources = append(sources, Source{
			ID:   sourceID(KindWindow, id),
			Name: title,
			Kind: KindWindow,
		})
	}
	return sources
}

var avfDevicePattern = regexp.MustCompile(`\[(\d+)\]\s+(.+)$`)

// parseAVFoundationDevices reads the stderr of
// `ffmpeg -f avfoundation -list_devices true -i ""` and keeps the
// "Capture screen N" video devices.
func parseAVFoundationDevices(out string) []Source {
	var sources []Source
	inVideo := false
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.Contains(line, "AVFoundation video devices"):
			inVideo = true
			continue
		case strings.Contains(line, "AVFoundation audio devices"):
			inVideo = false
			continue
		}
		if !inVideo {
			continue
		}
		m := avfDevicePattern.FindStringSubmatch(line)
		if m == nil || !strings.HasPrefix(m[2], "Capture screen") {
			continue
		}
		sources = append(sources, Source{
			ID:   sourceID(KindScreen, m[1]),
			Name: screenName(len(sources)),
			Kind: KindScreen,
		})
	}
	return sources
}

// parseWindowTitles reads one window title per line, dropping blanks and
// duplicates while keeping the first-seen order.
func parseWindowTitles(out string) []Source {
	var sources []Source
	seen := map[string]struct{}{}
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		title := strings.TrimSpace(sc.Text())
		if title == "" {
			continue
		}
		if _, dup := seen[title]; dup {
			continue
		}
		seen[title] = struct{}{}
		sources = append(sources, Source{
			ID:   sourceID(KindWindow, title),
			Name: title,
			Kind: KindWindow,
		})
	}
	return sources
}
