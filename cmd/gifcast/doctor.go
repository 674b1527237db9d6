package main

import (
	"context"
	"errors"
	"os"
	"runtime"
	"strconv"
	"strings"
)

type check struct {
	Name   string
	Detail string
	// Required checks fail the report.
	Required bool
	Passed   bool
}

type report []check

func (r report) ok() bool {
	for _, c := range r {
		if c.Required && !c.Passed {
			return false
		}
	}
	return true
}

func (a *app) diagnose(ctx context.Context) report {
	var r report

	for _, bin := range []struct{ name, path string }{
		{"ffmpeg", a.cfg.FFmpegPath},
		{"ffprobe", a.cfg.FFprobePath},
	} {
		found, err := a.lookPath(bin.path)
		c := check{Name: bin.name, Required: bin.name == "ffmpeg"}
		if err != nil {
			c.Detail = "not found: " + bin.path
			if c.Required {
				// The render fallback decodes frames with ffmpeg too.
				c.Detail += " (capture and both GIF strategies need it)"
			}
		} else {
			c.Passed, c.Detail = true, found
		}
		r = append(r, c)
	}

	r = append(r, dirCheck("downloads", a.cfg.DownloadsDir))

	if runtime.GOOS == "linux" {
		c := check{Name: "portal"}
		avail, err := a.queryPortal(ctx)
		if err != nil {
			c.Detail = "unavailable: " + err.Error()
		} else {
			kinds := make([]string, 0, 2)
			for _, k := range avail.Kinds() {
				kinds = append(kinds, string(k))
			}
			c.Passed = len(kinds) > 0
			c.Detail = "screencast v" + strconv.FormatUint(uint64(avail.Version), 10) + " sources: " + strings.Join(kinds, ", ")
		}
		r = append(r, c)
	}

	hist := check{Name: "history", Detail: a.cfg.HistoryDB}
	if a.cfg.HistoryDB == "" {
		hist.Detail = "disabled"
	} else if _, err := os.Stat(a.cfg.HistoryDB); err == nil {
		hist.Passed = true
	} else {
		hist.Detail += " (created on first recording)"
	}
	r = append(r, hist)

	cfgCheck := check{Name: "config", Passed: a.cfg.Source != "", Detail: a.cfg.Source}
	if a.cfg.Source == "" {
		cfgCheck.Detail = "defaults"
	}
	return append(r, cfgCheck)
}

func dirCheck(name, dir string) check {
	c := check{Name: name, Detail: dir, Required: true}
	fi, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		c.Passed = true
		c.Detail += " (created on first recording)"
	case err != nil:
		c.Detail += ": " + err.Error()
	case !fi.IsDir():
		c.Detail += ": not a directory"
	default:
		c.Passed = true
	}
	return c
}
