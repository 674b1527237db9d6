package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"go2tv.app/gifcast/capture"
	"go2tv.app/gifcast/gifconv"
	"go2tv.app/gifcast/internal/history"
	"go2tv.app/gifcast/pipeline"
)

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printSources(w io.Writer, sources []capture.Source) error {
	if len(sources) == 0 {
		_, err := fmt.Fprintln(w, "no sources found")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tNAME")
	for _, s := range sources {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.ID, s.Kind, s.Name)
	}
	return tw.Flush()
}

func printResult(w io.Writer, r *pipeline.Result) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "session\t%s\n", r.SessionID)
	fmt.Fprintf(tw, "status\t%s\n", r.Status)
	if r.Video != nil {
		line := fmt.Sprintf("%s (%d bytes", r.Video.Path, r.Video.Size)
		if r.Video.Width > 0 {
			line += fmt.Sprintf(", %dx%d", r.Video.Width, r.Video.Height)
		}
		fmt.Fprintf(tw, "video\t%s)\n", line)
	}
	if r.GIF != nil {
		fmt.Fprintf(tw, "gif\t%s (%d bytes)\n", r.GIF.Path, r.GIF.Size)
	}
	for _, at := range r.Attempts {
		fmt.Fprintf(tw, "attempt\t%s\n", formatAttempt(at))
	}
	if r.Error != "" {
		fmt.Fprintf(tw, "error\t%s\n", r.Error)
	}
	_ = tw.Flush()
}

func printHistory(w io.Writer, entries []history.Entry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "no recordings yet")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FINISHED\tSTATUS\tSOURCE\tOUTPUT")
	for _, e := range entries {
		output := e.GIFPath
		if output == "" {
			output = e.VideoPath
		}
		if output == "" {
			output = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.FinishedAt.Local().Format(time.DateTime), e.Status, e.SourceName, output)
		for _, at := range e.Attempts {
			fmt.Fprintf(tw, "\t\t  %s\t\n", formatAttempt(at))
		}
		if e.Error != "" {
			fmt.Fprintf(tw, "\t\t  error: %s\t\n", e.Error)
		}
	}
	return tw.Flush()
}

func printReport(w io.Writer, r report) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, c := range r {
		mark := "ok"
		switch {
		case !c.Passed && c.Required:
			mark = "FAIL"
		case !c.Passed:
			mark = "warn"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", mark, c.Name, c.Detail)
	}
	_ = tw.Flush()
}

func formatAttempt(a gifconv.Attempt) string {
	s := fmt.Sprintf("%s %s in %s", a.Strategy, a.Outcome, a.Duration.Round(time.Millisecond))
	if a.Reason != "" {
		s += ": " + a.Reason
	}
	return s
}
