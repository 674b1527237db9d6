package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"go2tv.app/gifcast/capture"
	"go2tv.app/gifcast/pipeline"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(a *app) *cli.App {
	cliApp := &cli.App{
		Name:    "gifcast",
		Usage:   "Record the screen and turn it into a GIF",
		Version: Version,
		Writer:  a.out,
		Commands: []*cli.Command{
			sourcesCmd(a),
			recordCmd(a),
			convertCmd(a),
			historyCmd(a),
			doctorCmd(a),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	cliApp.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return cliApp
}

func vncFlag() cli.Flag {
	return &cli.StringFlag{Name: "vnc", Usage: "Record a VNC server at host:port instead of the local desktop"}
}

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{Name: "json", Usage: "Print JSON"}
}

func sourcesCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:  "sources",
		Usage: "List screens and windows that can be recorded",
		Flags: []cli.Flag{vncFlag(), jsonFlag()},
		Action: func(c *cli.Context) error {
			sources, err := a.provider(a.vncAddress(c.String("vnc"))).Sources(c.Context)
			if err != nil {
				return outputError(err)
			}
			if c.Bool("json") {
				return outputJSON(a.out, sources)
			}
			return printSources(a.out, sources)
		},
	}
}

func recordCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:  "record",
		Usage: "Record a source until Ctrl+C, then save the video and a GIF",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "source", Aliases: []string{"s"}, Usage: "Source ID from 'gifcast sources' (defaults to the first one)"},
			&cli.DurationFlag{Name: "duration", Aliases: []string{"d"}, Usage: "Stop after this long (0 records until interrupted)"},
			&cli.BoolFlag{Name: "no-notify", Usage: "Skip the desktop notification"},
			vncFlag(),
			jsonFlag(),
		},
		Action: func(c *cli.Context) error {
			provider := a.provider(a.vncAddress(c.String("vnc")))

			sourceID := c.String("source")
			if sourceID == "" {
				id, err := defaultSource(c.Context, provider)
				if err != nil {
					return outputError(err)
				}
				sourceID = id
			}

			svc, closeSvc, err := a.newService(!c.Bool("no-notify"))
			if err != nil {
				return outputError(err)
			}
			defer closeSvc()

			sig := make(chan os.Signal, 2)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sig)

			r, err := record(c.Context, a, svc, provider, sourceID, c.Duration("duration"), sig)
			if err != nil {
				return outputError(err)
			}
			return finish(a, c.Bool("json"), r)
		},
	}
}

// record runs one session. The first signal stops the recording; a second
// one aborts processing.
func record(ctx context.Context, a *app, svc *pipeline.Service, provider capture.Provider, sourceID string, limit time.Duration, sig <-chan os.Signal) (*pipeline.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	job, err := svc.StartSession(ctx, provider, sourceID)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(a.out, "Recording %s (session %s). Press Ctrl+C to stop.\n", job.Source.Name, job.Session.ID)

	var timeout <-chan time.Time
	if limit > 0 {
		timer := time.NewTimer(limit)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case r := <-job.Done():
		return r, nil
	case <-sig:
	case <-timeout:
	case <-ctx.Done():
	}
	svc.StopSession()
	fmt.Fprintln(a.out, "Saving...")

	for {
		select {
		case r := <-job.Done():
			return r, nil
		case <-sig:
			a.log.Warn("aborting", "session", job.Session.ID)
			cancel()
		}
	}
}

func defaultSource(ctx context.Context, provider capture.Provider) (string, error) {
	sources, err := provider.Sources(ctx)
	if err != nil {
		return "", err
	}
	if len(sources) == 0 {
		return "", capture.ErrSourceNotFound
	}
	return sources[0].ID, nil
}

func convertCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:      "convert",
		Usage:     "Make a GIF from an existing video",
		ArgsUsage: "<video>",
		Flags:     []cli.Flag{jsonFlag()},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("convert needs exactly one video path", 1)
			}

			svc, closeSvc, err := a.newService(false)
			if err != nil {
				return outputError(err)
			}
			defer closeSvc()

			r, err := svc.ConvertFile(c.Context, c.Args().First())
			if r == nil {
				return outputError(err)
			}
			if ferr := finish(a, c.Bool("json"), r); ferr != nil || err == nil {
				return ferr
			}
			return outputError(err)
		},
	}
}

func historyCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show recent recordings and conversion attempts",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 10, Usage: "Number of entries (0 for all)"},
			jsonFlag(),
		},
		Action: func(c *cli.Context) error {
			store := a.openHistory()
			if store == nil {
				return cli.Exit("history journal is not available", 1)
			}
			defer store.Close()

			entries, err := store.Recent(c.Context, c.Int("limit"))
			if err != nil {
				return outputError(err)
			}
			if c.Bool("json") {
				return outputJSON(a.out, entries)
			}
			return printHistory(a.out, entries)
		},
	}
}

func doctorCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:  "doctor",
		Usage: "Check that recording prerequisites are in place",
		Action: func(c *cli.Context) error {
			report := a.diagnose(c.Context)
			printReport(a.out, report)
			if !report.ok() {
				return cli.Exit("some prerequisites are missing", 1)
			}
			return nil
		},
	}
}

// finish prints r and turns every status but completed into a non-zero
// exit.
func finish(a *app, asJSON bool, r *pipeline.Result) error {
	if asJSON {
		if err := outputJSON(a.out, r); err != nil {
			return err
		}
	} else {
		printResult(a.out, r)
	}

	switch r.Status {
	case pipeline.StatusFailed:
		return cli.Exit("recording failed", 1)
	case pipeline.StatusEmpty:
		return cli.Exit("nothing was recorded", 1)
	case pipeline.StatusVideoOnly:
		path := ""
		if r.Video != nil {
			path = r.Video.Path
		}
		return cli.Exit("gif conversion failed, video kept at "+path, 4)
	}
	return nil
}

// outputError formats error for CLI.
func outputError(err error) error {
	switch {
	case errors.Is(err, capture.ErrNotImplemented):
		return cli.Exit(err.Error()+" (try --vnc)", 2)
	case errors.Is(err, pipeline.ErrPathBusy):
		return cli.Exit(err.Error(), 3)
	}
	return cli.Exit(err.Error(), 1)
}
