package main

import (
	"context"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"go2tv.app/gifcast/artifact"
	"go2tv.app/gifcast/capture"
	"go2tv.app/gifcast/config"
	"go2tv.app/gifcast/gifconv"
	"go2tv.app/gifcast/internal/apis"
	"go2tv.app/gifcast/internal/desktop"
	"go2tv.app/gifcast/internal/history"
	"go2tv.app/gifcast/internal/portal"
	"go2tv.app/gifcast/pipeline"
	"go2tv.app/gifcast/probe"
)

const portalQueryTimeout = 3 * time.Second

// app carries what the commands share. The function fields are swapped out
// in tests.
type app struct {
	cfg *config.Config
	log *slog.Logger
	out io.Writer

	provider    func(vncAddress string) capture.Provider
	prober      func() probe.Prober
	strategies  func() []gifconv.Strategy
	desktop     func() pipeline.Notifier
	lookPath    func(file string) (string, error)
	queryPortal func(ctx context.Context) (portal.Availability, error)
}

func newApp(cfg *config.Config, log *slog.Logger, out io.Writer) *app {
	a := &app{cfg: cfg, log: log, out: out, lookPath: exec.LookPath}

	a.provider = func(vncAddress string) capture.Provider {
		if vncAddress != "" {
			return capture.NewVNCProvider(&capture.VNCOptions{
				Address:    vncAddress,
				FFmpegPath: a.cfg.FFmpegPath,
				StopGrace:  a.cfg.StopGrace,
				Logger:     a.log,
			})
		}
		return capture.NewFFmpegProvider(&capture.FFmpegOptions{
			FFmpegPath: a.cfg.FFmpegPath,
			StopGrace:  a.cfg.StopGrace,
			Logger:     a.log,
		})
	}
	a.prober = func() probe.Prober {
		return probe.Default(probe.Options{
			FFprobePath: a.cfg.FFprobePath,
			Timeout:     a.cfg.ProbeTimeout,
			Logger:      a.log,
		})
	}
	a.strategies = func() []gifconv.Strategy {
		return []gifconv.Strategy{
			&gifconv.FFmpeg{Path: a.cfg.FFmpegPath, Logger: a.log},
			&gifconv.Render{
				Frames: &gifconv.FFmpegFrames{Path: a.cfg.FFmpegPath, Logger: a.log},
				Logger: a.log,
			},
		}
	}
	a.desktop = func() pipeline.Notifier {
		return desktop.New(desktop.Options{Logger: a.log})
	}
	a.queryPortal = func(ctx context.Context) (portal.Availability, error) {
		bus, err := apis.SessionBus()
		if err != nil {
			return portal.Availability{}, err
		}
		ctx, cancel := context.WithTimeout(ctx, portalQueryTimeout)
		defer cancel()
		return portal.Query(ctx, bus)
	}
	return a
}

// vncAddress prefers the flag over the config file.
func (a *app) vncAddress(flag string) string {
	if v := strings.TrimSpace(flag); v != "" {
		return v
	}
	return a.cfg.VNCAddress
}

// openHistory opens the journal. A journal that cannot be opened is logged
// and skipped; recording still works without it.
func (a *app) openHistory() *history.Store {
	if a.cfg.HistoryDB == "" {
		return nil
	}
	store, err := history.Open(a.cfg.HistoryDB)
	if err != nil {
		a.log.Warn("history journal unavailable", "path", a.cfg.HistoryDB, "err", err)
		return nil
	}
	return store
}

// newService wires the pipeline. The returned close func releases the
// journal.
func (a *app) newService(notify bool) (*pipeline.Service, func(), error) {
	opts := pipeline.Options{
		Materializer: artifact.NewMaterializer(artifact.MaterializerOptions{
			Dir:       a.cfg.DownloadsDir,
			Collision: a.cfg.Collision,
			Logger:    a.log,
		}),
		Prober:    a.prober(),
		Converter: gifconv.NewConverter(a.log, a.strategies()...),
		Logger:    a.log,
	}

	closeFn := func() {}
	if store := a.openHistory(); store != nil {
		opts.Journal = store
		closeFn = func() { _ = store.Close() }
	}
	if notify && a.cfg.Notify && a.desktop != nil {
		opts.Notifiers = append(opts.Notifiers, a.desktop())
	}

	svc, err := pipeline.New(opts)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return svc, closeFn, nil
}
