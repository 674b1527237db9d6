// Package pipeline runs a recording from capture to files on disk:
// materialize the video, probe its size, then derive the GIF.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"go2tv.app/gifcast/artifact"
	"go2tv.app/gifcast/capture"
	"go2tv.app/gifcast/gifconv"
	"go2tv.app/gifcast/internal/logging"
	"go2tv.app/gifcast/probe"
	"go2tv.app/gifcast/recorder"
)

// FallbackSourceName names recordings whose source is not in the
// enumerated list.
const FallbackSourceName = "recorded window"

var (
	ErrPathBusy = errors.New("output path is in use by another job")
	ErrNoConfig = errors.New("pipeline: materializer, prober and converter are required")
)

type Status string

const (
	// StatusCompleted means both video and GIF were written.
	StatusCompleted Status = "completed"
	// StatusVideoOnly means the video was kept but no GIF was produced.
	StatusVideoOnly Status = "video_only"
	// StatusFailed means nothing was written.
	StatusFailed Status = "failed"
	// StatusEmpty means the recording captured no data.
	StatusEmpty Status = "empty"
)

// Result is the completion notice of one job.
type Result struct {
	SessionID  string            `json:"session_id"`
	SourceID   string            `json:"source_id,omitempty"`
	SourceName string            `json:"source_name"`
	Trigger    recorder.Trigger  `json:"trigger,omitempty"`
	Status     Status            `json:"status"`
	Video      *artifact.Video   `json:"video,omitempty"`
	GIF        *artifact.GIF     `json:"gif,omitempty"`
	Attempts   []gifconv.Attempt `json:"attempts,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Err        error             `json:"-"`
	Error      string            `json:"error,omitempty"`
}

// Notifier is told about every finished job.
type Notifier interface {
	Notify(ctx context.Context, r *Result)
}

type NotifierFunc func(ctx context.Context, r *Result)

func (f NotifierFunc) Notify(ctx context.Context, r *Result) { f(ctx, r) }

// Journal persists finished jobs.
type Journal interface {
	Record(ctx context.Context, r *Result) error
}

type Options struct {
	Materializer *artifact.Materializer
	Prober       probe.Prober
	Converter    *gifconv.Converter
	// Controller defaults to a fresh recorder.Controller.
	Controller *recorder.Controller
	Journal    Journal
	Notifiers  []Notifier
	Logger     *slog.Logger
}

type Service struct {
	opts  Options
	ctrl  *recorder.Controller
	locks *pathLocks
	log   *slog.Logger
	wg    sync.WaitGroup
}

func New(opts Options) (*Service, error) {
	if opts.Materializer == nil || opts.Prober == nil || opts.Converter == nil {
		return nil, ErrNoConfig
	}
	log := logging.OrDiscard(opts.Logger)
	ctrl := opts.Controller
	if ctrl == nil {
		ctrl = recorder.NewController(&recorder.ControllerOptions{Logger: log})
	}
	return &Service{opts: opts, ctrl: ctrl, locks: newPathLocks(), log: log}, nil
}

// Job tracks one recording or conversion.
type Job struct {
	Source  capture.Source
	Session *recorder.Session
	done    chan *Result
}

// Done delivers exactly one Result.
func (j *Job) Done() <-chan *Result {
	return j.done
}

// Stop ends the job's recording. It does nothing for conversions.
func (j *Job) Stop() {
	if j.Session != nil {
		j.Session.Stop()
	}
}

// Active reports whether a recording is in progress.
func (s *Service) Active() bool {
	return s.ctrl.Active()
}

// StartSession acquires sourceID from provider and starts recording it.
// Acquisition failures wrap capture.ErrStreamAcquisition and leave the
// service idle.
func (s *Service) StartSession(ctx context.Context, provider capture.Provider, sourceID string) (*Job, error) {
	if s.ctrl.Active() {
		return nil, recorder.ErrSessionActive
	}

	src := capture.Source{ID: sourceID, Name: FallbackSourceName}
	sources, err := provider.Sources(ctx)
	if err != nil {
		s.log.Debug("source enumeration failed, using fallback name", "source_id", sourceID, "err", err)
	} else if found, ok := capture.Find(sources, sourceID); ok {
		src = found
	}

	stream, err := provider.Acquire(ctx, sourceID)
	if err != nil {
		if !errors.Is(err, capture.ErrStreamAcquisition) {
			err = fmt.Errorf("%w: %w", capture.ErrStreamAcquisition, err)
		}
		s.log.Error("could not acquire capture stream", "source_id", sourceID, "err", err)
		return nil, err
	}

	job, err := s.Begin(ctx, src, stream)
	if err != nil {
		_ = stream.Stop()
		return nil, err
	}
	return job, nil
}

// Begin records an already acquired stream. Cancelling ctx stops the
// recording and aborts whichever later stage is running.
func (s *Service) Begin(ctx context.Context, src capture.Source, stream capture.Stream) (*Job, error) {
	if src.Name == "" {
		src.Name = FallbackSourceName
	}
	sess, err := s.ctrl.Start(stream, src.Name)
	if err != nil {
		return nil, err
	}

	job := &Job{Source: src, Session: sess, done: make(chan *Result, 1)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx, job)
	}()
	return job, nil
}

// StopSession stops the active recording, if any. Processing continues in
// the background and reports on Job.Done.
func (s *Service) StopSession() {
	s.ctrl.Stop()
}

// Wait blocks until every started job has delivered its result.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) run(ctx context.Context, job *Job) {
	var rec recorder.Recording
	select {
	case rec = <-job.Session.Done():
	case <-ctx.Done():
		job.Session.Stop()
		rec = <-job.Session.Done()
	}

	r := &Result{
		SessionID:  rec.SessionID,
		SourceID:   job.Source.ID,
		SourceName: rec.SourceName,
		Trigger:    rec.Trigger,
		StartedAt:  rec.StartedAt,
	}
	s.process(ctx, r, rec)
	s.deliver(ctx, r, job.done)
}

func (s *Service) process(ctx context.Context, r *Result, rec recorder.Recording) {
	log := s.log.With("session", r.SessionID, "source", r.SourceName)

	if rec.Err != nil {
		r.Status, r.Err = StatusEmpty, rec.Err
		return
	}

	base := artifact.PathsFor(s.opts.Materializer.Dir(), rec.SourceName)
	release, err := s.locks.acquire(ctx, true, base.Video, base.GIF)
	if err != nil {
		r.Status, r.Err = StatusFailed, err
		return
	}
	defer release()

	// Resolved only now so earlier jobs for this name have written their files.
	paths := s.opts.Materializer.Paths(rec.SourceName)
	if paths != base {
		releaseResolved, err := s.locks.acquire(ctx, true, paths.Video, paths.GIF)
		if err != nil {
			r.Status, r.Err = StatusFailed, err
			return
		}
		defer releaseResolved()
	}

	blob := artifact.Assemble(rec.Chunks)
	video, err := s.opts.Materializer.Write(ctx, paths.Video, blob)
	if err != nil {
		log.Error("could not write video", "path", paths.Video, "err", err)
		r.Status, r.Err = StatusFailed, err
		return
	}
	r.Video = video
	s.convert(ctx, log, r, blob, paths.GIF)
}

// convert probes blob and derives the GIF. r.Video must be set.
func (s *Service) convert(ctx context.Context, log *slog.Logger, r *Result, blob []byte, gifPath string) {
	dim, err := s.opts.Prober.Probe(ctx, blob)
	if err != nil {
		log.Error("could not read video dimensions", "path", r.Video.Path, "err", err)
		r.Status, r.Err = StatusVideoOnly, err
		return
	}
	r.Video.Width, r.Video.Height = dim.Width, dim.Height

	size := gifconv.TargetSize(dim)
	log.Debug("converting to gif", "width", size.Width, "height", size.Height)
	gif, attempts, err := s.opts.Converter.Convert(ctx, r.Video.Path, gifPath, size)
	r.Attempts = attempts
	if err != nil {
		log.Error("gif conversion failed, video kept", "video", r.Video.Path, "err", err)
		r.Status, r.Err = StatusVideoOnly, err
		return
	}
	r.GIF = gif
	r.Status = StatusCompleted
}

// ConvertFile derives a GIF next to an existing video. It fails with
// ErrPathBusy when another job is writing either file.
func (s *Service) ConvertFile(ctx context.Context, videoPath string) (*Result, error) {
	now := time.Now()
	r := &Result{SessionID: recorder.NewID(now), SourceName: videoPath, StartedAt: now}
	gifPath := artifact.GIFPathFor(videoPath)

	release, err := s.locks.acquire(ctx, false, videoPath, gifPath)
	if err != nil {
		return nil, err
	}
	defer release()

	blob, err := os.ReadFile(videoPath)
	if err != nil {
		return nil, err
	}
	r.Video = &artifact.Video{Path: videoPath, Size: int64(len(blob))}

	s.convert(ctx, s.log.With("session", r.SessionID, "video", videoPath), r, blob, gifPath)
	s.deliver(ctx, r, nil)
	return r, r.Err
}

func (s *Service) deliver(ctx context.Context, r *Result, done chan *Result) {
	r.FinishedAt = time.Now()
	if r.Err != nil {
		r.Error = r.Err.Error()
	}

	switch r.Status {
	case StatusCompleted:
		s.log.Info("recording saved", "session", r.SessionID, "video", r.Video.Path, "gif", r.GIF.Path)
	case StatusEmpty:
		s.log.Warn("recording was empty, no files written", "session", r.SessionID, "source", r.SourceName)
	default:
		s.log.Warn("job finished with errors", "session", r.SessionID, "status", r.Status, "err", r.Err)
	}

	// Bookkeeping outlives a cancelled job.
	ctx = context.WithoutCancel(ctx)
	if s.opts.Journal != nil {
		if err := s.opts.Journal.Record(ctx, r); err != nil {
			s.log.Warn("could not record job history", "session", r.SessionID, "err", err)
		}
	}
	for _, n := range s.opts.Notifiers {
		n.Notify(ctx, r)
	}

	if done != nil {
		done <- r
		close(done)
	}
}
