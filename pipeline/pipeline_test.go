package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go2tv.app/gifcast/artifact"
	"go2tv.app/gifcast/capture"
	"go2tv.app/gifcast/gifconv"
	"go2tv.app/gifcast/probe"
	"go2tv.app/gifcast/recorder"
)

type fakeStream struct {
	ch        chan []byte
	stops     atomic.Int32
	closeOnce sync.Once
}

func newFakeStream() *fakeStream { return &fakeStream{ch: make(chan []byte, 16)} }

func (f *fakeStream) Chunks() <-chan []byte { return f.ch }

func (f *fakeStream) Stop() error {
	f.stops.Add(1)
	f.end()
	return nil
}

func (f *fakeStream) end() { f.closeOnce.Do(func() { close(f.ch) }) }

type fakeProvider struct {
	sources  []capture.Source
	acquired atomic.Int32
	err      error
	stream   *fakeStream
}

func (p *fakeProvider) Sources(context.Context) ([]capture.Source, error) {
	return p.sources, nil
}

func (p *fakeProvider) Acquire(context.Context, string) (capture.Stream, error) {
	p.acquired.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	return p.stream, nil
}

type countingProber struct {
	calls atomic.Int32
	blob  []byte
	dim   probe.Dimensions
	err   error
}

func (p *countingProber) Probe(_ context.Context, blob []byte) (probe.Dimensions, error) {
	p.calls.Add(1)
	p.blob = blob
	return p.dim, p.err
}

type fakeStrategy struct {
	name  string
	err   error
	mu    sync.Mutex
	sizes []gifconv.Size
	paths []string
}

func (f *fakeStrategy) Name() string { return f.name }

func (f *fakeStrategy) Convert(_ context.Context, videoPath, outputPath string, size gifconv.Size) error {
	f.mu.Lock()
	f.sizes = append(f.sizes, size)
	f.paths = append(f.paths, videoPath)
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(outputPath, []byte("GIF89a"), 0o644)
}

func (f *fakeStrategy) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sizes)
}

type memJournal struct {
	mu      sync.Mutex
	results []*Result
}

func (j *memJournal) Record(_ context.Context, r *Result) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.results = append(j.results, r)
	return nil
}

type harness struct {
	dir       string
	svc       *Service
	provider  *fakeProvider
	stream    *fakeStream
	prober    *countingProber
	primary   *fakeStrategy
	secondary *fakeStrategy
	journal   *memJournal
	notified  atomic.Int32
}

func newHarness(t *testing.T, write artifact.WriteFileFunc) *harness {
	t.Helper()
	h := &harness{
		dir:       t.TempDir(),
		stream:    newFakeStream(),
		prober:    &countingProber{dim: probe.Dimensions{Width: 1000, Height: 800}},
		primary:   &fakeStrategy{name: "ffmpeg"},
		secondary: &fakeStrategy{name: "render"},
		journal:   &memJournal{},
	}
	h.provider = &fakeProvider{
		sources: []capture.Source{{ID: "screen:1", Name: "Screen 1", Kind: capture.KindScreen}},
		stream:  h.stream,
	}
	svc, err := New(Options{
		Materializer: artifact.NewMaterializer(artifact.MaterializerOptions{Dir: h.dir, WriteFile: write}),
		Prober:       h.prober,
		Converter:    gifconv.NewConverter(nil, h.primary, h.secondary),
		Journal:      h.journal,
		Notifiers: []Notifier{NotifierFunc(func(context.Context, *Result) {
			h.notified.Add(1)
		})},
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

func (h *harness) record(t *testing.T, sourceID string, chunks ...[]byte) *Result {
	t.Helper()
	job, err := h.svc.StartSession(context.Background(), h.provider, sourceID)
	require.NoError(t, err)
	for _, c := range chunks {
		h.stream.ch <- c
	}
	h.svc.StopSession()
	return waitResult(t, job)
}

func waitResult(t *testing.T, job *Job) *Result {
	t.Helper()
	select {
	case r := <-job.Done():
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("job did not finish")
		return nil
	}
}

func TestPipeline_RecordsVideoAndGIF(t *testing.T) {
	h := newHarness(t, nil)
	r := h.record(t, "screen:1", make([]byte, 10), make([]byte, 20), make([]byte, 15))

	require.NoError(t, r.Err)
	assert.Equal(t, StatusCompleted, r.Status)
	assert.Equal(t, "Screen 1", r.SourceName)
	assert.Equal(t, recorder.TriggerStop, r.Trigger)

	require.NotNil(t, r.Video)
	assert.Equal(t, filepath.Join(h.dir, "Screen_1.webm"), r.Video.Path)
	assert.Equal(t, int64(45), r.Video.Size)
	assert.Equal(t, 1000, r.Video.Width)
	assert.Equal(t, 800, r.Video.Height)
	info, err := os.Stat(r.Video.Path)
	require.NoError(t, err)
	assert.Equal(t, int64(45), info.Size())

	assert.Equal(t, int32(1), h.prober.calls.Load())
	assert.Len(t, h.prober.blob, 45)
	assert.Equal(t, []gifconv.Size{{Width: 700, Height: 560}}, h.primary.sizes)
	assert.Zero(t, h.secondary.count())

	require.NotNil(t, r.GIF)
	assert.Equal(t, filepath.Join(h.dir, "Screen_1.gif"), r.GIF.Path)
	assert.Equal(t, int32(1), h.stream.stops.Load())
	assert.Len(t, h.journal.results, 1)
	assert.Equal(t, int32(1), h.notified.Load())
}

func TestPipeline_FallsBackToSecondary(t *testing.T) {
	h := newHarness(t, nil)
	h.primary.err = errors.New("ffmpeg exited with status 1")

	r := h.record(t, "screen:1", []byte("chunk"))
	require.NoError(t, r.Err)
	assert.Equal(t, StatusCompleted, r.Status)
	assert.Equal(t, h.primary.sizes, h.secondary.sizes)
	assert.Equal(t, h.primary.paths, h.secondary.paths)
	require.Len(t, r.Attempts, 2)
	assert.Equal(t, gifconv.OutcomeFailure, r.Attempts[0].Outcome)
	assert.Equal(t, gifconv.OutcomeSuccess, r.Attempts[1].Outcome)
	assert.FileExists(t, r.Video.Path)
	assert.FileExists(t, r.GIF.Path)
}

func TestPipeline_EmptyRecording(t *testing.T) {
	h := newHarness(t, nil)
	r := h.record(t, "screen:1")

	assert.Equal(t, StatusEmpty, r.Status)
	assert.ErrorIs(t, r.Err, recorder.ErrEmptyRecording)
	assert.Nil(t, r.Video)
	assert.Zero(t, h.prober.calls.Load())

	entries, err := os.ReadDir(h.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Len(t, h.journal.results, 1)
}

func TestPipeline_WriteFailureAborts(t *testing.T) {
	h := newHarness(t, func(string, []byte) error { return syscall.ENOSPC })
	r := h.record(t, "screen:1", []byte("data"))

	assert.Equal(t, StatusFailed, r.Status)
	assert.ErrorIs(t, r.Err, artifact.ErrIOFailure)
	assert.Contains(t, r.Error, "no space left")
	assert.Zero(t, h.prober.calls.Load())
	assert.Zero(t, h.primary.count())
	assert.Zero(t, h.secondary.count())
}

func TestPipeline_SecondaryFailureKeepsVideo(t *testing.T) {
	h := newHarness(t, nil)
	h.primary.err = errors.New("primary")
	h.secondary.err = errors.New("secondary")

	r := h.record(t, "screen:1", []byte("data"))
	assert.Equal(t, StatusVideoOnly, r.Status)
	assert.ErrorIs(t, r.Err, gifconv.ErrSecondaryConversion)
	assert.FileExists(t, r.Video.Path)
	assert.Nil(t, r.GIF)
	assert.NoFileExists(t, filepath.Join(h.dir, "Screen_1.gif"))
}

func TestPipeline_ProbeTimeoutSkipsConversion(t *testing.T) {
	h := newHarness(t, nil)
	h.prober.err = probe.ErrProbeTimeout

	r := h.record(t, "screen:1", []byte("data"))
	assert.Equal(t, StatusVideoOnly, r.Status)
	assert.ErrorIs(t, r.Err, probe.ErrProbeTimeout)
	assert.FileExists(t, r.Video.Path)
	assert.Zero(t, h.primary.count())
}

func TestPipeline_UnknownSourceUsesFallbackName(t *testing.T) {
	h := newHarness(t, nil)
	r := h.record(t, "window:0xdead", []byte("data"))

	assert.Equal(t, FallbackSourceName, r.SourceName)
	assert.Equal(t, filepath.Join(h.dir, "recorded_window.webm"), r.Video.Path)
}

func TestPipeline_AcquisitionFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.provider.err = errors.New("portal denied")

	job, err := h.svc.StartSession(context.Background(), h.provider, "screen:1")
	assert.Nil(t, job)
	assert.ErrorIs(t, err, capture.ErrStreamAcquisition)
	assert.False(t, h.svc.Active())
	assert.Empty(t, h.journal.results)
}

func TestPipeline_RejectsConcurrentSessions(t *testing.T) {
	h := newHarness(t, nil)
	job, err := h.svc.StartSession(context.Background(), h.provider, "screen:1")
	require.NoError(t, err)

	_, err = h.svc.StartSession(context.Background(), h.provider, "screen:1")
	assert.ErrorIs(t, err, recorder.ErrSessionActive)
	assert.Equal(t, int32(1), h.provider.acquired.Load())

	h.stream.ch <- []byte("x")
	h.svc.StopSession()
	waitResult(t, job)
}

func TestPipeline_StreamEndCompletesJob(t *testing.T) {
	h := newHarness(t, nil)
	job, err := h.svc.StartSession(context.Background(), h.provider, "screen:1")
	require.NoError(t, err)

	h.stream.ch <- []byte("data")
	h.stream.end()

	r := waitResult(t, job)
	assert.Equal(t, recorder.TriggerStreamEnd, r.Trigger)
	assert.Equal(t, StatusCompleted, r.Status)
	h.svc.StopSession()
	assert.Equal(t, int32(1), h.stream.stops.Load())
}

func TestPipeline_CancelStopsRecording(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	job, err := h.svc.StartSession(ctx, h.provider, "screen:1")
	require.NoError(t, err)
	h.stream.ch <- []byte("data")

	cancel()
	r := waitResult(t, job)
	assert.ErrorIs(t, r.Err, context.Canceled)
	assert.Equal(t, int32(1), h.stream.stops.Load())
	assert.Len(t, h.journal.results, 1, "history is written even when cancelled")
}

func TestConvertFile(t *testing.T) {
	h := newHarness(t, nil)
	video := filepath.Join(h.dir, "clip.webm")
	require.NoError(t, os.WriteFile(video, []byte("0123456789"), 0o644))

	r, err := h.svc.ConvertFile(context.Background(), video)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, r.Status)
	assert.Equal(t, filepath.Join(h.dir, "clip.gif"), r.GIF.Path)
	assert.Equal(t, []gifconv.Size{{Width: 700, Height: 560}}, h.primary.sizes)
	assert.NotEmpty(t, r.SessionID)
	assert.Len(t, h.journal.results, 1)
}

func TestConvertFile_PathBusy(t *testing.T) {
	h := newHarness(t, nil)
	video := filepath.Join(h.dir, "clip.webm")
	require.NoError(t, os.WriteFile(video, []byte("x"), 0o644))

	release, err := h.svc.locks.acquire(context.Background(), false, filepath.Join(h.dir, "clip.gif"))
	require.NoError(t, err)
	defer release()

	_, err = h.svc.ConvertFile(context.Background(), video)
	assert.ErrorIs(t, err, ErrPathBusy)
	assert.Zero(t, h.prober.calls.Load())
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, ErrNoConfig)
}

func TestPipeline_QueuedSameNameGetsTimestampedPath(t *testing.T) {
	dir := t.TempDir()
	entered := make(chan struct{})
	gate := make(chan struct{})
	var writes atomic.Int32
	write := func(name string, data []byte) error {
		if writes.Add(1) == 1 {
			close(entered)
			<-gate
		}
		return os.WriteFile(name, data, 0o644)
	}

	svc, err := New(Options{
		Materializer: artifact.NewMaterializer(artifact.MaterializerOptions{
			Dir:       dir,
			Collision: artifact.CollisionTimestamp,
			WriteFile: write,
		}),
		Prober:    &countingProber{dim: probe.Dimensions{Width: 10, Height: 10}},
		Converter: gifconv.NewConverter(nil, &fakeStrategy{name: "ffmpeg"}),
	})
	require.NoError(t, err)

	src := capture.Source{ID: "screen:1", Name: "Screen 1"}
	begin := func(chunk string) *Job {
		stream := newFakeStream()
		job, err := svc.Begin(context.Background(), src, stream)
		require.NoError(t, err)
		stream.ch <- []byte(chunk)
		svc.StopSession()
		return job
	}

	first := begin("first")
	<-entered
	second := begin("second")
	time.Sleep(50 * time.Millisecond)
	close(gate)

	r1, r2 := waitResult(t, first), waitResult(t, second)
	require.Equal(t, StatusCompleted, r1.Status)
	require.Equal(t, StatusCompleted, r2.Status)
	assert.Equal(t, filepath.Join(dir, "Screen_1.webm"), r1.Video.Path)
	assert.NotEqual(t, r1.Video.Path, r2.Video.Path)

	got, err := os.ReadFile(r1.Video.Path)
	require.NoError(t, err)
	assert.Equal(t, "first", string(got))
	got, err = os.ReadFile(r2.Video.Path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))
}
