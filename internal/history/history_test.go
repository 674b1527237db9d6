package history

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go2tv.app/gifcast/artifact"
	"go2tv.app/gifcast/gifconv"
	"go2tv.app/gifcast/pipeline"
	"go2tv.app/gifcast/recorder"
)

func openStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestOpenCreatesDatabaseInWALMode(t *testing.T) {
	s, path := openStore(t)

	_, err := os.Stat(path)
	require.NoError(t, err)

	var mode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode;").Scan(&mode))
	assert.Equal(t, "wal", mode)

	version, err := userVersion(s.db)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestRecordRoundTrip(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()
	started := time.UnixMilli(1_700_000_000_000)

	res := &pipeline.Result{
		SessionID:  "01HX0000000000000000000000",
		SourceID:   "screen:0",
		SourceName: "Screen 1",
		Trigger:    recorder.TriggerStop,
		Status:     pipeline.StatusCompleted,
		Video:      &artifact.Video{Path: "/tmp/Screen_1.webm", Size: 45, Width: 1920, Height: 1080},
		GIF:        &artifact.GIF{Path: "/tmp/Screen_1.gif", Size: 12},
		Attempts: []gifconv.Attempt{
			{Strategy: "ffmpeg", Outcome: gifconv.OutcomeFailure, Reason: "exit status 1", Duration: 1500 * time.Millisecond},
			{Strategy: "render", Outcome: gifconv.OutcomeSuccess, Duration: 2 * time.Second},
		},
		StartedAt:  started,
		FinishedAt: started.Add(5 * time.Second),
	}
	require.NoError(t, s.Record(ctx, res))

	entries, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, res.SessionID, e.SessionID)
	assert.Equal(t, "screen:0", e.SourceID)
	assert.Equal(t, "Screen 1", e.SourceName)
	assert.Equal(t, "stop", e.Trigger)
	assert.Equal(t, pipeline.StatusCompleted, e.Status)
	assert.Equal(t, "/tmp/Screen_1.webm", e.VideoPath)
	assert.EqualValues(t, 45, e.VideoSize)
	assert.Equal(t, 1920, e.Width)
	assert.Equal(t, 1080, e.Height)
	assert.Equal(t, "/tmp/Screen_1.gif", e.GIFPath)
	assert.EqualValues(t, 12, e.GIFSize)
	assert.Empty(t, e.Error)
	assert.True(t, e.StartedAt.Equal(started))
	assert.True(t, e.FinishedAt.Equal(started.Add(5*time.Second)))
	assert.Equal(t, res.Attempts, e.Attempts)
}

func TestRecordVideoOnlyKeepsError(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	res := &pipeline.Result{
		SessionID:  "a",
		SourceName: "recorded window",
		Status:     pipeline.StatusVideoOnly,
		Video:      &artifact.Video{Path: "/tmp/recorded_window.webm", Size: 3},
		Err:        errors.New("probe failed"),
		StartedAt:  time.UnixMilli(1000),
		FinishedAt: time.UnixMilli(2000),
	}
	require.NoError(t, s.Record(ctx, res))

	entries, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "probe failed", entries[0].Error)
	assert.Zero(t, entries[0].Width)
	assert.Empty(t, entries[0].GIFPath)
	assert.Empty(t, entries[0].Attempts)
}

func TestRecordReplacesSameSession(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	res := &pipeline.Result{
		SessionID:  "a",
		SourceName: "Screen 1",
		Status:     pipeline.StatusVideoOnly,
		Attempts:   []gifconv.Attempt{{Strategy: "ffmpeg", Outcome: gifconv.OutcomeFailure}},
		FinishedAt: time.UnixMilli(1000),
	}
	require.NoError(t, s.Record(ctx, res))

	res.Status = pipeline.StatusCompleted
	res.Attempts = []gifconv.Attempt{{Strategy: "ffmpeg", Outcome: gifconv.OutcomeSuccess}}
	require.NoError(t, s.Record(ctx, res))

	entries, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, pipeline.StatusCompleted, entries[0].Status)
	require.Len(t, entries[0].Attempts, 1)
	assert.Equal(t, gifconv.OutcomeSuccess, entries[0].Attempts[0].Outcome)
}

func TestRecentNewestFirstWithLimit(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Record(ctx, &pipeline.Result{
			SessionID:  id,
			SourceName: "Screen 1",
			Status:     pipeline.StatusEmpty,
			FinishedAt: time.UnixMilli(int64(1000 * (i + 1))),
		}))
	}

	entries, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "c", entries[0].SessionID)
	assert.Equal(t, "b", entries[1].SessionID)
}

func TestRecordNil(t *testing.T) {
	s, _ := openStore(t)
	assert.ErrorIs(t, s.Record(context.Background(), nil), ErrNilResult)
}

func TestStoreImplementsJournal(t *testing.T) {
	var _ pipeline.Journal = (*Store)(nil)
}
