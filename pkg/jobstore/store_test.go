package jobstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestJob(t *testing.T, s *Store, id string) *BuildJob {
	t.Helper()
	job := &BuildJob{
		ID: id,
		Source: Source{
			RepoURL:     "https://github.com/acme/widget",
			Branch:      "main",
			AppName:     "Widget",
			BuildConfig: "Release",
		},
		RequestedBy: "dev",
	}
	require.NoError(t, s.Create(context.Background(), job))
	return job
}

func TestCreateGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	newTestJob(t, s, "job-1")

	got, err := s.Get(context.Background(), "job-1")
	require.NoError(t, err)

	assert.Equal(t, "job-1", got.ID)
	assert.Equal(t, StatusQueued, got.Status)
	assert.Equal(t, "Widget", got.Source.AppName)
	assert.Equal(t, "dev", got.RequestedBy)
	assert.Nil(t, got.EndTime)
	assert.Nil(t, got.ForkInfo)
	assert.False(t, got.ForkCleaned)
	require.Len(t, got.Log, 1)
	assert.Contains(t, got.Log[0].Message, "queued")
}

func TestGet_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetStatus_Monotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	newTestJob(t, s, "job-1")

	for _, st := range []Status{StatusForking, StatusSettingUp, StatusTriggered, StatusInProgress} {
		applied, err := s.SetStatus(ctx, "job-1", st, "moving to "+string(st), nil)
		require.NoError(t, err)
		assert.True(t, applied)
	}

	// A backward move is a no-op, not an error.
	applied, err := s.SetStatus(ctx, "job-1", StatusForking, "should not apply", nil)
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, got.Status)
}

func TestSetStatus_RepeatIsNoop(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	newTestJob(t, s, "job-1")

	applied, err := s.SetStatus(ctx, "job-1", StatusInProgress, "Build in progress", nil)
	require.NoError(t, err)
	require.True(t, applied)

	got, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	logLen := len(got.Log)

	// A second writer committing the same status changes nothing.
	applied, err = s.SetStatus(ctx, "job-1", StatusInProgress, "Build in progress", nil)
	require.NoError(t, err)
	assert.False(t, applied)

	got, err = s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, got.Status)
	assert.Len(t, got.Log, logLen, "a repeated transition must not grow the log")
}

func TestSetStatus_ExactlyOneTerminalWrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	newTestJob(t, s, "job-1")

	applied, err := s.SetStatus(ctx, "job-1", StatusCompleted, "build completed", nil)
	require.NoError(t, err)
	assert.True(t, applied)

	// Second finalizer loses the race: no status change, no end_time change.
	got, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	firstEnd := got.EndTime
	require.NotNil(t, firstEnd)

	applied, err = s.SetStatus(ctx, "job-1", StatusFailed, "timed out", nil)
	require.NoError(t, err)
	assert.False(t, applied)

	got, err = s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, firstEnd, got.EndTime)
}

func TestSetStatus_ConcurrentFinalizers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	newTestJob(t, s, "job-1")

	var wg sync.WaitGroup
	results := make([]bool, 2)
	for i, st := range []Status{StatusCompleted, StatusFailed} {
		wg.Add(1)
		go func(i int, st Status) {
			defer wg.Done()
			applied, err := s.SetStatus(ctx, "job-1", st, "finalizing", nil)
			require.NoError(t, err)
			results[i] = applied
		}(i, st)
	}
	wg.Wait()

	// Exactly one writer wins.
	assert.NotEqual(t, results[0], results[1])

	got, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, got.Status.Terminal())
	assert.NotNil(t, got.EndTime)
}

func TestSetStatus_EndTimeOnlyWhenTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	newTestJob(t, s, "job-1")

	_, err := s.SetStatus(ctx, "job-1", StatusInProgress, "", nil)
	require.NoError(t, err)

	got, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Nil(t, got.EndTime)

	et := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	_, err = s.SetStatus(ctx, "job-1", StatusFailed, "boom", &et)
	require.NoError(t, err)

	got, err = s.Get(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, got.EndTime)
	assert.Equal(t, et, got.EndTime.UTC())
}

func TestLogAppendOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	newTestJob(t, s, "job-1")

	var prev []LogEntry
	ops := []func(){
		func() { _ = mustAppend(t, s, "job-1", "one") },
		func() { _, _ = s.SetStatus(ctx, "job-1", StatusForking, "two", nil) },
		func() { _ = mustAppend(t, s, "job-1", "three") },
		func() { _, _ = s.SetStatus(ctx, "job-1", StatusFailed, "four", nil) },
		// Appends after a terminal transition still land (cleanup warnings).
		func() { _ = mustAppend(t, s, "job-1", "five") },
	}

	for _, op := range ops {
		op()
		got, err := s.Get(ctx, "job-1")
		require.NoError(t, err)

		// Prefix-extension property: never shorter, never reordered.
		require.GreaterOrEqual(t, len(got.Log), len(prev))
		for i := range prev {
			assert.Equal(t, prev[i].Seq, got.Log[i].Seq)
			assert.Equal(t, prev[i].Message, got.Log[i].Message)
		}
		prev = got.Log
	}

	assert.Len(t, prev, 6) // initial line + five ops
}

func mustAppend(t *testing.T, s *Store, id, msg string) error {
	t.Helper()
	err := s.AppendLog(context.Background(), id, msg)
	require.NoError(t, err)
	return err
}

func TestSetForkInfo_ExactlyOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	newTestJob(t, s, "job-1")

	fi := ForkInfo{Owner: "build-bot", Repo: "widget-abc", URL: "https://github.com/build-bot/widget-abc", Branch: "main"}
	require.NoError(t, s.SetForkInfo(ctx, "job-1", fi))

	err := s.SetForkInfo(ctx, "job-1", ForkInfo{Owner: "other"})
	require.Error(t, err)

	got, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, got.ForkInfo)
	assert.Equal(t, "build-bot", got.ForkInfo.Owner)

	require.NoError(t, s.SetForkCleaned(ctx, "job-1"))
	got, err = s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, got.ForkCleaned)
}

func TestCompleteWithArtifact(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	newTestJob(t, s, "job-1")

	info := &AppInfo{Name: "Widget", Version: "1.2.0", BuildNumber: "202608011200", BundleID: "com.acme.widget"}
	applied, err := s.CompleteWithArtifact(ctx, "job-1", "ref-1", "Widget.ipa", info, "Build completed")
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.NotNil(t, got.EndTime)
	assert.Equal(t, "ref-1", got.ArtifactRef)
	assert.Equal(t, "Widget.ipa", got.OutputFilename)
	require.NotNil(t, got.AppInfo)
	assert.Equal(t, "1.2.0", got.AppInfo.Version)
	assert.Contains(t, got.LogText(), "Build completed")
}

func TestCompleteWithArtifact_TerminalJobUntouched(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	newTestJob(t, s, "job-1")

	applied, err := s.SetStatus(ctx, "job-1", StatusFailed, "timed out", nil)
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = s.CompleteWithArtifact(ctx, "job-1", "ref-1", "Widget.ipa", nil, "Build completed")
	require.NoError(t, err)
	assert.False(t, applied)

	// The losing completion writes nothing, artifact columns included.
	got, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Empty(t, got.ArtifactRef)
	assert.Empty(t, got.OutputFilename)
	assert.Nil(t, got.AppInfo)
}

func TestListNonterminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	newTestJob(t, s, "job-1")
	newTestJob(t, s, "job-2")
	newTestJob(t, s, "job-3")

	_, err := s.SetStatus(ctx, "job-2", StatusCompleted, "done", nil)
	require.NoError(t, err)

	open, err := s.ListNonterminal(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(open))
	for _, j := range open {
		ids = append(ids, j.ID)
	}
	assert.ElementsMatch(t, []string{"job-1", "job-3"}, ids)
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	newTestJob(t, s, "job-1")

	require.NoError(t, s.Delete(ctx, "job-1"))
	_, err := s.Get(ctx, "job-1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.Delete(ctx, "job-1"), ErrNotFound)
}
