package journal

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/coral-profiler/internal/profiling/task"
	"github.com/coral-mesh/coral-profiler/internal/testutil"
)

func openTestJournal(t *testing.T, path string) *Journal {
	t.Helper()
	ctx, cancel := testutil.NewTestContext()
	defer cancel()

	j, err := Open(ctx, path, testutil.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func newTask(t *testing.T, id string, createTime int64) *task.Task {
	t.Helper()
	tk, err := task.New(task.Descriptor{TaskID: id, Duration: 5, CreateTime: createTime, Format: task.FormatJFR}, t.TempDir())
	require.NoError(t, err)
	return tk
}

func TestJournal_AcceptAndOutcome(t *testing.T) {
	j := openTestJournal(t, MemoryPath)
	ctx := context.Background()

	last, err := j.LastCreateTime(ctx)
	require.NoError(t, err)
	assert.Zero(t, last, "empty journal")

	require.NoError(t, j.RecordAccepted(ctx, newTask(t, "t1", 100)))
	require.NoError(t, j.RecordAccepted(ctx, newTask(t, "t2", 200)))

	last, err = j.LastCreateTime(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(200), last)

	rec, err := j.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "starting", rec.State)
	assert.Equal(t, "JFR", rec.Format)
	assert.Equal(t, 5, rec.Duration)
	assert.Zero(t, rec.FinishedAt)

	require.NoError(t, j.RecordOutcome(ctx, "t1", task.StateDone, "ok"))
	rec, err = j.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "done", rec.State)
	assert.Equal(t, "ok", rec.Detail)
	assert.NotZero(t, rec.FinishedAt)

	recent, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "t2", recent[0].TaskID)
}

func TestJournal_OutcomeForUnknownTask(t *testing.T) {
	j := openTestJournal(t, MemoryPath)

	err := j.RecordOutcome(context.Background(), "missing", task.StateDone, "ok")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not journaled")

	_, err = j.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestJournal_Prune(t *testing.T) {
	j := openTestJournal(t, MemoryPath)
	ctx := context.Background()

	base := time.Now()
	j.now = func() time.Time { return base.Add(-48 * time.Hour) }
	require.NoError(t, j.RecordAccepted(ctx, newTask(t, "old", 100)))
	require.NoError(t, j.RecordOutcome(ctx, "old", task.StateDone, "ok"))
	require.NoError(t, j.RecordAccepted(ctx, newTask(t, "newest", 300)))
	require.NoError(t, j.RecordOutcome(ctx, "newest", task.StateDone, "ok"))

	j.now = func() time.Time { return base }
	require.NoError(t, j.RecordAccepted(ctx, newTask(t, "running", 200)))

	n, err := j.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = j.Get(ctx, "old")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	_, err = j.Get(ctx, "running")
	assert.NoError(t, err, "unfinished tasks are kept")
	_, err = j.Get(ctx, "newest")
	assert.NoError(t, err, "newest task anchors the watermark")

	last, err := j.LastCreateTime(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(300), last)
}

func TestJournal_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "journal.duckdb")

	j := openTestJournal(t, path)
	require.NoError(t, j.RecordAccepted(context.Background(), newTask(t, "t1", 700)))
	require.NoError(t, j.Close())

	reopened := openTestJournal(t, path)
	last, err := reopened.LastCreateTime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(700), last)
}
