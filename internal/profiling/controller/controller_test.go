package controller

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/coral-profiler/internal/profiling/engine"
	"github.com/coral-mesh/coral-profiler/internal/profiling/task"
	"github.com/coral-mesh/coral-profiler/internal/profiling/uploader"
	"github.com/coral-mesh/coral-profiler/internal/testutil"
)

// fakeEngine records commands. Stop writes artifact to the file named in the
// stop line unless artifact is nil.
type fakeEngine struct {
	mu          sync.Mutex
	commands    []string
	startStatus string
	startErr    error
	stopErr     error
	artifact    []byte
	release     chan struct{}
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{startStatus: engine.StatusStarted, artifact: []byte("<html>flame</html>")}
}

func (e *fakeEngine) Execute(cmd string) (string, error) {
	e.mu.Lock()
	e.commands = append(e.commands, cmd)
	release := e.release
	e.mu.Unlock()

	if strings.HasPrefix(cmd, "start") {
		if release != nil {
			<-release
		}
		return e.startStatus, e.startErr
	}

	if e.stopErr != nil {
		return "", e.stopErr
	}
	_, file, _ := strings.Cut(cmd, "file=")
	if e.artifact != nil {
		if err := os.WriteFile(file, e.artifact, 0o600); err != nil {
			return "", err
		}
	}
	return engine.StatusOK, nil
}

func (e *fakeEngine) calls(prefix string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, c := range e.commands {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

type upload struct {
	taskID  string
	size    int64
	content []byte
	path    string
}

type fakeUploader struct {
	mu      sync.Mutex
	data    []upload
	errs    []string
	dataErr error
}

func (u *fakeUploader) SendData(_ context.Context, t *task.Task, a uploader.Artifact) error {
	content, _ := io.ReadAll(a)
	u.mu.Lock()
	defer u.mu.Unlock()
	u.data = append(u.data, upload{taskID: t.ID(), size: a.Size(), content: content, path: t.OutputPath()})
	return u.dataErr
}

func (u *fakeUploader) SendError(_ context.Context, t *task.Task, message string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.errs = append(u.errs, t.ID()+": "+message)
	return nil
}

func (u *fakeUploader) uploads() []upload {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]upload(nil), u.data...)
}

func (u *fakeUploader) errorReports() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.errs...)
}

type decision struct {
	taskID string
	err    error
}

type harness struct {
	ctrl      *Controller
	engine    *fakeEngine
	uploader  *fakeUploader
	decisions chan decision
	dir       string
}

func newHarness(t *testing.T, eng *fakeEngine, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		engine:    eng,
		uploader:  &fakeUploader{},
		decisions: make(chan decision, 16),
		dir:       t.TempDir(),
	}
	opts = append([]Option{
		WithTimeUnit(time.Millisecond),
		WithAdmissionHook(func(tk *task.Task, err error) {
			h.decisions <- decision{taskID: tk.ID(), err: err}
		}),
	}, opts...)
	h.ctrl = New(eng, h.uploader, testutil.NewTestLogger(t), opts...)
	t.Cleanup(func() { _ = h.ctrl.Shutdown(context.Background()) })
	return h
}

func (h *harness) task(t *testing.T, id string, duration int, createTime int64) *task.Task {
	t.Helper()
	tk, err := task.New(task.Descriptor{TaskID: id, Duration: duration, CreateTime: createTime, Format: task.FormatHTML}, h.dir)
	require.NoError(t, err)
	return tk
}

func (h *harness) submit(t *testing.T, tk *task.Task) error {
	t.Helper()
	require.NoError(t, h.ctrl.Submit(tk))
	select {
	case d := <-h.decisions:
		require.Equal(t, tk.ID(), d.taskID)
		return d.err
	case <-time.After(2 * time.Second):
		t.Fatalf("no admission decision for %s", tk.ID())
		return nil
	}
}

func (h *harness) idle() bool {
	return h.ctrl.Status().ActiveTaskID == ""
}

func TestScenario_TaskRunsAndUploads(t *testing.T) {
	h := newHarness(t, newFakeEngine())
	t1 := h.task(t, "t1", 5, 100)

	require.NoError(t, h.submit(t, t1))

	starts := h.engine.calls("start")
	require.Len(t, starts, 1)
	wantFile := filepath.Join(h.dir, "t1.html")
	assert.Contains(t, starts[0], "file="+wantFile)

	require.True(t, testutil.Eventually(t, 2*time.Second, h.idle))

	assert.Equal(t, []string{"stop,file=" + wantFile}, h.engine.calls("stop"))

	uploads := h.uploader.uploads()
	require.Len(t, uploads, 1)
	assert.Equal(t, "t1", uploads[0].taskID)
	assert.Equal(t, int64(len(h.engine.artifact)), uploads[0].size)
	assert.Equal(t, h.engine.artifact, uploads[0].content)
	assert.Empty(t, h.uploader.errorReports())

	assert.NoFileExists(t, wantFile, "artifact deleted after upload")
	require.NoError(t, t1.RemoveArtifact(), "second deletion is a no-op")

	status := h.ctrl.Status()
	assert.Equal(t, task.StateDone, status.State)
	assert.Equal(t, int64(100), status.LastAcceptedCreateTime)
}

func TestScenario_StaleTaskRejected(t *testing.T) {
	h := newHarness(t, newFakeEngine())

	require.NoError(t, h.submit(t, h.task(t, "t1", 5, 100)))
	require.True(t, testutil.Eventually(t, 2*time.Second, h.idle))

	err := h.submit(t, h.task(t, "t2", 5, 50))
	require.ErrorIs(t, err, ErrStaleTask)

	err = h.submit(t, h.task(t, "t3", 5, 100))
	require.ErrorIs(t, err, ErrStaleTask, "equal create time is a duplicate")

	status := h.ctrl.Status()
	assert.Equal(t, int64(100), status.LastAcceptedCreateTime)
	assert.Empty(t, status.ActiveTaskID)
	assert.Len(t, h.engine.calls("start"), 1)
}

func TestRejectWhileRunning(t *testing.T) {
	h := newHarness(t, newFakeEngine())

	require.NoError(t, h.submit(t, h.task(t, "t1", 300, 100)))

	require.True(t, testutil.Eventually(t, 2*time.Second, func() bool {
		return h.ctrl.Status().State == task.StateProfiling
	}))
	status := h.ctrl.Status()
	assert.Equal(t, "t1", status.ActiveTaskID)
	assert.NotEmpty(t, status.ActiveArtifact)
	assert.FileExists(t, status.ActiveArtifact)

	err := h.submit(t, h.task(t, "t2", 5, 200))
	require.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Equal(t, int64(100), h.ctrl.Status().LastAcceptedCreateTime, "rejection does not move the watermark")

	require.True(t, testutil.Eventually(t, 3*time.Second, h.idle))
	assert.Len(t, h.engine.calls("start"), 1)
	assert.Len(t, h.uploader.uploads(), 1)

	// A newer task is admitted once the slot is free.
	require.NoError(t, h.submit(t, h.task(t, "t3", 1, 300)))
	require.True(t, testutil.Eventually(t, 2*time.Second, h.idle))
	assert.Len(t, h.uploader.uploads(), 2)
}

func TestStartFailure_ReportsErrorOnce(t *testing.T) {
	tests := []struct {
		name        string
		status      string
		err         error
		wantMessage string
	}{
		{name: "unexpected status", status: engine.StatusAlreadyStarted, wantMessage: "t1: Profiler already started"},
		{name: "engine error", err: errors.New("unsupported event"), wantMessage: "t1: unsupported event"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newFakeEngine()
			eng.startStatus = tt.status
			eng.startErr = tt.err
			h := newHarness(t, eng)
			t1 := h.task(t, "t1", 1, 100)

			require.NoError(t, h.submit(t, t1))
			require.True(t, testutil.Eventually(t, 2*time.Second, func() bool {
				return len(h.uploader.errorReports()) > 0 && h.idle()
			}))

			// Leave room for a stop that must never come.
			time.Sleep(20 * time.Millisecond)

			assert.Equal(t, []string{tt.wantMessage}, h.uploader.errorReports())
			assert.Empty(t, h.uploader.uploads())
			assert.Empty(t, eng.calls("stop"), "no stop scheduled")
			assert.NoFileExists(t, t1.OutputPath())
			assert.Equal(t, int64(100), h.ctrl.Status().LastAcceptedCreateTime)
		})
	}
}

func TestStartArgumentsFailure(t *testing.T) {
	eng := newFakeEngine()
	h := newHarness(t, eng)

	blocker := filepath.Join(h.dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))
	tk, err := task.New(task.Descriptor{TaskID: "t1", Duration: 1, CreateTime: 1}, filepath.Join(blocker, "out"))
	require.NoError(t, err)

	require.NoError(t, h.submit(t, tk))
	require.True(t, testutil.Eventually(t, 2*time.Second, func() bool { return len(h.uploader.errorReports()) == 1 }))
	assert.Empty(t, eng.calls("start"), "engine never invoked")
}

func TestStopWithoutArtifact(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*fakeEngine)
	}{
		{name: "profiler wrote nothing", mutate: func(e *fakeEngine) { e.artifact = nil }},
		{name: "stop failed", mutate: func(e *fakeEngine) { e.stopErr = errors.New("stop failed") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newFakeEngine()
			tt.mutate(eng)
			h := newHarness(t, eng)
			t1 := h.task(t, "t1", 1, 100)

			require.NoError(t, h.submit(t, t1))
			require.True(t, testutil.Eventually(t, 2*time.Second, func() bool {
				return len(eng.calls("stop")) == 1 && h.idle()
			}))

			assert.Empty(t, h.uploader.uploads())
			assert.Empty(t, h.uploader.errorReports())
			assert.NoFileExists(t, t1.OutputPath(), "cleanup still runs")
		})
	}
}

func TestUploadFailureStillCleansUp(t *testing.T) {
	h := newHarness(t, newFakeEngine())
	h.uploader.dataErr = uploader.ErrRejected
	t1 := h.task(t, "t1", 1, 100)

	require.NoError(t, h.submit(t, t1))
	require.True(t, testutil.Eventually(t, 2*time.Second, func() bool {
		return len(h.uploader.uploads()) == 1 && h.idle()
	}))
	assert.NoFileExists(t, t1.OutputPath())
}

func TestSubmit_QueueFull(t *testing.T) {
	eng := newFakeEngine()
	eng.release = make(chan struct{})
	h := newHarness(t, eng, WithQueueSize(1))

	require.NoError(t, h.ctrl.Submit(h.task(t, "t1", 1, 1)))
	require.True(t, testutil.Eventually(t, 2*time.Second, func() bool { return len(eng.calls("start")) == 1 }))

	require.NoError(t, h.ctrl.Submit(h.task(t, "t2", 1, 2)))
	err := h.ctrl.Submit(h.task(t, "t3", 1, 3))
	require.ErrorIs(t, err, ErrQueueFull)

	close(eng.release)
	require.True(t, testutil.Eventually(t, 2*time.Second, func() bool { return len(h.uploader.uploads()) == 1 && h.idle() }))
}

func TestShutdown_CancelsPendingStop(t *testing.T) {
	eng := newFakeEngine()
	h := newHarness(t, eng)

	require.NoError(t, h.submit(t, h.task(t, "t1", 60_000, 1)))
	require.True(t, testutil.Eventually(t, 2*time.Second, func() bool {
		return h.ctrl.Status().State == task.StateProfiling
	}))

	ctx, cancel := testutil.NewTestContext()
	defer cancel()
	require.NoError(t, h.ctrl.Shutdown(ctx))
	require.NoError(t, h.ctrl.Shutdown(ctx), "idempotent")

	assert.Empty(t, eng.calls("stop"))
	assert.ErrorIs(t, h.ctrl.Submit(h.task(t, "t2", 1, 2)), ErrShutdown)
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	h := newHarness(t, newFakeEngine())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.ctrl.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.ErrorIs(t, h.ctrl.Submit(h.task(t, "t1", 1, 1)), ErrShutdown)
}

type fakeJournal struct {
	mu       sync.Mutex
	last     int64
	accepted []string
	outcomes map[string]task.State
}

func (j *fakeJournal) LastCreateTime(context.Context) (int64, error) {
	return j.last, nil
}

func (j *fakeJournal) RecordAccepted(_ context.Context, t *task.Task) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.accepted = append(j.accepted, t.ID())
	return nil
}

func (j *fakeJournal) RecordOutcome(_ context.Context, id string, state task.State, _ string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.outcomes == nil {
		j.outcomes = make(map[string]task.State)
	}
	j.outcomes[id] = state
	return nil
}

func (j *fakeJournal) outcome(id string) (task.State, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	s, ok := j.outcomes[id]
	return s, ok
}

func TestJournal_RestoreAndRecord(t *testing.T) {
	j := &fakeJournal{last: 500}
	h := newHarness(t, newFakeEngine(), WithJournal(j))

	ctx, cancel := testutil.NewTestContext()
	defer cancel()
	require.NoError(t, h.ctrl.Restore(ctx))
	assert.Equal(t, int64(500), h.ctrl.Status().LastAcceptedCreateTime)

	require.ErrorIs(t, h.submit(t, h.task(t, "old", 1, 400)), ErrStaleTask)
	require.NoError(t, h.submit(t, h.task(t, "new", 1, 600)))

	require.True(t, testutil.Eventually(t, 2*time.Second, func() bool {
		_, ok := j.outcome("new")
		return ok
	}))
	state, _ := j.outcome("new")
	assert.Equal(t, task.StateDone, state)

	j.mu.Lock()
	defer j.mu.Unlock()
	assert.Equal(t, []string{"new"}, j.accepted)
}

func TestShutdown_WarnsProfilerLeftRunning(t *testing.T) {
	logger, logs := testutil.NewCapturingLogger()
	eng := newFakeEngine()
	accepted := make(chan struct{}, 1)
	ctrl := New(eng, &fakeUploader{}, logger,
		WithTimeUnit(time.Millisecond),
		WithAdmissionHook(func(*task.Task, error) { accepted <- struct{}{} }),
	)

	tk, err := task.New(task.Descriptor{TaskID: "t1", Duration: 60_000, CreateTime: 1}, t.TempDir())
	require.NoError(t, err)
	require.NoError(t, ctrl.Submit(tk))
	<-accepted
	require.True(t, testutil.Eventually(t, 2*time.Second, func() bool {
		return ctrl.Status().State == task.StateProfiling
	}))

	require.NoError(t, ctrl.Shutdown(context.Background()))
	assert.Contains(t, logs.String(), "profiler is left running")
	assert.Contains(t, logs.String(), `"task_id":"t1"`)
}

func (c *Controller) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

func TestShutdown_DuringStartSchedulesNoStop(t *testing.T) {
	logger, logs := testutil.NewCapturingLogger()
	eng := newFakeEngine()
	eng.release = make(chan struct{})
	ctrl := New(eng, &fakeUploader{}, logger, WithTimeUnit(time.Millisecond))

	tk, err := task.New(task.Descriptor{TaskID: "t1", Duration: 5, CreateTime: 1}, t.TempDir())
	require.NoError(t, err)
	require.NoError(t, ctrl.Submit(tk))
	require.True(t, testutil.Eventually(t, 2*time.Second, func() bool {
		return len(eng.calls("start")) == 1
	}))

	ctx, cancel := testutil.NewTestContext()
	defer cancel()
	shutdown := make(chan error, 1)
	go func() { shutdown <- ctrl.Shutdown(ctx) }()
	require.True(t, testutil.Eventually(t, 2*time.Second, ctrl.isClosing))
	close(eng.release)

	require.NoError(t, <-shutdown)
	assert.Contains(t, logs.String(), "profiler is left running")
	assert.Contains(t, logs.String(), `"task_id":"t1"`)

	// Well past the task duration: nothing may fire.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, eng.calls("stop"))
	ctrl.mu.Lock()
	assert.Nil(t, ctrl.stopTimer)
	ctrl.mu.Unlock()
}

func TestShutdown_QueuedStopRunsOrWarns(t *testing.T) {
	logger, logs := testutil.NewCapturingLogger()
	eng := newFakeEngine()
	accepted := make(chan struct{}, 1)
	ctrl := New(eng, &fakeUploader{}, logger,
		WithTimeUnit(time.Millisecond),
		WithAdmissionHook(func(*task.Task, error) { accepted <- struct{}{} }),
	)

	tk, err := task.New(task.Descriptor{TaskID: "t1", Duration: 100, CreateTime: 1}, t.TempDir())
	require.NoError(t, err)
	require.NoError(t, ctrl.Submit(tk))
	<-accepted
	require.True(t, testutil.Eventually(t, 2*time.Second, func() bool {
		return ctrl.Status().State == task.StateProfiling
	}))

	// Hold the worker so the fired stop waits in the queue.
	hold, held := make(chan struct{}), make(chan struct{})
	ctrl.work <- func() {
		close(held)
		<-hold
	}
	<-held
	require.True(t, testutil.Eventually(t, 2*time.Second, func() bool {
		return len(ctrl.work) == 1
	}))

	ctx, cancel := testutil.NewTestContext()
	defer cancel()
	shutdown := make(chan error, 1)
	go func() { shutdown <- ctrl.Shutdown(ctx) }()
	require.True(t, testutil.Eventually(t, 2*time.Second, ctrl.isClosing))
	close(hold)
	require.NoError(t, <-shutdown)

	stopped := len(eng.calls("stop")) == 1
	warned := strings.Contains(logs.String(), "profiler is left running")
	assert.True(t, stopped != warned, "stopped=%v warned=%v", stopped, warned)
}
