package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPoller struct {
	mu           sync.Mutex
	pollCount    int
	cleanupCount int
	pollErr      error
	pollChan     chan struct{}
}

func (m *mockPoller) PollOnce(ctx context.Context) error {
	m.mu.Lock()
	m.pollCount++
	m.mu.Unlock()

	if m.pollChan != nil {
		select {
		case m.pollChan <- struct{}{}:
		default:
		}
	}
	return m.pollErr
}

func (m *mockPoller) RunCleanup(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupCount++
	return nil
}

func (m *mockPoller) polls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pollCount
}

func (m *mockPoller) cleanups() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleanupCount
}

func TestBase_StartStop(t *testing.T) {
	mock := &mockPoller{}
	base := New(Config{Name: "test_poller", PollInterval: 10 * time.Millisecond, Logger: zerolog.Nop()})

	assert.False(t, base.IsRunning())

	base.Start(context.Background(), mock)
	base.Start(context.Background(), mock)
	assert.True(t, base.IsRunning())

	time.Sleep(50 * time.Millisecond)

	base.Stop()
	assert.False(t, base.IsRunning())
	base.Stop()

	assert.GreaterOrEqual(t, mock.polls(), 1, "initial poll runs immediately")
}

func TestBase_PollingInterval(t *testing.T) {
	mock := &mockPoller{}
	base := New(Config{PollInterval: 20 * time.Millisecond, Logger: zerolog.Nop()})

	base.Start(context.Background(), mock)
	defer base.Stop()

	time.Sleep(100 * time.Millisecond)
	assert.GreaterOrEqual(t, mock.polls(), 4)
}

func TestBase_CleanupInterval(t *testing.T) {
	mock := &mockPoller{}
	base := New(Config{
		PollInterval:    10 * time.Millisecond,
		CleanupInterval: 30 * time.Millisecond,
		Logger:          zerolog.Nop(),
	})

	base.Start(context.Background(), mock)
	defer base.Stop()

	time.Sleep(95 * time.Millisecond)
	assert.GreaterOrEqual(t, mock.cleanups(), 2)
}

func TestBase_DefaultCleanupInterval(t *testing.T) {
	base := New(Config{PollInterval: 10 * time.Millisecond, Logger: zerolog.Nop()})
	assert.Equal(t, time.Hour, base.cleanupInterval)
}

func TestBase_PollErrorsDoNotStopLoop(t *testing.T) {
	mock := &mockPoller{pollErr: errors.New("collector down")}
	base := New(Config{PollInterval: 10 * time.Millisecond, Logger: zerolog.Nop()})

	base.Start(context.Background(), mock)
	defer base.Stop()

	time.Sleep(60 * time.Millisecond)
	assert.GreaterOrEqual(t, mock.polls(), 3)
}

func TestBase_Trigger(t *testing.T) {
	pollChan := make(chan struct{}, 10)
	mock := &mockPoller{pollChan: pollChan}
	base := New(Config{PollInterval: time.Hour, Logger: zerolog.Nop()})

	base.Start(context.Background(), mock)
	defer base.Stop()

	select {
	case <-pollChan:
	case <-time.After(time.Second):
		t.Fatal("initial poll did not run")
	}

	base.Trigger()
	base.Trigger()

	select {
	case <-pollChan:
	case <-time.After(time.Second):
		t.Fatal("triggered poll did not run")
	}
}

func TestBase_RunReturnsOnCancel(t *testing.T) {
	mock := &mockPoller{}
	base := New(Config{PollInterval: 10 * time.Millisecond, Logger: zerolog.Nop()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- base.Run(ctx, mock) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	count := mock.polls()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, count, mock.polls(), "no polls after Run returned")
}

func TestBase_ParentContextCancellation(t *testing.T) {
	pollChan := make(chan struct{}, 10)
	mock := &mockPoller{pollChan: pollChan}
	ctx, cancel := context.WithCancel(context.Background())

	base := New(Config{PollInterval: 50 * time.Millisecond, Logger: zerolog.Nop()})
	base.Start(ctx, mock)

	select {
	case <-pollChan:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Poller did not start polling")
	}

	cancel()

	deadline := time.After(200 * time.Millisecond)
drain:
	for {
		select {
		case <-pollChan:
		case <-deadline:
			break drain
		}
	}

	select {
	case <-pollChan:
		t.Error("Poller kept polling after context cancellation")
	case <-time.After(150 * time.Millisecond):
	}

	base.Stop()
	assert.False(t, base.IsRunning())
}
