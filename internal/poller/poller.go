// Package poller runs a periodic poll cycle and a slower cleanup cycle on
// behalf of a Poller implementation. The command poller uses it to fetch
// profiling tasks and to sweep stale artifacts.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Poller is implemented by the component being driven.
type Poller interface {
	// PollOnce performs a single poll cycle.
	PollOnce(ctx context.Context) error

	// RunCleanup removes data that outlived its retention.
	RunCleanup(ctx context.Context) error
}

// Config configures a Base.
type Config struct {
	// Name identifies the poller in logs (e.g. "task_poller").
	Name string

	// PollInterval is the time between poll cycles.
	PollInterval time.Duration

	// CleanupInterval is the time between cleanup cycles (default: 1 hour).
	CleanupInterval time.Duration

	Logger zerolog.Logger
}

// Base owns the poll and cleanup loops.
type Base struct {
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	trigger         chan struct{}
	pollInterval    time.Duration
	cleanupInterval time.Duration
	logger          zerolog.Logger
}

// New creates a Base. It does nothing until Run or Start is called.
func New(config Config) *Base {
	cleanupInterval := config.CleanupInterval
	if cleanupInterval == 0 {
		cleanupInterval = time.Hour
	}

	logger := config.Logger
	if config.Name != "" {
		logger = logger.With().Str("poller", config.Name).Logger()
	}

	return &Base{
		trigger:         make(chan struct{}, 1),
		pollInterval:    config.PollInterval,
		cleanupInterval: cleanupInterval,
		logger:          logger,
	}
}

// Run polls immediately, then on every tick, until ctx is cancelled. It
// always returns nil so it can sit inside an errgroup next to components
// whose failure should end the process.
func (b *Base) Run(ctx context.Context, p Poller) error {
	b.logger.Info().
		Dur("poll_interval", b.pollInterval).
		Dur("cleanup_interval", b.cleanupInterval).
		Msg("Starting poller")
	defer b.logger.Info().Msg("Poller stopped")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.cleanupLoop(ctx, p)
	}()
	defer wg.Wait()

	b.poll(ctx, p, "Initial poll failed")

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.poll(ctx, p, "Poll failed")
		case <-b.trigger:
			b.poll(ctx, p, "Triggered poll failed")
		}
	}
}

// Trigger requests an out-of-band poll. Requests made while one is already
// pending are coalesced.
func (b *Base) Trigger() {
	select {
	case b.trigger <- struct{}{}:
	default:
	}
}

// Start runs the loops in the background. Starting a running Base is a no-op.
func (b *Base) Start(parent context.Context, p Poller) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return
	}

	ctx, cancel := context.WithCancel(parent)
	b.cancel = cancel
	b.done = make(chan struct{})
	b.running = true

	go func(done chan struct{}) {
		defer close(done)
		_ = b.Run(ctx, p)
	}(b.done)
}

// Stop cancels the loops started by Start and waits for them to exit.
func (b *Base) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return
	}

	b.cancel()
	<-b.done
	b.running = false
}

// IsRunning reports whether Start was called without a matching Stop.
func (b *Base) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

func (b *Base) poll(ctx context.Context, p Poller, msg string) {
	if ctx.Err() != nil {
		return
	}
	if err := p.PollOnce(ctx); err != nil {
		b.logger.Error().Err(err).Msg(msg)
	}
}

func (b *Base) cleanupLoop(ctx context.Context, p Poller) {
	ticker := time.NewTicker(b.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.RunCleanup(ctx); err != nil {
				b.logger.Error().Err(err).Msg("Cleanup failed")
			}
		}
	}
}
