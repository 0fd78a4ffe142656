package command

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"connectrpc.com/connect"
	"github.com/rs/zerolog"

	profilerv1 "github.com/coral-mesh/coral-profiler/coral/profiler/v1"
	"github.com/coral-mesh/coral-profiler/coral/profiler/v1/profilerv1connect"
	"github.com/coral-mesh/coral-profiler/internal/poller"
	"github.com/coral-mesh/coral-profiler/internal/safe"
)

// Channel is the collector connection the poller queries through.
type Channel interface {
	Connected() bool
	Client() profilerv1connect.ProfilerTaskServiceClient
	ReportError(err error)
}

// Pruner drops finished journal entries.
type Pruner interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	Service  string
	Instance string

	// OutputDir is swept for artifacts older than ArtifactRetention.
	OutputDir         string
	ArtifactRetention time.Duration

	// Journal is optional.
	Journal          Pruner
	JournalRetention time.Duration

	// ActiveArtifact returns the output file of the task holding the
	// profiler, if any. That file is never swept.
	ActiveArtifact func() string
}

// Poller fetches new tasks from the collector and hands them to an Adapter.
// It implements poller.Poller.
type Poller struct {
	channel Channel
	adapter *Adapter
	cfg     PollerConfig
	logger  zerolog.Logger

	mu              sync.Mutex
	lastCommandTime int64
}

var _ poller.Poller = (*Poller)(nil)

// NewPoller creates a task poller.
func NewPoller(ch Channel, adapter *Adapter, cfg PollerConfig, logger zerolog.Logger) *Poller {
	return &Poller{
		channel: ch,
		adapter: adapter,
		cfg:     cfg,
		logger:  logger.With().Str("component", "task_poller").Logger(),
	}
}

// LastCommandTime is the newest create time received so far.
func (p *Poller) LastCommandTime() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastCommandTime
}

// SetLastCommandTime seeds the cursor, typically from the journal.
func (p *Poller) SetLastCommandTime(t int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t > p.lastCommandTime {
		p.lastCommandTime = t
	}
}

// PollOnce asks the collector for tasks created after the last one seen and
// submits them oldest first. It is a no-op while the channel is down.
func (p *Poller) PollOnce(ctx context.Context) error {
	if !p.channel.Connected() {
		return nil
	}

	resp, err := p.channel.Client().GetTaskList(ctx, connect.NewRequest(&profilerv1.TaskListRequest{
		Service:         p.cfg.Service,
		ServiceInstance: p.cfg.Instance,
		LastCommandTime: p.LastCommandTime(),
	}))
	if err != nil {
		p.channel.ReportError(err)
		return fmt.Errorf("failed to fetch task list: %w", err)
	}

	tasks := resp.Msg.Tasks
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].CreateTime < tasks[j].CreateTime })
	for _, desc := range tasks {
		if desc == nil {
			continue
		}
		p.SetLastCommandTime(desc.CreateTime)
		_ = p.adapter.Handle(desc)
	}
	return nil
}

// RunCleanup sweeps orphaned artifacts and prunes the journal.
func (p *Poller) RunCleanup(ctx context.Context) error {
	swept, err := p.sweepArtifacts()
	if err != nil {
		return err
	}
	if swept > 0 {
		p.logger.Info().Int("files", swept).Msg("Removed orphaned profiling artifacts")
	}

	if p.cfg.Journal != nil && p.cfg.JournalRetention > 0 {
		if _, err := p.cfg.Journal.Prune(ctx, p.cfg.JournalRetention); err != nil {
			return err
		}
	}
	return nil
}

func (p *Poller) sweepArtifacts() (int, error) {
	if p.cfg.OutputDir == "" || p.cfg.ArtifactRetention <= 0 {
		return 0, nil
	}

	entries, err := os.ReadDir(p.cfg.OutputDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to list artifact directory: %w", err)
	}

	var active string
	if p.cfg.ActiveArtifact != nil {
		if path := p.cfg.ActiveArtifact(); path != "" {
			active = absPath(path)
		}
	}
	cutoff := time.Now().Add(-p.cfg.ArtifactRetention)

	swept := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		path := filepath.Join(p.cfg.OutputDir, e.Name())
		if active != "" && absPath(path) == active {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		removed, err := safe.RemovePath(path)
		if err != nil {
			p.logger.Warn().Err(err).Str("file", e.Name()).Msg("Failed to remove orphaned artifact")
			continue
		}
		if removed {
			swept++
		}
	}
	return swept, nil
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
