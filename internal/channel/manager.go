// Package channel tracks the health of the collector connection. Uploads and
// task polling consult it before touching the network, and report transport
// failures back to it so that a keep-alive probe can bring it back.
package channel

import (
	"context"
	"errors"
	"sync"
	"time"

	"connectrpc.com/connect"
	"github.com/rs/zerolog"

	profilerv1 "github.com/coral-mesh/coral-profiler/coral/profiler/v1"
	"github.com/coral-mesh/coral-profiler/coral/profiler/v1/profilerv1connect"
	"github.com/coral-mesh/coral-profiler/internal/constants"
	"github.com/coral-mesh/coral-profiler/internal/retry"
)

// Status is the connection state of the collector channel.
type Status int

const (
	Disconnected Status = iota
	Connected
)

func (s Status) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// Listener is called after every status change.
type Listener func(Status)

// Config configures a Manager.
type Config struct {
	Service          string
	Instance         string
	CheckInterval    time.Duration
	KeepAliveTimeout time.Duration
	Retry            retry.Config
}

// Manager owns the collector client and its connection status.
type Manager struct {
	client profilerv1connect.ProfilerTaskServiceClient
	cfg    Config
	logger zerolog.Logger

	mu        sync.Mutex
	status    Status
	reconnect bool
	listeners []Listener
}

// NewManager creates a manager for client. The channel starts disconnected
// until the first successful probe.
func NewManager(client profilerv1connect.ProfilerTaskServiceClient, cfg Config, logger zerolog.Logger) *Manager {
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = constants.DefaultCheckInterval
	}
	if cfg.KeepAliveTimeout <= 0 {
		cfg.KeepAliveTimeout = constants.DefaultKeepAliveTimeout
	}
	return &Manager{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("component", "channel").Logger(),
	}
}

// Client returns the collector client.
func (m *Manager) Client() profilerv1connect.ProfilerTaskServiceClient {
	return m.client
}

// Status returns the current status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Connected reports whether the channel is usable.
func (m *Manager) Connected() bool {
	return m.Status() == Connected
}

// AddListener registers fn for status changes.
func (m *Manager) AddListener(fn Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// reconnectCodes are the failures that mean the channel itself is broken
// rather than the single request.
var reconnectCodes = map[connect.Code]bool{
	connect.CodeUnavailable:       true,
	connect.CodePermissionDenied:  true,
	connect.CodeUnauthenticated:   true,
	connect.CodeResourceExhausted: true,
	connect.CodeUnknown:           true,
	connect.CodeDeadlineExceeded:  true,
}

// ReportError records a transport failure. Network-class failures mark the
// channel disconnected; the next probe tries to restore it.
func (m *Manager) ReportError(err error) {
	if err == nil {
		return
	}

	code := connect.CodeOf(err)
	if errors.Is(err, context.DeadlineExceeded) {
		code = connect.CodeDeadlineExceeded
	}
	if !reconnectCodes[code] {
		m.logger.Debug().Err(err).Str("code", code.String()).Msg("Collector error does not affect the channel")
		return
	}

	m.logger.Warn().Err(err).Str("code", code.String()).Msg("Collector channel marked for reconnect")
	m.mu.Lock()
	m.reconnect = true
	m.mu.Unlock()
	m.setStatus(Disconnected)
}

// Probe sends one keep-alive and updates the status from the outcome.
func (m *Manager) Probe(ctx context.Context) error {
	err := m.keepAlive(ctx)
	if err != nil {
		m.setStatus(Disconnected)
		return err
	}

	m.mu.Lock()
	m.reconnect = false
	m.mu.Unlock()
	m.setStatus(Connected)
	return nil
}

// Run probes immediately, then every CheckInterval, until ctx is done. While
// the channel is disconnected each check retries with backoff.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		m.check(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (m *Manager) check(ctx context.Context) {
	m.mu.Lock()
	healthy := m.status == Connected && !m.reconnect
	m.mu.Unlock()

	if healthy {
		if err := m.Probe(ctx); err != nil && ctx.Err() == nil {
			m.logger.Warn().Err(err).Msg("Collector keep-alive failed")
		}
		return
	}

	err := retry.Do(ctx, m.cfg.Retry, func() error {
		return m.keepAlive(ctx)
	}, func(err error) bool {
		return ctx.Err() == nil
	})
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Debug().Err(err).Msg("Collector still unreachable")
		}
		m.setStatus(Disconnected)
		return
	}

	m.mu.Lock()
	m.reconnect = false
	m.mu.Unlock()
	m.setStatus(Connected)
}

func (m *Manager) keepAlive(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.KeepAliveTimeout)
	defer cancel()

	_, err := m.client.KeepAlive(ctx, connect.NewRequest(&profilerv1.KeepAliveRequest{
		Service:         m.cfg.Service,
		ServiceInstance: m.cfg.Instance,
	}))
	if code := connect.CodeOf(err); code == connect.CodeUnimplemented || code == connect.CodeInvalidArgument {
		// The endpoint answers but is not a collector; retrying cannot help.
		return retry.Permanent(err)
	}
	return err
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	if m.status == s {
		m.mu.Unlock()
		return
	}
	m.status = s
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	m.logger.Info().Str("status", s.String()).Msg("Collector channel status changed")
	for _, fn := range listeners {
		fn(s)
	}
}
