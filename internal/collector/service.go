// Package collector is a development implementation of the
// ProfilerTaskService. It dispatches tasks from a YAML queue, validates
// uploads against known tasks and a size quota, and stores artifacts on disk.
package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"connectrpc.com/connect"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	profilerv1 "github.com/coral-mesh/coral-profiler/coral/profiler/v1"
	"github.com/coral-mesh/coral-profiler/coral/profiler/v1/profilerv1connect"
	"github.com/coral-mesh/coral-profiler/internal/constants"
	cerrors "github.com/coral-mesh/coral-profiler/internal/errors"
	"github.com/coral-mesh/coral-profiler/internal/profiling/task"
	"github.com/coral-mesh/coral-profiler/internal/safe"
)

// Result is what the collector received for one task.
type Result struct {
	TaskID       string
	Service      string
	Instance     string
	Type         profilerv1.CollectType
	ContentSize  int32
	Received     int64
	Path         string
	ErrorMessage string
	At           time.Time
}

// Config configures a Service.
type Config struct {
	ArtifactDir    string
	MaxContentSize int64
}

// Service implements profilerv1connect.ProfilerTaskServiceHandler.
type Service struct {
	cfg    Config
	logger zerolog.Logger

	mu        sync.Mutex
	tasks     []*profilerv1.TaskDescriptor
	known     map[string]*profilerv1.TaskDescriptor
	results   map[string]Result
	keepAlive map[string]time.Time
}

// New creates a Service with an empty task queue.
func New(cfg Config, logger zerolog.Logger) *Service {
	if cfg.MaxContentSize <= 0 {
		cfg.MaxContentSize = constants.DefaultMaxContentSize
	}
	return &Service{
		cfg:       cfg,
		logger:    logger.With().Str("component", "collector").Logger(),
		known:     make(map[string]*profilerv1.TaskDescriptor),
		results:   make(map[string]Result),
		keepAlive: make(map[string]time.Time),
	}
}

// AddTask queues a task for dispatch. Queued tasks are known to Collect
// immediately.
func (s *Service) AddTask(d *profilerv1.TaskDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, d)
	s.known[d.TaskId] = d
}

// Results returns the received results ordered by task id.
func (s *Service) Results() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Result, 0, len(s.results))
	for _, r := range s.results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

// Result returns the result recorded for taskID.
func (s *Service) Result(taskID string) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[taskID]
	return r, ok
}

// Handler returns the mount path and handler of the service.
func (s *Service) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	return profilerv1connect.NewProfilerTaskServiceHandler(s, opts...)
}

// NewHTTPServer returns an h2c server for the service listening on addr.
func (s *Service) NewHTTPServer(addr string) *http.Server {
	mux := http.NewServeMux()
	path, handler := s.Handler()
	mux.Handle(path, handler)

	return &http.Server{
		Addr:              addr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// GetTaskList returns the queued tasks created after the caller's last command.
func (s *Service) GetTaskList(_ context.Context, req *connect.Request[profilerv1.TaskListRequest]) (*connect.Response[profilerv1.TaskListResponse], error) {
	s.mu.Lock()
	var out []*profilerv1.TaskDescriptor
	for _, d := range s.tasks {
		if d.CreateTime > req.Msg.LastCommandTime {
			out = append(out, d)
		}
	}
	s.mu.Unlock()

	if len(out) > 0 {
		s.logger.Info().
			Str("service", req.Msg.Service).
			Str("instance", req.Msg.ServiceInstance).
			Int("tasks", len(out)).
			Msg("Dispatching profiling tasks")
	}
	return connect.NewResponse(&profilerv1.TaskListResponse{Tasks: out}), nil
}

// KeepAlive records the caller as alive.
func (s *Service) KeepAlive(_ context.Context, req *connect.Request[profilerv1.KeepAliveRequest]) (*connect.Response[profilerv1.KeepAliveResponse], error) {
	s.mu.Lock()
	s.keepAlive[req.Msg.Service+"/"+req.Msg.ServiceInstance] = time.Now()
	s.mu.Unlock()
	return connect.NewResponse(&profilerv1.KeepAliveResponse{}), nil
}

// Collect receives one artifact upload or error report.
func (s *Service) Collect(ctx context.Context, stream *connect.BidiStream[profilerv1.ProfilerData, profilerv1.CollectAck]) error {
	first, err := stream.Receive()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	md := first.MetaData
	if md == nil || md.TaskId == "" {
		return connect.NewError(connect.CodeInvalidArgument, errors.New("first frame must carry task metadata"))
	}

	logger := s.logger.With().Str("task_id", md.TaskId).Str("instance", md.ServiceInstance).Logger()
	result := Result{
		TaskID:      md.TaskId,
		Service:     md.Service,
		Instance:    md.ServiceInstance,
		Type:        md.Type,
		ContentSize: md.ContentSize,
		At:          time.Now(),
	}

	if md.Type == profilerv1.CollectTypeExecutionTaskError {
		result.ErrorMessage = first.ErrorMessage
		s.record(result)
		logger.Warn().Str("error", first.ErrorMessage).Msg("Agent reported task failure")
		return drain(stream)
	}

	desc, reason := s.admit(md)
	if reason != "" {
		logger.Warn().Str("reason", reason).Int32("content_size", md.ContentSize).Msg("Rejecting upload")
		return stream.Send(&profilerv1.CollectAck{Accepted: false, Message: reason})
	}
	if err := stream.Send(&profilerv1.CollectAck{Accepted: true}); err != nil {
		return err
	}

	path, received, err := s.store(stream, md, desc)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to store artifact")
		return err
	}

	result.Path = path
	result.Received = received
	s.record(result)

	if received != int64(md.ContentSize) {
		logger.Warn().Int64("received", received).Int32("content_size", md.ContentSize).Msg("Artifact size differs from announced size")
	}
	logger.Info().Str("path", path).Int64("bytes", received).Msg("Artifact stored")
	return nil
}

func (s *Service) admit(md *profilerv1.MetaData) (*profilerv1.TaskDescriptor, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	desc, ok := s.known[md.TaskId]
	switch {
	case !ok:
		return nil, "unknown task"
	case md.ContentSize <= 0:
		return nil, "empty artifact"
	case int64(md.ContentSize) > s.cfg.MaxContentSize:
		return nil, fmt.Sprintf("artifact of %d bytes exceeds quota of %d bytes", md.ContentSize, s.cfg.MaxContentSize)
	}
	if _, done := s.results[md.TaskId]; done {
		return nil, "artifact already received"
	}
	return desc, ""
}

func (s *Service) store(stream *connect.BidiStream[profilerv1.ProfilerData, profilerv1.CollectAck], md *profilerv1.MetaData, desc *profilerv1.TaskDescriptor) (string, int64, error) {
	dir := filepath.Join(s.cfg.ArtifactDir, sanitize(md.Service))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", 0, connect.NewError(connect.CodeInternal, err)
	}

	name := sanitize(md.TaskId) + task.ParseFormat(desc.DataFormat).Extension()
	path := filepath.Join(dir, name)
	f, err := os.Create(path) //nolint:gosec // G304: components sanitised.
	if err != nil {
		return "", 0, connect.NewError(connect.CodeInternal, err)
	}
	defer cerrors.DeferClose(s.logger, f, "failed to close artifact file")

	var received int64
	for {
		frame, err := stream.Receive()
		if errors.Is(err, io.EOF) {
			return path, received, nil
		}
		if err != nil {
			_, _ = safe.RemovePath(path)
			return "", received, err
		}

		received += int64(len(frame.Content))
		if received > s.cfg.MaxContentSize {
			_, _ = safe.RemovePath(path)
			return "", received, connect.NewError(connect.CodeResourceExhausted, errors.New("artifact exceeds quota"))
		}
		if _, err := f.Write(frame.Content); err != nil {
			_, _ = safe.RemovePath(path)
			return "", received, connect.NewError(connect.CodeInternal, err)
		}
	}
}

func (s *Service) record(r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[r.TaskID] = r
}

func drain(stream *connect.BidiStream[profilerv1.ProfilerData, profilerv1.CollectAck]) error {
	for {
		if _, err := stream.Receive(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func sanitize(name string) string {
	if name == "" {
		return "_"
	}
	out := []rune(name)
	for i, r := range out {
		if r == '/' || r == '\\' || r == 0 || r == ':' {
			out[i] = '_'
		}
	}
	s := string(out)
	if s == "." || s == ".." {
		return "_"
	}
	return s
}
