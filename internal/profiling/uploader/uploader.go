// Package uploader ships profiling artifacts and task failures to the
// collector over the bidirectional Collect stream.
//
// An upload first sends a metadata frame and waits, for at most AckTimeout,
// for the collector to accept it. Content is only streamed after an explicit
// acceptance, so a collector that is over quota or does not know the task
// never receives the payload.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"connectrpc.com/connect"
	"github.com/rs/zerolog"

	profilerv1 "github.com/coral-mesh/coral-profiler/coral/profiler/v1"
	"github.com/coral-mesh/coral-profiler/coral/profiler/v1/profilerv1connect"
	"github.com/coral-mesh/coral-profiler/internal/constants"
	"github.com/coral-mesh/coral-profiler/internal/profiling/task"
	"github.com/coral-mesh/coral-profiler/internal/safe"
)

var (
	// ErrRejected is returned when the collector declines an upload.
	ErrRejected = errors.New("collector rejected the upload")
	// ErrNoAck is returned when the collector did not answer the metadata frame in time.
	ErrNoAck = errors.New("collector did not acknowledge the upload")
)

// Channel is the part of the channel manager the uploader needs.
type Channel interface {
	Connected() bool
	Client() profilerv1connect.ProfilerTaskServiceClient
	ReportError(err error)
}

// Artifact is a readable profiling output of known size.
type Artifact interface {
	io.Reader
	Size() int64
}

// Config configures an Uploader.
type Config struct {
	Service  string
	Instance string
	// UpstreamTimeout bounds a whole upload, handshake included.
	UpstreamTimeout time.Duration
	// AckTimeout bounds the wait for the collector's answer to the metadata frame.
	AckTimeout time.Duration
	// ChunkSize is the content size of each frame.
	ChunkSize int
}

// Uploader sends artifacts and error reports. Each call opens its own stream.
type Uploader struct {
	channel Channel
	cfg     Config
	logger  zerolog.Logger
}

// New creates an Uploader. Zero config durations and sizes take the defaults.
func New(channel Channel, cfg Config, logger zerolog.Logger) *Uploader {
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = constants.DefaultUpstreamTimeout
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = constants.DefaultAckTimeout
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = constants.DefaultChunkSize
	}
	return &Uploader{
		channel: channel,
		cfg:     cfg,
		logger:  logger.With().Str("component", "uploader").Logger(),
	}
}

type collectStream = connect.BidiStreamForClient[profilerv1.ProfilerData, profilerv1.CollectAck]

// SendData uploads artifact for t. A disconnected channel makes it a silent
// no-op. It does not close the artifact.
func (u *Uploader) SendData(ctx context.Context, t *task.Task, artifact Artifact) error {
	logger := u.logger.With().Str("task_id", t.ID()).Logger()

	if !u.channel.Connected() {
		logger.Debug().Msg("Collector disconnected, skipping artifact upload")
		return nil
	}

	size, clamped := safe.Int64ToInt32(artifact.Size())
	if clamped {
		logger.Warn().Int64("size", artifact.Size()).Msg("Artifact size exceeds the wire limit, reporting clamped size")
	}

	ctx, cancel := context.WithTimeout(ctx, u.cfg.UpstreamTimeout)
	defer cancel()

	stream := u.channel.Client().Collect(ctx)
	defer func() { _ = stream.CloseResponse() }()

	err := stream.Send(&profilerv1.ProfilerData{
		MetaData: u.metadata(t, profilerv1.CollectTypeProfilingSuccess, size),
	})
	if err != nil {
		return u.fail(logger, "send metadata", u.streamError(stream, err))
	}

	if err := u.awaitAck(ctx, cancel, stream); err != nil {
		_ = stream.CloseRequest()
		if errors.Is(err, ErrRejected) {
			logger.Warn().Err(err).Msg("Collector rejected artifact upload")
		} else {
			logger.Warn().Err(err).Msg("Artifact upload aborted before streaming")
		}
		return err
	}

	sent, err := u.streamContent(stream, artifact)
	if err != nil {
		return u.fail(logger, "stream content", err)
	}

	if err := u.finish(stream); err != nil {
		return u.fail(logger, "complete upload", err)
	}

	logger.Info().Int64("bytes", sent).Int32("content_size", size).Msg("Artifact uploaded")
	return nil
}

// SendError reports a task failure. The message travels in the metadata
// frame; no content follows.
func (u *Uploader) SendError(ctx context.Context, t *task.Task, message string) error {
	logger := u.logger.With().Str("task_id", t.ID()).Logger()

	if !u.channel.Connected() {
		logger.Debug().Str("message", message).Msg("Collector disconnected, skipping error report")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, u.cfg.UpstreamTimeout)
	defer cancel()

	stream := u.channel.Client().Collect(ctx)
	defer func() { _ = stream.CloseResponse() }()

	err := stream.Send(&profilerv1.ProfilerData{
		MetaData:     u.metadata(t, profilerv1.CollectTypeExecutionTaskError, 0),
		ErrorMessage: message,
	})
	if err != nil {
		return u.fail(logger, "send error report", u.streamError(stream, err))
	}

	if err := u.finish(stream); err != nil {
		return u.fail(logger, "complete error report", err)
	}

	logger.Info().Str("message", message).Msg("Task failure reported to collector")
	return nil
}

func (u *Uploader) metadata(t *task.Task, typ profilerv1.CollectType, size int32) *profilerv1.MetaData {
	return &profilerv1.MetaData{
		Service:         u.cfg.Service,
		ServiceInstance: u.cfg.Instance,
		Type:            typ,
		ContentSize:     size,
		TaskId:          t.ID(),
	}
}

type ackResult struct {
	ack *profilerv1.CollectAck
	err error
}

// awaitAck waits for the collector's verdict on the metadata frame. On
// timeout it cancels the stream so the pending receive returns.
func (u *Uploader) awaitAck(ctx context.Context, cancel context.CancelFunc, stream *collectStream) error {
	done := make(chan ackResult, 1)
	go func() {
		ack, err := stream.Receive()
		done <- ackResult{ack: ack, err: err}
	}()

	timer := time.NewTimer(u.cfg.AckTimeout)
	defer timer.Stop()

	var res ackResult
	select {
	case res = <-done:
	case <-timer.C:
		cancel()
		<-done
		return fmt.Errorf("%w within %s", ErrNoAck, u.cfg.AckTimeout)
	case <-ctx.Done():
		<-done
		u.channel.ReportError(ctx.Err())
		return fmt.Errorf("%w: %w", ErrNoAck, ctx.Err())
	}

	switch {
	case res.err == nil && res.ack.Accepted:
		return nil
	case res.err == nil:
		return fmt.Errorf("%w: %s", ErrRejected, res.ack.Message)
	case errors.Is(res.err, io.EOF):
		return fmt.Errorf("%w: stream closed", ErrNoAck)
	}

	if isRejection(connect.CodeOf(res.err)) {
		return fmt.Errorf("%w: %w", ErrRejected, res.err)
	}
	u.channel.ReportError(res.err)
	return fmt.Errorf("%w: %w", ErrNoAck, res.err)
}

// isRejection reports whether code is an application-level refusal rather
// than a transport failure. Refusals say nothing about the connection and are
// never reported to the channel.
func isRejection(code connect.Code) bool {
	switch code {
	case connect.CodeInvalidArgument, connect.CodeFailedPrecondition, connect.CodeNotFound,
		connect.CodeAlreadyExists, connect.CodeResourceExhausted, connect.CodePermissionDenied,
		connect.CodeAborted, connect.CodeOutOfRange:
		return true
	}
	return false
}

func (u *Uploader) streamContent(stream *collectStream, artifact Artifact) (int64, error) {
	buf := make([]byte, u.cfg.ChunkSize)
	var sent int64

	for {
		n, err := io.ReadFull(artifact, buf)
		if n > 0 {
			if sendErr := stream.Send(&profilerv1.ProfilerData{Content: buf[:n]}); sendErr != nil {
				return sent, u.streamError(stream, sendErr)
			}
			sent += int64(n)
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return sent, nil
		default:
			return sent, fmt.Errorf("failed to read artifact: %w", err)
		}
	}
}

// finish half-closes the stream and drains responses until the collector
// completes it.
func (u *Uploader) finish(stream *collectStream) error {
	if err := stream.CloseRequest(); err != nil {
		return err
	}
	for {
		if _, err := stream.Receive(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// streamError resolves a failed Send. connect reports io.EOF from Send when
// the server ended the stream; the actual status comes from Receive.
func (u *Uploader) streamError(stream *collectStream, err error) error {
	if !errors.Is(err, io.EOF) {
		return err
	}
	for {
		if _, recvErr := stream.Receive(); recvErr != nil {
			if errors.Is(recvErr, io.EOF) {
				return err
			}
			return recvErr
		}
	}
}

func (u *Uploader) fail(logger zerolog.Logger, step string, err error) error {
	if isRejection(connect.CodeOf(err)) {
		logger.Warn().Err(err).Str("step", step).Msg("Collector refused the upload")
		return fmt.Errorf("%w: %w", ErrRejected, err)
	}
	u.channel.ReportError(err)
	logger.Error().Err(err).Str("step", step).Msg("Collector stream failed")
	return fmt.Errorf("failed to %s: %w", step, err)
}
