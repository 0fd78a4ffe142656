package collector

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	profilerv1 "github.com/coral-mesh/coral-profiler/coral/profiler/v1"
	"github.com/coral-mesh/coral-profiler/coral/profiler/v1/profilerv1connect"
	"github.com/coral-mesh/coral-profiler/internal/channel"
	"github.com/coral-mesh/coral-profiler/internal/testutil"
)

func newTestService(t *testing.T, maxSize int64) (*Service, profilerv1connect.ProfilerTaskServiceClient) {
	t.Helper()
	svc := New(Config{ArtifactDir: t.TempDir(), MaxContentSize: maxSize}, testutil.NewTestLogger(t))
	path, handler := svc.Handler()
	srv := testutil.NewH2CServer(t, path, handler)
	return svc, channel.NewClient(srv.URL, "grpc")
}

// upload performs one Collect exchange and returns the ack and the final
// stream error.
func upload(t *testing.T, client profilerv1connect.ProfilerTaskServiceClient, md *profilerv1.MetaData, content []byte) (*profilerv1.CollectAck, error) {
	t.Helper()
	ctx, cancel := testutil.NewTestContext()
	defer cancel()

	stream := client.Collect(ctx)
	require.NoError(t, stream.Send(&profilerv1.ProfilerData{MetaData: md}))

	ack, err := stream.Receive()
	if err != nil {
		return nil, err
	}
	if ack.Accepted && content != nil {
		require.NoError(t, stream.Send(&profilerv1.ProfilerData{Content: content}))
	}
	require.NoError(t, stream.CloseRequest())

	for {
		if _, err = stream.Receive(); err != nil {
			break
		}
	}
	require.NoError(t, stream.CloseResponse())
	if errors.Is(err, io.EOF) {
		err = nil
	}
	return ack, err
}

func TestService_GetTaskList(t *testing.T) {
	svc, client := newTestService(t, 0)
	svc.AddTask(&profilerv1.TaskDescriptor{TaskId: "a", Duration: 5, CreateTime: 100})
	svc.AddTask(&profilerv1.TaskDescriptor{TaskId: "b", Duration: 5, CreateTime: 200})

	ctx, cancel := testutil.NewTestContext()
	defer cancel()

	tests := []struct {
		name string
		last int64
		want []string
	}{
		{name: "all", last: 0, want: []string{"a", "b"}},
		{name: "newer only", last: 100, want: []string{"b"}},
		{name: "none", last: 200, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := client.GetTaskList(ctx, connect.NewRequest(&profilerv1.TaskListRequest{
				Service:         "checkout",
				ServiceInstance: "i-1",
				LastCommandTime: tt.last,
			}))
			require.NoError(t, err)

			var ids []string
			for _, d := range resp.Msg.Tasks {
				ids = append(ids, d.TaskId)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestService_KeepAlive(t *testing.T) {
	svc, client := newTestService(t, 0)

	ctx, cancel := testutil.NewTestContext()
	defer cancel()
	_, err := client.KeepAlive(ctx, connect.NewRequest(&profilerv1.KeepAliveRequest{Service: "checkout", ServiceInstance: "i-1"}))
	require.NoError(t, err)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Contains(t, svc.keepAlive, "checkout/i-1")
}

func TestService_CollectStoresArtifact(t *testing.T) {
	svc, client := newTestService(t, 0)
	svc.AddTask(&profilerv1.TaskDescriptor{TaskId: "t1", Duration: 5, CreateTime: 1, DataFormat: "html"})

	content := []byte("<html>flame</html>")
	ack, err := upload(t, client, &profilerv1.MetaData{
		Service:         "checkout",
		ServiceInstance: "i-1",
		TaskId:          "t1",
		ContentSize:     int32(len(content)),
	}, content)
	require.NoError(t, err)
	require.True(t, ack.Accepted)

	result, ok := svc.Result("t1")
	require.True(t, ok)
	assert.Equal(t, int64(len(content)), result.Received)
	assert.Equal(t, filepath.Join(svc.cfg.ArtifactDir, "checkout", "t1.html"), result.Path)

	stored, err := os.ReadFile(result.Path)
	require.NoError(t, err)
	assert.Equal(t, content, stored)
	assert.Len(t, svc.Results(), 1)
}

func TestService_CollectRejects(t *testing.T) {
	svc, client := newTestService(t, 16)
	svc.AddTask(&profilerv1.TaskDescriptor{TaskId: "t1", Duration: 5, CreateTime: 1})
	svc.AddTask(&profilerv1.TaskDescriptor{TaskId: "done", Duration: 5, CreateTime: 2})

	ack, err := upload(t, client, &profilerv1.MetaData{TaskId: "done", ContentSize: 4}, []byte("data"))
	require.NoError(t, err)
	require.True(t, ack.Accepted)

	tests := []struct {
		name       string
		md         *profilerv1.MetaData
		wantReason string
	}{
		{name: "unknown task", md: &profilerv1.MetaData{TaskId: "nope", ContentSize: 4}, wantReason: "unknown task"},
		{name: "empty artifact", md: &profilerv1.MetaData{TaskId: "t1", ContentSize: 0}, wantReason: "empty artifact"},
		{name: "over quota", md: &profilerv1.MetaData{TaskId: "t1", ContentSize: 17}, wantReason: "exceeds quota"},
		{name: "already received", md: &profilerv1.MetaData{TaskId: "done", ContentSize: 4}, wantReason: "already received"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack, err := upload(t, client, tt.md, []byte("data"))
			require.NoError(t, err)
			assert.False(t, ack.Accepted)
			assert.Contains(t, ack.Message, tt.wantReason)
		})
	}

	_, ok := svc.Result("t1")
	assert.False(t, ok, "rejected uploads are not recorded")
}

func TestService_CollectQuotaExceededMidStream(t *testing.T) {
	svc, client := newTestService(t, 8)
	svc.AddTask(&profilerv1.TaskDescriptor{TaskId: "t1", Duration: 5, CreateTime: 1})

	ack, err := upload(t, client, &profilerv1.MetaData{Service: "checkout", TaskId: "t1", ContentSize: 4}, []byte("far more than eight bytes"))
	require.NotNil(t, ack)
	assert.True(t, ack.Accepted)
	require.Error(t, err)
	assert.Equal(t, connect.CodeResourceExhausted, connect.CodeOf(err))

	_, ok := svc.Result("t1")
	assert.False(t, ok)
	assert.NoFileExists(t, filepath.Join(svc.cfg.ArtifactDir, "checkout", "t1.html"))
}

func TestService_CollectErrorReport(t *testing.T) {
	svc, client := newTestService(t, 0)

	ctx, cancel := testutil.NewTestContext()
	defer cancel()

	stream := client.Collect(ctx)
	require.NoError(t, stream.Send(&profilerv1.ProfilerData{
		MetaData:     &profilerv1.MetaData{TaskId: "t1", Type: profilerv1.CollectTypeExecutionTaskError},
		ErrorMessage: "Profiler already started",
	}))
	require.NoError(t, stream.CloseRequest())
	_, err := stream.Receive()
	require.ErrorIs(t, err, io.EOF)
	require.NoError(t, stream.CloseResponse())

	result, ok := svc.Result("t1")
	require.True(t, ok)
	assert.Equal(t, "Profiler already started", result.ErrorMessage)
	assert.Equal(t, profilerv1.CollectTypeExecutionTaskError, result.Type)
}

func TestService_CollectRequiresMetadata(t *testing.T) {
	_, client := newTestService(t, 0)

	ctx, cancel := testutil.NewTestContext()
	defer cancel()

	stream := client.Collect(ctx)
	require.NoError(t, stream.Send(&profilerv1.ProfilerData{Content: []byte("x")}))
	require.NoError(t, stream.CloseRequest())
	_, err := stream.Receive()
	require.Error(t, err)
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
	_ = stream.CloseResponse()
}

func TestSanitize(t *testing.T) {
	tests := map[string]string{
		"":            "_",
		"..":          "_",
		"a/b":         "a_b",
		`c:\d`:        "c__d",
		"checkout-v2": "checkout-v2",
	}
	for in, want := range tests {
		assert.Equal(t, want, sanitize(in), in)
	}
}
