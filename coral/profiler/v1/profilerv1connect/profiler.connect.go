// Package profilerv1connect binds the coral.profiler.v1 service to connect
// clients and handlers.
package profilerv1connect

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	v1 "github.com/coral-mesh/coral-profiler/coral/profiler/v1"
)

// ProfilerTaskServiceName is the fully-qualified name of the ProfilerTaskService service.
const ProfilerTaskServiceName = "coral.profiler.v1.ProfilerTaskService"

// Fully-qualified procedure names.
const (
	ProfilerTaskServiceCollectProcedure     = "/coral.profiler.v1.ProfilerTaskService/Collect"
	ProfilerTaskServiceGetTaskListProcedure = "/coral.profiler.v1.ProfilerTaskService/GetTaskList"
	ProfilerTaskServiceKeepAliveProcedure   = "/coral.profiler.v1.ProfilerTaskService/KeepAlive"
)

// ProfilerTaskServiceClient is a client for the coral.profiler.v1.ProfilerTaskService service.
type ProfilerTaskServiceClient interface {
	Collect(context.Context) *connect.BidiStreamForClient[v1.ProfilerData, v1.CollectAck]
	GetTaskList(context.Context, *connect.Request[v1.TaskListRequest]) (*connect.Response[v1.TaskListResponse], error)
	KeepAlive(context.Context, *connect.Request[v1.KeepAliveRequest]) (*connect.Response[v1.KeepAliveResponse], error)
}

// NewProfilerTaskServiceClient constructs a client for the ProfilerTaskService.
// The package codec is always installed; callers typically add connect.WithGRPC().
func NewProfilerTaskServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) ProfilerTaskServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(v1.Codec{})}, opts...)
	return &profilerTaskServiceClient{
		collect: connect.NewClient[v1.ProfilerData, v1.CollectAck](
			httpClient,
			baseURL+ProfilerTaskServiceCollectProcedure,
			opts...,
		),
		getTaskList: connect.NewClient[v1.TaskListRequest, v1.TaskListResponse](
			httpClient,
			baseURL+ProfilerTaskServiceGetTaskListProcedure,
			opts...,
		),
		keepAlive: connect.NewClient[v1.KeepAliveRequest, v1.KeepAliveResponse](
			httpClient,
			baseURL+ProfilerTaskServiceKeepAliveProcedure,
			opts...,
		),
	}
}

type profilerTaskServiceClient struct {
	collect     *connect.Client[v1.ProfilerData, v1.CollectAck]
	getTaskList *connect.Client[v1.TaskListRequest, v1.TaskListResponse]
	keepAlive   *connect.Client[v1.KeepAliveRequest, v1.KeepAliveResponse]
}

func (c *profilerTaskServiceClient) Collect(ctx context.Context) *connect.BidiStreamForClient[v1.ProfilerData, v1.CollectAck] {
	return c.collect.CallBidiStream(ctx)
}

func (c *profilerTaskServiceClient) GetTaskList(ctx context.Context, req *connect.Request[v1.TaskListRequest]) (*connect.Response[v1.TaskListResponse], error) {
	return c.getTaskList.CallUnary(ctx, req)
}

func (c *profilerTaskServiceClient) KeepAlive(ctx context.Context, req *connect.Request[v1.KeepAliveRequest]) (*connect.Response[v1.KeepAliveResponse], error) {
	return c.keepAlive.CallUnary(ctx, req)
}

// ProfilerTaskServiceHandler is implemented by collectors.
type ProfilerTaskServiceHandler interface {
	Collect(context.Context, *connect.BidiStream[v1.ProfilerData, v1.CollectAck]) error
	GetTaskList(context.Context, *connect.Request[v1.TaskListRequest]) (*connect.Response[v1.TaskListResponse], error)
	KeepAlive(context.Context, *connect.Request[v1.KeepAliveRequest]) (*connect.Response[v1.KeepAliveResponse], error)
}

// NewProfilerTaskServiceHandler builds an HTTP handler from the service
// implementation. It returns the path on which to mount the handler and the
// handler itself. Bidirectional streaming needs HTTP/2 (h2c or TLS).
func NewProfilerTaskServiceHandler(svc ProfilerTaskServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(v1.Codec{})}, opts...)
	collectHandler := connect.NewBidiStreamHandler(
		ProfilerTaskServiceCollectProcedure,
		svc.Collect,
		opts...,
	)
	getTaskListHandler := connect.NewUnaryHandler(
		ProfilerTaskServiceGetTaskListProcedure,
		svc.GetTaskList,
		opts...,
	)
	keepAliveHandler := connect.NewUnaryHandler(
		ProfilerTaskServiceKeepAliveProcedure,
		svc.KeepAlive,
		opts...,
	)
	return "/" + ProfilerTaskServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case ProfilerTaskServiceCollectProcedure:
			collectHandler.ServeHTTP(w, r)
		case ProfilerTaskServiceGetTaskListProcedure:
			getTaskListHandler.ServeHTTP(w, r)
		case ProfilerTaskServiceKeepAliveProcedure:
			keepAliveHandler.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// UnimplementedProfilerTaskServiceHandler returns CodeUnimplemented from all methods.
type UnimplementedProfilerTaskServiceHandler struct{}

func (UnimplementedProfilerTaskServiceHandler) Collect(context.Context, *connect.BidiStream[v1.ProfilerData, v1.CollectAck]) error {
	return connect.NewError(connect.CodeUnimplemented, errors.New("coral.profiler.v1.ProfilerTaskService.Collect is not implemented"))
}

func (UnimplementedProfilerTaskServiceHandler) GetTaskList(context.Context, *connect.Request[v1.TaskListRequest]) (*connect.Response[v1.TaskListResponse], error) {
	return nil, connect.NewError(connect.CodeUnimplemented, errors.New("coral.profiler.v1.ProfilerTaskService.GetTaskList is not implemented"))
}

func (UnimplementedProfilerTaskServiceHandler) KeepAlive(context.Context, *connect.Request[v1.KeepAliveRequest]) (*connect.Response[v1.KeepAliveResponse], error) {
	return nil, connect.NewError(connect.CodeUnimplemented, errors.New("coral.profiler.v1.ProfilerTaskService.KeepAlive is not implemented"))
}
