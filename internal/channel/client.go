package channel

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"golang.org/x/net/http2"

	"github.com/coral-mesh/coral-profiler/coral/profiler/v1/profilerv1connect"
)

// NewHTTPClient returns an HTTP/2 client for plaintext endpoints (h2c).
// Bidirectional Collect streams need HTTP/2.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
			// Detect dead connections between uploads.
			ReadIdleTimeout: 30 * time.Second,
			PingTimeout:     15 * time.Second,
		},
	}
}

// ClientOptions returns the connect options for protocol ("grpc" or "connect").
func ClientOptions(protocol string) []connect.ClientOption {
	if protocol == "connect" {
		return nil
	}
	return []connect.ClientOption{connect.WithGRPC()}
}

// NewClient builds a ProfilerTaskService client for endpoint.
func NewClient(endpoint, protocol string) profilerv1connect.ProfilerTaskServiceClient {
	return profilerv1connect.NewProfilerTaskServiceClient(NewHTTPClient(), endpoint, ClientOptions(protocol)...)
}
