package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// NewH2CServer serves handler at path over HTTP/2 cleartext, the transport
// the collector uses for bidirectional streams. The server is closed when the
// test ends.
func NewH2CServer(t *testing.T, path string, handler http.Handler) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.Handle(path, handler)

	srv := httptest.NewServer(h2c.NewHandler(mux, &http2.Server{}))
	t.Cleanup(srv.Close)
	return srv
}
