package backendsim

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

// StartTest serves a simulated backend for the duration of a test.
func StartTest(tb testing.TB, opts ...Option) (*Server, *httptest.Server) {
	tb.Helper()
	gin.SetMode(gin.TestMode)
	sim := New(opts...)
	srv := httptest.NewServer(sim.Router())
	tb.Cleanup(func() {
		srv.CloseClientConnections()
		srv.Close()
	})
	return sim, srv
}
