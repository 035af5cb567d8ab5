package observability

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordDispatchCounts(t *testing.T) {
	before := testutil.ToFloat64(dispatchTotal.WithLabelValues("print-gpt", "inline"))
	RecordDispatch("print-gpt", "inline", 20*time.Millisecond)
	after := testutil.ToFloat64(dispatchTotal.WithLabelValues("print-gpt", "inline"))
	assert.Equal(t, before+1, after)
}

func TestSetBusyGauge(t *testing.T) {
	SetBusy(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(runnerBusy))
	SetBusy(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(runnerBusy))
}

func TestMetricsHandlerServesRegistry(t *testing.T) {
	RecordFrame("output")
	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "kn3aux_stream_frames_total")
}

func TestParseLevel(t *testing.T) {
	lvl, ok := ParseLevel("WARNING")
	assert.True(t, ok)
	assert.Equal(t, zerolog.WarnLevel, lvl)

	lvl, ok = ParseLevel("off")
	assert.True(t, ok)
	assert.Equal(t, zerolog.Disabled, lvl)

	_, ok = ParseLevel("loud")
	assert.False(t, ok)
}
