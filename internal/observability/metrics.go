package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kn3aux",
			Subsystem: "dispatch",
			Name:      "total",
			Help:      "Dispatched operations by outcome.",
		},
		[]string{"operation", "outcome"},
	)
	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kn3aux",
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Round trip of a dispatch request.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	streamFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kn3aux",
			Subsystem: "stream",
			Name:      "frames_total",
			Help:      "Stream frames received by kind.",
		},
		[]string{"kind"},
	)
	runnerRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kn3aux",
			Subsystem: "runner",
			Name:      "rejections_total",
			Help:      "Operations rejected because another one was in flight.",
		},
	)
	runnerBusy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kn3aux",
			Subsystem: "runner",
			Name:      "busy",
			Help:      "1 while an operation is in flight.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(dispatchTotal, dispatchDuration, streamFrames, runnerRejections, runnerBusy)
	})
}

// MetricsHandler serves the default registry.
func MetricsHandler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func RecordDispatch(operation, outcome string, duration time.Duration) {
	dispatchTotal.WithLabelValues(operation, outcome).Inc()
	dispatchDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func RecordFrame(kind string) {
	streamFrames.WithLabelValues(kind).Inc()
}

func RecordRejection() {
	runnerRejections.Inc()
}

func SetBusy(busy bool) {
	if busy {
		runnerBusy.Set(1)
		return
	}
	runnerBusy.Set(0)
}
