package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "potlink"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "status_http",
			Name:      "requests_total",
			Help:      "Total requests served by the status node.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "status_http",
			Name:      "request_duration_seconds",
			Help:      "Status node request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	exchanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_exchanges_total",
			Help:      "Client-mode HTTP exchanges by response status and result.",
		},
		[]string{"status", "result"},
	)
	exchangeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_exchange_duration_seconds",
			Help:      "Connect, send, and read time of one client exchange.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	bodyBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_body_bytes",
			Help:      "Response body sizes by storage class.",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 8),
		},
		[]string{"storage"},
	)
	bodyTokens = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "json_tokens",
			Help:      "Tokens produced per JSON response body.",
			Buckets:   prometheus.LinearBuckets(0, 16, 9),
		},
	)
	frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Command frames handled by result.",
		},
		[]string{"result"},
	)
	sessions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Command-frame peer sessions accepted.",
		},
	)
	latestSample = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sample_latest",
			Help:      "Most recent raw sample value.",
		},
	)
	outputState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "output_state",
			Help:      "Current state of each output (1 on, 0 off).",
		},
		[]string{"output"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			exchanges, exchangeDuration, bodyBytes, bodyTokens,
			frames, sessions, latestSample, outputState,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordExchange counts one client exchange. status is 0 when no status
// line was read.
func RecordExchange(status int, result string, duration time.Duration) {
	RegisterMetrics()
	exchanges.WithLabelValues(strconv.Itoa(status), result).Inc()
	exchangeDuration.Observe(duration.Seconds())
}

func RecordBody(storage string, size int, tokens int) {
	RegisterMetrics()
	bodyBytes.WithLabelValues(storage).Observe(float64(size))
	if tokens >= 0 {
		bodyTokens.Observe(float64(tokens))
	}
}

func RecordFrame(result string) {
	RegisterMetrics()
	frames.WithLabelValues(result).Inc()
}

func RecordSession() {
	RegisterMetrics()
	sessions.Inc()
}

func SetSample(v uint16) {
	RegisterMetrics()
	latestSample.Set(float64(v))
}

func SetOutput(name string, on bool) {
	RegisterMetrics()
	v := 0.0
	if on {
		v = 1
	}
	outputState.WithLabelValues(name).Set(v)
}
