package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pipeframe",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pipeframe",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	framesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pipeframe",
			Subsystem: "relay",
			Name:      "frames_sent_total",
			Help:      "Frames written to worker stdin.",
		},
		[]string{"worker"},
	)
	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pipeframe",
			Subsystem: "relay",
			Name:      "frames_received_total",
			Help:      "Frames read and verified from worker stdout.",
		},
		[]string{"worker"},
	)
	bytesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pipeframe",
			Subsystem: "relay",
			Name:      "bytes_sent_total",
			Help:      "Bytes written to worker stdin.",
		},
		[]string{"worker"},
	)
	bytesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pipeframe",
			Subsystem: "relay",
			Name:      "bytes_received_total",
			Help:      "Frame bytes read from worker stdout.",
		},
		[]string{"worker"},
	)
	crcFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pipeframe",
			Subsystem: "relay",
			Name:      "crc_failures_total",
			Help:      "Headers rejected by CRC verification.",
		},
		[]string{"worker"},
	)
	drainedBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pipeframe",
			Subsystem: "relay",
			Name:      "recovered_bytes_total",
			Help:      "Bytes drained from stdout during the recovery window.",
		},
		[]string{"worker"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			framesSent, framesReceived, bytesSent, bytesReceived, crcFailures, drainedBytes,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

// RelayMetrics records frame traffic for one named worker. A nil
// *RelayMetrics records nothing.
type RelayMetrics struct {
	worker string
}

func NewRelayMetrics(worker string) *RelayMetrics {
	RegisterMetrics()
	return &RelayMetrics{worker: worker}
}

func (m *RelayMetrics) FrameSent(size int) {
	if m == nil {
		return
	}
	framesSent.WithLabelValues(m.worker).Inc()
	bytesSent.WithLabelValues(m.worker).Add(float64(size))
}

func (m *RelayMetrics) FrameReceived(size int) {
	if m == nil {
		return
	}
	framesReceived.WithLabelValues(m.worker).Inc()
	bytesReceived.WithLabelValues(m.worker).Add(float64(size))
}

func (m *RelayMetrics) CRCFailure(drained int) {
	if m == nil {
		return
	}
	crcFailures.WithLabelValues(m.worker).Inc()
	drainedBytes.WithLabelValues(m.worker).Add(float64(drained))
}
