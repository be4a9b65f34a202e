// Package metrics provides Prometheus metrics for storagehx disks.
package metrics

import (
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storagehx_operations_total",
			Help: "Total adapter operations",
		},
		[]string{"disk", "operation", "status"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storagehx_operation_duration_seconds",
			Help:    "Adapter operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"disk", "operation"},
	)

	bytesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storagehx_bytes_written_total",
			Help: "Total bytes handed to adapters for writing",
		},
		[]string{"disk"},
	)

	bytesRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storagehx_bytes_read_total",
			Help: "Total bytes read from adapters",
		},
		[]string{"disk"},
	)

	// Probe metrics
	probeUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "storagehx_probe_up",
			Help: "Whether the last connectivity probe of a disk succeeded",
		},
		[]string{"disk"},
	)

	probeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storagehx_probe_duration_seconds",
			Help:    "Connectivity probe duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"disk"},
	)

	probeLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "storagehx_probe_last_success_timestamp_seconds",
			Help: "Unix time of the last successful probe",
		},
		[]string{"disk"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordOperation records one adapter call.
func RecordOperation(disk, operation string, err error, duration time.Duration) {
	operationsTotal.WithLabelValues(disk, operation, status(err)).Inc()
	operationDuration.WithLabelValues(disk, operation).Observe(duration.Seconds())
}

// RecordProbe records the outcome of a connectivity probe.
func RecordProbe(disk string, err error, duration time.Duration) {
	probeDuration.WithLabelValues(disk).Observe(duration.Seconds())
	if err != nil {
		probeUp.WithLabelValues(disk).Set(0)
		return
	}
	probeUp.WithLabelValues(disk).Set(1)
	probeLastSuccess.WithLabelValues(disk).SetToCurrentTime()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// countingReader adds every byte read to a counter.
type countingReader struct {
	io.Reader
	counter prometheus.Counter
}

func (r countingReader) Read(p []byte) (int, error) {
	n, err := r.Reader.Read(p)
	r.counter.Add(float64(n))
	return n, err
}

type countingReadCloser struct {
	countingReader
	io.Closer
}
