package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of one fnpack run. All methods are
// safe on a nil *Metrics, which records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Compile metrics
	compilesTotal   *prometheus.CounterVec
	compileDuration prometheus.Histogram

	// Archive metrics
	archivesTotal   *prometheus.CounterVec
	archiveDuration prometheus.Histogram
	archiveSize     prometheus.Histogram
	archiveFiles    prometheus.Histogram

	// Pre-built artifact metrics
	copiesTotal *prometheus.CounterVec

	// Storage metrics
	storageOperationsTotal   *prometheus.CounterVec
	storageBytesTotal        *prometheus.CounterVec
	storageOperationDuration *prometheus.HistogramVec

	// Phase metrics
	phaseDuration *prometheus.GaugeVec
}

// NewMetrics creates the metrics on a private registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// Compile metrics
		compilesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fnpack_compiles_total",
				Help: "Total number of entry compilations",
			},
			[]string{"status"},
		),
		compileDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fnpack_compile_duration_seconds",
				Help:    "Compilation latency per entry in seconds",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),

		// Archive metrics
		archivesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fnpack_archives_total",
				Help: "Total number of archives written",
			},
			[]string{"status"},
		),
		archiveDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fnpack_archive_duration_seconds",
				Help:    "Archive creation latency in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		archiveSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fnpack_archive_size_bytes",
				Help:    "Archive size in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
			},
		),
		archiveFiles: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fnpack_archive_files",
				Help:    "Number of files per archive",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
		),

		// Pre-built artifact metrics
		copiesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fnpack_prebuilt_copies_total",
				Help: "Total number of pre-built artifacts copied",
			},
			[]string{"status"},
		),

		// Storage metrics
		storageOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fnpack_storage_operations_total",
				Help: "Total number of storage operations",
			},
			[]string{"operation", "bucket", "status"},
		),
		storageBytesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fnpack_storage_bytes_total",
				Help: "Total bytes transferred to storage",
			},
			[]string{"operation", "bucket"},
		),
		storageOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fnpack_storage_operation_duration_seconds",
				Help:    "Storage operation latency in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"operation", "bucket"},
		),

		// Phase metrics
		phaseDuration: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fnpack_phase_duration_seconds",
				Help: "Duration of the last run of each pipeline phase in seconds",
			},
			[]string{"phase"},
		),
	}
}

// Registry returns the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveCompile records one entry compilation
func (m *Metrics) ObserveCompile(duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.compilesTotal.WithLabelValues(status(err)).Inc()
	m.compileDuration.Observe(duration.Seconds())
}

// ObserveArchive records one archive. size and files are ignored on failure.
func (m *Metrics) ObserveArchive(duration time.Duration, size int64, files int, err error) {
	if m == nil {
		return
	}
	m.archivesTotal.WithLabelValues(status(err)).Inc()
	m.archiveDuration.Observe(duration.Seconds())
	if err == nil {
		m.archiveSize.Observe(float64(size))
		m.archiveFiles.Observe(float64(files))
	}
}

// ObserveCopy records one pre-built artifact copy
func (m *Metrics) ObserveCopy(err error) {
	if m == nil {
		return
	}
	m.copiesTotal.WithLabelValues(status(err)).Inc()
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(operation, bucket string, bytes int64, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.storageOperationsTotal.WithLabelValues(operation, bucket, status(err)).Inc()
	m.storageBytesTotal.WithLabelValues(operation, bucket).Add(float64(bytes))
	m.storageOperationDuration.WithLabelValues(operation, bucket).Observe(duration.Seconds())
}

// ObservePhase records how long a pipeline phase took
func (m *Metrics) ObservePhase(phase string, duration time.Duration) {
	if m == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase).Set(duration.Seconds())
}

// WriteTextfile writes the metrics in the text exposition format, for the
// node exporter textfile collector
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
