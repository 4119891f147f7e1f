// Package metrics exposes Prometheus collectors for model acquisitions.
package metrics

import (
	"time"

	"github.com/lgulliver/rvcstore/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	acquisitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rvcstore_acquisitions_total",
		Help: "Model acquisitions by source and outcome",
	}, []string{"source", "outcome"})

	acquisitionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rvcstore_acquisition_duration_seconds",
		Help:    "Time spent acquiring and extracting a model",
		Buckets: prometheus.ExponentialBuckets(0.05, 4, 8),
	}, []string{"source"})

	archiveBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rvcstore_archive_bytes_total",
		Help: "Archive bytes received by source",
	}, []string{"source"})

	transientSweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rvcstore_transient_swept_total",
		Help: "Orphaned staging directories and download files removed by the janitor",
	})
)

// ObserveAcquisition records one finished acquisition. The outcome label is
// the error kind of err, "success" when err is nil.
func ObserveAcquisition(source types.SourceKind, err error, archiveBytes int64, elapsed time.Duration) {
	acquisitionsTotal.WithLabelValues(string(source), types.ErrorKind(err)).Inc()
	acquisitionDuration.WithLabelValues(string(source)).Observe(elapsed.Seconds())
	if archiveBytes > 0 {
		archiveBytesTotal.WithLabelValues(string(source)).Add(float64(archiveBytes))
	}
}

// ObserveSweep records transient entries removed by one sweep
func ObserveSweep(removed int) {
	transientSweptTotal.Add(float64(removed))
}
