package service

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"docdrive/internal/domain"
)

// Metrics holds the Prometheus collectors of the metadata layer.
type Metrics struct {
	OperationsTotal    *prometheus.CounterVec   // docdrive_operations_total{operation,status}
	OperationDuration  *prometheus.HistogramVec // docdrive_operation_duration_seconds{operation}
	BlobDeletionsTotal *prometheus.CounterVec   // docdrive_blob_deletions_total{status}
	SweepBacklog       prometheus.Gauge         // docdrive_sweep_backlog
}

// NewMetrics registers the collectors with reg. A nil reg yields working
// collectors that are not exported anywhere.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docdrive_operations_total",
			Help: "Total metadata operations by operation and status",
		}, []string{"operation", "status"}),

		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docdrive_operation_duration_seconds",
			Help:    "Metadata operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),

		BlobDeletionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docdrive_blob_deletions_total",
			Help: "Blob deletions attempted after metadata deletes, by status",
		}, []string{"status"}),

		SweepBacklog: factory.NewGauge(prometheus.GaugeOpts{
			Name: "docdrive_sweep_backlog",
			Help: "Pending blob deletions picked up by the last sweep",
		}),
	}
}

func (m *Metrics) observe(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(operation, statusOf(err)).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) blobDeleted(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.BlobDeletionsTotal.WithLabelValues("ok").Inc()
		return
	}
	m.BlobDeletionsTotal.WithLabelValues("failed").Inc()
}

func statusOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInvalidTarget):
		return "invalid_target"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrStorage):
		return "storage"
	case errors.Is(err, domain.ErrInvalidArgument):
		return "invalid_argument"
	default:
		return "error"
	}
}
