// Package metrics exposes per-run pipeline counters in Prometheus format.
// A run either pushes them to a Pushgateway or writes them to a textfile
// for the node_exporter collector.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/franz/sparkify-lake/internal/engine"
)

const namespace = "sparkify"

// Registry holds the pipeline collectors on a private Prometheus registry
type Registry struct {
	reg *prometheus.Registry

	RowsLoaded   *prometheus.CounterVec
	FilesRead    *prometheus.CounterVec
	BytesRead    *prometheus.CounterVec
	RowsWritten  *prometheus.CounterVec
	FilesWritten *prometheus.CounterVec
	BytesWritten *prometheus.CounterVec
	WriteSec     *prometheus.HistogramVec
	Runs         *prometheus.CounterVec
	RunSec       prometheus.Gauge
	LastSuccess  prometheus.Gauge
}

// NewRegistry creates and registers every collector under the sparkify
// namespace
func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	tableLabel := []string{"table"}

	rowsLoaded := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "rows_loaded_total"}, tableLabel)
	filesRead := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "files_read_total"}, tableLabel)
	bytesRead := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "bytes_read_total"}, tableLabel)
	rowsWritten := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "rows_written_total"}, tableLabel)
	filesWritten := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "files_written_total"}, tableLabel)
	bytesWritten := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "bytes_written_total"}, tableLabel)
	writeSec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "table_write_seconds",
		Buckets:   prometheus.DefBuckets,
	}, tableLabel)
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "runs_total"}, []string{"status"})
	runSec := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "run_duration_seconds"})
	lastSuccess := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "last_success_timestamp_seconds"})

	r.MustRegister(rowsLoaded, filesRead, bytesRead, rowsWritten, filesWritten, bytesWritten, writeSec, runs, runSec, lastSuccess)
	return &Registry{
		reg:          r,
		RowsLoaded:   rowsLoaded,
		FilesRead:    filesRead,
		BytesRead:    bytesRead,
		RowsWritten:  rowsWritten,
		FilesWritten: filesWritten,
		BytesWritten: bytesWritten,
		WriteSec:     writeSec,
		Runs:         runs,
		RunSec:       runSec,
		LastSuccess:  lastSuccess,
	}
}

// ObserveLoad records one input load. Safe on a nil registry.
func (r *Registry) ObserveLoad(res *engine.LoadResult) {
	if r == nil || res == nil {
		return
	}
	r.RowsLoaded.WithLabelValues(res.Table).Add(float64(res.Rows))
	r.FilesRead.WithLabelValues(res.Table).Add(float64(res.Files))
	r.BytesRead.WithLabelValues(res.Table).Add(float64(res.Bytes))
}

// ObserveWrite records one output table write. Safe on a nil registry.
func (r *Registry) ObserveWrite(res *engine.WriteResult) {
	if r == nil || res == nil {
		return
	}
	r.RowsWritten.WithLabelValues(res.Table).Add(float64(res.Rows))
	r.FilesWritten.WithLabelValues(res.Table).Add(float64(res.Files))
	r.BytesWritten.WithLabelValues(res.Table).Add(float64(res.Bytes))
	r.WriteSec.WithLabelValues(res.Table).Observe(res.Duration.Seconds())
}

// ObserveRun records the outcome of a run
func (r *Registry) ObserveRun(status string, duration time.Duration, succeeded bool) {
	if r == nil {
		return
	}
	r.Runs.WithLabelValues(status).Inc()
	r.RunSec.Set(duration.Seconds())
	if succeeded {
		r.LastSuccess.SetToCurrentTime()
	}
}

// Gatherer returns the underlying registry for exporters and tests
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Push replaces the metrics of job on the Pushgateway at url
func (r *Registry) Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(r.reg).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}

// WriteTextfile atomically writes the metrics in text exposition format
func (r *Registry) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
