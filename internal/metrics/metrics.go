// Package metrics exposes file service activity and quota usage to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fstore-go/internal/fstore"
)

// Metrics implements fstore.Recorder on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	Uploads     *prometheus.CounterVec // fstore_uploads_total{result}
	Downloads   *prometheus.CounterVec // fstore_downloads_total{result}
	Deletes     *prometheus.CounterVec // fstore_deletes_total{result}
	Renames     *prometheus.CounterVec // fstore_renames_total{result}
	UploadBytes prometheus.Histogram   // fstore_upload_bytes
}

// New registers the operation metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Uploads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fstore_uploads_total",
			Help: "Upload attempts by result",
		}, []string{"result"}),
		Downloads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fstore_downloads_total",
			Help: "Download attempts by result",
		}, []string{"result"}),
		Deletes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fstore_deletes_total",
			Help: "Delete attempts by result",
		}, []string{"result"}),
		Renames: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fstore_renames_total",
			Help: "Rename attempts by result",
		}, []string{"result"}),
		UploadBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fstore_upload_bytes",
			Help:    "Size of successfully uploaded files in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1KiB .. 256MiB
		}),
	}
}

func (m *Metrics) ObserveUpload(result string, size int64) {
	m.Uploads.WithLabelValues(result).Inc()
	if result == "ok" {
		m.UploadBytes.Observe(float64(size))
	}
}

func (m *Metrics) ObserveDownload(result string) { m.Downloads.WithLabelValues(result).Inc() }
func (m *Metrics) ObserveDelete(result string)   { m.Deletes.WithLabelValues(result).Inc() }
func (m *Metrics) ObserveRename(result string)   { m.Renames.WithLabelValues(result).Inc() }

// WatchQuota adds gauges that take a fresh snapshot from guard on every scrape.
func (m *Metrics) WatchQuota(guard fstore.QuotaGuard, logger fstore.Logger) {
	m.registry.MustRegister(newQuotaCollector(guard, logger))
}

// Registry is the registry all fstore metrics live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

var _ fstore.Recorder = (*Metrics)(nil)

type quotaCollector struct {
	guard  fstore.QuotaGuard
	logger fstore.Logger

	used    *prometheus.Desc
	max     *prometheus.Desc
	percent *prometheus.Desc
}

func newQuotaCollector(guard fstore.QuotaGuard, logger fstore.Logger) *quotaCollector {
	if logger == nil {
		logger = fstore.NewNopLogger()
	}
	return &quotaCollector{
		guard:   guard,
		logger:  logger,
		used:    prometheus.NewDesc("fstore_quota_used_bytes", "Bytes currently stored", nil, nil),
		max:     prometheus.NewDesc("fstore_quota_max_bytes", "Configured storage ceiling in bytes", nil, nil),
		percent: prometheus.NewDesc("fstore_quota_used_percent", "Stored bytes as a percentage of the ceiling", nil, nil),
	}
}

func (c *quotaCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.used
	ch <- c.max
	ch <- c.percent
}

func (c *quotaCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	snap, err := c.guard.Snapshot(ctx)
	if err != nil {
		c.logger.Warn("quota snapshot failed during scrape", "error", err)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.used, prometheus.GaugeValue, float64(snap.CurrentUsage))
	ch <- prometheus.MustNewConstMetric(c.max, prometheus.GaugeValue, float64(snap.MaxSize))
	ch <- prometheus.MustNewConstMetric(c.percent, prometheus.GaugeValue, snap.Percentage)
}
