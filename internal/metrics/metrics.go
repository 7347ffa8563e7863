// Package metrics exposes daemon counters on a private Prometheus registry.
// Every method is safe on a nil *Metrics so components can run without it.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tpost"

// Metrics holds every collector the daemon reports.
type Metrics struct {
	registry       *prometheus.Registry
	postsSaved     prometheus.Counter
	postsSynced    prometheus.Counter
	postsFailed    prometheus.Counter
	imagesUploaded *prometheus.CounterVec
	bytesUploaded  prometheus.Counter
	chunksUploaded prometheus.Counter
	queueLength    prometheus.Gauge
	graphRequests  *prometheus.HistogramVec
	auditEntries   *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.postsSaved = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "posts_saved_total",
		Help:      "Posts written to the local queue.",
	})
	m.postsSynced = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "posts_synced_total",
		Help:      "Queued posts delivered and removed from the queue.",
	})
	m.postsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "posts_sync_failed_total",
		Help:      "Sync attempts that left the post queued for retry.",
	})
	m.imagesUploaded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "images_uploaded_total",
		Help:      "Images stored in the document library, by upload method.",
	}, []string{"method"})
	m.bytesUploaded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "uploaded_bytes_total",
		Help:      "Image bytes stored in the document library.",
	})
	m.chunksUploaded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upload_chunks_total",
		Help:      "Upload-session chunk PUTs accepted.",
	})
	m.queueLength = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_length",
		Help:      "Posts waiting in the local queue.",
	})
	m.graphRequests = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "graph_request_duration_seconds",
		Help:      "Duration of remote API requests by operation and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op", "status"})
	m.auditEntries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_entries_total",
		Help:      "Audit list writes by result.",
	}, []string{"result"})

	m.registry.MustRegister(
		m.postsSaved,
		m.postsSynced,
		m.postsFailed,
		m.imagesUploaded,
		m.bytesUploaded,
		m.chunksUploaded,
		m.queueLength,
		m.graphRequests,
		m.auditEntries,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) PostSaved() {
	if m != nil {
		m.postsSaved.Inc()
	}
}

func (m *Metrics) PostSynced() {
	if m != nil {
		m.postsSynced.Inc()
	}
}

func (m *Metrics) PostFailed() {
	if m != nil {
		m.postsFailed.Inc()
	}
}

func (m *Metrics) QueueLength(n int) {
	if m != nil {
		m.queueLength.Set(float64(n))
	}
}

// ObserveUpload counts a stored image.
func (m *Metrics) ObserveUpload(method string, bytes int) {
	if m == nil {
		return
	}
	m.imagesUploaded.WithLabelValues(method).Inc()
	m.bytesUploaded.Add(float64(bytes))
}

// ObserveChunk counts an accepted chunk PUT.
func (m *Metrics) ObserveChunk() {
	if m != nil {
		m.chunksUploaded.Inc()
	}
}

// ObserveGraphRequest records a remote call. Status 0 is a transport error.
func (m *Metrics) ObserveGraphRequest(op string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.graphRequests.WithLabelValues(op, strconv.Itoa(status)).Observe(d.Seconds())
}

// AuditEntry counts an audit write; ok false means it was swallowed.
func (m *Metrics) AuditEntry(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.auditEntries.WithLabelValues(result).Inc()
}
