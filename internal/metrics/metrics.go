package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records the counters of one export run on a private registry.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	secretsExported  prometheus.Counter
	readFailures     prometheus.Counter
	listFailures     prometheus.Counter
	namespacesListed prometheus.Counter
	depthExceeded    prometheus.Counter
	requestDuration  *prometheus.HistogramVec
}

// New creates and registers the export metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		secretsExported: factory.NewCounter(prometheus.CounterOpts{
			Name: "kvexport_secrets_exported_total",
			Help: "Total number of secret records written to the output stream",
		}),
		readFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "kvexport_secret_read_failures_total",
			Help: "Total number of leaf secrets skipped because the read failed",
		}),
		listFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "kvexport_list_failures_total",
			Help: "Total number of list calls that failed and were treated as empty",
		}),
		namespacesListed: factory.NewCounter(prometheus.CounterOpts{
			Name: "kvexport_namespaces_listed_total",
			Help: "Total number of namespace prefixes listed",
		}),
		depthExceeded: factory.NewCounter(prometheus.CounterOpts{
			Name: "kvexport_depth_limit_exceeded_total",
			Help: "Total number of prefixes skipped because they exceeded the maximum depth",
		}),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kvexport_request_duration_seconds",
				Help:    "Duration of secret store requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"operation", "status"},
		),
	}
}

func (m *Metrics) SecretExported() {
	if m != nil {
		m.secretsExported.Inc()
	}
}

func (m *Metrics) ReadFailed() {
	if m != nil {
		m.readFailures.Inc()
	}
}

func (m *Metrics) ListFailed() {
	if m != nil {
		m.listFailures.Inc()
	}
}

func (m *Metrics) NamespaceListed() {
	if m != nil {
		m.namespacesListed.Inc()
	}
}

func (m *Metrics) DepthExceeded() {
	if m != nil {
		m.depthExceeded.Inc()
	}
}

// ObserveRequest records one store request. operation is one of
// "probe", "list" or "read".
func (m *Metrics) ObserveRequest(operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.requestDuration.WithLabelValues(operation, status).Observe(d.Seconds())
}

// WriteTextfile writes all metrics in the Prometheus text format, for the
// node_exporter textfile collector. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
