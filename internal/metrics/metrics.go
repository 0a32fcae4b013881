package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/surya-moorthy/escrow-reward-system/internal/model"
)

const namespace = "stakeledger"

// Metrics holds the collectors of one process on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	operations      *prometheus.CounterVec
	amounts         *prometheus.CounterVec
	totalStaked     *prometheus.GaugeVec
	treasury        prometheus.Gauge
	sequence        prometheus.Gauge
	persistFailures *prometheus.CounterVec
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Ledger operations by op and result kind.",
		}, []string{"op", "result"}),
		amounts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_amount_total",
			Help:      "Sum of committed amounts by op.",
		}, []string{"op"}),
		totalStaked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "total_staked",
			Help:      "Escrowed amount per asset.",
		}, []string{"asset"}),
		treasury: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "treasury_balance",
			Help:      "Reward liquidity held by the treasury.",
		}),
		sequence: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "journal_sequence",
			Help:      "Sequence of the last committed operation.",
		}),
		persistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Journal and snapshot writes that failed after retries.",
		}, []string{"kind"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_request_count",
			Help:      "HTTP requests by route, status code and method.",
		}, []string{"path", "code", "method"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"path", "code", "method"}),
	}

	m.registry.MustRegister(
		m.operations,
		m.amounts,
		m.totalStaked,
		m.treasury,
		m.sequence,
		m.persistFailures,
		m.requests,
		m.requestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Committed updates counters and balance gauges from a committed entry.
func (m *Metrics) Committed(entry model.JournalEntry) {
	m.operations.WithLabelValues(entry.Op, "ok").Inc()
	if entry.Amount > 0 {
		m.amounts.WithLabelValues(entry.Op).Add(float64(entry.Amount))
	}
	if entry.Asset != nil {
		m.totalStaked.WithLabelValues(entry.Asset.AssetID.Hex()).Set(float64(entry.Asset.TotalStaked))
	}
	if entry.Treasury != nil {
		m.treasury.Set(float64(entry.Treasury.Balance))
	}
	m.sequence.Set(float64(entry.Sequence))
}

// Rejected counts an operation that failed with kind.
func (m *Metrics) Rejected(op, kind string) {
	if kind == "" {
		kind = "internal"
	}
	m.operations.WithLabelValues(op, kind).Inc()
}

// Seed sets the balance gauges from a restored snapshot.
func (m *Metrics) Seed(snap model.Snapshot) {
	for _, asset := range snap.Assets {
		m.totalStaked.WithLabelValues(asset.AssetID.Hex()).Set(float64(asset.TotalStaked))
	}
	m.treasury.Set(float64(snap.Treasury.Balance))
	m.sequence.Set(float64(snap.Sequence))
}

// PersistFailed counts a failed journal or snapshot write.
func (m *Metrics) PersistFailed(kind string) {
	m.persistFailures.WithLabelValues(kind).Inc()
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware records request count and latency per route template.
func (m *Metrics) Middleware(route func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			path := r.URL.Path
			if route != nil {
				if tpl := route(r); tpl != "" {
					path = tpl
				}
			}
			path = strings.ReplaceAll(strings.TrimLeft(path, "/"), "/", "_")
			labels := prometheus.Labels{"path": path, "code": strconv.Itoa(sw.status), "method": r.Method}
			m.requests.With(labels).Inc()
			m.requestDuration.With(labels).Observe(float64(time.Since(start).Milliseconds()))
		})
	}
}
