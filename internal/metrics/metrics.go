// Package metrics exposes marketplace counters in the Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

const namespace = "nftmarket"

// Registry owns a private Prometheus registry and the marketplace collectors.
type Registry struct {
	registry        *prometheus.Registry
	operations      *prometheus.CounterVec
	opDuration      *prometheus.HistogramVec
	settlements     *prometheus.CounterVec
	settledValue    *prometheus.CounterVec
	lockContentions *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	wsClients       prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New() *Registry {
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "listing_operations_total",
		Help:      "Listing operations by operation and result code",
	}, []string{"op", "code"})

	opDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "listing_operation_seconds",
		Help:      "Latency of listing operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	settlements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "settlements_total",
		Help:      "Completed sales by currency",
	}, []string{"currency"})

	settledValue := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "settled_value_total",
		Help:      "Settled amounts in smallest currency units, by currency and payee kind",
	}, []string{"currency", "kind"})

	locks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lock_contentions_total",
		Help:      "Operations that had to wait for a listing or asset lock",
	}, []string{"op"})

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route pattern and status",
	}, []string{"route", "status"})

	wsClients := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_clients",
		Help:      "Connected WebSocket clients",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(operations, opDuration, settlements, settledValue, locks, httpRequests, wsClients)

	return &Registry{
		registry:        r,
		operations:      operations,
		opDuration:      opDuration,
		settlements:     settlements,
		settledValue:    settledValue,
		lockContentions: locks,
		httpRequests:    httpRequests,
		wsClients:       wsClients,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveOperation counts one listing operation and records its latency.
func (m *Registry) ObserveOperation(op, code string, elapsed time.Duration) {
	m.operations.WithLabelValues(op, code).Inc()
	m.opDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveSettlement adds a completed sale's amounts.
func (m *Registry) ObserveSettlement(res domain.SettlementResult) {
	m.settlements.WithLabelValues(res.Currency).Inc()
	m.settledValue.WithLabelValues(res.Currency, "seller").Add(float64(res.SellerProceeds))
	m.settledValue.WithLabelValues(res.Currency, "fee").Add(float64(res.FeeAmount))
	m.settledValue.WithLabelValues(res.Currency, "royalty").Add(float64(res.RoyaltyAmount))
}

// ObserveLockContention counts an operation that found its lock held.
func (m *Registry) ObserveLockContention(op string) {
	m.lockContentions.WithLabelValues(op).Inc()
}

// ObserveHTTP counts one served request.
func (m *Registry) ObserveHTTP(route string, status int) {
	m.httpRequests.WithLabelValues(route, http.StatusText(status)).Inc()
}

// SetWSClients records the current number of WebSocket clients.
func (m *Registry) SetWSClients(n int) {
	m.wsClients.Set(float64(n))
}
