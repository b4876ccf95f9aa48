// Package metrics provides optional Prometheus instrumentation for the
// server: session, RPC and transfer counters.
//
// Metrics are disabled unless Init is called (the metrics_port config key
// enables them). All recorders are safe no-ops when disabled.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mu       sync.Mutex
	registry *prometheus.Registry

	sessionsActive prometheus.Gauge
	rpcsTotal      *prometheus.CounterVec
	transfersTotal *prometheus.CounterVec
	transferBytes  *prometheus.CounterVec
)

// Init creates the metrics registry and collectors. Idempotent.
func Init() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	if registry != nil {
		return registry
	}
	registry = prometheus.NewRegistry()

	sessionsActive = promauto.With(registry).NewGauge(prometheus.GaugeOpts{
		Name: "easyshare_sessions_active",
		Help: "Number of live control-channel sessions",
	})
	rpcsTotal = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "easyshare_rpcs_total",
		Help: "Total RPCs dispatched, by method",
	}, []string{"method"})
	transfersTotal = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "easyshare_transfers_total",
		Help: "Total transfers, by direction and outcome",
	}, []string{"direction", "outcome"})
	transferBytes = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "easyshare_transfer_bytes_total",
		Help: "Total transferred payload bytes, by direction",
	}, []string{"direction"})

	return registry
}

// IsEnabled reports whether Init has been called.
func IsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return registry != nil
}

// Registry returns the registry, or nil when metrics are disabled.
func Registry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	return registry
}

// SessionOpened records a new control-channel session.
func SessionOpened() {
	if sessionsActive != nil {
		sessionsActive.Inc()
	}
}

// SessionClosed records a session teardown.
func SessionClosed() {
	if sessionsActive != nil {
		sessionsActive.Dec()
	}
}

// RecordRPC counts one dispatched RPC.
func RecordRPC(method string) {
	if rpcsTotal != nil {
		rpcsTotal.WithLabelValues(method).Inc()
	}
}

// RecordTransfer counts one finished transfer.
func RecordTransfer(direction, outcome string) {
	if transfersTotal != nil {
		transfersTotal.WithLabelValues(direction, outcome).Inc()
	}
}

// AddTransferBytes accumulates transferred payload bytes.
func AddTransferBytes(direction string, n int64) {
	if transferBytes != nil && n > 0 {
		transferBytes.WithLabelValues(direction).Add(float64(n))
	}
}
