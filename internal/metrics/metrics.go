// Package metrics exposes store and revocation counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/andyleap/authsessions/internal/models"
)

const namespace = "authsessions"

// StoreStats is what the gauges read on every scrape
type StoreStats interface {
	Len() int
	PrincipalCount() int
}

// Metrics observes the authorization store and the admin facade
type Metrics struct {
	registry    *prometheus.Registry
	saved       *prometheus.CounterVec
	removed     prometheus.Counter
	revocations *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		saved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authorizations_saved_total",
			Help:      "Authorizations written to the store, by grant type.",
		}, []string{"grant_type"}),
		removed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authorizations_removed_total",
			Help:      "Authorizations removed from the store.",
		}),
		revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admin_revocations_total",
			Help:      "Administrative revocations, by the token kind that matched.",
		}, []string{"token_type"}),
	}

	m.registry.MustRegister(
		m.saved,
		m.removed,
		m.revocations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// WatchStore registers gauges that read stats on every scrape
func (m *Metrics) WatchStore(stats StoreStats) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "authorizations",
			Help:      "Authorizations currently stored.",
		}, func() float64 { return float64(stats.Len()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "principals",
			Help:      "Principals holding at least one authorization.",
		}, func() float64 { return float64(stats.PrincipalCount()) }),
	)
}

func (m *Metrics) AuthorizationSaved(a *models.Authorization) {
	m.saved.WithLabelValues(string(a.GrantType)).Inc()
}

func (m *Metrics) AuthorizationRemoved(*models.Authorization) {
	m.removed.Inc()
}

func (m *Metrics) TokenRevoked(kind models.TokenKind) {
	m.revocations.WithLabelValues(string(kind)).Inc()
}

// Handler serves the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
