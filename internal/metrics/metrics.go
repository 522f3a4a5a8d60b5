// Package metrics exposes Prometheus counters for searches, discovery and
// dispatch.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry prometheus.Gatherer

	Searches        *prometheus.CounterVec
	SearchDuration  prometheus.Histogram
	RegistryPages   *prometheus.CounterVec
	CompaniesSaved  prometheus.Counter
	Discoveries     *prometheus.CounterVec
	EmailsSent      *prometheus.CounterVec
	ActiveCampaigns prometheus.Gauge
}

// New registers the metrics on reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Searches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prospect_searches_total",
			Help: "Diversified registry searches by outcome",
		}, []string{"outcome"}),
		SearchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "prospect_search_duration_seconds",
			Help:    "Time spent building one diversified sample",
			Buckets: prometheus.DefBuckets,
		}),
		RegistryPages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prospect_registry_pages_total",
			Help: "Registry pages requested by result",
		}, []string{"result"}),
		CompaniesSaved: f.NewCounter(prometheus.CounterOpts{
			Name: "prospect_companies_saved_total",
			Help: "Companies persisted from search results",
		}),
		Discoveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prospect_discoveries_total",
			Help: "Contact discovery runs by source",
		}, []string{"source"}),
		EmailsSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prospect_emails_total",
			Help: "Send attempts by status",
		}, []string{"status"}),
		ActiveCampaigns: f.NewGauge(prometheus.GaugeOpts{
			Name: "prospect_active_campaigns",
			Help: "Campaigns currently dispatching",
		}),
	}
}

// Handler serves the registry in the text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveSend counts one send attempt.
func (m *Metrics) ObserveSend(success bool) {
	if m == nil {
		return
	}
	status := "failed"
	if success {
		status = "sent"
	}
	m.EmailsSent.WithLabelValues(status).Inc()
}

// ObserveSearch counts one search and its duration.
func (m *Metrics) ObserveSearch(err error, seconds float64) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Searches.WithLabelValues(outcome).Inc()
	m.SearchDuration.Observe(seconds)
}

// ObservePages counts fetched and failed registry pages.
func (m *Metrics) ObservePages(fetched, failed int) {
	if m == nil {
		return
	}
	m.RegistryPages.WithLabelValues("ok").Add(float64(fetched))
	m.RegistryPages.WithLabelValues("failed").Add(float64(failed))
}

// ObserveSaved counts companies persisted from a search.
func (m *Metrics) ObserveSaved(n int) {
	if m == nil {
		return
	}
	m.CompaniesSaved.Add(float64(n))
}

// ObserveDiscovery counts one discovery run.
func (m *Metrics) ObserveDiscovery(source string) {
	if m == nil {
		return
	}
	m.Discoveries.WithLabelValues(source).Inc()
}

// CampaignStarted and CampaignFinished track the running gauge.
func (m *Metrics) CampaignStarted() {
	if m != nil {
		m.ActiveCampaigns.Inc()
	}
}

func (m *Metrics) CampaignFinished() {
	if m != nil {
		m.ActiveCampaigns.Dec()
	}
}
