// Package metrics exposes Prometheus collectors for the accounts service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "blog"

// Metrics holds every collector the service records to.
// A nil *Metrics is valid for callers that check before recording.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Tokens and authentication
	TokenValidations *prometheus.CounterVec
	TokensIssued     *prometheus.CounterVec
	Authentications  *prometheus.CounterVec

	// Account lifecycle
	AccountEvents *prometheus.CounterVec

	// Account cache
	CacheLookups   *prometheus.CounterVec
	CacheEvictions prometheus.Counter

	// Mail
	MailDeliveries *prometheus.CounterVec

	// Social sign-in
	SocialReconciles *prometheus.CounterVec

	// Sweep
	SweepRuns            prometheus.Counter
	SweepAccountsRemoved prometheus.Counter
	SweepDuration        prometheus.Histogram
	SweepLastRunTime     prometheus.Gauge
}

// New creates the collectors on a private registry together with the
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		TokenValidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "validations_total",
			Help:      "Bearer token validations by outcome.",
		}, []string{"result"}),
		TokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "issued_total",
			Help:      "Tokens issued, split by remember-me.",
		}, []string{"remember_me"}),
		Authentications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "attempts_total",
			Help:      "Credential authentication attempts by outcome.",
		}, []string{"result"}),

		AccountEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "account",
			Name:      "events_total",
			Help:      "Account lifecycle transitions.",
		}, []string{"event"}),

		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "account_cache",
			Name:      "lookups_total",
			Help:      "Account cache lookups by result.",
		}, []string{"result"}),
		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "account_cache",
			Name:      "evictions_total",
			Help:      "Account cache entries evicted after a write.",
		}),

		MailDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mail",
			Name:      "deliveries_total",
			Help:      "Outgoing mails by template and result.",
		}, []string{"template", "result"}),

		SocialReconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "social",
			Name:      "reconciles_total",
			Help:      "Social identity reconciliations by provider and outcome.",
		}, []string{"provider", "outcome"}),

		SweepRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "runs_total",
			Help:      "Completed unactivated account sweeps.",
		}),
		SweepAccountsRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "accounts_removed_total",
			Help:      "Unactivated accounts removed by the sweep.",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "duration_seconds",
			Help:      "Sweep run duration.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		SweepLastRunTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last completed sweep.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.TokenValidations,
		m.TokensIssued,
		m.Authentications,
		m.AccountEvents,
		m.CacheLookups,
		m.CacheEvictions,
		m.MailDeliveries,
		m.SocialReconciles,
		m.SweepRuns,
		m.SweepAccountsRemoved,
		m.SweepDuration,
		m.SweepLastRunTime,
	)

	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordSweepRun records a completed sweep.
func (m *Metrics) RecordSweepRun(duration time.Duration, removed int) {
	m.SweepRuns.Inc()
	m.SweepAccountsRemoved.Add(float64(removed))
	m.SweepDuration.Observe(duration.Seconds())
	m.SweepLastRunTime.SetToCurrentTime()
}
