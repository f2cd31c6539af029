// Package metrics provides Prometheus metrics collection for occigate.
package metrics

import (
	"context"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/artpar/occigate/core/events"
)

const namespace = "occigate"

// Collector holds all Prometheus metrics for occigate.
type Collector struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Auth metrics
	AuthFailures *prometheus.CounterVec

	// Entity metrics
	Entities         *prometheus.GaugeVec
	EventsTotal      *prometheus.CounterVec
	ActionsTotal     *prometheus.CounterVec
	StateTransitions *prometheus.CounterVec

	// Backend metrics
	BackendDuration *prometheus.HistogramVec
	BackendErrors   *prometheus.CounterVec

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge
}

// New creates a new metrics collector registered with the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new metrics collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of requests processed",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path", "status"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "requests_in_flight",
				Help:      "Number of requests currently being processed",
			},
		),
		AuthFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_failures_total",
				Help:      "Total number of authentication failures",
			},
			[]string{"reason"},
		),
		Entities: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "entities",
				Help:      "Number of bound entities by kind",
			},
			[]string{"kind"},
		),
		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Total number of lifecycle events published",
			},
			[]string{"event"},
		),
		ActionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_total",
				Help:      "Total number of actions carried out",
			},
			[]string{"action"},
		),
		StateTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_transitions_total",
				Help:      "Total number of lifecycle state transitions",
			},
			[]string{"kind", "from", "to"},
		),
		BackendDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "backend_duration_seconds",
				Help:      "Backend call duration in seconds",
				Buckets:   []float64{.001, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"backend", "op"},
		),
		BackendErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_errors_total",
				Help:      "Total number of failed backend calls",
			},
			[]string{"backend", "op"},
		),
		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),
	}
}

// Subscribe keeps the entity metrics current from the lifecycle events.
func (c *Collector) Subscribe(bus *events.Bus) {
	bus.Subscribe("*", c.observe)
}

func (c *Collector) observe(_ context.Context, e events.Event) error {
	c.EventsTotal.WithLabelValues(e.Name).Inc()

	switch e.Name {
	case events.EntityCreated, events.LinkCreated:
		c.Entities.WithLabelValues(e.Category).Inc()
	case events.EntityDeleted, events.LinkDeleted:
		c.Entities.WithLabelValues(e.Category).Dec()
	case events.ActionTriggered:
		c.ActionsTotal.WithLabelValues(e.Category).Inc()
	case events.StateChanged:
		kind, _ := e.Data["kind"].(string)
		from, _ := e.Data["from"].(string)
		to, _ := e.Data["to"].(string)
		c.StateTransitions.WithLabelValues(kind, from, to).Inc()
	}
	return nil
}

// NormalizePath reduces cardinality by replacing entity identifiers.
// e.g., /compute/6a1f... -> /compute/:id
// Collections, which end in a slash, are kept as they are.
func NormalizePath(path string) string {
	if path == "" || strings.HasSuffix(path, "/") {
		return path
	}
	i := strings.LastIndexByte(path, '/')
	if i <= 0 {
		return path
	}
	return path[:i+1] + ":id"
}
