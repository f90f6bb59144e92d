package changefeed

import (
	"client-portal/internal/model"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is optional; a nil *Metrics records nothing.
type Metrics struct {
	events        *prometheus.CounterVec
	drops         *prometheus.CounterVec
	evictions     *prometheus.CounterVec
	subscriptions prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "changefeed",
			Name:      "events_published_total",
			Help:      "Change events accepted for fan-out.",
		}, []string{"table", "type"}),
		drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "changefeed",
			Name:      "events_dropped_total",
			Help:      "Change events dropped because the dispatch queue was full.",
		}, []string{"table"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "changefeed",
			Name:      "subscribers_evicted_total",
			Help:      "Subscriptions closed because their outbox was full.",
		}, []string{"table"}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "portal",
			Subsystem: "changefeed",
			Name:      "subscriptions",
			Help:      "Live realtime subscriptions.",
		}),
	}
	reg.MustRegister(m.events, m.drops, m.evictions, m.subscriptions)
	return m
}

func (m *Metrics) published(ev model.ChangeEvent) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(ev.Table, string(ev.Type)).Inc()
}

func (m *Metrics) dropped(ev model.ChangeEvent) {
	if m == nil {
		return
	}
	m.drops.WithLabelValues(ev.Table).Inc()
}

func (m *Metrics) subscribed(delta float64) {
	if m == nil {
		return
	}
	m.subscriptions.Add(delta)
}

func (m *Metrics) evicted(table string) {
	if m == nil {
		return
	}
	m.evictions.WithLabelValues(table).Inc()
}
