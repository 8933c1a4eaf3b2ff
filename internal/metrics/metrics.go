package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "wirechat"

// Metrics holds the Prometheus collectors of the coordinator.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	connections prometheus.Gauge
	messages    prometheus.Counter
	commands    *prometheus.CounterVec
	errors      *prometheus.CounterVec
	dropped     prometheus.Counter
}

// New registers the collectors on reg. rooms reports the number of live rooms.
func New(reg prometheus.Registerer, rooms func() int) *Metrics {
	factory := promauto.With(reg)

	if rooms != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Number of rooms with at least one member",
		}, func() float64 { return float64(rooms()) })
	}

	return &Metrics{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Number of authenticated websocket connections",
		}),
		messages: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Messages appended to room logs",
		}),
		commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Inbound protocol events by type",
		}, []string{"type"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Refused operations by error code",
		}, []string{"code"}),
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_events_total",
			Help:      "Broadcast events dropped for slow consumers",
		}),
	}
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) MessageAppended() {
	if m != nil {
		m.messages.Inc()
	}
}

func (m *Metrics) Command(kind string) {
	if m != nil {
		m.commands.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) Error(code string) {
	if m != nil {
		m.errors.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) Dropped(n int) {
	if m != nil && n > 0 {
		m.dropped.Add(float64(n))
	}
}
