// Package metrics defines the Prometheus collectors shared by the telemetry
// services. A nil *Telemetry is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "plant"

type Telemetry struct {
	readingsPublished *prometheus.CounterVec
	publishErrors     *prometheus.CounterVec
	breakerOpen       *prometheus.GaugeVec
	sensorReadErrors  *prometheus.CounterVec

	messagesReceived  prometheus.Counter
	malformedMessages prometheus.Counter
	duplicateMessages prometheus.Counter
	sinkDrops         prometheus.Counter
	historySensors    prometheus.Gauge

	commandsEmitted    *prometheus.CounterVec
	commandsDispatched *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Telemetry {
	t := &Telemetry{
		readingsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "readings_published_total",
			Help:      "Readings published, per broker target",
		}, []string{"target"}),
		publishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "publish_errors_total",
			Help:      "Failed publishes, per broker target",
		}, []string{"target"}),
		breakerOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "breaker_open",
			Help:      "1 while the target's circuit breaker is not closed",
		}, []string{"target"}),
		sensorReadErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "producer",
			Name:      "sensor_read_errors_total",
			Help:      "Sensor reads that failed or timed out",
		}, []string{"plant_id"}),
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "messages_received_total",
			Help:      "Telemetry messages delivered by the broker",
		}),
		malformedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "malformed_messages_total",
			Help:      "Telemetry messages dropped as malformed",
		}),
		duplicateMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "duplicate_messages_total",
			Help:      "Redelivered telemetry messages ignored",
		}),
		sinkDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "sink_queue_drops_total",
			Help:      "Readings not forwarded to sinks because the queue was full",
		}),
		historySensors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "history_sensors",
			Help:      "Sensors with a rolling history",
		}),
		commandsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "commands_emitted_total",
			Help:      "Commands published, per command code",
		}, []string{"code"}),
		commandsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "commands_dispatched_total",
			Help:      "Commands applied to actuators, per command code",
		}, []string{"code"}),
	}

	if reg != nil {
		reg.MustRegister(
			t.readingsPublished, t.publishErrors, t.breakerOpen, t.sensorReadErrors,
			t.messagesReceived, t.malformedMessages, t.duplicateMessages, t.sinkDrops, t.historySensors,
			t.commandsEmitted, t.commandsDispatched,
		)
	}
	return t
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (t *Telemetry) ReadingPublished(target string) {
	if t != nil {
		t.readingsPublished.WithLabelValues(target).Inc()
	}
}

func (t *Telemetry) PublishFailed(target string) {
	if t != nil {
		t.publishErrors.WithLabelValues(target).Inc()
	}
}

func (t *Telemetry) BreakerOpen(target string, open bool) {
	if t == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	t.breakerOpen.WithLabelValues(target).Set(v)
}

func (t *Telemetry) SensorReadFailed(id string) {
	if t != nil {
		t.sensorReadErrors.WithLabelValues(id).Inc()
	}
}

func (t *Telemetry) MessageReceived() {
	if t != nil {
		t.messagesReceived.Inc()
	}
}

func (t *Telemetry) MessageMalformed() {
	if t != nil {
		t.malformedMessages.Inc()
	}
}

func (t *Telemetry) MessageDuplicate() {
	if t != nil {
		t.duplicateMessages.Inc()
	}
}

func (t *Telemetry) SinkDropped() {
	if t != nil {
		t.sinkDrops.Inc()
	}
}

func (t *Telemetry) SetHistorySensors(n int) {
	if t != nil {
		t.historySensors.Set(float64(n))
	}
}

func (t *Telemetry) CommandEmitted(code int) {
	if t != nil {
		t.commandsEmitted.WithLabelValues(strconv.Itoa(code)).Inc()
	}
}

func (t *Telemetry) CommandDispatched(code int) {
	if t != nil {
		t.commandsDispatched.WithLabelValues(strconv.Itoa(code)).Inc()
	}
}
