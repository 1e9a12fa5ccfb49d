package monitor

import (
	"context"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/LeonardoBeccarini/plant_monitor/pkg/broker"
	"github.com/LeonardoBeccarini/plant_monitor/pkg/dedup"
	"github.com/LeonardoBeccarini/plant_monitor/pkg/logger"
	"github.com/LeonardoBeccarini/plant_monitor/pkg/metrics"
)

// Subscriber feeds telemetry from the broker into a Demux.
type Subscriber struct {
	consumer broker.IConsumer
	demux    *Demux
	deduper  *dedup.Deduper
	log      *logrus.Entry
	metrics  *metrics.Telemetry
}

func NewSubscriber(consumer broker.IConsumer, demux *Demux, log *logrus.Entry, m *metrics.Telemetry) *Subscriber {
	return &Subscriber{
		consumer: consumer,
		demux:    demux,
		deduper:  dedup.New(dedup.DefaultTTL, dedup.DefaultMax),
		log:      logger.OrDefault(log, "subscriber"),
		metrics:  m,
	}
}

// Start blocks until ctx is cancelled.
func (s *Subscriber) Start(ctx context.Context) error {
	s.consumer.SetHandler(s.handleMessage)
	return s.consumer.ConsumeMessage(ctx)
}

// State reports where the subscription is in its lifecycle.
func (s *Subscriber) State() broker.State { return s.consumer.State() }

func (s *Subscriber) handleMessage(topic string, msg mqtt.Message) error {
	s.metrics.MessageReceived()
	// QoS 1 redelivery of a payload already buffered
	if fresh := s.deduper.ShouldProcess(dedup.Key(topic, msg.Payload())); !fresh && msg.Duplicate() {
		s.metrics.MessageDuplicate()
		s.log.WithField("topic", topic).Debug("subscriber: duplicate delivery skipped")
		return nil
	}
	return s.demux.OnMessage(msg.Payload())
}
