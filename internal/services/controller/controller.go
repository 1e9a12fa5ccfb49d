package controller

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/LeonardoBeccarini/plant_monitor/internal/model"
	"github.com/LeonardoBeccarini/plant_monitor/internal/model/messages"
	"github.com/LeonardoBeccarini/plant_monitor/pkg/broker"
	"github.com/LeonardoBeccarini/plant_monitor/pkg/dedup"
	"github.com/LeonardoBeccarini/plant_monitor/pkg/logger"
	"github.com/LeonardoBeccarini/plant_monitor/pkg/metrics"
)

const defaultQueueSize = 256

type lastSent struct {
	cmds []model.Command
	at   time.Time
}

// Controller evaluates incoming readings and publishes the resulting
// commands. Readings are queued by the delivery callback and handled by a
// single worker, so publishing never blocks the broker client.
type Controller struct {
	consumer broker.IConsumer
	eval     *Evaluator
	cmds     *CommandPublisher
	cooldown time.Duration
	log      *logrus.Entry
	metrics  *metrics.Telemetry
	deduper  *dedup.Deduper
	now      func() time.Time

	queue chan model.Reading

	mu   sync.Mutex
	last map[model.SensorID]lastSent
}

// NewController wires the consumer to the evaluator. A zero cooldown
// publishes every non-empty evaluation.
func NewController(consumer broker.IConsumer, eval *Evaluator, cmds *CommandPublisher, cooldown time.Duration,
	queueSize int, log *logrus.Entry, m *metrics.Telemetry) (*Controller, error) {
	if eval == nil || cmds == nil {
		return nil, fmt.Errorf("%w: controller needs an evaluator and a command publisher", model.ErrConfig)
	}
	if cooldown < 0 {
		return nil, fmt.Errorf("%w: negative command cooldown", model.ErrConfig)
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Controller{
		consumer: consumer,
		eval:     eval,
		cmds:     cmds,
		cooldown: cooldown,
		log:      logger.OrDefault(log, "controller"),
		metrics:  m,
		deduper:  dedup.New(dedup.DefaultTTL, dedup.DefaultMax),
		now:      time.Now,
		queue:    make(chan model.Reading, queueSize),
		last:     make(map[model.SensorID]lastSent),
	}, nil
}

// Start consumes telemetry until ctx is cancelled, then drains the queue.
func (c *Controller) Start(ctx context.Context) error {
	c.consumer.SetHandler(c.messageHandler)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.work(context.WithoutCancel(ctx), stop)
	}()

	err := c.consumer.ConsumeMessage(ctx)
	close(stop)
	wg.Wait()
	return err
}

func (c *Controller) work(ctx context.Context, stop <-chan struct{}) {
	handle := func(r model.Reading) {
		if _, err := c.HandleReading(ctx, r); err != nil {
			c.log.WithError(err).WithField("plant_id", r.SensorID).Warn("controller: commands not fully published")
		}
	}
	for {
		select {
		case r := <-c.queue:
			handle(r)
		case <-stop:
			for {
				select {
				case r := <-c.queue:
					handle(r)
				default:
					return
				}
			}
		}
	}
}

func (c *Controller) messageHandler(topic string, msg mqtt.Message) error {
	c.metrics.MessageReceived()
	if fresh := c.deduper.ShouldProcess(dedup.Key(topic, msg.Payload())); !fresh && msg.Duplicate() {
		c.metrics.MessageDuplicate()
		return nil
	}
	r, err := messages.DecodeReading(msg.Payload(), c.now())
	if err != nil {
		c.metrics.MessageMalformed()
		return err
	}
	select {
	case c.queue <- r:
	default:
		c.metrics.SinkDropped()
		c.log.WithField("plant_id", r.SensorID).Warn("controller: queue full, reading dropped")
	}
	return nil
}

// HandleReading evaluates r and publishes its commands unless the same set
// was already sent for this sensor within the cooldown. Only a fully
// published set starts a cooldown.
func (c *Controller) HandleReading(ctx context.Context, r model.Reading) ([]model.Command, error) {
	cmds := c.eval.Evaluate(r)
	now := c.now()
	if !c.shouldSend(r.SensorID, cmds, now) {
		c.log.WithField("plant_id", r.SensorID).Debug("controller: commands suppressed by cooldown")
		return nil, nil
	}
	if len(cmds) == 0 {
		return nil, nil
	}
	c.log.WithFields(logrus.Fields{"plant_id": r.SensorID, "commands": cmds}).Info("controller: thresholds crossed")
	if err := c.cmds.PublishCommands(ctx, cmds); err != nil {
		return cmds, err
	}
	c.remember(r.SensorID, cmds, now)
	return cmds, nil
}

func (c *Controller) shouldSend(id model.SensorID, cmds []model.Command, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(cmds) == 0 {
		delete(c.last, id)
		return true
	}
	prev, ok := c.last[id]
	return !ok || c.cooldown == 0 || !slices.Equal(prev.cmds, cmds) || now.Sub(prev.at) >= c.cooldown
}

func (c *Controller) remember(id model.SensorID, cmds []model.Command, at time.Time) {
	if c.cooldown == 0 {
		return
	}
	c.mu.Lock()
	c.last[id] = lastSent{cmds: cmds, at: at}
	c.mu.Unlock()
}
