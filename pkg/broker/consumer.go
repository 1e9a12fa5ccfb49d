package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/LeonardoBeccarini/plant_monitor/internal/model"
	"github.com/LeonardoBeccarini/plant_monitor/pkg/logger"
)

const subscribeTimeout = 10 * time.Second

// State is the subscriber side of the connection lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateReceiving
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateReceiving:
		return "receiving"
	}
	return "unknown"
}

// Handler processes one delivered message. It runs on the paho delivery
// goroutine and must return quickly.
type Handler func(topic string, message mqtt.Message) error

// IConsumer subscribes to topics and feeds messages to a handler until the
// context is cancelled.
type IConsumer interface {
	ConsumeMessage(ctx context.Context) error
	SetHandler(handler Handler)
	State() State
}

// Consumer subscribes one or more topics on a shared connection.
type Consumer struct {
	conn   *Conn
	topics []string
	qos    byte
	log    *logrus.Entry

	mu      sync.RWMutex
	handler Handler

	state  atomic.Int32
	active atomic.Bool
	hooks  sync.Once
}

// NewConsumer creates a Consumer; handler may be nil and injected later.
func NewConsumer(conn *Conn, qos byte, handler Handler, topics ...string) *Consumer {
	return &Consumer{
		conn:    conn,
		topics:  topics,
		qos:     qos,
		handler: handler,
		log:     logger.For("consumer").WithField("target", conn.Name()),
	}
}

func (c *Consumer) SetHandler(handler Handler) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
}

func (c *Consumer) State() State { return State(c.state.Load()) }

func (c *Consumer) setState(s State) {
	if prev := State(c.state.Swap(int32(s))); prev != s {
		c.log.WithFields(logrus.Fields{"from": prev.String(), "to": s.String()}).Debug("consumer: state change")
	}
}

// ConsumeMessage subscribes every topic and blocks until ctx is cancelled,
// then unsubscribes. Subscriptions are restored after each reconnect.
func (c *Consumer) ConsumeMessage(ctx context.Context) error {
	c.hooks.Do(func() {
		c.conn.OnConnectionLost(func(error) {
			if c.active.Load() {
				c.setState(StateConnecting)
			}
		})
		c.conn.OnConnect(func() {
			if !c.active.Load() {
				return
			}
			if err := c.subscribeAll(); err != nil {
				c.log.WithError(err).Error("consumer: resubscribe failed")
				return
			}
			c.setState(StateSubscribed)
		})
	})

	c.setState(StateConnecting)
	c.active.Store(true)
	if err := c.subscribeAll(); err != nil {
		c.active.Store(false)
		c.setState(StateDisconnected)
		return err
	}
	c.setState(StateSubscribed)

	<-ctx.Done()

	c.active.Store(false)
	if c.conn.IsConnected() {
		token := c.conn.Client().Unsubscribe(c.topics...)
		if !token.WaitTimeout(subscribeTimeout) || token.Error() != nil {
			c.log.WithError(token.Error()).Warn("consumer: unsubscribe incomplete")
		}
	}
	c.setState(StateDisconnected)
	return nil
}

func (c *Consumer) subscribeAll() error {
	if !c.conn.IsConnected() {
		return fmt.Errorf("%w: %s not connected", model.ErrTransport, c.conn.Name())
	}
	for _, topic := range c.topics {
		token := c.conn.Client().Subscribe(topic, c.qos, c.deliver)
		if !token.WaitTimeout(subscribeTimeout) {
			return fmt.Errorf("%w: subscribe %s timed out", model.ErrTransport, topic)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("%w: subscribe %s: %v", model.ErrTransport, topic, err)
		}
		c.log.WithField("topic", topic).Info("consumer: subscribed")
	}
	return nil
}

func (c *Consumer) deliver(_ mqtt.Client, msg mqtt.Message) {
	c.state.CompareAndSwap(int32(StateSubscribed), int32(StateReceiving))

	c.mu.RLock()
	h := c.handler
	c.mu.RUnlock()
	if h == nil {
		c.log.WithField("topic", msg.Topic()).Warn("consumer: no handler set")
		return
	}
	if err := h(msg.Topic(), msg); err != nil {
		c.log.WithError(err).WithField("topic", msg.Topic()).Warn("consumer: handler error")
	}
}

// Deliver feeds a message through the handler as if it came from the broker.
func (c *Consumer) Deliver(msg mqtt.Message) { c.deliver(nil, msg) }
