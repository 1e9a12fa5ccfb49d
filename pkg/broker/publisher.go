package broker

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/plant_monitor/internal/model"
)

// IPublisher publishes payloads to a fixed topic.
type IPublisher interface {
	PublishMessage(ctx context.Context, payload []byte) error
	Close()
}

// Publisher holds the connection, topic and QoS for publishing messages.
type Publisher struct {
	conn    *Conn
	topic   string
	qos     byte
	timeout time.Duration
}

// NewPublisher creates a Publisher on a shared connection. Every publish is
// bounded by timeout (0 means 5s).
func NewPublisher(conn *Conn, topic string, qos byte, timeout time.Duration) *Publisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Publisher{conn: conn, topic: topic, qos: qos, timeout: timeout}
}

func (p *Publisher) Topic() string { return p.topic }

// PublishMessage publishes payload and waits for the token, the timeout or
// ctx, whichever comes first.
func (p *Publisher) PublishMessage(ctx context.Context, payload []byte) error {
	return p.PublishTo(ctx, p.topic, payload)
}

// PublishTo publishes on an explicit topic with the publisher's QoS.
func (p *Publisher) PublishTo(ctx context.Context, topic string, payload []byte) error {
	if !p.conn.IsConnected() {
		return fmt.Errorf("%w: %s not connected", model.ErrTransport, p.conn.Name())
	}
	token := p.conn.Client().Publish(topic, p.qos, false, payload)
	if err := waitToken(ctx, token, p.timeout); err != nil {
		return fmt.Errorf("%w: publish %s on %s: %v", model.ErrTransport, topic, p.conn.Name(), err)
	}
	return nil
}

// Close disconnects the underlying connection.
func (p *Publisher) Close() {
	p.conn.Close()
}

func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return fmt.Errorf("timed out after %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
