package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/LeonardoBeccarini/plant_monitor/internal/model"
	"github.com/LeonardoBeccarini/plant_monitor/internal/model/messages"
	"github.com/LeonardoBeccarini/plant_monitor/pkg/broker"
	"github.com/LeonardoBeccarini/plant_monitor/pkg/logger"
	"github.com/LeonardoBeccarini/plant_monitor/pkg/metrics"
)

// CommandPublisher sends commands on the control topic.
type CommandPublisher struct {
	pub     broker.IPublisher
	log     *logrus.Entry
	metrics *metrics.Telemetry
}

func NewCommandPublisher(pub broker.IPublisher, log *logrus.Entry, m *metrics.Telemetry) *CommandPublisher {
	return &CommandPublisher{pub: pub, log: logger.OrDefault(log, "commands"), metrics: m}
}

// PublishCommands publishes one message per command. A failed publish does
// not stop the remaining ones; all failures are joined.
func (c *CommandPublisher) PublishCommands(ctx context.Context, cmds []model.Command) error {
	var errs []error
	for _, cmd := range cmds {
		payload, err := messages.EncodeCommand(cmd)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := c.pub.PublishMessage(ctx, payload); err != nil {
			c.log.WithError(err).WithField("command", int(cmd)).Warn("commands: publish failed")
			errs = append(errs, fmt.Errorf("command %d: %w", cmd, err))
			continue
		}
		c.metrics.CommandEmitted(int(cmd))
		c.log.WithFields(logrus.Fields{"command": int(cmd), "effect": cmd.String()}).Info("commands: published")
	}
	return errors.Join(errs...)
}

func (c *CommandPublisher) Close() { c.pub.Close() }
