package device

import (
	"context"
	"fmt"
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

const DefaultPumpRun = 5 * time.Second

// Dispatcher maps command codes to actuator effects.
type Dispatcher struct {
	act     Actuator
	pumpRun time.Duration
	log     *logrus.Entry
	metrics *metrics.Telemetry
	deduper *dedup.Deduper

	mu    sync.Mutex
	pump  model.PumpState
	timer *time.Timer
}

// NewDispatcher creates a Dispatcher. pumpRun is how long a pump-on command
// keeps the relay closed.
func NewDispatcher(act Actuator, pumpRun time.Duration, log *logrus.Entry, m *metrics.Telemetry) *Dispatcher {
	if pumpRun <= 0 {
		pumpRun = DefaultPumpRun
	}
	return &Dispatcher{
		act:     act,
		pumpRun: pumpRun,
		log:     logger.OrDefault(log, "dispatcher"),
		metrics: m,
		deduper: dedup.New(dedup.DefaultTTL, dedup.DefaultMax),
		pump:    model.PumpOff,
	}
}

// OnCommand applies the effect of one command. Unknown codes are logged and
// ignored.
func (d *Dispatcher) OnCommand(code model.Command) error {
	log := d.log.WithFields(logrus.Fields{"command": int(code), "effect": code.String()})

	var err error
	switch code {
	case model.CommandPumpOn:
		err = d.runPump(d.pumpRun)
	case model.CommandTempLow:
		log.Info("dispatcher: temperature is low")
	case model.CommandTempHigh:
		log.Info("dispatcher: temperature is high")
	case model.CommandHumidityAdjust:
		err = d.act.AdjustHumidity()
	default:
		log.Warn("dispatcher: unknown command ignored")
		return nil
	}
	if err != nil {
		return fmt.Errorf("command %d: %w", code, err)
	}
	d.metrics.CommandDispatched(int(code))
	return nil
}

// HandleMessage decodes a control payload and applies it.
func (d *Dispatcher) HandleMessage(payload []byte) error {
	ctl, err := messages.DecodeControl(payload)
	if err != nil {
		return err
	}
	if ctl.HasCommand {
		return d.OnCommand(ctl.Command)
	}
	return d.SetPump(ctl.Pump)
}

// Handler adapts the dispatcher to a broker consumer. Redeliveries flagged
// as duplicates of an already applied payload are skipped.
func (d *Dispatcher) Handler() broker.Handler {
	return func(topic string, msg mqtt.Message) error {
		fresh := d.deduper.ShouldProcess(dedup.Key(topic, msg.Payload()))
		if !fresh && msg.Duplicate() {
			d.log.WithField("topic", topic).Debug("dispatcher: duplicate delivery skipped")
			return nil
		}
		return d.HandleMessage(msg.Payload())
	}
}

// SetPump switches the relay until told otherwise, cancelling any pending
// timed run.
func (d *Dispatcher) SetPump(state model.PumpState) error {
	if state != model.PumpOn {
		state = model.PumpOff
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopTimer()
	return d.apply(state)
}

// PumpState returns the current relay state.
func (d *Dispatcher) PumpState() model.PumpState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pump
}

// Close stops any pending timed run and opens the relay.
func (d *Dispatcher) Close() error {
	return d.SetPump(model.PumpOff)
}

// runPump closes the relay for dur. A second run while one is pending
// restarts the timer.
func (d *Dispatcher) runPump(dur time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopTimer()
	if err := d.apply(model.PumpOn); err != nil {
		return err
	}

	var t *time.Timer
	t = time.AfterFunc(dur, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.timer != t {
			return
		}
		d.timer = nil
		if err := d.apply(model.PumpOff); err != nil {
			d.log.WithError(err).Error("dispatcher: pump revert failed")
		}
	})
	d.timer = t
	d.log.WithField("duration", dur).Info("dispatcher: pump on")
	return nil
}

func (d *Dispatcher) stopTimer() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// apply must be called with mu held.
func (d *Dispatcher) apply(state model.PumpState) error {
	if err := d.act.SetPump(state); err != nil {
		return err
	}
	if d.pump != state {
		d.log.WithFields(logrus.Fields{"from": d.pump, "to": state}).Debug("dispatcher: pump state change")
	}
	d.pump = state
	return nil
}

// Service consumes the command topic and feeds the dispatcher.
type Service struct {
	consumer   broker.IConsumer
	dispatcher *Dispatcher
}

func NewService(consumer broker.IConsumer, dispatcher *Dispatcher) *Service {
	return &Service{consumer: consumer, dispatcher: dispatcher}
}

// Start blocks until ctx is cancelled, then leaves the pump off.
func (s *Service) Start(ctx context.Context) error {
	s.consumer.SetHandler(s.dispatcher.Handler())
	defer func() { _ = s.dispatcher.Close() }()
	return s.consumer.ConsumeMessage(ctx)
}
