package device

import (
	"github.com/sirupsen/logrus"

	"github.com/LeonardoBeccarini/plant_monitor/internal/model"
	"github.com/LeonardoBeccarini/plant_monitor/pkg/logger"
)

// Actuator drives the node's outputs. Implementations wrap the real relay
// and climate drivers.
type Actuator interface {
	SetPump(state model.PumpState) error
	AdjustHumidity() error
}

// LogActuator only logs the effects, for simulated nodes.
type LogActuator struct {
	log *logrus.Entry
}

func NewLogActuator(log *logrus.Entry) *LogActuator {
	return &LogActuator{log: logger.OrDefault(log, "actuator")}
}

func (a *LogActuator) SetPump(state model.PumpState) error {
	if state == model.PumpOn {
		a.log.Info("actuator: pump on")
	} else {
		a.log.Info("actuator: pump off")
	}
	return nil
}

func (a *LogActuator) AdjustHumidity() error {
	a.log.Info("actuator: changing humidity levels")
	return nil
}
