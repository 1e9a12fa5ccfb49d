package controller

import (
	"github.com/LeonardoBeccarini/plant_monitor/internal/model"
)

// Evaluator turns one reading into the corrective commands it calls for.
type Evaluator struct {
	cfg model.ThresholdConfig
}

// NewEvaluator validates cfg; the evaluator keeps its own copy.
func NewEvaluator(cfg model.ThresholdConfig) (*Evaluator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Evaluator{cfg: cfg}, nil
}

func (e *Evaluator) Thresholds() model.ThresholdConfig { return e.cfg }

// Evaluate checks water level, then temperature, then humidity. Bounds are
// inclusive; in-range readings yield no commands.
func (e *Evaluator) Evaluate(r model.Reading) []model.Command {
	var cmds []model.Command
	if !e.cfg.WaterLevel.Contains(r.WaterLevel) {
		cmds = append(cmds, model.CommandPumpOn)
	}
	switch {
	case r.Temperature < e.cfg.Temperature.Min:
		cmds = append(cmds, model.CommandTempLow)
	case r.Temperature > e.cfg.Temperature.Max:
		cmds = append(cmds, model.CommandTempHigh)
	}
	if !e.cfg.Humidity.Contains(r.Humidity) {
		cmds = append(cmds, model.CommandHumidityAdjust)
	}
	return cmds
}
