// Package model internal/model/policy.go
package model

import (
	"fmt"
	"math"
)

// Range is an inclusive [Min, Max] interval.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v lies inside the range, bounds included.
func (r Range) Contains(v float64) bool { return v >= r.Min && v <= r.Max }

func (r Range) validate(name string) error {
	if math.IsNaN(r.Min) || math.IsNaN(r.Max) || math.IsInf(r.Min, 0) || math.IsInf(r.Max, 0) {
		return fmt.Errorf("%w: %s range must be finite", ErrConfig, name)
	}
	if r.Min > r.Max {
		return fmt.Errorf("%w: %s range min %.2f > max %.2f", ErrConfig, name, r.Min, r.Max)
	}
	return nil
}

// ThresholdConfig holds the acceptable range per monitored metric.
// It is built once at startup and only read afterwards.
type ThresholdConfig struct {
	WaterLevel  Range `json:"water_level"`
	Temperature Range `json:"temperature"`
	Humidity    Range `json:"humidity"`
}

// DefaultThresholds are the demo ranges the plant nodes shipped with.
func DefaultThresholds() ThresholdConfig {
	return ThresholdConfig{
		WaterLevel:  Range{Min: 33000, Max: 36000},
		Temperature: Range{Min: 23, Max: 24},
		Humidity:    Range{Min: 60, Max: 61},
	}
}

// Validate checks every range; the error wraps ErrConfig.
func (t ThresholdConfig) Validate() error {
	if err := t.WaterLevel.validate(MetricWaterLevel); err != nil {
		return err
	}
	if err := t.Temperature.validate(MetricTemperature); err != nil {
		return err
	}
	return t.Humidity.validate(MetricHumidity)
}
