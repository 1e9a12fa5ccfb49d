package model

import "time"

// Reading is one sample of a plant sensor. It is passed by value and never
// modified after construction.
type Reading struct {
	SensorID    SensorID
	Temperature float64 // °C
	Humidity    float64 // %
	WaterLevel  float64 // raw ADC units
	Timestamp   time.Time
}

// Metric names used by thresholds, logs and sinks.
const (
	MetricWaterLevel  = "water_level"
	MetricTemperature = "temperature"
	MetricHumidity    = "humidity"
)

// Value returns the reading's value for a metric name.
func (r Reading) Value(metric string) (float64, bool) {
	switch metric {
	case MetricWaterLevel:
		return r.WaterLevel, true
	case MetricTemperature:
		return r.Temperature, true
	case MetricHumidity:
		return r.Humidity, true
	}
	return 0, false
}
