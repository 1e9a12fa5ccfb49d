package monitor

import (
	"context"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/LeonardoBeccarini/plant_monitor/internal/model"
)

const DefaultMeasurement = "plant_reading"

// PointWriter is the subset of the blocking InfluxDB write API the sink uses.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxSink mirrors readings into InfluxDB, one point per reading tagged by
// plant_id.
type InfluxSink struct {
	w           PointWriter
	measurement string
}

func NewInfluxSink(w PointWriter, measurement string) *InfluxSink {
	if measurement == "" {
		measurement = DefaultMeasurement
	}
	return &InfluxSink{w: w, measurement: measurement}
}

func (s *InfluxSink) Point(r model.Reading) *write.Point {
	return influxdb2.NewPoint(
		s.measurement,
		map[string]string{"plant_id": r.SensorID.String()},
		map[string]interface{}{
			model.MetricTemperature: r.Temperature,
			model.MetricHumidity:    r.Humidity,
			model.MetricWaterLevel:  r.WaterLevel,
		},
		r.Timestamp,
	)
}

// Consume implements Sink.
func (s *InfluxSink) Consume(ctx context.Context, r model.Reading) error {
	return s.w.WritePoint(ctx, s.Point(r))
}
