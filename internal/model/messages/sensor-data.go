package messages

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/relvacode/iso8601"
	"github.com/xeipuuv/gojsonschema"

	"github.com/LeonardoBeccarini/plant_monitor/internal/model"
)

// TimeLayout is the ctime-style layout used in the "time" field.
const TimeLayout = time.ANSIC

// SensorData is the wire form of a reading published on the telemetry topic.
type SensorData struct {
	PlantID     string  `json:"plant_id"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	WaterLevel  float64 `json:"water_level"`
	Time        string  `json:"time,omitempty"`
}

const sensorDataSchema = `{
  "type": "object",
  "required": ["plant_id", "temperature", "humidity", "water_level"],
  "properties": {
    "plant_id":    {"type": "string", "minLength": 1},
    "temperature": {"type": "number"},
    "humidity":    {"type": "number"},
    "water_level": {"type": "number"},
    "time":        {"type": "string"}
  }
}`

var sensorDataValidator = mustSchema(sensorDataSchema)

func mustSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(fmt.Sprintf("messages: bad schema: %v", err))
	}
	return schema
}

// FromReading converts a reading to its wire form.
func FromReading(r model.Reading) SensorData {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return SensorData{
		PlantID:     string(r.SensorID),
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		WaterLevel:  r.WaterLevel,
		Time:        ts.UTC().Format(TimeLayout),
	}
}

// EncodeReading serializes a reading to the canonical JSON payload.
func EncodeReading(r model.Reading) ([]byte, error) {
	return json.Marshal(FromReading(r))
}

// DecodeReading parses a telemetry payload. Every failure wraps
// model.ErrMalformedMessage. A payload without "time" is stamped with now.
func DecodeReading(payload []byte, now time.Time) (model.Reading, error) {
	res, err := sensorDataValidator.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return model.Reading{}, fmt.Errorf("%w: %v", model.ErrMalformedMessage, err)
	}
	if !res.Valid() {
		return model.Reading{}, fmt.Errorf("%w: %s", model.ErrMalformedMessage, schemaErrors(res))
	}

	var sd SensorData
	if err := json.Unmarshal(payload, &sd); err != nil {
		return model.Reading{}, fmt.Errorf("%w: %v", model.ErrMalformedMessage, err)
	}

	ts := now
	if strings.TrimSpace(sd.Time) != "" {
		ts, err = ParseTime(sd.Time)
		if err != nil {
			return model.Reading{}, fmt.Errorf("%w: %v", model.ErrMalformedMessage, err)
		}
	}

	return model.Reading{
		SensorID:    model.SensorID(sd.PlantID),
		Temperature: sd.Temperature,
		Humidity:    sd.Humidity,
		WaterLevel:  sd.WaterLevel,
		Timestamp:   ts,
	}, nil
}

// ParseTime accepts the ctime layout and, for other publishers, ISO-8601.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	t, err := iso8601.ParseString(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable time %q", s)
	}
	return t, nil
}

func schemaErrors(res *gojsonschema.Result) string {
	errs := res.Errors()
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, e.String())
	}
	return strings.Join(parts, "; ")
}
