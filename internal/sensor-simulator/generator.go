package sensor_simulator

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/plant_monitor/internal/model"
)

const adcFullScale = 65535.0

// ReadingSource produces one reading for a sensor.
type ReadingSource interface {
	Next(ctx context.Context, id model.SensorID) (model.Reading, error)
}

// Ranges bounds the simulated value of each metric.
type Ranges struct {
	Temperature model.Range
	Humidity    model.Range
	WaterLevel  model.Range
}

// DefaultRanges keeps simulated readings inside the default thresholds.
func DefaultRanges() Ranges {
	t := model.DefaultThresholds()
	return Ranges{Temperature: t.Temperature, Humidity: t.Humidity, WaterLevel: t.WaterLevel}
}

func (r Ranges) Validate() error {
	return model.ThresholdConfig{
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		WaterLevel:  r.WaterLevel,
	}.Validate()
}

// RandomSource draws every metric uniformly from its range.
type RandomSource struct {
	mu     sync.Mutex
	rng    *rand.Rand
	ranges Ranges
	now    func() time.Time
}

// NewRandomSource seeds from the clock when seed is 0.
func NewRandomSource(ranges Ranges, seed int64) *RandomSource {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandomSource{rng: rand.New(rand.NewSource(seed)), ranges: ranges, now: time.Now}
}

func (s *RandomSource) Next(_ context.Context, id model.SensorID) (model.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.Reading{
		SensorID:    id,
		Temperature: s.uniform(s.ranges.Temperature),
		Humidity:    s.uniform(s.ranges.Humidity),
		WaterLevel:  s.uniform(s.ranges.WaterLevel),
		Timestamp:   s.now().UTC(),
	}, nil
}

func (s *RandomSource) uniform(r model.Range) float64 {
	return r.Min + s.rng.Float64()*(r.Max-r.Min)
}

// Device is a physical sensor node: a DHT-style probe for temperature and
// humidity plus a water level probe on a 16-bit ADC.
type Device interface {
	Measure(ctx context.Context) (temperature, humidity float64, err error)
	WaterLevel(ctx context.Context) (raw uint16, err error)
}

// HardwareSource reads a Device, bounding each read by a timeout.
type HardwareSource struct {
	dev     Device
	timeout time.Duration
	now     func() time.Time

	// Percent reports the water level as 0..100 instead of the raw ADC count.
	Percent bool
}

func NewHardwareSource(dev Device, timeout time.Duration) *HardwareSource {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HardwareSource{dev: dev, timeout: timeout, now: time.Now}
}

type deviceResult struct {
	temp, hum float64
	raw       uint16
	err       error
}

// Next reads the device. A driver that does not return within the timeout is
// abandoned and reported as ErrSensorRead.
func (h *HardwareSource) Next(ctx context.Context, id model.SensorID) (model.Reading, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	done := make(chan deviceResult, 1)
	go func() {
		var res deviceResult
		res.temp, res.hum, res.err = h.dev.Measure(ctx)
		if res.err == nil {
			res.raw, res.err = h.dev.WaterLevel(ctx)
		}
		done <- res
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return model.Reading{}, fmt.Errorf("%w: %s: %v", model.ErrSensorRead, id, res.err)
		}
		water := float64(res.raw)
		if h.Percent {
			water = ADCToPercent(res.raw)
		}
		return model.Reading{
			SensorID:    id,
			Temperature: res.temp,
			Humidity:    res.hum,
			WaterLevel:  water,
			Timestamp:   h.now().UTC(),
		}, nil
	case <-ctx.Done():
		return model.Reading{}, fmt.Errorf("%w: %s: %v", model.ErrSensorRead, id, ctx.Err())
	}
}

// ADCToPercent scales a 16-bit ADC sample to 0..100.
func ADCToPercent(raw uint16) float64 {
	return float64(raw) / adcFullScale * 100
}

// RP2040Temperature converts a 16-bit sample of the RP2040 on-die sensor
// (ADC channel 4) to degrees Celsius.
func RP2040Temperature(raw uint16) float64 {
	voltage := float64(raw) * (3.3 / adcFullScale)
	return 27 - (voltage-0.706)/0.001721
}
