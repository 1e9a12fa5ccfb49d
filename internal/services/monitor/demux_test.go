package monitor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/plant_monitor/internal/model"
	"github.com/LeonardoBeccarini/plant_monitor/internal/model/messages"
	"github.com/LeonardoBeccarini/plant_monitor/pkg/metrics"
)

func encode(t *testing.T, r model.Reading) []byte {
	t.Helper()
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	}
	b, err := messages.EncodeReading(r)
	require.NoError(t, err)
	return b
}

func newDemux(t *testing.T, capacity int, opts ...Option) *Demux {
	t.Helper()
	d, err := NewDemux(capacity, opts...)
	require.NoError(t, err)
	return d
}

func TestNewDemuxRejectsZeroCapacity(t *testing.T) {
	_, err := NewDemux(0)
	assert.ErrorIs(t, err, model.ErrConfig)
}

func TestOnMessageScenario(t *testing.T) {
	d := newDemux(t, DefaultHistorySize)
	ids := model.GenerateSensorIDs(3)
	in := model.Reading{SensorID: ids[1], Temperature: 25, Humidity: 60.5, WaterLevel: 34000}

	require.NoError(t, d.OnMessage(encode(t, in)))

	assert.Equal(t, []model.SensorID{"plant_2"}, d.SensorIDs())
	assert.Equal(t, 1, d.Len("plant_2"))
	assert.Equal(t, 0, d.Len("plant_1"))
	assert.Nil(t, d.Snapshot("plant_3"))

	got := d.Snapshot("plant_2")[0]
	assert.InDelta(t, 25, got.Temperature, 1e-9)
	assert.InDelta(t, 60.5, got.Humidity, 1e-9)
	assert.InDelta(t, 34000, got.WaterLevel, 1e-9)
}

func TestOnMessageKeepsNewestK(t *testing.T) {
	const k = DefaultHistorySize
	d := newDemux(t, k)
	for i := 0; i < k+10; i++ {
		require.NoError(t, d.OnMessage(encode(t, reading("plant_1", float64(i)))))
	}
	assert.Equal(t, k, d.Len("plant_1"))
	snap := d.Snapshot("plant_1")
	assert.Equal(t, 10.0, snap[0].WaterLevel)
	assert.Equal(t, float64(k+9), snap[k-1].WaterLevel)
}

func TestOnMessageMalformedLeavesBuffersUnchanged(t *testing.T) {
	reg := prometheus.NewRegistry()
	d := newDemux(t, 5, WithMetrics(metrics.New(reg)))
	require.NoError(t, d.OnMessage(encode(t, reading("plant_1", 1))))
	before := d.Snapshot("plant_1")

	for _, raw := range []string{
		`{"plant_id":`,
		`{"temperature":1,"humidity":2,"water_level":3}`,
		`{"plant_id":"","temperature":1,"humidity":2,"water_level":3}`,
		`not json at all`,
	} {
		err := d.OnMessage([]byte(raw))
		assert.ErrorIs(t, err, model.ErrMalformedMessage, raw)
	}

	assert.Equal(t, []model.SensorID{"plant_1"}, d.SensorIDs())
	assert.Equal(t, before, d.Snapshot("plant_1"))
}

func TestOnMessageRoundTrip(t *testing.T) {
	d := newDemux(t, 5)
	in := model.Reading{
		SensorID:    "plant_9",
		Temperature: 23.123456789,
		Humidity:    60.987654321,
		WaterLevel:  35123.456,
		Timestamp:   time.Date(2024, 2, 29, 23, 59, 59, 999000000, time.UTC),
	}
	require.NoError(t, d.OnMessage(encode(t, in)))
	out, ok := d.Latest("plant_9")
	require.True(t, ok)
	assert.InDelta(t, in.Temperature, out.Temperature, 1e-9)
	assert.InDelta(t, in.Humidity, out.Humidity, 1e-9)
	assert.InDelta(t, in.WaterLevel, out.WaterLevel, 1e-9)
	assert.True(t, in.Timestamp.Truncate(time.Second).Equal(out.Timestamp))
}

func TestOnMessageConcurrentSensors(t *testing.T) {
	d := newDemux(t, 20)
	ids := model.GenerateSensorIDs(8)

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id model.SensorID) {
			defer wg.Done()
			for i := 0; i < 30; i++ {
				assert.NoError(t, d.OnMessage(encode(t, reading(id, float64(i)))))
			}
		}(id)
	}
	wg.Wait()

	assert.Len(t, d.SensorIDs(), 8)
	for _, id := range ids {
		// per-sensor arrival order is preserved
		snap := d.Snapshot(id)
		require.Len(t, snap, 20)
		for i, r := range snap {
			assert.Equal(t, float64(10+i), r.WaterLevel, "%s[%d]", id, i)
		}
	}
}

func TestSensorIDsSorted(t *testing.T) {
	d := newDemux(t, 2)
	for _, id := range []model.SensorID{"plant_3", "plant_1", "plant_2"} {
		require.NoError(t, d.OnMessage(encode(t, reading(id, 1))))
	}
	assert.Equal(t, []model.SensorID{"plant_1", "plant_2", "plant_3"}, d.SensorIDs())
}

func TestRunForwardsToSinks(t *testing.T) {
	got := make(chan model.SensorID, 4)
	d := newDemux(t, 5, WithSink(SinkFunc(func(_ context.Context, r model.Reading) error {
		got <- r.SensorID
		return fmt.Errorf("sink errors are logged only")
	})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	require.NoError(t, d.OnMessage(encode(t, reading("plant_1", 1))))
	require.NoError(t, d.OnMessage(encode(t, reading("plant_2", 1))))
	assert.Equal(t, model.SensorID("plant_1"), <-got)
	assert.Equal(t, model.SensorID("plant_2"), <-got)
}

func TestSlowSinkDoesNotDelayOthers(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	slow := SinkFunc(func(ctx context.Context, _ model.Reading) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	got := make(chan model.SensorID, 8)
	fast := SinkFunc(func(_ context.Context, r model.Reading) error {
		got <- r.SensorID
		return nil
	})
	d := newDemux(t, 5, WithSinkQueue(8), WithSink(slow), WithSink(fast))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	ids := []model.SensorID{"plant_1", "plant_2", "plant_3", "plant_4", "plant_5"}
	for _, id := range ids {
		require.NoError(t, d.OnMessage(encode(t, reading(id, 1))))
	}
	for _, want := range ids {
		select {
		case id := <-got:
			assert.Equal(t, want, id)
		case <-time.After(2 * time.Second):
			t.Fatalf("fast sink starved waiting for %s", want)
		}
	}
}

func TestFullSinkQueueDoesNotBlock(t *testing.T) {
	d := newDemux(t, 5, WithSinkQueue(1), WithSink(SinkFunc(func(context.Context, model.Reading) error { return nil })))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			_ = d.OnMessage(encode(t, reading("plant_1", float64(i))))
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("OnMessage blocked on a full sink queue")
	}
	assert.Equal(t, 5, d.Len("plant_1"))
}
