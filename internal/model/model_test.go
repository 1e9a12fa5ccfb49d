package model

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSensorIDs(t *testing.T) {
	for _, n := range []int{0, 1, 3, 100} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			ids := GenerateSensorIDs(n)
			require.Len(t, ids, n)

			seen := make(map[SensorID]struct{}, n)
			for i, id := range ids {
				assert.Equal(t, SensorID(fmt.Sprintf("plant_%d", i+1)), id)
				seen[id] = struct{}{}
			}
			assert.Len(t, seen, n)
		})
	}
}

func TestGenerateSensorIDsNegative(t *testing.T) {
	ids := GenerateSensorIDs(-4)
	require.NotNil(t, ids)
	assert.Empty(t, ids)
}

func TestRangeContainsInclusive(t *testing.T) {
	r := Range{Min: 23, Max: 24}
	assert.True(t, r.Contains(23))
	assert.True(t, r.Contains(24))
	assert.True(t, r.Contains(23.5))
	assert.False(t, r.Contains(22.999))
	assert.False(t, r.Contains(24.001))
}

func TestThresholdValidate(t *testing.T) {
	require.NoError(t, DefaultThresholds().Validate())

	bad := DefaultThresholds()
	bad.Temperature = Range{Min: 30, Max: 20}
	err := bad.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfig))
	assert.Contains(t, err.Error(), "temperature")

	nan := DefaultThresholds()
	nan.Humidity = Range{Min: math.NaN(), Max: 1}
	assert.ErrorIs(t, nan.Validate(), ErrConfig)
}

func TestCommandKnown(t *testing.T) {
	for _, c := range []Command{CommandPumpOn, CommandTempLow, CommandTempHigh, CommandHumidityAdjust} {
		assert.True(t, c.Known(), c.String())
	}
	assert.False(t, Command(7).Known())
	assert.Equal(t, "unknown(7)", Command(7).String())
}

func TestReadingValue(t *testing.T) {
	r := Reading{Temperature: 1, Humidity: 2, WaterLevel: 3}
	v, ok := r.Value(MetricHumidity)
	assert.True(t, ok)
	assert.Equal(t, 2.0, v)
	_, ok = r.Value("pressure")
	assert.False(t, ok)
}
