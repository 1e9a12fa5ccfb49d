package monitor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePoints struct {
	mu     sync.Mutex
	points []*write.Point
}

func (c *capturePoints) WritePoint(_ context.Context, p ...*write.Point) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.points = append(c.points, p...)
	return nil
}

func TestInfluxSinkPoint(t *testing.T) {
	w := &capturePoints{}
	s := NewInfluxSink(w, "")
	r := reading("plant_3", 34000)
	r.Timestamp = time.Unix(1700000000, 0).UTC()

	require.NoError(t, s.Consume(context.Background(), r))
	require.Len(t, w.points, 1)

	line := write.PointToLineProtocol(w.points[0], time.Second)
	assert.True(t, strings.HasPrefix(line, "plant_reading,plant_id=plant_3 "), line)
	assert.Contains(t, line, "humidity=60.5")
	assert.Contains(t, line, "temperature=23.5")
	assert.Contains(t, line, "water_level=34000")
	assert.True(t, strings.HasSuffix(line, " 1700000000\n"), line)
}
