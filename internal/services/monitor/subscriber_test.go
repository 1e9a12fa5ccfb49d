package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/plant_monitor/internal/model"
	"github.com/LeonardoBeccarini/plant_monitor/internal/testutil"
	"github.com/LeonardoBeccarini/plant_monitor/pkg/broker"
	"github.com/LeonardoBeccarini/plant_monitor/pkg/metrics"
)

func TestSubscriberSkipsFlaggedRedelivery(t *testing.T) {
	d := newDemux(t, 5)
	s := NewSubscriber(broker.NewConsumer(broker.NewConnFromClient("offline", nil, nil), 1, nil, "sensor/data"), d, nil, metrics.New(prometheus.NewRegistry()))

	payload := encode(t, reading("plant_1", 1))
	require.NoError(t, s.handleMessage("sensor/data", broker.NewMessage("sensor/data", payload)))
	dup := &broker.StaticMessage{TopicName: "sensor/data", Body: payload, QoS: 1, Dup: true}
	require.NoError(t, s.handleMessage("sensor/data", dup))
	assert.Equal(t, 1, d.Len("plant_1"))

	// an identical reading published again is a new sample
	require.NoError(t, s.handleMessage("sensor/data", broker.NewMessage("sensor/data", payload)))
	assert.Equal(t, 2, d.Len("plant_1"))

	err := s.handleMessage("sensor/data", broker.NewMessage("sensor/data", []byte(`{}`)))
	assert.ErrorIs(t, err, model.ErrMalformedMessage)
}

func TestSubscriberOverBroker(t *testing.T) {
	url := testutil.StartBroker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	subConn, err := broker.NewConn(ctx, broker.Config{Name: "monitor", URL: url, ClientID: "monitor"}, nil)
	require.NoError(t, err)
	defer subConn.Close()
	pubConn, err := broker.NewConn(ctx, broker.Config{Name: "sim", URL: url, ClientID: "sim"}, nil)
	require.NoError(t, err)
	defer pubConn.Close()

	d := newDemux(t, DefaultHistorySize)
	s := NewSubscriber(broker.NewConsumer(subConn, 1, nil, "sensor/data"), d, nil, nil)
	assert.Equal(t, broker.StateDisconnected, s.State())

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- s.Start(runCtx) }()
	require.Eventually(t, func() bool { return s.State() == broker.StateSubscribed }, 5*time.Second, 10*time.Millisecond)

	pub := broker.NewPublisher(pubConn, "sensor/data", 1, time.Second)
	for _, id := range model.GenerateSensorIDs(3) {
		require.NoError(t, pub.PublishMessage(ctx, encode(t, reading(id, 34000))))
	}
	require.NoError(t, pub.PublishMessage(ctx, []byte(`{"broken":`)))
	require.NoError(t, pub.PublishMessage(ctx, encode(t, reading("plant_2", 35000))))

	require.Eventually(t, func() bool { return d.Len("plant_2") == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []model.SensorID{"plant_1", "plant_2", "plant_3"}, d.SensorIDs())
	assert.Equal(t, broker.StateReceiving, s.State())
	assert.Equal(t, []float64{34000, 35000}, waterLevels(d.Snapshot("plant_2")))

	stop()
	require.NoError(t, <-done)
	assert.Equal(t, broker.StateDisconnected, s.State())
}
