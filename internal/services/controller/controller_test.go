package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/lambdacontext"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/plant_monitor/internal/model"
	"github.com/LeonardoBeccarini/plant_monitor/internal/model/messages"
	"github.com/LeonardoBeccarini/plant_monitor/internal/testutil"
	"github.com/LeonardoBeccarini/plant_monitor/pkg/broker"
)

func newEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	e, err := NewEvaluator(model.DefaultThresholds())
	require.NoError(t, err)
	return e
}

func inRange() model.Reading {
	return model.Reading{SensorID: "plant_1", Temperature: 23.5, Humidity: 60.5, WaterLevel: 34000}
}

func TestNewEvaluatorRejectsBadRanges(t *testing.T) {
	cfg := model.DefaultThresholds()
	cfg.Temperature = model.Range{Min: 30, Max: 20}
	_, err := NewEvaluator(cfg)
	assert.ErrorIs(t, err, model.ErrConfig)
}

func TestEvaluateScenario(t *testing.T) {
	e := newEvaluator(t)
	got := e.Evaluate(model.Reading{SensorID: "plant_2", Temperature: 25, Humidity: 60.5, WaterLevel: 34000})
	assert.Equal(t, []model.Command{model.CommandTempHigh}, got)
}

func TestEvaluateInRange(t *testing.T) {
	e := newEvaluator(t)
	assert.Empty(t, e.Evaluate(inRange()))
	// bounds are inclusive
	assert.Empty(t, e.Evaluate(model.Reading{Temperature: 23, Humidity: 61, WaterLevel: 33000}))
	assert.Empty(t, e.Evaluate(model.Reading{Temperature: 24, Humidity: 60, WaterLevel: 36000}))
}

func TestEvaluateWaterLevel(t *testing.T) {
	e := newEvaluator(t)
	for w := 30000.0; w <= 39000; w += 250 {
		r := inRange()
		r.WaterLevel = w
		out := w < 33000 || w > 36000
		assert.Equal(t, out, slicesContains(e.Evaluate(r), model.CommandPumpOn), "water_level=%v", w)
	}
}

func TestEvaluateTemperature(t *testing.T) {
	e := newEvaluator(t)
	for temp := 20.0; temp <= 27; temp += 0.25 {
		r := inRange()
		r.Temperature = temp
		cmds := e.Evaluate(r)
		low, high := slicesContains(cmds, model.CommandTempLow), slicesContains(cmds, model.CommandTempHigh)
		switch {
		case temp < 23:
			assert.True(t, low && !high, "temp=%v", temp)
		case temp > 24:
			assert.True(t, high && !low, "temp=%v", temp)
		default:
			assert.False(t, low || high, "temp=%v", temp)
		}
	}
}

func TestEvaluateOrder(t *testing.T) {
	e := newEvaluator(t)
	got := e.Evaluate(model.Reading{Temperature: 10, Humidity: 90, WaterLevel: 0})
	assert.Equal(t, []model.Command{model.CommandPumpOn, model.CommandTempLow, model.CommandHumidityAdjust}, got)
}

func slicesContains(cmds []model.Command, c model.Command) bool {
	for _, x := range cmds {
		if x == c {
			return true
		}
	}
	return false
}

type fakePublisher struct {
	mu       sync.Mutex
	payloads []string
	failOn   map[string]bool
}

func (f *fakePublisher) PublishMessage(_ context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn[string(payload)] {
		return errors.New("publish refused")
	}
	f.payloads = append(f.payloads, string(payload))
	return nil
}

func (f *fakePublisher) Close() {}

func (f *fakePublisher) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.payloads...)
}

func TestPublishCommandsJoinsErrors(t *testing.T) {
	pub := &fakePublisher{failOn: map[string]bool{`{"command":21}`: true}}
	cp := NewCommandPublisher(pub, nil, nil)

	err := cp.PublishCommands(context.Background(), []model.Command{model.CommandPumpOn, model.CommandTempLow, model.CommandHumidityAdjust})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command 21")
	assert.Equal(t, []string{`{"command":1}`, `{"command":3}`}, pub.Sent())

	assert.NoError(t, cp.PublishCommands(context.Background(), nil))
}

func TestHandleReadingCooldown(t *testing.T) {
	pub := &fakePublisher{}
	c, err := NewController(nil, newEvaluator(t), NewCommandPublisher(pub, nil, nil), time.Minute, 0, nil, nil)
	require.NoError(t, err)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	hot := model.Reading{SensorID: "plant_2", Temperature: 25, Humidity: 60.5, WaterLevel: 34000}
	cmds, err := c.HandleReading(context.Background(), hot)
	require.NoError(t, err)
	assert.Equal(t, []model.Command{model.CommandTempHigh}, cmds)

	// same set inside the cooldown is suppressed
	cmds, err = c.HandleReading(context.Background(), hot)
	require.NoError(t, err)
	assert.Empty(t, cmds)

	// another sensor is independent
	other := hot
	other.SensorID = "plant_3"
	cmds, _ = c.HandleReading(context.Background(), other)
	assert.Equal(t, []model.Command{model.CommandTempHigh}, cmds)

	// a different set is sent immediately
	hotAndDry := hot
	hotAndDry.WaterLevel = 100
	cmds, _ = c.HandleReading(context.Background(), hotAndDry)
	assert.Equal(t, []model.Command{model.CommandPumpOn, model.CommandTempHigh}, cmds)

	now = now.Add(2 * time.Minute)
	cmds, _ = c.HandleReading(context.Background(), hotAndDry)
	assert.Len(t, cmds, 2)

	assert.Len(t, pub.Sent(), 6)
}

func TestHandleReadingFailedPublishIsRetried(t *testing.T) {
	pub := &fakePublisher{failOn: map[string]bool{`{"command":22}`: true}}
	c, err := NewController(nil, newEvaluator(t), NewCommandPublisher(pub, nil, nil), time.Minute, 0, nil, nil)
	require.NoError(t, err)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	hot := model.Reading{SensorID: "plant_2", Temperature: 25, Humidity: 60.5, WaterLevel: 34000}
	_, err = c.HandleReading(context.Background(), hot)
	require.Error(t, err)
	assert.Empty(t, pub.Sent())

	// the broker is back within the cooldown window
	pub.mu.Lock()
	pub.failOn = nil
	pub.mu.Unlock()
	now = now.Add(time.Second)

	cmds, err := c.HandleReading(context.Background(), hot)
	require.NoError(t, err)
	assert.Equal(t, []model.Command{model.CommandTempHigh}, cmds)
	assert.Equal(t, []string{`{"command":22}`}, pub.Sent())

	// the successful send starts the cooldown
	cmds, err = c.HandleReading(context.Background(), hot)
	require.NoError(t, err)
	assert.Empty(t, cmds)
}

func TestNewControllerValidates(t *testing.T) {
	_, err := NewController(nil, nil, nil, 0, 0, nil, nil)
	assert.ErrorIs(t, err, model.ErrConfig)
	_, err = NewController(nil, newEvaluator(t), NewCommandPublisher(&fakePublisher{}, nil, nil), -time.Second, 0, nil, nil)
	assert.ErrorIs(t, err, model.ErrConfig)
}

func TestMessageHandlerRejectsMalformed(t *testing.T) {
	c, err := NewController(nil, newEvaluator(t), NewCommandPublisher(&fakePublisher{}, nil, nil), 0, 1, nil, nil)
	require.NoError(t, err)

	err = c.messageHandler("sensor/data", broker.NewMessage("sensor/data", []byte(`{"temperature":1}`)))
	assert.ErrorIs(t, err, model.ErrMalformedMessage)

	payload, err := messages.EncodeReading(inRange())
	require.NoError(t, err)
	require.NoError(t, c.messageHandler("sensor/data", broker.NewMessage("sensor/data", payload)))
	// queue of one is full now; the next reading is dropped, not blocked on
	require.NoError(t, c.messageHandler("sensor/data", broker.NewMessage("sensor/data", payload)))
	assert.Len(t, c.queue, 1)
}

func TestLambdaHandler(t *testing.T) {
	pub := &fakePublisher{}
	h := NewLambdaHandler(newEvaluator(t), NewCommandPublisher(pub, nil, nil), nil)
	ctx := lambdacontext.NewContext(context.Background(), &lambdacontext.LambdaContext{AwsRequestID: "req-1"})

	var ev LambdaEvent
	require.NoError(t, json.Unmarshal([]byte(`{"water_level":34000,"temp":25,"humidity":60.5}`), &ev))
	resp, err := h.Handle(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.JSONEq(t, `{"message":"Processed sensor data successfully.","commands":[22]}`, resp.Body)
	assert.Equal(t, []string{`{"command":22}`}, pub.Sent())

	var ev2 LambdaEvent
	require.NoError(t, json.Unmarshal([]byte(`{"water_level":34000,"temperature":23.5,"humidity":60.5}`), &ev2))
	resp, err = h.Handle(ctx, ev2)
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"Processed sensor data successfully.","commands":[]}`, resp.Body)

	resp, err = h.Handle(context.Background(), LambdaEvent{})
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestLambdaHandlerPublishFailure(t *testing.T) {
	pub := &fakePublisher{failOn: map[string]bool{`{"command":1}`: true}}
	h := NewLambdaHandler(newEvaluator(t), NewCommandPublisher(pub, nil, nil), nil)
	w, temp, hum := 1.0, 23.5, 60.5
	_, err := h.Handle(context.Background(), LambdaEvent{WaterLevel: &w, Temp: &temp, Humidity: &hum})
	assert.Error(t, err)
}

func TestControllerOverBroker(t *testing.T) {
	url := testutil.StartBroker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	connect := func(id string) *broker.Conn {
		c, err := broker.NewConn(ctx, broker.Config{Name: id, URL: url, ClientID: id}, nil)
		require.NoError(t, err)
		t.Cleanup(c.Close)
		return c
	}
	ctlConn, sensorConn, deviceConn := connect("controller"), connect("sensor"), connect("device")

	got := make(chan string, 4)
	device := broker.NewConsumer(deviceConn, 1, func(_ string, msg mqtt.Message) error {
		got <- string(msg.Payload())
		return nil
	}, "sensor/command")
	go func() { _ = device.ConsumeMessage(ctx) }()

	consumer := broker.NewConsumer(ctlConn, 1, nil, "sensor/data")
	cmds := NewCommandPublisher(broker.NewPublisher(ctlConn, "sensor/command", 1, time.Second), nil, nil)
	c, err := NewController(consumer, newEvaluator(t), cmds, time.Minute, 0, nil, nil)
	require.NoError(t, err)

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- c.Start(runCtx) }()
	require.Eventually(t, func() bool {
		return consumer.State() == broker.StateSubscribed && device.State() == broker.StateSubscribed
	}, 5*time.Second, 10*time.Millisecond)

	payload, err := messages.EncodeReading(model.Reading{SensorID: "plant_2", Temperature: 25, Humidity: 60.5, WaterLevel: 34000, Timestamp: time.Now()})
	require.NoError(t, err)
	require.NoError(t, broker.NewPublisher(sensorConn, "sensor/data", 1, time.Second).PublishMessage(ctx, payload))

	select {
	case m := <-got:
		assert.JSONEq(t, `{"command":22}`, m)
	case <-ctx.Done():
		t.Fatal("no command received")
	}

	stop()
	require.NoError(t, <-done)
}
