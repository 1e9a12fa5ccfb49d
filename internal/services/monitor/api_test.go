package monitor

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/plant_monitor/internal/model/messages"
	"github.com/LeonardoBeccarini/plant_monitor/pkg/broker"
	"github.com/LeonardoBeccarini/plant_monitor/pkg/metrics"
)

type fixedState broker.State

func (s fixedState) State() broker.State { return broker.State(s) }

func newTestAPI(t *testing.T, st broker.State) (*httptest.Server, *Demux) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	d := newDemux(t, 5, WithMetrics(m))
	srv := httptest.NewServer(NewAPI(d, fixedState(st), NewHub(nil), reg, nil).Router())
	t.Cleanup(srv.Close)
	return srv, d
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestListSensors(t *testing.T) {
	srv, d := newTestAPI(t, broker.StateReceiving)

	code, body := get(t, srv.URL+"/sensors")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(body))

	require.NoError(t, d.OnMessage(encode(t, reading("plant_2", 34000))))
	require.NoError(t, d.OnMessage(encode(t, reading("plant_2", 35000))))
	require.NoError(t, d.OnMessage(encode(t, reading("plant_1", 1))))

	code, body = get(t, srv.URL+"/sensors")
	assert.Equal(t, http.StatusOK, code)
	var out []sensorSummary
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out, 2)
	assert.Equal(t, "plant_1", out[0].PlantID)
	assert.Equal(t, "plant_2", out[1].PlantID)
	assert.Equal(t, 2, out[1].Readings)
	require.NotNil(t, out[1].Latest)
	assert.Equal(t, 35000.0, out[1].Latest.WaterLevel)
}

func TestHistoryEndpoint(t *testing.T) {
	srv, d := newTestAPI(t, broker.StateReceiving)
	for i := 1; i <= 7; i++ {
		require.NoError(t, d.OnMessage(encode(t, reading("plant_1", float64(i)))))
	}

	code, body := get(t, srv.URL+"/sensors/plant_1/history")
	assert.Equal(t, http.StatusOK, code)
	var all []messages.SensorData
	require.NoError(t, json.Unmarshal(body, &all))
	require.Len(t, all, 5)
	assert.Equal(t, 3.0, all[0].WaterLevel)
	assert.Equal(t, "Sat Jun  1 12:00:00 2024", all[0].Time)

	code, body = get(t, srv.URL+"/sensors/plant_1/history?limit=2")
	assert.Equal(t, http.StatusOK, code)
	var last []messages.SensorData
	require.NoError(t, json.Unmarshal(body, &last))
	require.Len(t, last, 2)
	assert.Equal(t, 6.0, last[0].WaterLevel)
	assert.Equal(t, 7.0, last[1].WaterLevel)

	code, _ = get(t, srv.URL+"/sensors/plant_1/history?limit=zero")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = get(t, srv.URL+"/sensors/plant_404/history")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHealthAndReady(t *testing.T) {
	srv, _ := newTestAPI(t, broker.StateReceiving)
	code, body := get(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok","mqtt_state":"receiving","sensors":0,"ws_clients":0}`, string(body))
	code, _ = get(t, srv.URL+"/readyz")
	assert.Equal(t, http.StatusOK, code)

	down, _ := newTestAPI(t, broker.StateConnecting)
	code, body = get(t, down.URL+"/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `"degraded"`)
	code, _ = get(t, down.URL+"/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, d := newTestAPI(t, broker.StateReceiving)
	_ = d.OnMessage([]byte(`garbage`))

	code, body := get(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, strings.Contains(string(body), "plant_monitor_malformed_messages_total 1"))
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestAPI(t, broker.StateReceiving)
	resp, err := http.Post(srv.URL+"/sensors", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
