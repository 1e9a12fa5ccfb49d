package monitor

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/LeonardoBeccarini/plant_monitor/internal/model"
	"github.com/LeonardoBeccarini/plant_monitor/internal/model/messages"
	"github.com/LeonardoBeccarini/plant_monitor/pkg/broker"
	"github.com/LeonardoBeccarini/plant_monitor/pkg/logger"
	"github.com/LeonardoBeccarini/plant_monitor/pkg/metrics"
)

// StateReporter exposes the subscription state for health checks.
type StateReporter interface {
	State() broker.State
}

type sensorSummary struct {
	PlantID  string               `json:"plant_id"`
	Readings int                  `json:"readings"`
	Latest   *messages.SensorData `json:"latest,omitempty"`
}

type healthStatus struct {
	Status    string `json:"status"`
	MQTTState string `json:"mqtt_state"`
	Sensors   int    `json:"sensors"`
	Clients   int    `json:"ws_clients"`
}

// API serves the buffered histories over HTTP.
type API struct {
	demux    *Demux
	state    StateReporter
	hub      *Hub
	gatherer prometheus.Gatherer
	log      *logrus.Entry
}

func NewAPI(demux *Demux, state StateReporter, hub *Hub, gatherer prometheus.Gatherer, log *logrus.Entry) *API {
	return &API{demux: demux, state: state, hub: hub, gatherer: gatherer, log: logger.OrDefault(log, "api")}
}

// Router registers every route:
//
//	GET /sensors                       known sensors with their newest reading
//	GET /sensors/{id}/history?limit=n  buffered readings, oldest first
//	GET /ws[?plant_id=]                live feed
//	GET /healthz, /readyz, /metrics
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/sensors", a.listSensors).Methods(http.MethodGet)
	r.HandleFunc("/sensors/{id}/history", a.history).Methods(http.MethodGet)
	r.HandleFunc("/healthz", a.healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.readyz).Methods(http.MethodGet)
	if a.hub != nil {
		r.Handle("/ws", a.hub).Methods(http.MethodGet)
	}
	if a.gatherer != nil {
		r.Handle("/metrics", metrics.Handler(a.gatherer)).Methods(http.MethodGet)
	}
	return r
}

func (a *API) listSensors(w http.ResponseWriter, _ *http.Request) {
	ids := a.demux.SensorIDs()
	out := make([]sensorSummary, 0, len(ids))
	for _, id := range ids {
		s := sensorSummary{PlantID: id.String(), Readings: a.demux.Len(id)}
		if r, ok := a.demux.Latest(id); ok {
			sd := messages.FromReading(r)
			s.Latest = &sd
		}
		out = append(out, s)
	}
	a.writeJSON(w, http.StatusOK, out)
}

func (a *API) history(w http.ResponseWriter, r *http.Request) {
	id := model.SensorID(mux.Vars(r)["id"])
	limit := 0
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	readings := a.demux.Last(id, limit)
	if readings == nil {
		a.writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown sensor " + id.String()})
		return
	}
	out := make([]messages.SensorData, len(readings))
	for i, rd := range readings {
		out[i] = messages.FromReading(rd)
	}
	a.writeJSON(w, http.StatusOK, out)
}

func (a *API) subscribed() (broker.State, bool) {
	if a.state == nil {
		return broker.StateDisconnected, false
	}
	st := a.state.State()
	return st, st == broker.StateSubscribed || st == broker.StateReceiving
}

func (a *API) healthz(w http.ResponseWriter, _ *http.Request) {
	st, ok := a.subscribed()
	h := healthStatus{Status: "ok", MQTTState: st.String(), Sensors: len(a.demux.SensorIDs())}
	if a.hub != nil {
		h.Clients = a.hub.Clients()
	}
	if !ok {
		h.Status = "degraded"
	}
	a.writeJSON(w, http.StatusOK, h)
}

func (a *API) readyz(w http.ResponseWriter, _ *http.Request) {
	_, ok := a.subscribed()
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	a.writeJSON(w, status, map[string]bool{"ready": ok})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.WithError(err).Warn("api: encode response")
	}
}
