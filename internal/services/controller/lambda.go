package controller

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/LeonardoBeccarini/plant_monitor/internal/model"
	"github.com/LeonardoBeccarini/plant_monitor/pkg/logger"
)

// LambdaEvent is the reading forwarded by the IoT rule. Older rules send the
// temperature as "temp".
type LambdaEvent struct {
	PlantID     string   `json:"plant_id,omitempty"`
	WaterLevel  *float64 `json:"water_level"`
	Temp        *float64 `json:"temp,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity"`
}

// Reading converts the event; every metric must be present.
func (e LambdaEvent) Reading() (model.Reading, error) {
	temp := e.Temperature
	if temp == nil {
		temp = e.Temp
	}
	if e.WaterLevel == nil || temp == nil || e.Humidity == nil {
		return model.Reading{}, fmt.Errorf("%w: event needs water_level, temp and humidity", model.ErrMalformedMessage)
	}
	return model.Reading{
		SensorID:    model.SensorID(e.PlantID),
		Temperature: *temp,
		Humidity:    *e.Humidity,
		WaterLevel:  *e.WaterLevel,
	}, nil
}

type LambdaResponse struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

type lambdaBody struct {
	Message  string          `json:"message"`
	Commands []model.Command `json:"commands"`
}

// LambdaHandler evaluates one event per invocation. It keeps no state
// between invocations, so there is no cooldown.
type LambdaHandler struct {
	eval *Evaluator
	cmds *CommandPublisher
	log  *logrus.Entry
}

func NewLambdaHandler(eval *Evaluator, cmds *CommandPublisher, log *logrus.Entry) *LambdaHandler {
	return &LambdaHandler{eval: eval, cmds: cmds, log: logger.OrDefault(log, "lambda")}
}

// Handle answers 400 for incomplete events. A publish failure is returned as
// an error so the invocation is retried.
func (h *LambdaHandler) Handle(ctx context.Context, ev LambdaEvent) (LambdaResponse, error) {
	log := h.log
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		log = log.WithField("request_id", lc.AwsRequestID)
	}

	r, err := ev.Reading()
	if err != nil {
		log.WithError(err).Warn("lambda: rejected event")
		return respond(http.StatusBadRequest, err.Error(), nil)
	}

	cmds := h.eval.Evaluate(r)
	if err := h.cmds.PublishCommands(ctx, cmds); err != nil {
		return LambdaResponse{}, err
	}
	log.WithFields(logrus.Fields{"plant_id": r.SensorID, "commands": cmds}).Info("lambda: processed")
	return respond(http.StatusOK, "Processed sensor data successfully.", cmds)
}

func respond(status int, msg string, cmds []model.Command) (LambdaResponse, error) {
	if cmds == nil {
		cmds = []model.Command{}
	}
	b, err := json.Marshal(lambdaBody{Message: msg, Commands: cmds})
	if err != nil {
		return LambdaResponse{}, err
	}
	return LambdaResponse{StatusCode: status, Body: string(b)}, nil
}
