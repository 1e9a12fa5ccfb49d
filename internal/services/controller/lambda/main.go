// Command lambda evaluates one reading per invocation and publishes the
// resulting commands over MQTT.
package main

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/sirupsen/logrus"

	"github.com/LeonardoBeccarini/plant_monitor/internal/services/controller"
	"github.com/LeonardoBeccarini/plant_monitor/pkg/broker"
	"github.com/LeonardoBeccarini/plant_monitor/pkg/config"
	"github.com/LeonardoBeccarini/plant_monitor/pkg/logger"
)

type Config struct {
	Log        config.Log
	Broker     config.Broker
	Topics     config.Topics
	Thresholds config.Thresholds

	PublishTimeout time.Duration `env:"PUBLISH_TIMEOUT,default=3s"`
}

func main() {
	cfg := &Config{}
	if err := config.Load(cfg); err != nil {
		logrus.Fatalf("config: %v", err)
	}
	// CloudWatch ingests one JSON object per line
	if err := logger.Init(cfg.Log.Level, logger.FormatJSON); err != nil {
		logrus.Fatalf("logger: %v", err)
	}
	log := logger.For("lambda")

	thresholds, err := cfg.Thresholds.ThresholdConfig()
	if err != nil {
		log.Fatalf("thresholds: %v", err)
	}
	eval, err := controller.NewEvaluator(thresholds)
	if err != nil {
		log.Fatalf("evaluator: %v", err)
	}
	brokers, err := cfg.Broker.Configs()
	if err != nil {
		log.Fatalf("brokers: %v", err)
	}

	// the connection outlives single invocations while the container is warm
	conn, err := broker.NewConn(context.Background(), brokers[0], log)
	if err != nil {
		log.Fatalf("MQTT connect error: %v", err)
	}
	pub := broker.NewPublisher(conn, cfg.Topics.Command, byte(cfg.Broker.QoS), cfg.PublishTimeout)
	handler := controller.NewLambdaHandler(eval, controller.NewCommandPublisher(pub, logger.For("commands"), nil), log)

	lambda.Start(handler.Handle)
}
