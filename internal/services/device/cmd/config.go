package main

import (
	"time"

	"github.com/LeonardoBeccarini/plant_monitor/pkg/config"
)

type Config struct {
	Log    config.Log
	Broker config.Broker
	Topics config.Topics

	GRPCAddr    string        `env:"GRPC_ADDR,default=:50051" description:"gRPC health endpoint"`
	PumpRun     time.Duration `env:"PUMP_RUN,default=5s" description:"how long command 1 keeps the pump on"`
	MetricsAddr string        `env:"METRICS_ADDR,default=:9103"`
}

func loadConfig() (*Config, error) {
	cfg := &Config{}
	if err := config.Load(cfg, ".env"); err != nil {
		return nil, err
	}
	return cfg, nil
}
