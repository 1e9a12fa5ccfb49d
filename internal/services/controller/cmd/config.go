package main

import (
	"fmt"
	"time"

	"github.com/LeonardoBeccarini/plant_monitor/internal/model"
	"github.com/LeonardoBeccarini/plant_monitor/pkg/config"
)

type Config struct {
	Log        config.Log
	Broker     config.Broker
	Topics     config.Topics
	Thresholds config.Thresholds

	Cooldown       time.Duration `env:"COMMAND_COOLDOWN,default=0s" description:"minimum gap between identical command sets per sensor"`
	QueueSize      int           `env:"QUEUE_SIZE,default=256"`
	PublishTimeout time.Duration `env:"PUBLISH_TIMEOUT,default=3s"`
	MetricsAddr    string        `env:"METRICS_ADDR,default=:9102"`
}

func loadConfig() (*Config, error) {
	cfg := &Config{}
	if err := config.Load(cfg, ".env"); err != nil {
		return nil, err
	}
	if cfg.Cooldown < 0 {
		return nil, fmt.Errorf("%w: COMMAND_COOLDOWN must not be negative", model.ErrConfig)
	}
	if cfg.QueueSize <= 0 {
		return nil, fmt.Errorf("%w: QUEUE_SIZE must be positive", model.ErrConfig)
	}
	return cfg, nil
}
