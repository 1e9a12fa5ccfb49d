package main

import (
	"fmt"
	"time"

	"github.com/LeonardoBeccarini/plant_monitor/internal/model"
	"github.com/LeonardoBeccarini/plant_monitor/pkg/config"
)

type Config struct {
	Log    config.Log
	Broker config.Broker
	Topics config.Topics

	HistorySize int    `env:"HISTORY_SIZE,default=50"`
	SinkQueue   int    `env:"SINK_QUEUE,default=1024"`
	HTTPAddr    string `env:"HTTP_ADDR,default=:8080"`

	InfluxURL         string        `env:"INFLUX_URL,optional" description:"empty disables the InfluxDB mirror"`
	InfluxToken       string        `env:"INFLUX_TOKEN,optional"`
	InfluxOrg         string        `env:"INFLUX_ORG,default=org"`
	InfluxBucket      string        `env:"INFLUX_BUCKET,default=plant-telemetry"`
	InfluxMeasurement string        `env:"INFLUX_MEASUREMENT,default=plant_reading"`
	InfluxTimeout     time.Duration `env:"INFLUX_TIMEOUT,default=5s"`
}

func loadConfig() (*Config, error) {
	cfg := &Config{}
	if err := config.Load(cfg, ".env"); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	if c.HistorySize <= 0 {
		return fmt.Errorf("%w: HISTORY_SIZE must be positive", model.ErrConfig)
	}
	if c.SinkQueue <= 0 {
		return fmt.Errorf("%w: SINK_QUEUE must be positive", model.ErrConfig)
	}
	return nil
}
