package main

import (
	"fmt"
	"time"

	"github.com/LeonardoBeccarini/plant_monitor/internal/model"
	sensorSimulator "github.com/LeonardoBeccarini/plant_monitor/internal/sensor-simulator"
	"github.com/LeonardoBeccarini/plant_monitor/pkg/config"
)

type Config struct {
	Log    config.Log
	Broker config.Broker
	Topics config.Topics

	Sensors  int           `env:"SENSOR_COUNT,default=100"`
	Interval time.Duration `env:"PUBLISH_INTERVAL,default=2s"`
	Seed     int64         `env:"RANDOM_SEED,default=0" description:"0 seeds from the clock"`

	TempMin  float64 `env:"SIM_TEMPERATURE_MIN,default=23"`
	TempMax  float64 `env:"SIM_TEMPERATURE_MAX,default=24"`
	HumMin   float64 `env:"SIM_HUMIDITY_MIN,default=60"`
	HumMax   float64 `env:"SIM_HUMIDITY_MAX,default=61"`
	WaterMin float64 `env:"SIM_WATER_LEVEL_MIN,default=33000"`
	WaterMax float64 `env:"SIM_WATER_LEVEL_MAX,default=36000"`

	PublishTimeout  time.Duration `env:"PUBLISH_TIMEOUT,default=3s"`
	PublishRetries  int           `env:"PUBLISH_RETRIES,default=1"`
	BreakerFailures int           `env:"BREAKER_FAILURES,default=5"`
	BreakerOpen     time.Duration `env:"BREAKER_OPEN,default=30s"`

	Dispatch bool          `env:"DISPATCH_COMMANDS,default=true" description:"also act on the command topic"`
	PumpRun  time.Duration `env:"PUMP_RUN,default=5s"`

	MetricsAddr string `env:"METRICS_ADDR,default=:9101"`
}

func loadConfig() (*Config, error) {
	cfg := &Config{}
	if err := config.Load(cfg, ".env"); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) Ranges() sensorSimulator.Ranges {
	return sensorSimulator.Ranges{
		Temperature: model.Range{Min: c.TempMin, Max: c.TempMax},
		Humidity:    model.Range{Min: c.HumMin, Max: c.HumMax},
		WaterLevel:  model.Range{Min: c.WaterMin, Max: c.WaterMax},
	}
}

func (c *Config) Policy() sensorSimulator.PublishPolicy {
	return sensorSimulator.PublishPolicy{
		Timeout:      c.PublishTimeout,
		Retries:      c.PublishRetries,
		RetryDelay:   200 * time.Millisecond,
		BreakerFails: c.BreakerFailures,
		BreakerOpen:  c.BreakerOpen,
	}
}

func (c *Config) Validate() error {
	if c.Sensors <= 0 {
		return fmt.Errorf("%w: SENSOR_COUNT must be positive", model.ErrConfig)
	}
	if c.Interval <= 0 || c.PublishTimeout <= 0 {
		return fmt.Errorf("%w: PUBLISH_INTERVAL and PUBLISH_TIMEOUT must be positive", model.ErrConfig)
	}
	return c.Ranges().Validate()
}
