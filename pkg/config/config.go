// Package config loads service settings from the environment, optionally
// seeded from .env files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"github.com/LeonardoBeccarini/plant_monitor/internal/model"
	"github.com/LeonardoBeccarini/plant_monitor/pkg/broker"
)

// Load reads the given .env files (missing files are skipped, variables
// already in the environment win) and decodes the environment into target.
func Load(target interface{}, envFiles ...string) error {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: env file %s: %v", model.ErrConfig, f, err)
		}
	}
	if err := envdecode.Decode(target); err != nil {
		return fmt.Errorf("%w: %v", model.ErrConfig, err)
	}
	return nil
}

// Log selects the logrus level and output format.
type Log struct {
	Level  string `env:"LOG_LEVEL,default=info" description:"debug, info, warning, error"`
	Format string `env:"LOG_FORMAT,default=text" description:"text or json"`
}

// Broker is the MQTT connection settings shared by every target.
type Broker struct {
	Targets        string        `env:"MQTT_BROKERS,default=local=tcp://localhost:1883" description:"comma separated name=url list"`
	ClientID       string        `env:"MQTT_CLIENT_ID,default=plant-monitor"`
	User           string        `env:"MQTT_USER,optional"`
	Password       string        `env:"MQTT_PASSWORD,optional"`
	CACertFile     string        `env:"MQTT_CA_CERT,optional" description:"PEM CA bundle for ssl:// targets"`
	CertFile       string        `env:"MQTT_CLIENT_CERT,optional"`
	KeyFile        string        `env:"MQTT_CLIENT_KEY,optional"`
	KeepAlive      time.Duration `env:"MQTT_KEEPALIVE,default=60s"`
	ConnectTimeout time.Duration `env:"MQTT_CONNECT_TIMEOUT,default=10s"`
	ConnectRetries int           `env:"MQTT_CONNECT_RETRIES,default=5"`
	QoS            int           `env:"MQTT_QOS,default=1"`
}

// Configs expands the target list into one broker config per target.
func (b Broker) Configs() ([]broker.Config, error) {
	if b.QoS < 0 || b.QoS > 2 {
		return nil, fmt.Errorf("%w: MQTT_QOS must be 0, 1 or 2, got %d", model.ErrConfig, b.QoS)
	}
	targets, err := broker.ParseTargets(b.Targets)
	if err != nil {
		return nil, err
	}
	for i := range targets {
		targets[i].ClientID = b.ClientID
		targets[i].User = b.User
		targets[i].Password = b.Password
		targets[i].CACertFile = b.CACertFile
		targets[i].CertFile = b.CertFile
		targets[i].KeyFile = b.KeyFile
		targets[i].KeepAlive = b.KeepAlive
		targets[i].ConnectTimeout = b.ConnectTimeout
		targets[i].ConnectRetries = b.ConnectRetries
	}
	return targets, nil
}

// Thresholds are the acceptable metric ranges.
type Thresholds struct {
	WaterMin float64 `env:"WATER_LEVEL_MIN,default=33000"`
	WaterMax float64 `env:"WATER_LEVEL_MAX,default=36000"`
	TempMin  float64 `env:"TEMPERATURE_MIN,default=23"`
	TempMax  float64 `env:"TEMPERATURE_MAX,default=24"`
	HumMin   float64 `env:"HUMIDITY_MIN,default=60"`
	HumMax   float64 `env:"HUMIDITY_MAX,default=61"`
}

// ThresholdConfig converts and validates the ranges.
func (t Thresholds) ThresholdConfig() (model.ThresholdConfig, error) {
	cfg := model.ThresholdConfig{
		WaterLevel:  model.Range{Min: t.WaterMin, Max: t.WaterMax},
		Temperature: model.Range{Min: t.TempMin, Max: t.TempMax},
		Humidity:    model.Range{Min: t.HumMin, Max: t.HumMax},
	}
	return cfg, cfg.Validate()
}

// Topics names the telemetry and command topics.
type Topics struct {
	Data    string `env:"TOPIC_DATA,default=sensor/data"`
	Command string `env:"TOPIC_COMMAND,default=sensor/command"`
}
