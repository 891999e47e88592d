// Package config loads the epsonctl YAML configuration file and applies
// EPSON_* environment overrides.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/ivanvanderbyl/epson-projector/pkg/entries"
)

type Config struct {
	EntriesPath string         `yaml:"entries_path"`
	Logging     LoggingConfig  `yaml:"logging"`
	HomeKit     HomeKitConfig  `yaml:"homekit"`
	MQTT        MQTTConfig     `yaml:"mqtt"`
	Projectors  []entries.Data `yaml:"epson"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type HomeKitConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Pin       string `yaml:"pin"`
	StorePath string `yaml:"store_path"`
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
}

var ErrInvalidConfig = errors.New("invalid configuration")

func Default() Config {
	return Config{
		EntriesPath: "./epson-entries.yaml",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		HomeKit: HomeKitConfig{
			Enabled:   true,
			Pin:       "00102030",
			StorePath: "./db",
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://127.0.0.1:1883",
			ClientID:    "epsonctl",
			TopicPrefix: "epson",
			QoS:         1,
		},
	}
}

// Load reads path over the defaults. An empty path uses defaults and the
// environment only.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "reading config")
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "parsing %s", path)
		}
	}

	applyEnv(&cfg, os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	str("EPSON_ENTRIES_PATH", &cfg.EntriesPath)
	str("EPSON_LOG_LEVEL", &cfg.Logging.Level)
	str("EPSON_LOG_FORMAT", &cfg.Logging.Format)
	boolean("EPSON_HOMEKIT_ENABLED", &cfg.HomeKit.Enabled)
	str("EPSON_HOMEKIT_PIN", &cfg.HomeKit.Pin)
	str("EPSON_HOMEKIT_STORE_PATH", &cfg.HomeKit.StorePath)
	boolean("EPSON_MQTT_ENABLED", &cfg.MQTT.Enabled)
	str("EPSON_MQTT_BROKER", &cfg.MQTT.Broker)
	str("EPSON_MQTT_USERNAME", &cfg.MQTT.Username)
	str("EPSON_MQTT_PASSWORD", &cfg.MQTT.Password)
}

func (c Config) Validate() error {
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return errors.Wrapf(ErrInvalidConfig, "logging.format %q", c.Logging.Format)
	}

	if c.HomeKit.Enabled {
		if len(c.HomeKit.Pin) != 8 || strings.Trim(c.HomeKit.Pin, "0123456789") != "" {
			return errors.Wrap(ErrInvalidConfig, "homekit.pin must be 8 digits")
		}
		if c.HomeKit.StorePath == "" {
			return errors.Wrap(ErrInvalidConfig, "homekit.store_path is required")
		}
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return errors.Wrap(ErrInvalidConfig, "mqtt.broker is required")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return errors.Wrapf(ErrInvalidConfig, "mqtt.qos %d", c.MQTT.QoS)
		}
	}

	for i, p := range c.Projectors {
		if strings.TrimSpace(p.Host) == "" {
			return errors.Wrapf(ErrInvalidConfig, "epson[%d].host is required", i)
		}
	}
	return nil
}
