// Copyright (C) 2024  wwhai
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along
// with this program; if not, see <https://www.gnu.org/licenses/>.

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML can carry values like "1s".
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings like "5s" or "1m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return fmt.Errorf("duration value node is nil")
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	if raw == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// Config is the configuration of the analog monitor.
type Config struct {
	Device          DeviceConfig          `yaml:"device"`
	Interval        Duration              `yaml:"interval"`
	Samples         int                   `yaml:"samples"`
	Channels        ChannelConfig         `yaml:"channels"`
	Temperature     TemperatureConfig     `yaml:"temperature"`
	DissolvedOxygen DissolvedOxygenConfig `yaml:"dissolved_oxygen"`
	Logging         LoggingConfig         `yaml:"logging"`
	MQTT            MQTTConfig            `yaml:"mqtt"`
	Metrics         MetricsConfig         `yaml:"metrics"`
}

// DeviceConfig selects the module and the line it sits on.
type DeviceConfig struct {
	Port        string   `yaml:"port"`
	Family      string   `yaml:"family"`
	BaudRate    int      `yaml:"baud_rate"`
	Parity      string   `yaml:"parity"`
	Settle      Duration `yaml:"settle"`
	ReadTimeout Duration `yaml:"read_timeout"`
	RetryDelay  Duration `yaml:"retry_delay"`
}

// ChannelConfig maps measured quantities to module channels. Zero
// disables a quantity.
type ChannelConfig struct {
	Supply          int `yaml:"supply"`
	Temperature     int `yaml:"temperature"`
	DissolvedOxygen int `yaml:"dissolved_oxygen"`
	PH              int `yaml:"ph"`
}

type TemperatureConfig struct {
	Divider float64 `yaml:"divider"`
	Load    float64 `yaml:"load"`
	Unit    string  `yaml:"unit"`
}

type DissolvedOxygenConfig struct {
	Unit string `yaml:"unit"`
}

// LoggingConfig controls zerolog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Default returns the configuration used when a key is left out.
func Default() Config {
	return Config{
		Device: DeviceConfig{
			Port:        "/dev/ttyUSB0",
			Family:      "amvif08",
			BaudRate:    9600,
			Parity:      "N",
			ReadTimeout: Duration{100 * time.Millisecond},
			RetryDelay:  Duration{time.Second},
		},
		Interval: Duration{time.Second},
		Samples:  10,
		Channels: ChannelConfig{
			Supply:          1,
			Temperature:     2,
			DissolvedOxygen: 3,
			PH:              4,
		},
		Temperature: TemperatureConfig{
			Divider: 15000,
			Load:    5930.434783,
			Unit:    "C",
		},
		DissolvedOxygen: DissolvedOxygenConfig{Unit: "mg/L"},
		Logging:         LoggingConfig{Level: "info", Format: "text"},
		MQTT: MQTTConfig{
			Broker:   "tcp://127.0.0.1:1883",
			ClientID: "analogmon",
			Topic:    "analogbus/readings",
		},
		Metrics: MetricsConfig{Listen: ":9100"},
	}
}

// Load reads the YAML file at path on top of Default.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse decodes YAML on top of Default.
func Parse(raw []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
