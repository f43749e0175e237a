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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
device:
  port: tcp://10.0.0.7:4001
  family: r4ava07
  baud_rate: 19200
  settle: 250ms
interval: 2s
samples: 5
channels:
  supply: 1
  temperature: 2
  dissolved_oxygen: 0
  ph: 7
temperature:
  unit: F
logging:
  level: debug
  format: json
mqtt:
  enabled: true
  topic: plant/tank1
  qos: 1
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analogmon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))

	assert.Equal(t, "tcp://10.0.0.7:4001", cfg.Device.Port)
	assert.Equal(t, "r4ava07", cfg.Device.Family)
	assert.Equal(t, 19200, cfg.Device.BaudRate)
	assert.Equal(t, 250*time.Millisecond, cfg.Device.Settle.Duration)
	assert.Equal(t, 100*time.Millisecond, cfg.Device.ReadTimeout.Duration, "defaults survive")
	assert.Equal(t, 2*time.Second, cfg.Interval.Duration)
	assert.Equal(t, 5, cfg.Samples)
	assert.Equal(t, 7, cfg.Channels.PH)
	assert.Equal(t, 0, cfg.Channels.DissolvedOxygen)
	assert.Equal(t, 15000.0, cfg.Temperature.Divider)
	assert.Equal(t, "F", cfg.Temperature.Unit)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "tcp://127.0.0.1:1883", cfg.MQTT.Broker)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = Parse([]byte("interval: soon\n"))
	require.ErrorContains(t, err, "parse duration")

	_, err = Parse([]byte("samples: [1, 2]\n"))
	require.Error(t, err)
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(&cfg))
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"no port", func(c *Config) { c.Device.Port = "" }, "device.port"},
		{"unknown family", func(c *Config) { c.Device.Family = "amvif16" }, "device.family"},
		{"unsupported baud", func(c *Config) { c.Device.BaudRate = 300 }, "device.baud_rate"},
		{"baud beyond 7-channel table", func(c *Config) {
			c.Device.Family = "r4ava07"
			c.Device.BaudRate = 115200
		}, "device.baud_rate"},
		{"bad parity", func(c *Config) { c.Device.Parity = "M" }, "device.parity"},
		{"zero interval", func(c *Config) { c.Interval = Duration{} }, "interval"},
		{"no samples", func(c *Config) { c.Samples = 0 }, "samples"},
		{"channel out of range", func(c *Config) { c.Channels.PH = 9 }, "channels.ph"},
		{"channel 8 on 7-channel module", func(c *Config) {
			c.Device.Family = "r4ava07"
			c.Channels.PH = 8
		}, "channels.ph"},
		{"duplicate channel", func(c *Config) { c.Channels.PH = 1 }, "channel 1"},
		{"temperature without supply", func(c *Config) { c.Channels.Supply = 0 }, "channels.supply"},
		{"divider", func(c *Config) { c.Temperature.Divider = 0 }, "temperature.divider"},
		{"temperature unit", func(c *Config) { c.Temperature.Unit = "K" }, "temperature.unit"},
		{"oxygen unit", func(c *Config) { c.DissolvedOxygen.Unit = "ppm" }, "dissolved_oxygen.unit"},
		{"log level", func(c *Config) { c.Logging.Level = "chatty" }, "logging.level"},
		{"mqtt topic", func(c *Config) {
			c.MQTT.Enabled = true
			c.MQTT.Topic = ""
		}, "mqtt.broker"},
		{"mqtt qos", func(c *Config) {
			c.MQTT.Enabled = true
			c.MQTT.QoS = 3
		}, "mqtt.qos"},
		{"metrics listen", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Listen = ""
		}, "metrics.listen"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := Validate(&cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

func TestValidateDoesNotMutate(t *testing.T) {
	cfg := Default()
	cfg.Channels.DissolvedOxygen = 0
	before := cfg
	require.NoError(t, Validate(&cfg))
	assert.Equal(t, before, cfg)
}
