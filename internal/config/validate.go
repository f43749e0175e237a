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
	"strings"

	"github.com/hootrhino/analogbus/device"
	"github.com/hootrhino/analogbus/internal/logging"
)

// Validate checks configuration correctness.
// It performs declarative validation only and does not mutate cfg.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	// ---- device ----
	if cfg.Device.Port == "" {
		return fmt.Errorf("device.port is required")
	}
	family, ok := device.LookupFamily(cfg.Device.Family)
	if !ok {
		return fmt.Errorf("device.family %q is unknown (expected amvif08 or r4ava07)", cfg.Device.Family)
	}
	if _, ok := family.BaudCode(cfg.Device.BaudRate); !ok {
		return fmt.Errorf("device.baud_rate %d is not supported by %s", cfg.Device.BaudRate, family.Name)
	}
	if _, ok := device.ParseParity(cfg.Device.Parity); !ok {
		return fmt.Errorf("device.parity %q is invalid (expected N, E or O)", cfg.Device.Parity)
	}
	if cfg.Device.Settle.Duration < 0 || cfg.Device.ReadTimeout.Duration < 0 || cfg.Device.RetryDelay.Duration < 0 {
		return fmt.Errorf("device durations must not be negative")
	}

	// ---- sampling ----
	if cfg.Interval.Duration <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	if cfg.Samples < 1 {
		return fmt.Errorf("samples must be at least 1, got %d", cfg.Samples)
	}

	// ---- channels ----
	used := make(map[int]string)
	for name, ch := range map[string]int{
		"supply":           cfg.Channels.Supply,
		"temperature":      cfg.Channels.Temperature,
		"dissolved_oxygen": cfg.Channels.DissolvedOxygen,
		"ph":               cfg.Channels.PH,
	} {
		if ch == 0 {
			continue
		}
		if !family.ValidChannels(ch, 1) {
			return fmt.Errorf("channels.%s = %d is outside 1..%d", name, ch, family.Channels)
		}
		if other, dup := used[ch]; dup {
			return fmt.Errorf("channels.%s and channels.%s both use channel %d", name, other, ch)
		}
		used[ch] = name
	}
	if cfg.Channels.Temperature != 0 && cfg.Channels.Supply == 0 {
		return fmt.Errorf("channels.temperature requires channels.supply")
	}

	// ---- sensors ----
	if cfg.Temperature.Divider <= 0 {
		return fmt.Errorf("temperature.divider must be positive")
	}
	if cfg.Temperature.Load < 0 {
		return fmt.Errorf("temperature.load must not be negative")
	}
	switch strings.ToUpper(cfg.Temperature.Unit) {
	case "C", "F":
	default:
		return fmt.Errorf("temperature.unit %q is invalid (expected C or F)", cfg.Temperature.Unit)
	}
	switch cfg.DissolvedOxygen.Unit {
	case "mg/L", "%":
	default:
		return fmt.Errorf("dissolved_oxygen.unit %q is invalid (expected mg/L or %%)", cfg.DissolvedOxygen.Unit)
	}

	// ---- logging ----
	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	// ---- outputs ----
	if cfg.MQTT.Enabled {
		if cfg.MQTT.Broker == "" || cfg.MQTT.Topic == "" {
			return fmt.Errorf("mqtt.broker and mqtt.topic are required when mqtt is enabled")
		}
		if cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen is required when metrics are enabled")
	}
	return nil
}
