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

// Package monitor polls an analog input module, averages the channel
// voltages and turns them into sensor readings at each sensor's own pace.
package monitor

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hootrhino/analogbus/internal/telemetry"
	"github.com/hootrhino/analogbus/sensor"
)

// VoltageReader is the part of a device driver the monitor needs.
type VoltageReader interface {
	ReadVoltage(ch, count int) ([]float64, error)
}

// Quantity binds a sensor to the module channel it is wired to.
type Quantity struct {
	Name    string
	Label   string
	Channel int
	Sensor  sensor.Sensor
}

// Config is the runtime configuration of a Monitor.
type Config struct {
	// Channels is the number of channels read, starting at channel 1.
	Channels int
	// Samples is the number of reads averaged per cycle.
	Samples  int
	Interval time.Duration
	// SupplyChannel carries the divider supply voltage for temperature
	// probes. Zero uses the sensor's configured reference voltage.
	SupplyChannel int
	Quantities    []Quantity
}

// Reading is one evaluated quantity. Valid is false when there was no
// voltage or the value could not be computed.
type Reading struct {
	Name  string
	Label string
	Value float64
	Unit  string
	Valid bool
}

// Report is what one cycle hands to the reporters.
type Report struct {
	ID uuid.UUID
	At time.Time
	// Voltages holds the averaged channel voltages, nil when every read failed.
	Voltages []float64
	Samples  int
	Readings []Reading
}

// Reporter publishes reports.
type Reporter interface {
	Name() string
	Report(Report) error
}

// Monitor is a clock-driven reader. It is not safe to run Cycle from
// more than one goroutine.
type Monitor struct {
	cfg       Config
	reader    VoltageReader
	reporters []Reporter
	collector telemetry.Collector
	logger    zerolog.Logger

	mu   sync.Mutex
	last map[string]Reading
	due  map[string]time.Time
}

// New creates a monitor with immutable config.
func New(cfg Config, reader VoltageReader, reporters []Reporter, collector telemetry.Collector, logger zerolog.Logger) (*Monitor, error) {
	if reader == nil {
		return nil, errors.New("monitor: reader required")
	}
	if cfg.Channels < 1 {
		return nil, errors.New("monitor: at least one channel required")
	}
	if cfg.Samples < 1 {
		return nil, errors.New("monitor: samples must be > 0")
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("monitor: interval must be > 0")
	}
	if cfg.SupplyChannel > cfg.Channels {
		return nil, errors.New("monitor: supply channel is not read")
	}
	for _, q := range cfg.Quantities {
		if q.Channel < 1 || q.Channel > cfg.Channels {
			return nil, errors.New("monitor: quantity " + q.Name + " uses a channel that is not read")
		}
		if q.Sensor == nil {
			return nil, errors.New("monitor: quantity " + q.Name + " has no sensor")
		}
	}
	if collector == nil {
		collector = telemetry.Noop()
	}
	return &Monitor{
		cfg:       cfg,
		reader:    reader,
		reporters: reporters,
		collector: collector,
		logger:    logger,
		last:      make(map[string]Reading),
		due:       make(map[string]time.Time),
	}, nil
}

// SampleOnce reads every configured channel once.
// All-or-nothing: a failed read returns no voltages.
func (m *Monitor) SampleOnce() ([]float64, error) {
	volts, err := m.reader.ReadVoltage(1, m.cfg.Channels)
	m.collector.IncSample(err == nil)
	if err != nil {
		m.logger.Debug().Err(err).Msg("sample failed")
		return nil, err
	}
	return volts, nil
}

// Cycle takes Samples reads, averages them and evaluates every sensor
// whose response time has elapsed since its last evaluation. Sensors that
// are not due repeat their previous reading.
func (m *Monitor) Cycle(now time.Time) Report {
	sum := make([]float64, m.cfg.Channels)
	ok := 0
	for i := 0; i < m.cfg.Samples; i++ {
		volts, err := m.SampleOnce()
		if err != nil {
			continue
		}
		for ch, v := range volts {
			sum[ch] += v
		}
		ok++
	}

	var avg []float64
	if ok > 0 {
		avg = make([]float64, len(sum))
		for ch := range sum {
			avg[ch] = sum[ch] / float64(ok)
		}
	} else {
		m.logger.Warn().Int("samples", m.cfg.Samples).Msg("no voltage data this cycle")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	readings := make([]Reading, 0, len(m.cfg.Quantities))
	for _, q := range m.cfg.Quantities {
		r, seen := m.last[q.Name]
		if !seen || !now.Before(m.due[q.Name]) {
			r = m.evaluate(q, avg)
			m.last[q.Name] = r
			m.due[q.Name] = now.Add(q.Sensor.ResponseTime())
			m.collector.SetReading(q.Name, r.Value, r.Valid)
		}
		readings = append(readings, r)
	}

	return Report{
		ID:       uuid.New(),
		At:       now,
		Voltages: avg,
		Samples:  ok,
		Readings: readings,
	}
}

func (m *Monitor) evaluate(q Quantity, avg []float64) Reading {
	r := Reading{Name: q.Name, Label: q.Label, Unit: q.Sensor.Unit()}
	if avg == nil {
		return r
	}
	vout := avg[q.Channel-1]
	if !(vout > 0) {
		return r
	}

	var (
		value float64
		err   error
	)
	if t, isTemp := q.Sensor.(*sensor.Temperature); isTemp && m.cfg.SupplyChannel > 0 {
		value, err = t.ReadDivider(avg[m.cfg.SupplyChannel-1], vout)
	} else {
		value, err = q.Sensor.ReadVoltage(vout)
	}
	if err != nil || math.IsNaN(value) {
		m.logger.Debug().Err(err).Str("quantity", q.Name).Float64("vout", vout).Msg("reading not computable")
		return r
	}
	r.Value = value
	r.Valid = true
	return r
}

// Publish hands report to every reporter. A failing reporter does not
// stop the others.
func (m *Monitor) Publish(report Report) {
	for _, rep := range m.reporters {
		err := rep.Report(report)
		m.collector.IncPublish(rep.Name(), err == nil)
		if err != nil {
			m.logger.Warn().Err(err).Str("reporter", rep.Name()).Msg("report failed")
		}
	}
}

// Run performs a cycle every Interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		m.Publish(m.Cycle(time.Now()))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
