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

package telemetry

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures events emitted by the monitor loop.
type Collector interface {
	IncSample(ok bool)
	SetReading(quantity string, value float64, valid bool)
	IncPublish(reporter string, ok bool)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) IncSample(bool)                   {}
func (noopCollector) SetReading(string, float64, bool) {}
func (noopCollector) IncPublish(string, bool)          {}

// PrometheusCollector exposes monitor counters via Prometheus.
type PrometheusCollector struct {
	samples  *prometheus.CounterVec
	readings *prometheus.GaugeVec
	valid    *prometheus.GaugeVec
	publish  *prometheus.CounterVec
}

// NewPrometheusCollector registers the metrics with reg, or with the
// default registerer when reg is nil. Metrics already registered by an
// earlier collector are reused.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &PrometheusCollector{}
	var err error
	if c.samples, err = registerCounter(reg, prometheus.CounterOpts{
		Name: "analogbus_samples_total",
		Help: "Number of channel sample reads by result.",
	}, "result"); err != nil {
		return nil, err
	}
	if c.readings, err = registerGauge(reg, prometheus.GaugeOpts{
		Name: "analogbus_reading",
		Help: "Last computed value per measured quantity.",
	}, "quantity"); err != nil {
		return nil, err
	}
	if c.valid, err = registerGauge(reg, prometheus.GaugeOpts{
		Name: "analogbus_reading_valid",
		Help: "1 when the last value of a quantity could be computed, 0 otherwise.",
	}, "quantity"); err != nil {
		return nil, err
	}
	if c.publish, err = registerCounter(reg, prometheus.CounterOpts{
		Name: "analogbus_reports_total",
		Help: "Number of reports handed to each reporter by result.",
	}, "reporter", "result"); err != nil {
		return nil, err
	}
	return c, nil
}

func registerCounter(reg prometheus.Registerer, opts prometheus.CounterOpts, labels ...string) (*prometheus.CounterVec, error) {
	counter := prometheus.NewCounterVec(opts, labels)
	if err := reg.Register(counter); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, opts prometheus.GaugeOpts, labels ...string) (*prometheus.GaugeVec, error) {
	gauge := prometheus.NewGaugeVec(opts, labels)
	if err := reg.Register(gauge); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return gauge, nil
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

func (c *PrometheusCollector) IncSample(ok bool) {
	c.samples.WithLabelValues(result(ok)).Inc()
}

// SetReading keeps the last valid value when a reading is not computable.
func (c *PrometheusCollector) SetReading(quantity string, value float64, valid bool) {
	if valid {
		c.readings.WithLabelValues(quantity).Set(value)
		c.valid.WithLabelValues(quantity).Set(1)
		return
	}
	c.valid.WithLabelValues(quantity).Set(0)
}

func (c *PrometheusCollector) IncPublish(reporter string, ok bool) {
	c.publish.WithLabelValues(reporter, result(ok)).Inc()
}
