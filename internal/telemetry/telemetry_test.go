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
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewPrometheusCollector(reg)
	require.NoError(t, err)

	c.IncSample(true)
	c.IncSample(true)
	c.IncSample(false)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.samples.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.samples.WithLabelValues("error")))

	c.SetReading("temperature", 21.5, true)
	c.SetReading("temperature", 0, false)
	assert.Equal(t, 21.5, testutil.ToFloat64(c.readings.WithLabelValues("temperature")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.valid.WithLabelValues("temperature")))

	c.IncPublish("mqtt", false)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.publish.WithLabelValues("mqtt", "error")))
}

func TestPrometheusCollectorReusesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	second, err := NewPrometheusCollector(reg)
	require.NoError(t, err)

	first.IncSample(true)
	second.IncSample(true)
	assert.Equal(t, 2.0, testutil.ToFloat64(first.samples.WithLabelValues("ok")))
}

func TestNoop(t *testing.T) {
	c := Noop()
	c.IncSample(false)
	c.SetReading("ph", 7, true)
	c.IncPublish("console", true)
}
