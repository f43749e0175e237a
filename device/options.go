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

package device

import (
	"time"

	"github.com/rs/zerolog"
)

type options struct {
	logger      zerolog.Logger
	baudRate    int
	parity      Parity
	settle      time.Duration
	fixedSettle bool
	readTimeout time.Duration
	dialTimeout time.Duration
}

// Option configures a Driver.
type Option func(*options)

func defaultOptions() options {
	return options{
		logger:      zerolog.Nop(),
		baudRate:    DefaultBaudRate,
		parity:      ParityNone,
		readTimeout: 100 * time.Millisecond,
		dialTimeout: 5 * time.Second,
	}
}

func resolveOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger used by the driver and its register layer.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithBaudRate sets the line speed used to open a serial port.
func WithBaudRate(baud int) Option {
	return func(o *options) { o.baudRate = baud }
}

// WithParity sets the parity used to open a serial port.
func WithParity(p Parity) Option {
	return func(o *options) { o.parity = p }
}

// WithSettleInterval fixes the wait between request and response. The
// driver then no longer derives it from the device's return time.
func WithSettleInterval(d time.Duration) Option {
	return func(o *options) {
		o.settle = d
		o.fixedSettle = true
	}
}

// WithReadTimeout bounds the single read that follows the settle interval.
func WithReadTimeout(d time.Duration) Option {
	return func(o *options) { o.readTimeout = d }
}

// WithDialTimeout bounds connecting to a serial server over TCP.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) { o.dialTimeout = d }
}
