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

// Package sensor converts module voltages into physical quantities.
package sensor

import (
	"errors"
	"time"
)

// Resolution is the number of ADC counts over the reference voltage.
const Resolution = 4096

// DefaultReferenceVoltage is the sensor supply voltage.
const DefaultReferenceVoltage = 5.0

var (
	// ErrNotComputable is returned when the input has no physical meaning,
	// for example a divider voltage that implies a negative resistance.
	ErrNotComputable = errors.New("sensor: value not computable")
	// ErrOutOfRange is returned for raw counts outside the ADC range.
	ErrOutOfRange = errors.New("sensor: raw count out of range")
	// ErrInvalidParameter is returned by setters given a meaningless value.
	ErrInvalidParameter = errors.New("sensor: invalid parameter")
)

// Sensor turns a measured voltage or ADC count into a reading.
type Sensor interface {
	ReadVoltage(voltage float64) (float64, error)
	ReadRaw(count int) (float64, error)
	Unit() string
	// Calibrate replaces the linear correction of the sensor.
	Calibrate(slope, intercept float64)
	// ResponseTime is how long the sensor needs to settle on a new value.
	ResponseTime() time.Duration
}

// UnitSwitcher is implemented by sensors that report in more than one unit.
type UnitSwitcher interface {
	SwitchUnit()
}

func checkRaw(count int) error {
	if count < 0 || count >= Resolution {
		return ErrOutOfRange
	}
	return nil
}
