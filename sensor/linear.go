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

package sensor

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Linear maps a voltage to slope*voltage + intercept.
type Linear struct {
	mu           sync.RWMutex
	slope        float64
	intercept    float64
	vin          float64
	responseTime time.Duration
	unit         string
}

var _ Sensor = (*Linear)(nil)

func NewLinear(slope, intercept float64, responseTime time.Duration, unit string) *Linear {
	return &Linear{
		slope:        slope,
		intercept:    intercept,
		vin:          DefaultReferenceVoltage,
		responseTime: responseTime,
		unit:         unit,
	}
}

// NewPH returns a flat pH sensor. pH has no unit label.
func NewPH() *Linear {
	return NewLinear(-7.78, 16.34, time.Second, "")
}

func (l *Linear) ReadVoltage(voltage float64) (float64, error) {
	if math.IsNaN(voltage) || math.IsInf(voltage, 0) {
		return 0, fmt.Errorf("%w: voltage %v", ErrNotComputable, voltage)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.slope*voltage + l.intercept, nil
}

// ReadRaw converts an ADC count with the reference voltage first.
func (l *Linear) ReadRaw(count int) (float64, error) {
	if err := checkRaw(count); err != nil {
		return 0, fmt.Errorf("%w: %d", err, count)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.slope*(float64(count)*l.vin/Resolution) + l.intercept, nil
}

// Calibrate replaces slope and intercept together.
func (l *Linear) Calibrate(slope, intercept float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.slope = slope
	l.intercept = intercept
}

// SetReferenceVoltage sets the voltage that a full-scale count stands for.
func (l *Linear) SetReferenceVoltage(v float64) error {
	if !(v > 0) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: reference voltage %v", ErrInvalidParameter, v)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.vin = v
	return nil
}

func (l *Linear) Slope() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.slope
}

func (l *Linear) Intercept() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.intercept
}

func (l *Linear) ReferenceVoltage() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.vin
}

func (l *Linear) Unit() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.unit
}

func (l *Linear) ResponseTime() time.Duration {
	return l.responseTime
}

// Dissolved oxygen calibrations for each unit.
const (
	DOUnitMilligrams = "mg/L"
	DOUnitPercent    = "%"

	doSlopeMilligrams     = 4.444
	doInterceptMilligrams = -0.4444
	doSlopePercent        = 66.666
	doInterceptPercent    = -6.6666
)

// DissolvedOxygen is an optical dissolved oxygen sensor reporting in mg/L
// or percent saturation.
type DissolvedOxygen struct {
	Linear
}

var (
	_ Sensor       = (*DissolvedOxygen)(nil)
	_ UnitSwitcher = (*DissolvedOxygen)(nil)
)

func NewDissolvedOxygen() *DissolvedOxygen {
	return &DissolvedOxygen{Linear: Linear{
		slope:        doSlopeMilligrams,
		intercept:    doInterceptMilligrams,
		vin:          DefaultReferenceVoltage,
		responseTime: 40 * time.Second,
		unit:         DOUnitMilligrams,
	}}
}

// SwitchUnit toggles between mg/L and percent saturation. Slope, intercept
// and unit change together, so a concurrent read sees either calibration
// but never a mix.
func (s *DissolvedOxygen) SwitchUnit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unit == DOUnitMilligrams {
		s.slope, s.intercept, s.unit = doSlopePercent, doInterceptPercent, DOUnitPercent
		return
	}
	s.slope, s.intercept, s.unit = doSlopeMilligrams, doInterceptMilligrams, DOUnitMilligrams
}
