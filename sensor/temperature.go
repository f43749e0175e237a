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

// Steinhart-Hart coefficients of the stainless steel temperature probe.
const (
	DefaultK0 = 0.00102119
	DefaultK1 = 0.000222468
	DefaultK2 = 0.000000133342

	// DefaultDividerResistance is the balance resistor in series with the thermistor.
	DefaultDividerResistance = 15000.0
	// DefaultLoadResistance is the input resistance of the module's ADC,
	// which sits in parallel with the thermistor.
	DefaultLoadResistance = 5930.434783

	absoluteZero = 273.15
)

// TemperatureUnit selects the scale a Temperature sensor reports in.
type TemperatureUnit int

const (
	Celsius TemperatureUnit = iota
	Fahrenheit
)

func (u TemperatureUnit) String() string {
	if u == Fahrenheit {
		return "Deg F"
	}
	return "Deg C"
}

// Temperature is a thermistor probe read through a voltage divider:
//
//	[GND] -- [thermistor] --+-- [divider] -- [Vin]
//	                        |
//	                    analog input (load to GND)
type Temperature struct {
	mu           sync.RWMutex
	k0, k1, k2   float64
	slope        float64
	intercept    float64
	divider      float64
	load         float64
	vin          float64
	unit         TemperatureUnit
	responseTime time.Duration
}

var (
	_ Sensor       = (*Temperature)(nil)
	_ UnitSwitcher = (*Temperature)(nil)
)

func NewTemperature() *Temperature {
	return &Temperature{
		k0:           DefaultK0,
		k1:           DefaultK1,
		k2:           DefaultK2,
		slope:        1,
		divider:      DefaultDividerResistance,
		load:         DefaultLoadResistance,
		vin:          DefaultReferenceVoltage,
		unit:         Celsius,
		responseTime: 10 * time.Second,
	}
}

// FromResistance applies the Steinhart-Hart equation to a thermistor
// resistance in ohms and returns the temperature in the current unit.
func (t *Temperature) FromResistance(r float64) (float64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.fromResistance(r)
}

func (t *Temperature) fromResistance(r float64) (float64, error) {
	if !(r > 0) || math.IsInf(r, 0) {
		return 0, fmt.Errorf("%w: resistance %v ohm", ErrNotComputable, r)
	}
	ln := math.Log(r)
	denominator := t.k0 + t.k1*ln + t.k2*ln*ln*ln
	kelvin := 1 / denominator
	if denominator == 0 || !(kelvin > 0) || math.IsInf(kelvin, 0) {
		return 0, fmt.Errorf("%w: resistance %v ohm gives no absolute temperature", ErrNotComputable, r)
	}

	celsius := t.slope*(kelvin-absoluteZero) + t.intercept
	if t.unit == Fahrenheit {
		return 1.8*celsius + 32, nil
	}
	return celsius, nil
}

// ParallelResistance recovers the thermistor resistance from the divider
// supply vin and the measured voltage vout. A zero load resistance leaves
// the ADC input out of the network.
func (t *Temperature) ParallelResistance(vin, vout float64) (float64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.parallelResistance(vin, vout)
}

func (t *Temperature) parallelResistance(vin, vout float64) (float64, error) {
	if !(vout > 0) || !(vin > 0) || math.IsInf(vin, 0) || math.IsInf(vout, 0) {
		return 0, fmt.Errorf("%w: vin %v V, vout %v V", ErrNotComputable, vin, vout)
	}
	conductance := vin/(t.divider*vout) - 1/t.divider
	if t.load > 0 {
		conductance -= 1 / t.load
	}
	if !(conductance > 0) {
		return 0, fmt.Errorf("%w: vin %v V, vout %v V gives a non-positive resistance", ErrNotComputable, vin, vout)
	}
	return 1 / conductance, nil
}

// ReadDivider returns the temperature for a divider supplied with vin
// that reads vout.
func (t *Temperature) ReadDivider(vin, vout float64) (float64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, err := t.parallelResistance(vin, vout)
	if err != nil {
		return 0, err
	}
	return t.fromResistance(r)
}

// ReadVoltage returns the temperature for a measured divider voltage,
// using the configured supply voltage.
func (t *Temperature) ReadVoltage(vout float64) (float64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, err := t.parallelResistance(t.vin, vout)
	if err != nil {
		return 0, err
	}
	return t.fromResistance(r)
}

// ReadRaw returns the temperature for an ADC count of the divider voltage.
func (t *Temperature) ReadRaw(count int) (float64, error) {
	if err := checkRaw(count); err != nil {
		return 0, fmt.Errorf("%w: %d", err, count)
	}
	t.mu.RLock()
	vin := t.vin
	t.mu.RUnlock()
	return t.ReadVoltage(float64(count) * vin / Resolution)
}

// SwitchUnit toggles between Celsius and Fahrenheit. The choice sticks
// for every later reading.
func (t *Temperature) SwitchUnit() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.unit == Celsius {
		t.unit = Fahrenheit
	} else {
		t.unit = Celsius
	}
}

func (t *Temperature) SetUnit(u TemperatureUnit) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unit = u
}

func (t *Temperature) TemperatureUnit() TemperatureUnit {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.unit
}

func (t *Temperature) Unit() string {
	return t.TemperatureUnit().String()
}

func (t *Temperature) ResponseTime() time.Duration {
	return t.responseTime
}

// Calibrate sets a linear trim applied to the Celsius value after the
// Steinhart-Hart equation. The default is slope 1, intercept 0.
func (t *Temperature) Calibrate(slope, intercept float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slope = slope
	t.intercept = intercept
}

// SetCoefficients replaces the Steinhart-Hart coefficients.
func (t *Temperature) SetCoefficients(k0, k1, k2 float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.k0, t.k1, t.k2 = k0, k1, k2
}

func (t *Temperature) SetDividerResistance(ohms float64) error {
	if !(ohms > 0) || math.IsInf(ohms, 0) {
		return fmt.Errorf("%w: divider resistance %v", ErrInvalidParameter, ohms)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.divider = ohms
	return nil
}

func (t *Temperature) DividerResistance() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.divider
}

// SetLoadResistance sets the ADC input resistance. Zero removes it from
// the divider network.
func (t *Temperature) SetLoadResistance(ohms float64) error {
	if ohms < 0 || math.IsNaN(ohms) || math.IsInf(ohms, 0) {
		return fmt.Errorf("%w: load resistance %v", ErrInvalidParameter, ohms)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.load = ohms
	return nil
}

func (t *Temperature) SetReferenceVoltage(v float64) error {
	if !(v > 0) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: reference voltage %v", ErrInvalidParameter, v)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.vin = v
	return nil
}
