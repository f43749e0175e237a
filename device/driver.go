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
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	modbus "github.com/hootrhino/analogbus"
)

// Defaults restored by a factory reset.
const (
	DefaultBaudRate   = 9600
	DefaultReturnTime = 1000 // ms

	MaxReturnTime = 1000 // ms
	// returnTimeUnit is the number of milliseconds per return time register step.
	returnTimeUnit = 40

	// SettleGuard is added to the device's return time to form the settle interval.
	SettleGuard = 20 * time.Millisecond

	voltageScale = 100.0
	ratioScale   = 1000.0
)

// Parity is the serial parity mode of a device.
type Parity byte

const (
	ParityNone Parity = 'N'
	ParityEven Parity = 'E'
	ParityOdd  Parity = 'O'
)

func (p Parity) String() string {
	switch p {
	case ParityNone:
		return "none"
	case ParityEven:
		return "even"
	case ParityOdd:
		return "odd"
	default:
		return fmt.Sprintf("Parity(%q)", byte(p))
	}
}

// code returns the value stored in the parity register.
func (p Parity) code() (uint16, bool) {
	switch p {
	case ParityNone:
		return 0, true
	case ParityEven:
		return 1, true
	case ParityOdd:
		return 2, true
	}
	return 0, false
}

func parityFromCode(code uint16) (Parity, bool) {
	switch code {
	case 0:
		return ParityNone, true
	case 1:
		return ParityEven, true
	case 2:
		return ParityOdd, true
	}
	return 0, false
}

// ParseParity accepts "N", "E", "O" and the words none, even and odd.
func ParseParity(s string) (Parity, bool) {
	switch s {
	case "N", "n", "none":
		return ParityNone, true
	case "E", "e", "even":
		return ParityEven, true
	case "O", "o", "odd":
		return ParityOdd, true
	}
	return 0, false
}

// Driver talks to one analog input module. Its in-memory state is only
// changed after the device has confirmed a write.
type Driver struct {
	mu          sync.Mutex
	family      Family
	api         modbus.RegisterApi
	logger      zerolog.Logger
	fixedSettle bool

	address    uint8
	baudRate   int
	parity     Parity
	returnTime int
}

// New creates a driver on top of api. The device address is unknown until
// Discover succeeds.
func New(family Family, api modbus.RegisterApi, opts ...Option) *Driver {
	o := resolveOptions(opts)
	d := &Driver{
		family:      family,
		api:         api,
		logger:      o.logger.With().Str("device", family.Name).Logger(),
		fixedSettle: o.fixedSettle,
		baudRate:    o.baudRate,
		parity:      o.parity,
		returnTime:  DefaultReturnTime,
	}
	api.SetLogger(o.logger)
	if o.fixedSettle {
		api.SetSettleInterval(o.settle)
	}
	return d
}

// Discover asks the bus for the device address with a broadcast read and
// then loads the line settings from the device itself. Only one device
// may be attached while discovering.
func (d *Driver) Discover() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	const op = "discover"
	reg, _ := d.family.Register(RegAddress)
	values, err := d.api.ReadHoldingRegisters(modbus.BroadcastAddress, reg, 1)
	if err != nil {
		return modbus.NewError(modbus.KindTransport, op, err)
	}
	addr := values[0]
	switch {
	case addr == 0:
		d.address = 0
		return &modbus.Error{Kind: modbus.KindProtocol, Op: op, Err: modbus.ErrDeviceNotFound}
	case addr > uint16(modbus.MaxSlaveAddress):
		d.address = 0
		return &modbus.Error{Kind: modbus.KindProtocol, Op: op, Err: fmt.Errorf("%w: device reported address %d", modbus.ErrMalformedFrame, addr)}
	}
	d.logger.Debug().Uint16("address", addr).Msg("device found")

	// Nothing is committed until every setting has been read.
	var (
		address    = uint8(addr)
		baudRate   = d.baudRate
		parity     = d.parity
		returnTime = d.returnTime
		haveReturn bool
	)

	if reg, ok := d.family.Register(RegBaudRate); ok {
		code, err := d.readRegister(op, address, reg)
		if err != nil {
			return err
		}
		if baud, ok := d.family.BaudRate(code); ok {
			baudRate = baud
		} else {
			d.logger.Warn().Uint16("code", code).Msg("unknown baud rate code")
		}
	}

	if reg, ok := d.family.Register(RegParity); ok {
		code, err := d.readRegister(op, address, reg)
		if err != nil {
			return err
		}
		if p, ok := parityFromCode(code); ok {
			parity = p
		} else {
			d.logger.Warn().Uint16("code", code).Msg("unknown parity code")
		}
	}

	if reg, ok := d.family.Register(RegReturnTime); ok {
		raw, err := d.readRegister(op, address, reg)
		if err != nil {
			return err
		}
		returnTime = int(raw) * returnTimeUnit
		haveReturn = true
	}

	d.address, d.baudRate, d.parity, d.returnTime = address, baudRate, parity, returnTime
	if haveReturn {
		d.applySettle()
	}

	d.logger.Info().
		Uint8("address", d.address).
		Int("baud_rate", d.baudRate).
		Stringer("parity", d.parity).
		Int("return_time_ms", d.returnTime).
		Msg("device discovered")
	return nil
}

func (d *Driver) readRegister(op string, address uint8, reg uint16) (uint16, error) {
	values, err := d.api.ReadHoldingRegisters(address, reg, 1)
	if err != nil {
		return 0, modbus.NewError(modbus.KindTransport, op, err)
	}
	return values[0], nil
}

// applySettle derives the settle interval from the known return time.
func (d *Driver) applySettle() {
	if d.fixedSettle {
		return
	}
	d.api.SetSettleInterval(time.Duration(d.returnTime)*time.Millisecond + SettleGuard)
}

func (d *Driver) requireAddress(op string) error {
	if d.address == 0 {
		return &modbus.Error{Kind: modbus.KindProtocol, Op: op, Err: modbus.ErrNotConnected}
	}
	return nil
}

func (d *Driver) unsupported(op string, name RegisterName) error {
	return &modbus.Error{Kind: modbus.KindValidation, Op: op,
		Err: fmt.Errorf("%w: %s has no %s register", modbus.ErrUnsupported, d.family.Name, name)}
}

// ReadVoltage returns the voltages of channels ch..ch+count-1 in volts.
func (d *Driver) ReadVoltage(ch, count int) ([]float64, error) {
	return d.readChannels("read voltage", d.family.VoltageBase, ch, count, voltageScale)
}

// ReadRatio returns the voltage ratios of channels ch..ch+count-1.
func (d *Driver) ReadRatio(ch, count int) ([]float64, error) {
	return d.readChannels("read ratio", d.family.RatioBase, ch, count, ratioScale)
}

func (d *Driver) readChannels(op string, base uint16, ch, count int, scale float64) ([]float64, error) {
	if !d.family.ValidChannels(ch, count) {
		return nil, modbus.Validationf(op, "channels %d..%d outside 1..%d", ch, ch+count-1, d.family.Channels)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireAddress(op); err != nil {
		return nil, err
	}

	raw, err := d.api.ReadHoldingRegisters(d.address, base+uint16(ch-1), uint16(count))
	if err != nil {
		return nil, modbus.NewError(modbus.KindTransport, op, err)
	}
	return scaleValues(raw, scale), nil
}

func scaleValues(raw []uint16, scale float64) []float64 {
	values := make([]float64, len(raw))
	for i, v := range raw {
		values[i] = float64(v) / scale
	}
	return values
}

// SetVoltageRatio stores the trim ratio of one channel. ratio must be in [0, 1].
func (d *Driver) SetVoltageRatio(ch int, ratio float64) error {
	const op = "set voltage ratio"
	if !d.family.ValidChannels(ch, 1) {
		return modbus.Validationf(op, "channel %d outside 1..%d", ch, d.family.Channels)
	}
	if math.IsNaN(ratio) || ratio < 0 || ratio > 1 {
		return modbus.Validationf(op, "ratio %v outside 0..1", ratio)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.write(op, d.family.RatioBase+uint16(ch-1), uint16(math.Round(ratio*ratioScale)))
}

// SetAddress moves the device to a new slave address. Later requests use
// the new address once the device has confirmed the change.
func (d *Driver) SetAddress(addr int) error {
	const op = "set address"
	if addr < int(modbus.MinSlaveAddress) || addr > int(modbus.MaxSlaveAddress) {
		return modbus.Validationf(op, "address %d outside %d..%d", addr, modbus.MinSlaveAddress, modbus.MaxSlaveAddress)
	}
	reg, ok := d.family.Register(RegAddress)
	if !ok {
		return d.unsupported(op, RegAddress)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.write(op, reg, uint16(addr)); err != nil {
		return err
	}
	d.logger.Info().Uint8("from", d.address).Int("to", addr).Msg("address changed")
	d.address = uint8(addr)
	return nil
}

// SetBaudRate changes the device line speed. The port itself keeps its
// speed; reopen it at the new rate afterwards.
func (d *Driver) SetBaudRate(baud int) error {
	const op = "set baud rate"
	code, ok := d.family.BaudCode(baud)
	if !ok {
		return modbus.Validationf(op, "unsupported baud rate %d for %s", baud, d.family.Name)
	}
	reg, ok := d.family.Register(RegBaudRate)
	if !ok {
		return d.unsupported(op, RegBaudRate)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.write(op, reg, code); err != nil {
		return err
	}
	d.baudRate = baud
	return nil
}

// ResetBaudRate restores the default baud rate on families that support it.
func (d *Driver) ResetBaudRate() error {
	const op = "reset baud rate"
	reg, ok := d.family.Register(RegBaudRate)
	if !ok || d.family.BaudResetCode == 0 {
		return d.unsupported(op, RegBaudRate)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.write(op, reg, d.family.BaudResetCode); err != nil {
		return err
	}
	d.baudRate = DefaultBaudRate
	return nil
}

// SetParity changes the device parity mode.
func (d *Driver) SetParity(p Parity) error {
	const op = "set parity"
	code, ok := p.code()
	if !ok {
		return modbus.Validationf(op, "unknown parity %v", p)
	}
	reg, ok := d.family.Register(RegParity)
	if !ok {
		return d.unsupported(op, RegParity)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.write(op, reg, code); err != nil {
		return err
	}
	d.parity = p
	return nil
}

// SetReturnTime sets the device response latency in milliseconds (0..1000).
// The device stores it in whole steps of 40 ms, so ms is rounded down.
func (d *Driver) SetReturnTime(ms int) error {
	const op = "set return time"
	if ms < 0 || ms > MaxReturnTime {
		return modbus.Validationf(op, "return time %d ms outside 0..%d", ms, MaxReturnTime)
	}
	reg, ok := d.family.Register(RegReturnTime)
	if !ok {
		return d.unsupported(op, RegReturnTime)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	steps := ms / returnTimeUnit
	if err := d.write(op, reg, uint16(steps)); err != nil {
		return err
	}
	d.returnTime = steps * returnTimeUnit
	d.applySettle()
	return nil
}

// FactoryReset broadcasts the reset command and restores the built-in
// defaults in memory. The device address becomes unknown; call Discover
// again (at the default line settings) before further use.
func (d *Driver) FactoryReset() error {
	const op = "factory reset"
	reg, ok := d.family.Register(RegFactoryReset)
	if !ok {
		return d.unsupported(op, RegFactoryReset)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.api.WriteSingleRegister(modbus.BroadcastAddress, reg, 0); err != nil {
		return modbus.NewError(modbus.KindTransport, op, err)
	}
	d.address = 0
	d.baudRate = DefaultBaudRate
	d.parity = ParityNone
	d.returnTime = DefaultReturnTime
	if !d.fixedSettle {
		d.api.SetSettleInterval(modbus.DefaultSettleInterval)
	}
	d.logger.Info().Msg("factory reset")
	return nil
}

func (d *Driver) write(op string, reg, value uint16) error {
	if err := d.requireAddress(op); err != nil {
		return err
	}
	if err := d.api.WriteSingleRegister(d.address, reg, value); err != nil {
		d.logger.Debug().Err(err).Str("op", op).Msg("write failed")
		return modbus.NewError(modbus.KindTransport, op, err)
	}
	return nil
}

func (d *Driver) Name() string   { return d.family.Name }
func (d *Driver) Family() Family { return d.family }

// ProductID returns the product id of the family, or 0 when it has none.
func (d *Driver) ProductID() uint16 { return d.family.ProductID }

func (d *Driver) Address() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.address
}

func (d *Driver) BaudRate() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.baudRate
}

func (d *Driver) Parity() Parity {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.parity
}

// ReturnTime returns the device response latency in milliseconds.
func (d *Driver) ReturnTime() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.returnTime
}

// Close releases the underlying port.
func (d *Driver) Close() error {
	return d.api.Close()
}
