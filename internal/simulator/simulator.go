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

// Package simulator emulates one analog input module at the frame level.
// It is an io.ReadWriteCloser, so the real transport and codec run
// against it unchanged.
package simulator

import (
	"encoding/binary"
	"io"
	"math"
	"os"
	"sync"

	modbus "github.com/hootrhino/analogbus"
	"github.com/hootrhino/analogbus/device"
)

// Device is a simulated module attached to a private bus.
type Device struct {
	mu        sync.Mutex
	family    device.Family
	address   uint8
	registers map[uint16]uint16
	pending   []byte
	requests  [][]byte
	closed    bool

	// Silent drops every request without answering.
	Silent bool
	// CorruptEcho makes write responses echo a different value.
	CorruptEcho bool
}

// New creates a device of family at address with factory register contents.
// An address of 0 emulates a module that reports no address.
func New(family device.Family, address uint8) *Device {
	d := &Device{family: family, address: address}
	d.reset()
	d.address = address
	d.setConfig(device.RegAddress, uint16(address))
	return d
}

func (d *Device) reset() {
	d.registers = make(map[uint16]uint16)
	for ch := 1; ch <= d.family.Channels; ch++ {
		d.registers[d.family.VoltageBase+uint16(ch-1)] = 0
		d.registers[d.family.RatioBase+uint16(ch-1)] = 1000
	}
	for name, reg := range d.family.Registers {
		d.registers[reg] = 0
		if name == device.RegProductID {
			d.registers[reg] = d.family.ProductID
		}
	}
	code, _ := d.family.BaudCode(device.DefaultBaudRate)
	d.setConfig(device.RegBaudRate, code)
	d.setConfig(device.RegReturnTime, device.DefaultReturnTime/40)
	d.address = 1
	d.setConfig(device.RegAddress, 1)
}

func (d *Device) setConfig(name device.RegisterName, value uint16) {
	if reg, ok := d.family.Register(name); ok {
		d.registers[reg] = value
	}
}

// SetVoltage sets the reading of channel ch in volts.
func (d *Device) SetVoltage(ch int, volts float64) {
	d.SetRegister(d.family.VoltageBase+uint16(ch-1), uint16(math.Round(volts*100)))
}

// SetRegister stores a raw register value.
func (d *Device) SetRegister(reg, value uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.registers[reg] = value
}

// Register returns a raw register value.
func (d *Device) Register(reg uint16) uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.registers[reg]
}

// Address returns the address the device currently answers on.
func (d *Device) Address() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.address
}

// Requests returns a copy of every frame written to the device.
func (d *Device) Requests() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.requests))
	for i, r := range d.requests {
		out[i] = append([]byte(nil), r...)
	}
	return out
}

// ResetRequests forgets the recorded requests.
func (d *Device) ResetRequests() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = nil
}

func (d *Device) Write(frame []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, io.ErrClosedPipe
	}
	d.requests = append(d.requests, append([]byte(nil), frame...))
	d.pending = nil
	if !d.Silent {
		d.pending = d.handle(frame)
	}
	return len(frame), nil
}

// Read returns the pending response in one piece, or a deadline error
// when there is none.
func (d *Device) Read(b []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, io.ErrClosedPipe
	}
	if len(d.pending) == 0 {
		return 0, os.ErrDeadlineExceeded
	}
	n := copy(b, d.pending)
	d.pending = nil
	return n, nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// handle returns the response to frame, or nil when the device stays quiet.
func (d *Device) handle(frame []byte) []byte {
	if len(frame) < modbus.RequestFrameSize || !modbus.VerifyCRC(frame) {
		return nil
	}
	target := frame[0]
	if target != modbus.BroadcastAddress && (target != d.address || d.address == 0) {
		return nil
	}
	fn := modbus.FunctionCode(frame[1])
	reg := binary.BigEndian.Uint16(frame[2:4])
	value := binary.BigEndian.Uint16(frame[4:6])

	switch fn {
	case modbus.FuncCodeReadHoldingRegisters, modbus.FuncCodeReadInputRegisters:
		return d.read(target, fn, reg, value)
	case modbus.FuncCodeWriteSingleRegister:
		return d.write(fn, reg, value, frame[4:6])
	case modbus.FuncCodeWriteMultipleRegisters:
		if value != 1 || len(frame) != modbus.WriteMultipleFrameSize || frame[6] != 2 {
			return d.exception(fn, 0x03)
		}
		return d.write(fn, reg, binary.BigEndian.Uint16(frame[7:9]), frame[4:6])
	default:
		return d.exception(fn, 0x01)
	}
}

func (d *Device) read(target uint8, fn modbus.FunctionCode, reg, quantity uint16) []byte {
	data := make([]byte, 0, 2*quantity)
	for i := uint16(0); i < quantity; i++ {
		v, ok := d.registers[reg+i]
		if !ok {
			return d.exception(fn, 0x02)
		}
		data = binary.BigEndian.AppendUint16(data, v)
	}

	var resp []byte
	if target != modbus.BroadcastAddress {
		resp = append(resp, d.address, byte(fn))
	}
	resp = append(resp, byte(len(data)))
	resp = append(resp, data...)
	return modbus.AppendCRC(resp)
}

func (d *Device) write(fn modbus.FunctionCode, reg, value uint16, echoField []byte) []byte {
	if _, ok := d.registers[reg]; !ok {
		return d.exception(fn, 0x02)
	}
	resp := []byte{d.address, byte(fn), byte(reg >> 8), byte(reg)}
	resp = append(resp, echoField...)
	if d.CorruptEcho {
		resp[5]++
	}

	switch reg {
	case d.configRegister(device.RegFactoryReset):
		d.reset()
	case d.configRegister(device.RegAddress):
		d.registers[reg] = value
		d.address = uint8(value)
	default:
		d.registers[reg] = value
	}
	return modbus.AppendCRC(resp)
}

// configRegister returns the register for name, or an address that never
// matches when the family lacks it.
func (d *Device) configRegister(name device.RegisterName) uint16 {
	if reg, ok := d.family.Register(name); ok {
		return reg
	}
	return math.MaxUint16
}

func (d *Device) exception(fn modbus.FunctionCode, code byte) []byte {
	return modbus.AppendCRC([]byte{d.address, byte(fn) | 0x80, code})
}
