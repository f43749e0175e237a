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

package modbus

import (
	"time"

	"github.com/rs/zerolog"
)

// FunctionCode is the second byte of every frame.
type FunctionCode uint8

const (
	FuncCodeReadHoldingRegisters   FunctionCode = 0x03
	FuncCodeReadInputRegisters     FunctionCode = 0x04
	FuncCodeWriteSingleRegister    FunctionCode = 0x06
	FuncCodeWriteMultipleRegisters FunctionCode = 0x10

	exceptionBit = 0x80
)

func (f FunctionCode) String() string {
	switch f {
	case FuncCodeReadHoldingRegisters:
		return "ReadHoldingRegisters"
	case FuncCodeReadInputRegisters:
		return "ReadInputRegisters"
	case FuncCodeWriteSingleRegister:
		return "WriteSingleRegister"
	case FuncCodeWriteMultipleRegisters:
		return "WriteMultipleRegisters"
	default:
		return "Unknown"
	}
}

// IsRead reports whether responses to f carry a byte count and data.
func (f FunctionCode) IsRead() bool {
	return f == FuncCodeReadHoldingRegisters || f == FuncCodeReadInputRegisters
}

// IsWrite reports whether responses to f echo the request.
func (f FunctionCode) IsWrite() bool {
	return f == FuncCodeWriteSingleRegister || f == FuncCodeWriteMultipleRegisters
}

const (
	// BroadcastAddress addresses every device on the bus. Devices of these
	// families answer a broadcast read individually, without the address
	// and function code header.
	BroadcastAddress uint8 = 0xFF
	MinSlaveAddress  uint8 = 1
	MaxSlaveAddress  uint8 = 247

	// MaxReadQuantity is the largest register count a single read may ask for.
	MaxReadQuantity uint16 = 125

	// DefaultSettleInterval is the wait between request and read when the
	// device's own return time is unknown.
	DefaultSettleInterval = time.Second
)

// ValidSlaveAddress reports whether id may be the target of a request.
func ValidSlaveAddress(id uint8) bool {
	return id == BroadcastAddress || (id >= MinSlaveAddress && id <= MaxSlaveAddress)
}

// RegisterApi is the generic register layer the device drivers are built on.
type RegisterApi interface {
	SetLogger(zerolog.Logger)
	SetSettleInterval(time.Duration)
	SettleInterval() time.Duration
	ReadHoldingRegisters(slaveID uint8, startAddress, quantity uint16) ([]uint16, error) // ReadHoldingRegisters reads multiple holding registers
	ReadInputRegisters(slaveID uint8, startAddress, quantity uint16) ([]uint16, error)   // ReadInputRegisters reads multiple input registers
	WriteSingleRegister(slaveID uint8, address, value uint16) error                      // WriteSingleRegister writes a single register
	WriteMultipleRegisters(slaveID uint8, address, value uint16) error                   // WriteMultipleRegisters writes one register with function 0x10
	Close() error
}
