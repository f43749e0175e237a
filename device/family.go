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

import "strings"

// RegisterName is the logical name of a configuration register.
type RegisterName string

const (
	RegAddress      RegisterName = "address"
	RegBaudRate     RegisterName = "baud_rate"
	RegParity       RegisterName = "parity"
	RegReturnTime   RegisterName = "return_time"
	RegFactoryReset RegisterName = "factory_reset"
	RegAutoReport   RegisterName = "auto_report"
	RegProductID    RegisterName = "product_id"
)

// Family describes the register layout of one module model. Channel
// registers are contiguous: channel ch lives at base + ch - 1.
type Family struct {
	Name        string
	ProductID   uint16
	Channels    int
	VoltageBase uint16
	RatioBase   uint16
	Registers   map[RegisterName]uint16
	// BaudRates is indexed by the code stored in the baud rate register.
	BaudRates []int
	// BaudResetCode, when non-zero, is written to the baud rate register
	// to restore the default rate.
	BaudResetCode uint16
}

// AMVIF08 is the 8-channel analog input module.
var AMVIF08 = Family{
	Name:        "AMVIF08",
	ProductID:   2048,
	Channels:    8,
	VoltageBase: 0x00A0,
	RatioBase:   0x00C0,
	Registers: map[RegisterName]uint16{
		RegAutoReport:   0x00F6,
		RegProductID:    0x00F7,
		RegFactoryReset: 0x00FB,
		RegReturnTime:   0x00FC,
		RegAddress:      0x00FD,
		RegBaudRate:     0x00FE,
		RegParity:       0x00FF,
	},
	BaudRates: []int{1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200},
}

// R4AVA07 is the 7-channel analog input module.
var R4AVA07 = Family{
	Name:        "R4AVA07",
	Channels:    7,
	VoltageBase: 0x0000,
	RatioBase:   0x0007,
	Registers: map[RegisterName]uint16{
		RegAddress:  0x000E,
		RegBaudRate: 0x000F,
	},
	BaudRates:     []int{1200, 2400, 4800, 9600, 19200},
	BaudResetCode: 5,
}

// LookupFamily finds a family by name, ignoring case.
func LookupFamily(name string) (Family, bool) {
	for _, f := range []Family{AMVIF08, R4AVA07} {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return Family{}, false
}

// Register returns the address of a configuration register, if the family has it.
func (f Family) Register(name RegisterName) (uint16, bool) {
	reg, ok := f.Registers[name]
	return reg, ok
}

// BaudCode returns the register code for baud.
func (f Family) BaudCode(baud int) (uint16, bool) {
	for code, rate := range f.BaudRates {
		if rate == baud {
			return uint16(code), true
		}
	}
	return 0, false
}

// BaudRate returns the rate stored under code.
func (f Family) BaudRate(code uint16) (int, bool) {
	if int(code) >= len(f.BaudRates) {
		return 0, false
	}
	return f.BaudRates[code], true
}

// ValidChannels reports whether channels ch..ch+count-1 all exist.
func (f Family) ValidChannels(ch, count int) bool {
	return ch >= 1 && count >= 1 && ch+count-1 <= f.Channels
}
