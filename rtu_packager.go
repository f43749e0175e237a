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
	"encoding/binary"
	"fmt"
	"strings"
)

// Frame sizes used by the register subset these devices speak.
const (
	RequestFrameSize       = 8  // addr + func + reg(2) + value/count(2) + crc(2)
	WriteMultipleFrameSize = 11 // addr + func + reg(2) + qty(2) + byteCount + value(2) + crc(2)
	WriteResponseSize      = 8  // echo of addr + func + reg(2) + value/qty(2) + crc(2)
	ExceptionFrameSize     = 5  // addr + func|0x80 + code + crc(2)
	MinFrameSize           = 4
)

// RTUPackager builds request frames and checks response frames.
// It holds no state and is safe for concurrent use.
type RTUPackager struct{}

// NewRTUPackager creates a new RTU packager.
func NewRTUPackager() *RTUPackager {
	return &RTUPackager{}
}

// Pack creates the request frame for fn. For reads value is the register
// count; for writes it is the value to store. Function 0x10 always carries
// exactly one register.
func (p *RTUPackager) Pack(slaveID uint8, fn FunctionCode, address, value uint16) ([]byte, error) {
	if !ValidSlaveAddress(slaveID) {
		return nil, Validationf("pack", "invalid slave ID: %d (must be 1-247 or 255)", slaveID)
	}

	var frame []byte
	switch fn {
	case FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters:
		if value == 0 || value > MaxReadQuantity {
			return nil, Validationf("pack", "invalid quantity: %d (must be 1-%d)", value, MaxReadQuantity)
		}
		frame = make([]byte, 6, RequestFrameSize)
	case FuncCodeWriteSingleRegister:
		frame = make([]byte, 6, RequestFrameSize)
	case FuncCodeWriteMultipleRegisters:
		frame = make([]byte, 9, WriteMultipleFrameSize)
	default:
		return nil, Validationf("pack", "unsupported function code: %#02x", uint8(fn))
	}

	frame[0] = slaveID
	frame[1] = byte(fn)
	binary.BigEndian.PutUint16(frame[2:4], address)
	if fn == FuncCodeWriteMultipleRegisters {
		binary.BigEndian.PutUint16(frame[4:6], 1)
		frame[6] = 2
		binary.BigEndian.PutUint16(frame[7:9], value)
	} else {
		binary.BigEndian.PutUint16(frame[4:6], value)
	}
	return AppendCRC(frame), nil
}

// ExpectedResponseLen returns the size of a well-formed response to a
// request for fn addressed to slaveID.
func (p *RTUPackager) ExpectedResponseLen(slaveID uint8, fn FunctionCode, quantity uint16) int {
	if fn.IsWrite() {
		return WriteResponseSize
	}
	n := 2 * int(quantity)
	if slaveID == BroadcastAddress {
		return 1 + n + 2
	}
	return 3 + n + 2
}

// UnpackRead decodes the register values of a read response. Responses to
// a broadcast request start directly with the byte count; unicast responses
// first echo the slave address and function code.
func (p *RTUPackager) UnpackRead(slaveID uint8, fn FunctionCode, quantity uint16, frame []byte) ([]uint16, error) {
	// A broadcast reply of one register is as long as an exception frame.
	if slaveID != BroadcastAddress || len(frame) == 0 || int(frame[0]) != 2*int(quantity) {
		if err := p.checkException(fn, frame); err != nil {
			return nil, err
		}
	}

	expected := p.ExpectedResponseLen(slaveID, fn, quantity)
	if err := checkLength(frame, expected); err != nil {
		return nil, err
	}
	if !VerifyCRC(frame) {
		return nil, &Error{Kind: KindTransport, Err: fmt.Errorf("%w: % X", ErrCRCMismatch, frame)}
	}

	header := 1
	if slaveID != BroadcastAddress {
		header = 3
		if frame[0] != slaveID {
			return nil, &Error{Kind: KindProtocol, Err: fmt.Errorf("%w: response from slave %d, expected %d", ErrMalformedFrame, frame[0], slaveID)}
		}
		if FunctionCode(frame[1]) != fn {
			return nil, &Error{Kind: KindProtocol, Err: fmt.Errorf("%w: function code %#02x, expected %#02x", ErrMalformedFrame, frame[1], uint8(fn))}
		}
	}
	if byteCount := int(frame[header-1]); byteCount != 2*int(quantity) {
		return nil, &Error{Kind: KindTransport, Err: fmt.Errorf("%w: byte count %d, expected %d", ErrMalformedFrame, byteCount, 2*quantity)}
	}

	values := make([]uint16, quantity)
	data := frame[header : len(frame)-2]
	for i := range values {
		values[i] = binary.BigEndian.Uint16(data[2*i:])
	}
	return values, nil
}

// UnpackWrite verifies a write response against the request that caused it.
// The function code, the register and the written value (or quantity for
// 0x10) must all be echoed back. The address byte is not compared since a
// broadcast write is answered from the device's own address.
func (p *RTUPackager) UnpackWrite(request, response []byte) error {
	if len(request) < RequestFrameSize {
		return Validationf("unpack", "request too short: %d bytes", len(request))
	}
	fn := FunctionCode(request[1])
	if err := p.checkException(fn, response); err != nil {
		return err
	}
	if err := checkLength(response, WriteResponseSize); err != nil {
		return err
	}
	if !VerifyCRC(response) {
		return &Error{Kind: KindTransport, Err: fmt.Errorf("%w: % X", ErrCRCMismatch, response)}
	}
	for i := 1; i < 6; i++ {
		if request[i] != response[i] {
			return &Error{Kind: KindProtocol, Err: fmt.Errorf("%w: sent % X, got % X", ErrEchoMismatch, request[1:6], response[1:6])}
		}
	}
	return nil
}

// checkException recognises a well-formed exception frame for fn.
func (p *RTUPackager) checkException(fn FunctionCode, frame []byte) error {
	if len(frame) != ExceptionFrameSize || frame[1] != byte(fn)|exceptionBit || !VerifyCRC(frame) {
		return nil
	}
	code := frame[2]
	return &Error{Kind: KindProtocol, Err: fmt.Errorf("%w: slave %d, func %#02x, code %#02x (%s)",
		ErrException, frame[0], uint8(fn), code, getExceptionMessage(code))}
}

func checkLength(frame []byte, expected int) error {
	switch {
	case len(frame) == 0:
		return &Error{Kind: KindTransport, Err: ErrNoResponse}
	case len(frame) < expected:
		return &Error{Kind: KindTransport, Err: fmt.Errorf("%w: %d bytes (expected %d)", ErrShortFrame, len(frame), expected)}
	case len(frame) > expected:
		return &Error{Kind: KindTransport, Err: fmt.Errorf("%w: %d bytes (expected %d)", ErrMalformedFrame, len(frame), expected)}
	}
	return nil
}

// DumpFrame returns a readable description of frame for debug logs.
func (p *RTUPackager) DumpFrame(frame []byte) string {
	if len(frame) < MinFrameSize {
		return fmt.Sprintf("Invalid frame (too short): % X", frame)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Slave: %d, Func: %#02x, Data: % X, CRC: %02X%02X",
		frame[0], frame[1], frame[2:len(frame)-2], frame[len(frame)-2], frame[len(frame)-1])
	if !VerifyCRC(frame) {
		sb.WriteString(" (invalid)")
	}
	return sb.String()
}
