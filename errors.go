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
	"errors"
	"fmt"
)

// Kind classifies a failure by where it was detected.
type Kind uint8

const (
	// KindTransport covers unopenable ports, missing and garbled responses.
	KindTransport Kind = iota + 1
	// KindProtocol covers answers that arrived intact but say the wrong thing.
	KindProtocol
	// KindValidation covers arguments rejected before anything is sent.
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

var (
	ErrNoResponse     = errors.New("no response")
	ErrShortFrame     = errors.New("short frame")
	ErrCRCMismatch    = errors.New("CRC mismatch")
	ErrMalformedFrame = errors.New("malformed frame")
	ErrPortClosed     = errors.New("port closed")

	ErrEchoMismatch   = errors.New("write echo mismatch")
	ErrException      = errors.New("exception response")
	ErrDeviceNotFound = errors.New("no device found")
	ErrNotConnected   = errors.New("device address not resolved")

	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnsupported     = errors.New("not supported by device")
)

// Error is the error type returned by every operation of this module.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("modbus: %s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("modbus: %s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with the given kind and operation name. An err that
// already carries a Kind keeps it; only the operation name is replaced.
func NewError(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var me *Error
	if errors.As(err, &me) {
		return &Error{Kind: me.Kind, Op: op, Err: me.Err}
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validationf builds a validation failure for op.
func Validationf(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Err: fmt.Errorf("%w: "+format, append([]any{ErrInvalidArgument}, args...)...)}
}

// KindOf returns the Kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return 0
}

func IsTransport(err error) bool  { return KindOf(err) == KindTransport }
func IsProtocol(err error) bool   { return KindOf(err) == KindProtocol }
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// getExceptionMessage returns a human-readable message for a Modbus exception code.
func getExceptionMessage(exceptionCode uint8) string {
	switch exceptionCode {
	case 0x01:
		return "Illegal function"
	case 0x02:
		return "Illegal data address"
	case 0x03:
		return "Illegal data value"
	case 0x04:
		return "Slave device failure"
	case 0x06:
		return "Slave device busy"
	default:
		return "Unknown exception code"
	}
}
