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
	"io"
	"time"

	"github.com/rs/zerolog"
)

// ModbusHandler implements RegisterApi on top of a Transporter.
type ModbusHandler struct {
	logger      zerolog.Logger
	transporter Transporter
	packager    *RTUPackager
}

var _ RegisterApi = (*ModbusHandler)(nil)

// NewModbusHandler creates a handler that exchanges frames through t.
func NewModbusHandler(t Transporter) *ModbusHandler {
	return &ModbusHandler{
		logger:      zerolog.Nop(),
		transporter: t,
		packager:    NewRTUPackager(),
	}
}

// NewModbusRTUHandler creates a handler on an already opened serial port.
func NewModbusRTUHandler(port io.ReadWriteCloser, config RTUConfig) *ModbusHandler {
	return NewModbusHandler(NewRTUTransporter(port, config))
}

func (h *ModbusHandler) SetLogger(logger zerolog.Logger) {
	h.logger = logger
}

func (h *ModbusHandler) SetSettleInterval(d time.Duration) {
	h.transporter.SetSettleInterval(d)
}

func (h *ModbusHandler) SettleInterval() time.Duration {
	return h.transporter.SettleInterval()
}

func (h *ModbusHandler) ReadHoldingRegisters(slaveID uint8, startAddress, quantity uint16) ([]uint16, error) {
	return h.readRegisters(FuncCodeReadHoldingRegisters, slaveID, startAddress, quantity)
}

func (h *ModbusHandler) ReadInputRegisters(slaveID uint8, startAddress, quantity uint16) ([]uint16, error) {
	return h.readRegisters(FuncCodeReadInputRegisters, slaveID, startAddress, quantity)
}

// WriteSingleRegister writes value and fails unless the device echoes it.
func (h *ModbusHandler) WriteSingleRegister(slaveID uint8, address, value uint16) error {
	return h.writeRegister(FuncCodeWriteSingleRegister, slaveID, address, value)
}

// WriteMultipleRegisters writes one register with function 0x10.
func (h *ModbusHandler) WriteMultipleRegisters(slaveID uint8, address, value uint16) error {
	return h.writeRegister(FuncCodeWriteMultipleRegisters, slaveID, address, value)
}

func (h *ModbusHandler) Close() error {
	return h.transporter.Close()
}

// readRegisters sends one read request and decodes the register values.
func (h *ModbusHandler) readRegisters(fn FunctionCode, slaveID uint8, startAddress, quantity uint16) ([]uint16, error) {
	op := fn.String()
	request, err := h.packager.Pack(slaveID, fn, startAddress, quantity)
	if err != nil {
		return nil, NewError(KindValidation, op, err)
	}

	response, err := h.exchange(slaveID, fn, request)
	if err != nil {
		return nil, NewError(KindTransport, op, err)
	}

	values, err := h.packager.UnpackRead(slaveID, fn, quantity, response)
	if err != nil {
		h.logger.Debug().Err(err).Uint8("slave", slaveID).Msg("modbus rtu: rejected read response")
		return nil, NewError(KindTransport, op, err)
	}
	return values, nil
}

func (h *ModbusHandler) writeRegister(fn FunctionCode, slaveID uint8, address, value uint16) error {
	op := fn.String()
	request, err := h.packager.Pack(slaveID, fn, address, value)
	if err != nil {
		return NewError(KindValidation, op, err)
	}

	response, err := h.exchange(slaveID, fn, request)
	if err != nil {
		return NewError(KindTransport, op, err)
	}

	if err := h.packager.UnpackWrite(request, response); err != nil {
		h.logger.Debug().Err(err).Uint8("slave", slaveID).Msg("modbus rtu: rejected write response")
		return NewError(KindProtocol, op, err)
	}
	return nil
}

func (h *ModbusHandler) exchange(slaveID uint8, fn FunctionCode, request []byte) ([]byte, error) {
	h.logger.Debug().Msgf("modbus rtu: Sending request to slave %d, func %02X, frame: % X", slaveID, uint8(fn), request)
	response, err := h.transporter.Exchange(request)
	if err != nil {
		h.logger.Debug().Err(err).Msgf("modbus rtu: No valid response from slave %d, func %02X", slaveID, uint8(fn))
		return nil, err
	}
	h.logger.Debug().Msgf("modbus rtu: Received response from slave %d: %s", slaveID, h.packager.DumpFrame(response))
	return response, nil
}
