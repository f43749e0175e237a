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
	"fmt"
	"net"
	"time"
)

// DialRTUOverTCP connects to a transparent serial server and returns a
// transporter that sends RTU frames over the TCP stream unchanged.
func DialRTUOverTCP(address string, dialTimeout time.Duration, config RTUConfig) (*RTUTransporter, error) {
	conn, err := net.DialTimeout("tcp", address, dialTimeout)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Op: "dial", Err: fmt.Errorf("failed to connect to %s: %w", address, err)}
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	}
	return NewRTUTransporter(conn, config), nil
}

// NewRtuOverTCPHandler creates a handler on an established connection to
// a serial server.
func NewRtuOverTCPHandler(conn net.Conn, config RTUConfig) *ModbusHandler {
	return NewModbusHandler(NewRTUTransporter(conn, config))
}
