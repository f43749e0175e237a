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
	"io"
	"strings"

	serial "github.com/hootrhino/goserial"

	modbus "github.com/hootrhino/analogbus"
)

const tcpScheme = "tcp://"

// Connect opens port and discovers the device attached to it. port is
// either a serial device path such as /dev/ttyUSB0 or tcp://host:port for
// a transparent serial server.
func Connect(port string, family Family, opts ...Option) (*Driver, error) {
	o := resolveOptions(opts)
	cfg := rtuConfig(o)

	if strings.HasPrefix(port, tcpScheme) {
		tr, err := modbus.DialRTUOverTCP(strings.TrimPrefix(port, tcpScheme), o.dialTimeout, cfg)
		if err != nil {
			return nil, err
		}
		return discover(family, modbus.NewModbusHandler(tr), opts)
	}

	p, err := serial.Open(&serial.Config{
		Address:  port,
		BaudRate: o.baudRate,
		DataBits: 8,
		StopBits: 1,
		Parity:   string(o.parity),
		Timeout:  o.readTimeout,
	})
	if err != nil {
		return nil, &modbus.Error{Kind: modbus.KindTransport, Op: "connect", Err: fmt.Errorf("open %s: %w", port, err)}
	}
	return Open(p, family, opts...)
}

// Open discovers the device behind an already opened byte stream.
func Open(port io.ReadWriteCloser, family Family, opts ...Option) (*Driver, error) {
	cfg := rtuConfig(resolveOptions(opts))
	return discover(family, modbus.NewModbusRTUHandler(port, cfg), opts)
}

func rtuConfig(o options) modbus.RTUConfig {
	cfg := modbus.DefaultRTUConfig()
	cfg.ReadTimeout = o.readTimeout
	if o.fixedSettle {
		cfg.SettleInterval = o.settle
	}
	return cfg
}

func discover(family Family, api modbus.RegisterApi, opts []Option) (*Driver, error) {
	d := New(family, api, opts...)
	if err := d.Discover(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}
