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

package device_test

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	modbus "github.com/hootrhino/analogbus"
	"github.com/hootrhino/analogbus/device"
	"github.com/hootrhino/analogbus/internal/simulator"
)

func openSim(t *testing.T, family device.Family, address uint8) (*device.Driver, *simulator.Device) {
	t.Helper()
	sim := simulator.New(family, address)
	d, err := device.Open(sim, family, device.WithSettleInterval(0))
	require.NoError(t, err)
	sim.ResetRequests()
	return d, sim
}

func TestDiscoverAMVIF08(t *testing.T) {
	sim := simulator.New(device.AMVIF08, 5)
	sim.SetRegister(0x00FE, 4)  // 19200
	sim.SetRegister(0x00FF, 1)  // even
	sim.SetRegister(0x00FC, 10) // 400 ms

	d, err := device.Open(sim, device.AMVIF08, device.WithSettleInterval(0))
	require.NoError(t, err)
	defer d.Close()

	assert.Equal(t, uint8(5), d.Address())
	assert.Equal(t, 19200, d.BaudRate())
	assert.Equal(t, device.ParityEven, d.Parity())
	assert.Equal(t, 400, d.ReturnTime())
	assert.Equal(t, uint16(2048), d.ProductID())
	assert.Equal(t, "AMVIF08", d.Name())

	requests := sim.Requests()
	require.Len(t, requests, 4)
	assert.Equal(t, []byte{0xFF, 0x03, 0x00, 0xFD, 0x00, 0x01, 0x00, 0x24}, requests[0])
	for _, r := range requests[1:] {
		assert.Equal(t, byte(5), r[0], "follow-up reads must be unicast")
	}
}

func TestDiscoverNoDevice(t *testing.T) {
	sim := simulator.New(device.AMVIF08, 0)
	api := modbus.NewModbusRTUHandler(sim, modbus.RTUConfig{})
	d := device.New(device.AMVIF08, api, device.WithSettleInterval(0))

	err := d.Discover()
	require.ErrorIs(t, err, modbus.ErrDeviceNotFound)
	assert.True(t, modbus.IsProtocol(err))
	assert.Equal(t, uint8(0), d.Address())

	_, err = d.ReadVoltage(1, 1)
	require.ErrorIs(t, err, modbus.ErrNotConnected)
	require.ErrorIs(t, d.SetBaudRate(9600), modbus.ErrNotConnected)

	requests := sim.Requests()
	require.Len(t, requests, 1, "nothing may follow a failed discovery")
	assert.Equal(t, modbus.BroadcastAddress, requests[0][0])
}

func TestOpenNoDevice(t *testing.T) {
	sim := simulator.New(device.R4AVA07, 0)
	_, err := device.Open(sim, device.R4AVA07, device.WithSettleInterval(0))
	require.ErrorIs(t, err, modbus.ErrDeviceNotFound)
	assert.Len(t, sim.Requests(), 1)
}

func TestDiscoverSilentBus(t *testing.T) {
	sim := simulator.New(device.AMVIF08, 5)
	sim.Silent = true
	_, err := device.Open(sim, device.AMVIF08, device.WithSettleInterval(0))
	require.ErrorIs(t, err, modbus.ErrNoResponse)
	assert.True(t, modbus.IsTransport(err))
}

func TestReadVoltageAndRatio(t *testing.T) {
	d, sim := openSim(t, device.AMVIF08, 5)
	for ch := 1; ch <= 8; ch++ {
		sim.SetVoltage(ch, float64(ch)+0.25)
	}
	sim.SetRegister(0x00A0, 250)
	sim.SetRegister(0x00C2, 250)

	volts, err := d.ReadVoltage(1, 8)
	require.NoError(t, err)
	require.Len(t, volts, 8)
	assert.InDelta(t, 2.50, volts[0], 1e-9)
	for ch := 2; ch <= 8; ch++ {
		assert.InDelta(t, float64(ch)+0.25, volts[ch-1], 1e-9)
	}

	ratios, err := d.ReadRatio(3, 2)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.250, 1.0}, ratios, 1e-9)

	requests := sim.Requests()
	require.Len(t, requests, 2)
	assert.Equal(t, []byte{0x05, 0x03, 0x00, 0xA0, 0x00, 0x08}, requests[0][:6])
	assert.Equal(t, []byte{0x05, 0x03, 0x00, 0xC2, 0x00, 0x02}, requests[1][:6])
}

func TestChannelRangeIsCheckedBeforeSending(t *testing.T) {
	testCases := []struct {
		family device.Family
		ch     int
		count  int
	}{
		{device.AMVIF08, 8, 2},
		{device.AMVIF08, 0, 1},
		{device.AMVIF08, 1, 0},
		{device.AMVIF08, 1, 9},
		{device.AMVIF08, -1, 3},
		{device.R4AVA07, 7, 2},
		{device.R4AVA07, 8, 1},
	}

	for _, tc := range testCases {
		d, sim := openSim(t, tc.family, 3)
		volts, err := d.ReadVoltage(tc.ch, tc.count)
		assert.Empty(t, volts)
		assert.True(t, modbus.IsValidation(err), "%s ReadVoltage(%d, %d): %v", tc.family.Name, tc.ch, tc.count, err)
		_, err = d.ReadRatio(tc.ch, tc.count)
		assert.True(t, modbus.IsValidation(err))
		assert.Empty(t, sim.Requests(), "%s ReadVoltage(%d, %d) reached the bus", tc.family.Name, tc.ch, tc.count)
	}
}

func TestSetBaudRate(t *testing.T) {
	d, sim := openSim(t, device.AMVIF08, 5)
	for code, baud := range device.AMVIF08.BaudRates {
		require.NoError(t, d.SetBaudRate(baud))
		assert.Equal(t, baud, d.BaudRate())
		assert.Equal(t, uint16(code), sim.Register(0x00FE))
	}

	require.NoError(t, d.SetBaudRate(9600))
	sim.ResetRequests()
	for _, baud := range []int{300, 0, 14400, 230400} {
		err := d.SetBaudRate(baud)
		assert.True(t, modbus.IsValidation(err), "baud %d: %v", baud, err)
		assert.Equal(t, 9600, d.BaudRate())
	}
	assert.Empty(t, sim.Requests())

	r, _ := openSim(t, device.R4AVA07, 2)
	assert.True(t, modbus.IsValidation(r.SetBaudRate(38400)))
	require.NoError(t, r.SetBaudRate(4800))
	assert.Equal(t, 4800, r.BaudRate())
}

func TestSetAddress(t *testing.T) {
	d, sim := openSim(t, device.AMVIF08, 5)

	require.NoError(t, d.SetAddress(12))
	assert.Equal(t, uint8(12), d.Address())
	assert.Equal(t, uint8(12), sim.Address())

	_, err := d.ReadVoltage(1, 1)
	require.NoError(t, err)
	requests := sim.Requests()
	assert.Equal(t, byte(12), requests[len(requests)-1][0])

	sim.ResetRequests()
	for _, addr := range []int{0, 248, 255, -3} {
		assert.True(t, modbus.IsValidation(d.SetAddress(addr)), "address %d", addr)
	}
	assert.Empty(t, sim.Requests())
	assert.Equal(t, uint8(12), d.Address())
}

func TestFailedWriteKeepsState(t *testing.T) {
	d, sim := openSim(t, device.AMVIF08, 5)
	sim.CorruptEcho = true

	err := d.SetBaudRate(19200)
	require.ErrorIs(t, err, modbus.ErrEchoMismatch)
	assert.True(t, modbus.IsProtocol(err))
	assert.Equal(t, 9600, d.BaudRate())

	require.ErrorIs(t, d.SetReturnTime(200), modbus.ErrEchoMismatch)
	assert.Equal(t, 1000, d.ReturnTime())

	require.ErrorIs(t, d.SetAddress(9), modbus.ErrEchoMismatch)
	assert.Equal(t, uint8(5), d.Address())

	sim.CorruptEcho = false
	sim.Silent = true
	require.ErrorIs(t, d.SetParity(device.ParityOdd), modbus.ErrNoResponse)
	assert.Equal(t, device.ParityNone, d.Parity())
}

func TestSetReturnTime(t *testing.T) {
	d, sim := openSim(t, device.AMVIF08, 5)

	require.NoError(t, d.SetReturnTime(400))
	assert.Equal(t, uint16(10), sim.Register(0x00FC))
	assert.Equal(t, 400, d.ReturnTime())

	require.NoError(t, d.SetReturnTime(1000))
	assert.Equal(t, uint16(25), sim.Register(0x00FC))

	require.NoError(t, d.SetReturnTime(0))
	assert.Equal(t, uint16(0), sim.Register(0x00FC))

	for _, ms := range []int{-1, 1001, 5000} {
		assert.True(t, modbus.IsValidation(d.SetReturnTime(ms)), "return time %d", ms)
	}

	r, _ := openSim(t, device.R4AVA07, 2)
	require.ErrorIs(t, r.SetReturnTime(200), modbus.ErrUnsupported)
}

func TestSetReturnTimeRoundsToDeviceSteps(t *testing.T) {
	d, sim := openSim(t, device.AMVIF08, 5)

	require.NoError(t, d.SetReturnTime(79))
	assert.Equal(t, uint16(1), sim.Register(0x00FC))
	assert.Equal(t, 40, d.ReturnTime())

	require.NoError(t, d.Discover())
	assert.Equal(t, 40, d.ReturnTime())

	require.NoError(t, d.SetReturnTime(39))
	assert.Equal(t, 0, d.ReturnTime())
}

func TestSetVoltageRatio(t *testing.T) {
	d, sim := openSim(t, device.AMVIF08, 5)

	require.NoError(t, d.SetVoltageRatio(3, 0.5))
	assert.Equal(t, uint16(500), sim.Register(0x00C2))
	require.NoError(t, d.SetVoltageRatio(8, 1.0))
	assert.Equal(t, uint16(1000), sim.Register(0x00C7))
	require.NoError(t, d.SetVoltageRatio(1, 0))
	assert.Equal(t, uint16(0), sim.Register(0x00C0))

	sim.ResetRequests()
	assert.True(t, modbus.IsValidation(d.SetVoltageRatio(1, 1.5)))
	assert.True(t, modbus.IsValidation(d.SetVoltageRatio(1, -0.1)))
	assert.True(t, modbus.IsValidation(d.SetVoltageRatio(1, math.NaN())))
	assert.True(t, modbus.IsValidation(d.SetVoltageRatio(9, 0.5)))
	assert.Empty(t, sim.Requests())

	r, rsim := openSim(t, device.R4AVA07, 2)
	require.NoError(t, r.SetVoltageRatio(1, 0.25))
	assert.Equal(t, uint16(250), rsim.Register(0x0007))
}

func TestSetParity(t *testing.T) {
	d, sim := openSim(t, device.AMVIF08, 5)

	require.NoError(t, d.SetParity(device.ParityOdd))
	assert.Equal(t, uint16(2), sim.Register(0x00FF))
	assert.Equal(t, device.ParityOdd, d.Parity())

	assert.True(t, modbus.IsValidation(d.SetParity(device.Parity('X'))))

	r, _ := openSim(t, device.R4AVA07, 2)
	err := r.SetParity(device.ParityEven)
	require.ErrorIs(t, err, modbus.ErrUnsupported)
	assert.True(t, modbus.IsValidation(err))
}

func TestFactoryReset(t *testing.T) {
	d, sim := openSim(t, device.AMVIF08, 5)
	require.NoError(t, d.SetBaudRate(115200))
	require.NoError(t, d.SetParity(device.ParityEven))
	require.NoError(t, d.SetReturnTime(200))
	sim.ResetRequests()

	require.NoError(t, d.FactoryReset())
	requests := sim.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, []byte{0xFF, 0x06, 0x00, 0xFB, 0x00, 0x00, 0xED, 0xE5}, requests[0])

	assert.Equal(t, uint8(0), d.Address())
	assert.Equal(t, 9600, d.BaudRate())
	assert.Equal(t, device.ParityNone, d.Parity())
	assert.Equal(t, 1000, d.ReturnTime())

	_, err := d.ReadVoltage(1, 1)
	require.ErrorIs(t, err, modbus.ErrNotConnected)

	require.NoError(t, d.Discover())
	assert.Equal(t, uint8(1), d.Address())

	r, _ := openSim(t, device.R4AVA07, 2)
	require.ErrorIs(t, r.FactoryReset(), modbus.ErrUnsupported)
}

func TestR4AVA07RegisterMap(t *testing.T) {
	sim := simulator.New(device.R4AVA07, 7)
	sim.SetRegister(0x000F, 4)
	d, err := device.Open(sim, device.R4AVA07, device.WithSettleInterval(0))
	require.NoError(t, err)

	requests := sim.Requests()
	require.Len(t, requests, 2)
	assert.Equal(t, []byte{0xFF, 0x03, 0x00, 0x0E, 0x00, 0x01}, requests[0][:6])
	assert.Equal(t, []byte{0x07, 0x03, 0x00, 0x0F, 0x00, 0x01}, requests[1][:6])
	assert.Equal(t, 19200, d.BaudRate())

	sim.ResetRequests()
	sim.SetVoltage(7, 4.2)
	volts, err := d.ReadVoltage(1, 7)
	require.NoError(t, err)
	assert.InDelta(t, 4.2, volts[6], 1e-9)
	_, err = d.ReadRatio(3, 1)
	require.NoError(t, err)

	requests = sim.Requests()
	assert.Equal(t, []byte{0x07, 0x03, 0x00, 0x00, 0x00, 0x07}, requests[0][:6])
	assert.Equal(t, []byte{0x07, 0x03, 0x00, 0x09, 0x00, 0x01}, requests[1][:6])

	require.NoError(t, d.ResetBaudRate())
	assert.Equal(t, uint16(5), sim.Register(0x000F))
	assert.Equal(t, 9600, d.BaudRate())

	a, _ := openSim(t, device.AMVIF08, 1)
	require.ErrorIs(t, a.ResetBaudRate(), modbus.ErrUnsupported)
}

// fakeAPI serves registers from a map without any framing.
type fakeAPI struct {
	regs      map[uint16]uint16
	failReads map[uint16]error
	settle    time.Duration
	writes    int
}

func (f *fakeAPI) SetLogger(zerolog.Logger)          {}
func (f *fakeAPI) SetSettleInterval(d time.Duration) { f.settle = d }
func (f *fakeAPI) SettleInterval() time.Duration     { return f.settle }
func (f *fakeAPI) Close() error                      { return nil }

func (f *fakeAPI) ReadHoldingRegisters(slaveID uint8, start, quantity uint16) ([]uint16, error) {
	if err := f.failReads[start]; err != nil {
		return nil, err
	}
	out := make([]uint16, quantity)
	for i := range out {
		out[i] = f.regs[start+uint16(i)]
	}
	return out, nil
}

func (f *fakeAPI) ReadInputRegisters(slaveID uint8, start, quantity uint16) ([]uint16, error) {
	return f.ReadHoldingRegisters(slaveID, start, quantity)
}

func (f *fakeAPI) WriteSingleRegister(slaveID uint8, address, value uint16) error {
	f.writes++
	f.regs[address] = value
	return nil
}

func (f *fakeAPI) WriteMultipleRegisters(slaveID uint8, address, value uint16) error {
	return f.WriteSingleRegister(slaveID, address, value)
}

func TestSettleIntervalFollowsReturnTime(t *testing.T) {
	api := &fakeAPI{settle: modbus.DefaultSettleInterval, regs: map[uint16]uint16{
		0x00FD: 3, 0x00FE: 3, 0x00FF: 0, 0x00FC: 5,
	}}
	d := device.New(device.AMVIF08, api)
	require.NoError(t, d.Discover())
	assert.Equal(t, 200*time.Millisecond+device.SettleGuard, api.settle)

	require.NoError(t, d.SetReturnTime(0))
	assert.Equal(t, device.SettleGuard, api.settle)

	require.NoError(t, d.FactoryReset())
	assert.Equal(t, modbus.DefaultSettleInterval, api.settle)
}

func TestFixedSettleInterval(t *testing.T) {
	api := &fakeAPI{regs: map[uint16]uint16{0x00FD: 3, 0x00FC: 5}}
	d := device.New(device.AMVIF08, api, device.WithSettleInterval(2*time.Second))
	assert.Equal(t, 2*time.Second, api.settle)
	require.NoError(t, d.Discover())
	require.NoError(t, d.SetReturnTime(80))
	assert.Equal(t, 2*time.Second, api.settle)
}

func TestSettleIntervalWithoutReturnTimeRegister(t *testing.T) {
	api := &fakeAPI{settle: modbus.DefaultSettleInterval, regs: map[uint16]uint16{0x000E: 4, 0x000F: 3}}
	d := device.New(device.R4AVA07, api)
	require.NoError(t, d.Discover())
	assert.Equal(t, modbus.DefaultSettleInterval, api.settle)
	assert.Equal(t, 9600, d.BaudRate())
}

func TestDiscoverFailureCommitsNothing(t *testing.T) {
	api := &fakeAPI{
		settle: modbus.DefaultSettleInterval,
		regs:   map[uint16]uint16{0x00FD: 3, 0x00FE: 4, 0x00FF: 1, 0x00FC: 5},
		failReads: map[uint16]error{
			0x00FC: &modbus.Error{Kind: modbus.KindTransport, Err: modbus.ErrNoResponse},
		},
	}
	d := device.New(device.AMVIF08, api)

	err := d.Discover()
	require.ErrorIs(t, err, modbus.ErrNoResponse)
	assert.Equal(t, uint8(0), d.Address())
	assert.Equal(t, 9600, d.BaudRate())
	assert.Equal(t, device.ParityNone, d.Parity())
	assert.Equal(t, 1000, d.ReturnTime())
	assert.Equal(t, modbus.DefaultSettleInterval, api.settle)

	_, err = d.ReadVoltage(1, 1)
	require.ErrorIs(t, err, modbus.ErrNotConnected)

	api.failReads = nil
	require.NoError(t, d.Discover())
	assert.Equal(t, uint8(3), d.Address())
	assert.Equal(t, 19200, d.BaudRate())
	assert.Equal(t, device.ParityEven, d.Parity())
	assert.Equal(t, 200, d.ReturnTime())
}

func TestDiscoverRejectsOutOfRangeAddress(t *testing.T) {
	api := &fakeAPI{regs: map[uint16]uint16{0x00FD: 300}}
	d := device.New(device.AMVIF08, api)
	err := d.Discover()
	assert.True(t, modbus.IsProtocol(err))
	assert.Equal(t, uint8(0), d.Address())
}
