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
	"io"
	"os"
	"sync"
	"time"
)

// TimedReadWriteCloser interface for ports that support timeout operations
type TimedReadWriteCloser interface {
	io.ReadWriteCloser
	SetReadTimeout(timeout time.Duration) error
}

// deadlineReadWriteCloser is satisfied by net.Conn and *os.File.
type deadlineReadWriteCloser interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
}

// RTUConfig holds configuration parameters for RTU transporter
type RTUConfig struct {
	// SettleInterval is the wait between writing a request and reading
	// the response. Zero reads immediately.
	SettleInterval time.Duration
	// ReadTimeout bounds the single read once the settle interval is over.
	ReadTimeout time.Duration
	// DrainTimeout bounds the read that discards late bytes before each
	// request. Only ports with a read timeout are drained. Zero disables it.
	DrainTimeout time.Duration
	MaxFrameSize int
}

// DefaultRTUConfig returns default configuration
func DefaultRTUConfig() RTUConfig {
	return RTUConfig{
		SettleInterval: DefaultSettleInterval,
		ReadTimeout:    100 * time.Millisecond,
		DrainTimeout:   5 * time.Millisecond,
		MaxFrameSize:   256,
	}
}

// RTUTransporter runs the write, settle, read discipline over a byte stream.
type RTUTransporter struct {
	mu           sync.Mutex
	port         io.ReadWriteCloser
	settle       time.Duration
	readTimeout  time.Duration
	drainTimeout time.Duration
	maxFrameSize int
	closed       bool
}

// NewRTUTransporter creates a new RTUTransporter
func NewRTUTransporter(port io.ReadWriteCloser, config RTUConfig) *RTUTransporter {
	if config.MaxFrameSize <= 0 {
		config.MaxFrameSize = 256
	}
	if config.SettleInterval < 0 {
		config.SettleInterval = 0
	}
	return &RTUTransporter{
		port:         port,
		settle:       config.SettleInterval,
		readTimeout:  config.ReadTimeout,
		drainTimeout: config.DrainTimeout,
		maxFrameSize: config.MaxFrameSize,
	}
}

// SetSettleInterval updates the wait between request and response.
func (t *RTUTransporter) SetSettleInterval(d time.Duration) {
	if d < 0 {
		d = 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.settle = d
}

// SettleInterval returns the current wait between request and response.
func (t *RTUTransporter) SettleInterval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.settle
}

// Exchange implements Transporter. The lock is held for the whole
// exchange, so concurrent callers never interleave frames on the bus.
func (t *RTUTransporter) Exchange(request []byte) ([]byte, error) {
	if len(request) == 0 {
		return nil, Validationf("exchange", "cannot write empty data")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, &Error{Kind: KindTransport, Op: "exchange", Err: ErrPortClosed}
	}

	// A reply that arrived after the previous read gave up would otherwise
	// be taken as the answer to this request.
	if err := t.drain(); err != nil {
		return nil, &Error{Kind: KindTransport, Op: "exchange", Err: err}
	}

	for written := 0; written < len(request); {
		n, err := t.port.Write(request[written:])
		if err != nil {
			return nil, &Error{Kind: KindTransport, Op: "exchange", Err: fmt.Errorf("write failed after %d bytes: %w", written, err)}
		}
		written += n
	}

	if t.settle > 0 {
		time.Sleep(t.settle)
	}

	if err := t.armReadTimeout(t.readTimeout); err != nil {
		return nil, &Error{Kind: KindTransport, Op: "exchange", Err: err}
	}

	buf := make([]byte, t.maxFrameSize)
	n, err := t.port.Read(buf)
	if n == 0 {
		if err != nil && !isTimeout(err) {
			return nil, &Error{Kind: KindTransport, Op: "exchange", Err: fmt.Errorf("%w: %v", ErrNoResponse, err)}
		}
		return nil, &Error{Kind: KindTransport, Op: "exchange", Err: ErrNoResponse}
	}
	if n < MinFrameSize {
		return nil, &Error{Kind: KindTransport, Op: "exchange", Err: fmt.Errorf("%w: %d bytes (minimum %d)", ErrShortFrame, n, MinFrameSize)}
	}
	return buf[:n:n], nil
}

func (t *RTUTransporter) armReadTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return nil
	}
	switch port := t.port.(type) {
	case TimedReadWriteCloser:
		if err := port.SetReadTimeout(timeout); err != nil {
			return fmt.Errorf("failed to set read timeout: %w", err)
		}
	case deadlineReadWriteCloser:
		if err := port.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return fmt.Errorf("failed to set read deadline: %w", err)
		}
	}
	return nil
}

// canTimeout reports whether a read on the port can be bounded.
func (t *RTUTransporter) canTimeout() bool {
	switch t.port.(type) {
	case TimedReadWriteCloser, deadlineReadWriteCloser:
		return true
	}
	return false
}

// drain discards whatever is already waiting on the port. It needs a
// positive ReadTimeout so the response read gets its own timeout back.
func (t *RTUTransporter) drain() error {
	if t.drainTimeout <= 0 || t.readTimeout <= 0 || !t.canTimeout() {
		return nil
	}
	buf := make([]byte, t.maxFrameSize)
	for discarded := 0; discarded < 4*t.maxFrameSize; {
		if err := t.armReadTimeout(t.drainTimeout); err != nil {
			return err
		}
		n, err := t.port.Read(buf)
		discarded += n
		if n == 0 || err != nil {
			return nil
		}
	}
	return nil
}

// isTimeout reports whether err only says that nothing arrived in time.
func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, io.EOF) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// Close closes the underlying port. Further exchanges fail.
func (t *RTUTransporter) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.port.Close()
}
