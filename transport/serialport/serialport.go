// Package serialport implements a transport.Transport over a USB/serial
// RAMSES radio (evofw3-class firmware), built on github.com/daedaluz/
// goserial's raw termios port. See spec §6.
package serialport

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"sync"

	serial "github.com/daedaluz/goserial"
)

// Transport reads and writes wire lines over a raw-mode serial port. Every
// written line is also expected to come back on the read side within
// T_echo, per the Protocol FSM's half-duplex assumption -- the evofw3
// firmware itself provides that loopback, this transport only has to
// relay it.
type Transport struct {
	port    *serial.Port
	scanner *bufio.Scanner

	mu     sync.Mutex
	closed bool
}

// Open opens name (e.g. "/dev/ttyUSB0") at the fixed 115200 8N1 RAMSES rate
// and puts it into raw mode: no canonical processing, no echo, no signal
// generation, so every byte the radio sends reaches ReadFrame unmodified.
func Open(name string) (*Transport, error) {
	port, err := serial.Open(name, serial.NewOptions())
	if err != nil {
		return nil, fmt.Errorf("serialport: open %s: %w", name, err)
	}
	if err := port.MakeRaw(); err != nil {
		port.Close()
		return nil, fmt.Errorf("serialport: raw mode: %w", err)
	}
	attrs, err := port.GetAttr()
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("serialport: get attrs: %w", err)
	}
	attrs.SetSpeed(serial.B115200)
	if err := port.SetAttr(serial.TCSANOW, attrs); err != nil {
		port.Close()
		return nil, fmt.Errorf("serialport: set baud: %w", err)
	}
	return &Transport{port: port, scanner: bufio.NewScanner(port)}, nil
}

// ReadFrame returns the next wire-grammar line, silently skipping comment
// lines ("#...") and evofw3 out-of-band status lines, per spec §6.
func (t *Transport) ReadFrame(ctx context.Context) (string, error) {
	for {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !t.scanner.Scan() {
			if err := t.scanner.Err(); err != nil {
				return "", fmt.Errorf("serialport: read: %w", err)
			}
			return "", fmt.Errorf("serialport: port closed")
		}
		line := strings.TrimRight(t.scanner.Text(), "\r")
		if line == "" || isIgnorable(line) {
			continue
		}
		return line, nil
	}
}

// isIgnorable reports whether line is a comment or an evofw3 diagnostic
// line rather than a RAMSES frame.
func isIgnorable(line string) bool {
	return strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") || strings.HasPrefix(line, "*")
}

// WriteFrame writes line, CRLF-terminated as evofw3 firmware expects.
func (t *Transport) WriteFrame(ctx context.Context, line string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("serialport: write on closed port")
	}
	_, err := t.port.Write([]byte(line + "\r\n"))
	if err != nil {
		return fmt.Errorf("serialport: write: %w", err)
	}
	return nil
}

// Close releases the underlying file descriptor. A ReadFrame call blocked
// in the kernel read will return with an error once the fd is closed.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.port.Close()
}
