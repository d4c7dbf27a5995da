// Package transport names the byte-plumbing collaborator the Protocol FSM
// depends on. Concrete transports (serialport, mqtt, replay) live in
// sibling packages; this package only fixes the contract. See spec §5, §6.
package transport

import "context"

// Transport is a line-oriented, half-duplex byte stream: exactly one
// ReadFrame call and one WriteFrame call may be outstanding at a time, and
// it is owned exclusively by the Protocol FSM's outbound task -- no other
// component writes bytes. A serial adapter or an MQTT gateway is expected
// to echo every written line back on the read stream within T_echo.
type Transport interface {
	// ReadFrame blocks until the next wire line is available, ctx is
	// cancelled, or the transport faults.
	ReadFrame(ctx context.Context) (string, error)
	// WriteFrame writes a single wire line.
	WriteFrame(ctx context.Context, line string) error
	// Close releases the underlying resource. ReadFrame callers blocked
	// in it must return promptly with an error.
	Close() error
}
