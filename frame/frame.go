// Package frame implements the line-oriented textual RAMSES II frame
// grammar: parsing, checksum verification, and serialization. See spec §4.2.
package frame

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ramses-rf/ramses-go/address"
	"github.com/ramses-rf/ramses-go/ramseserr"
)

// timestampLayout is ISO-8601 to microsecond resolution.
const timestampLayout = "2006-01-02T15:04:05.000000"

// Verb is one of I, RQ, RP, W. See spec §3.
type Verb string

const (
	I  Verb = "I"
	RQ Verb = "RQ"
	RP Verb = "RP"
	W  Verb = "W"
)

// padded returns the 2-char wire encoding of v, or an error if v isn't one
// of the four known verbs.
func (v Verb) padded() (string, error) {
	switch v {
	case I:
		return " I", nil
	case RQ:
		return "RQ", nil
	case RP:
		return "RP", nil
	case W:
		return " W", nil
	default:
		return "", ramseserr.WithField(ramseserr.Malformed, "verb", fmt.Errorf("unknown verb %q", string(v)))
	}
}

func unpadVerb(s string) (Verb, error) {
	switch s {
	case " I":
		return I, nil
	case "RQ":
		return RQ, nil
	case "RP":
		return RP, nil
	case " W":
		return W, nil
	default:
		return "", ramseserr.WithField(ramseserr.Malformed, "verb", fmt.Errorf("unknown verb field %q", s))
	}
}

// Frame is a decoded RAMSES line: timestamp, optional RSSI, verb, the three
// address slots, the 4-hex code, the declared length, the raw payload
// bytes, and an optional verified checksum byte.
type Frame struct {
	Timestamp time.Time
	RSSI      *int // nil when the wire field was "..."
	Verb      Verb
	Src       address.Address
	Dst       address.Address
	Announce  address.Address
	Code      string // 4 hex chars, uppercase
	Length    int
	Payload   []byte
	Checksum  *byte // nil when absent on the wire
}

// coreBytes is the checksummed portion of the wire line: verb|src|dst|
// announce|code|len|payload, exactly as emitted (before the optional
// trailing "*HH"). The checksum is the complement-to-zero mod 256 of these
// bytes, per spec §4.2.
func coreBytes(verbField, src, dst, announce, code string, length int, payloadHex string) []byte {
	core := fmt.Sprintf("%s --- %s %s %s %s %03d %s", verbField, src, dst, announce, code, length, payloadHex)
	return []byte(core)
}

func computeChecksum(core []byte) byte {
	var sum byte
	for _, b := range core {
		sum += b
	}
	return byte(256 - int(sum)%256) // complement-to-zero mod 256
}

// Decode parses a single wire line into a Frame. Fails with ramseserr.Kind
// Malformed on structural violations, Length when the declared length
// doesn't match the payload, and Checksum when a trailing checksum is
// present but doesn't verify.
func Decode(line string) (*Frame, error) {
	fields := strings.Fields(line)
	if len(fields) < 7 {
		return nil, ramseserr.WithField(ramseserr.Malformed, "line", fmt.Errorf("too few fields: %q", line))
	}

	idx := 0
	ts, err := time.Parse(timestampLayout, fields[idx])
	if err != nil {
		return nil, ramseserr.WithField(ramseserr.Malformed, "timestamp", err)
	}
	idx++

	// The rssi field is always present on the wire (digits or "..."); it is
	// never elided. strings.Fields already split it off as its own token.
	var rssi *int
	rssiField := fields[idx]
	idx++
	if rssiField != "..." {
		n, err := strconv.Atoi(rssiField)
		if err != nil || len(rssiField) != 3 {
			return nil, ramseserr.WithField(ramseserr.Malformed, "rssi", fmt.Errorf("bad rssi field %q", rssiField))
		}
		rssi = &n
	}

	// strings.Fields collapses the leading space that distinguishes " I"/
	// " W" from "RQ"/"RP" on the wire; recover the canonical form here.
	verb, verbWire, err := recoverVerb(fields[idx])
	if err != nil {
		return nil, err
	}
	idx++

	if fields[idx] != "---" {
		return nil, ramseserr.WithField(ramseserr.Malformed, "separator", fmt.Errorf("expected '---', got %q", fields[idx]))
	}
	idx++

	if idx+4 >= len(fields) {
		return nil, ramseserr.WithField(ramseserr.Malformed, "line", fmt.Errorf("too few fields after separator: %q", line))
	}

	src, err := address.Parse(fields[idx])
	if err != nil {
		return nil, err
	}
	idx++
	dst, err := address.Parse(fields[idx])
	if err != nil {
		return nil, err
	}
	idx++
	announce, err := address.Parse(fields[idx])
	if err != nil {
		return nil, err
	}
	idx++

	if src.IsNull() {
		return nil, ramseserr.WithField(ramseserr.Malformed, "src", fmt.Errorf("src slot must be present"))
	}

	code := strings.ToUpper(fields[idx])
	if len(code) != 4 {
		return nil, ramseserr.WithField(ramseserr.Malformed, "code", fmt.Errorf("code must be 4 hex chars, got %q", code))
	}
	idx++

	lengthField := fields[idx]
	length, err := strconv.Atoi(lengthField)
	if err != nil || len(lengthField) != 3 || length < 0 || length > 255 {
		return nil, ramseserr.WithField(ramseserr.Malformed, "len", fmt.Errorf("bad length field %q", lengthField))
	}
	idx++

	var payloadHex string
	var checksum *byte
	if idx < len(fields) {
		last := fields[len(fields)-1]
		if strings.HasPrefix(last, "*") {
			b, err := hex.DecodeString(last[1:])
			if err != nil || len(b) != 1 {
				return nil, ramseserr.WithField(ramseserr.Malformed, "checksum", fmt.Errorf("bad checksum field %q", last))
			}
			checksum = &b[0]
			payloadHex = strings.Join(fields[idx:len(fields)-1], "")
		} else {
			payloadHex = strings.Join(fields[idx:], "")
		}
	}

	if len(payloadHex) != 2*length {
		return nil, ramseserr.WithField(ramseserr.Length, "payload", fmt.Errorf("declared len %d, payload hex has %d chars", length, len(payloadHex)))
	}
	payload, err := hex.DecodeString(payloadHex)
	if err != nil {
		return nil, ramseserr.WithField(ramseserr.Malformed, "payload", err)
	}

	if checksum != nil {
		core := coreBytes(verbWire, string(src), string(dst), string(announce), code, length, strings.ToUpper(payloadHex))
		want := computeChecksum(core)
		if *checksum != want {
			return nil, ramseserr.WithField(ramseserr.Checksum, "checksum", fmt.Errorf("got %02X want %02X", *checksum, want))
		}
	}

	return &Frame{
		Timestamp: ts,
		RSSI:      rssi,
		Verb:      verb,
		Src:       src,
		Dst:       dst,
		Announce:  announce,
		Code:      code,
		Length:    length,
		Payload:   payload,
		Checksum:  checksum,
	}, nil
}

// recoverVerb maps a whitespace-split token back to its canonical Verb,
// since text/strings.Fields collapses the " I"/" W" leading space that
// distinguishes them on the wire.
func recoverVerb(tok string) (Verb, string, error) {
	switch tok {
	case "I":
		return I, " I", nil
	case "RQ":
		return RQ, "RQ", nil
	case "RP":
		return RP, "RP", nil
	case "W":
		return W, " W", nil
	default:
		return "", "", ramseserr.WithField(ramseserr.Malformed, "verb", fmt.Errorf("unknown verb token %q", tok))
	}
}

// Encode serializes f back to the wire grammar, always synthesizing a fresh
// checksum regardless of what f.Checksum holds (per spec §4.2: "when
// emitting, the engine always synthesizes checksum").
func Encode(f *Frame) (string, error) {
	verbField, err := f.Verb.padded()
	if err != nil {
		return "", err
	}
	if len(f.Payload) != f.Length {
		return "", ramseserr.WithField(ramseserr.Length, "payload", fmt.Errorf("Length=%d but payload has %d bytes", f.Length, len(f.Payload)))
	}
	payloadHex := strings.ToUpper(hex.EncodeToString(f.Payload))
	code := strings.ToUpper(f.Code)

	core := coreBytes(verbField, string(f.Src), string(f.Dst), string(f.Announce), code, f.Length, payloadHex)
	checksum := computeChecksum(core)

	var rssiField string
	if f.RSSI != nil {
		rssiField = fmt.Sprintf("%03d", *f.RSSI)
	} else {
		rssiField = "..."
	}

	return fmt.Sprintf("%s %s %s --- %s %s %s %s %03d %s *%02X",
		f.Timestamp.Format(timestampLayout), rssiField, verbField,
		f.Src, f.Dst, f.Announce, code, f.Length, payloadHex, checksum), nil
}
