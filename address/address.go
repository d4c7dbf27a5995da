// Package address implements RAMSES II device addresses: the 9-character
// "TT:NNNNNN" identifiers carried in every frame's src/dst/announce slots.
package address

import (
	"strconv"

	"github.com/ramses-rf/ramses-go/ramseserr"
)

// Broadcast is the sentinel source address meaning "no device" / broadcast.
const Broadcast = Address("63:262142")

// Null is the sentinel meaning "slot absent".
const Null = Address("--:------")

// maxID is the largest decimal value the 6-digit numeric field can hold.
const maxID = 262142

// Address is a validated "TT:NNNNNN" device identifier. The zero value is
// not a valid Address; always go through Parse.
type Address string

// Class is the 2-digit device-class tag, e.g. "01", "04", "18".
type Class string

// Known device classes consulted by dispatch and by hdr formation.
const (
	ClassController Class = "01" // controller
	ClassTRV        Class = "04" // thermostatic radiator valve
	ClassBDR        Class = "13" // wireless relay (BDR91)
	ClassGateway    Class = "18" // USB gateway (HGI80 / evofw3)
	ClassREM        Class = "29" // remote control
	ClassFAN        Class = "32" // ventilation fan unit
	ClassDIS        Class = "37" // display switch
)

// Parse validates s as "TT:NNNNNN" where NNNNNN is a decimal value in
// [0, 262142]. Any other form is rejected with a ramseserr.Malformed error.
func Parse(s string) (Address, error) {
	if len(s) != 9 || s[2] != ':' {
		return "", ramseserr.WithField(ramseserr.Malformed, "address", errLen(s))
	}
	if s == string(Null) {
		return Null, nil
	}
	classDigits := s[0:2]
	numDigits := s[3:9]
	if _, err := strconv.ParseUint(classDigits, 10, 8); err != nil {
		return "", ramseserr.WithField(ramseserr.Malformed, "address.class", err)
	}
	n, err := strconv.ParseUint(numDigits, 10, 32)
	if err != nil {
		return "", ramseserr.WithField(ramseserr.Malformed, "address.id", err)
	}
	if n > maxID {
		return "", ramseserr.WithField(ramseserr.Malformed, "address.id", errRange(n))
	}
	return Address(s), nil
}

// MustParse is Parse but panics on error; intended for package-level test
// fixtures and constants, never for decoding untrusted input.
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Class returns the 2-digit device-class tag of a, e.g. "18" for a gateway.
func (a Address) Class() Class {
	if len(a) < 2 {
		return ""
	}
	return Class(a[0:2])
}

// IsBroadcast reports whether a is the broadcast/null-source sentinel
// 63:262142.
func (a Address) IsBroadcast() bool { return a == Broadcast }

// IsNull reports whether a is the absent-slot sentinel --:------.
func (a Address) IsNull() bool { return a == Null }

// String implements fmt.Stringer.
func (a Address) String() string { return string(a) }

type errLen string

func (e errLen) Error() string { return "address must be 9 chars \"TT:NNNNNN\", got " + strconv.Quote(string(e)) }

type errRange uint64

func (e errRange) Error() string {
	return "address id " + strconv.FormatUint(uint64(e), 10) + " exceeds max 262142"
}
