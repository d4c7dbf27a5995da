// Package ramseserr defines the tagged error kinds raised by the codec and
// the two state machines.
package ramseserr

import (
	"errors"
	"fmt"
)

// Kind is the tagged union of error categories raised across the codec,
// Protocol FSM and Binding FSM. See spec §7.
type Kind uint8

const (
	_ Kind = iota
	Malformed
	Length
	Checksum
	UnknownCode
	TimeoutEcho
	TimeoutReply
	TimeoutWait
	TimeoutConfirm
	RetriesExhausted
	Busy
	Cancelled
	ReadOnly
	BindingFailed
	TransportFault
)

var kindName = [...]string{
	"",
	"MALFORMED",
	"LENGTH",
	"CHECKSUM",
	"UNKNOWN_CODE",
	"TIMEOUT_ECHO",
	"TIMEOUT_REPLY",
	"TIMEOUT_WAIT",
	"TIMEOUT_CONFIRM",
	"RETRIES_EXHAUSTED",
	"BUSY",
	"CANCELLED",
	"READ_ONLY",
	"BINDING_FAILED",
	"TRANSPORT_FAULT",
}

func (k Kind) String() string {
	if int(k) < len(kindName) {
		return kindName[k]
	}
	return "UNKNOWN"
}

// Error is a kind-tagged error with an optional field name and cause.
type Error struct {
	Kind   Kind
	Field  string // offending field, e.g. "len", "checksum"; optional
	Reason string // free-form detail, e.g. a BINDING_FAILED reason
	Cause  error
}

func (e *Error) Error() string {
	s := e.Kind.String()
	if e.Field != "" {
		s += " (" + e.Field + ")"
	}
	if e.Reason != "" {
		s += ": " + e.Reason
	}
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, so callers can
// use errors.Is(err, ramseserr.New(ramseserr.Busy)) style sentinels freely.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New builds a bare *Error of the given kind.
func New(kind Kind) *Error { return &Error{Kind: kind} }

// Newf builds an *Error of the given kind with a formatted reason.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// WithField builds an *Error of the given kind naming the offending field.
func WithField(kind Kind, field string, cause error) *Error {
	return &Error{Kind: kind, Field: field, Cause: cause}
}

// Of reports the Kind of err if it is (or wraps) a *ramseserr.Error.
func Of(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
