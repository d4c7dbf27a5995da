package protocol

import (
	"errors"
	"os"
	"time"
)

// defines the RAMSES Protocol FSM timeout/retry range, spec §5.
const (
	EchoTimeoutMin = 100 * time.Millisecond
	EchoTimeoutMax = 5 * time.Second

	ReplyTimeoutMin = 500 * time.Millisecond
	ReplyTimeoutMax = 30 * time.Second

	BindWaitTimeoutMin = 1 * time.Second
	BindWaitTimeoutMax = 60 * time.Second

	ConfirmTimeoutMin = 500 * time.Millisecond
	ConfirmTimeoutMax = 30 * time.Second

	RetriesMin = 0
	RetriesMax = 10

	SendQueueMaxMin = 1
	SendQueueMaxMax = 4096
)

// Config defines the Protocol FSM's timing and backpressure behavior. The
// default is applied for each unspecified (zero) value, mirroring spec §5's
// fixed T_echo/T_reply/T_wait/T_confirm/retries/Q_max.
type Config struct {
	// EchoTimeout "T_echo", default 500ms. Spec §4.5.
	EchoTimeout time.Duration

	// ReplyTimeout "T_reply", default 3s, per-code overrides via
	// packet.Command.Timeout. Spec §4.5.
	ReplyTimeout time.Duration

	// BindWaitTimeout "T_wait", default 5s. Spec §4.6.
	BindWaitTimeout time.Duration

	// ConfirmTimeout "T_confirm", default 3s. Spec §4.6.
	ConfirmTimeout time.Duration

	// Retries is the default retry budget; total attempts = Retries+1.
	// Default 3.
	Retries int

	// SendQueueMax "Q_max", default 64. Submissions beyond this fail
	// with ramseserr.Busy.
	SendQueueMax int

	// ReadOnly puts the engine in listen-only mode: Send returns
	// ramseserr.ReadOnly without ever touching the transport.
	ReadOnly bool
}

// Valid applies the default for each unspecified value and bounds-checks
// the rest, the same shape as the teacher's cs104.Config.Valid().
func (c *Config) Valid() error {
	if c == nil {
		return errors.New("invalid pointer")
	}

	if c.EchoTimeout == 0 {
		c.EchoTimeout = 500 * time.Millisecond
	} else if c.EchoTimeout < EchoTimeoutMin || c.EchoTimeout > EchoTimeoutMax {
		return errors.New(`EchoTimeout "T_echo" not in [100ms, 5s]`)
	}

	if c.ReplyTimeout == 0 {
		c.ReplyTimeout = 3 * time.Second
	} else if c.ReplyTimeout < ReplyTimeoutMin || c.ReplyTimeout > ReplyTimeoutMax {
		return errors.New(`ReplyTimeout "T_reply" not in [500ms, 30s]`)
	}

	if c.BindWaitTimeout == 0 {
		c.BindWaitTimeout = 5 * time.Second
	} else if c.BindWaitTimeout < BindWaitTimeoutMin || c.BindWaitTimeout > BindWaitTimeoutMax {
		return errors.New(`BindWaitTimeout "T_wait" not in [1s, 60s]`)
	}

	if c.ConfirmTimeout == 0 {
		c.ConfirmTimeout = 3 * time.Second
	} else if c.ConfirmTimeout < ConfirmTimeoutMin || c.ConfirmTimeout > ConfirmTimeoutMax {
		return errors.New(`ConfirmTimeout "T_confirm" not in [500ms, 30s]`)
	}

	if c.Retries == 0 {
		c.Retries = 3
	} else if c.Retries < RetriesMin || c.Retries > RetriesMax {
		return errors.New(`Retries not in [0, 10]`)
	}

	if c.SendQueueMax == 0 {
		c.SendQueueMax = 64
	} else if c.SendQueueMax < SendQueueMaxMin || c.SendQueueMax > SendQueueMaxMax {
		return errors.New(`SendQueueMax "Q_max" not in [1, 4096]`)
	}

	return nil
}

// DefaultConfig returns the spec §5 defaults.
func DefaultConfig() Config {
	return Config{
		EchoTimeout:     500 * time.Millisecond,
		ReplyTimeout:    3 * time.Second,
		BindWaitTimeout: 5 * time.Second,
		ConfirmTimeout:  3 * time.Second,
		Retries:         3,
		SendQueueMax:    64,
	}
}

// ConfigFromEnv returns DefaultConfig with ReadOnly set from the
// RAMSES_DISABLE_SENDING environment variable, per spec §6.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.ReadOnly = os.Getenv("RAMSES_DISABLE_SENDING") == "1"
	return cfg
}
