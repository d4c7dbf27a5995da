package packet

import (
	"time"

	"github.com/ramses-rf/ramses-go/address"
	"github.com/ramses-rf/ramses-go/frame"
)

// Command is a pre-frame structure to be transmitted by the Protocol FSM.
// See spec §3.
type Command struct {
	Verb    frame.Verb
	Src     address.Address // may be zero-value; the protocol engine fills in the gateway's own address when unset
	Dst     address.Address
	Code    string
	Payload []byte

	Timeout time.Duration
	Retries int

	// ExpectedReplyHdr overrides the default RQ/W reply-matching rule
	// derived by ReplyHdr, for builders that need a non-default reply
	// shape (e.g. the binding TENDER, which expects a 1FC9 W from any
	// respondent rather than one keyed to a fixed dst).
	ExpectedReplyHdr string

	// NoReply suppresses the default W-expects-I reply rule. Set by
	// builders whose acknowledgement doesn't fit the Protocol FSM's single
	// hdr match (e.g. ACCEPT, whose AFFIRM can arrive as either a one-byte
	// idx or a full offer echo) and is instead awaited by a caller reading
	// from its own dispatcher-routed inbox.
	NoReply bool
}

// ToFrame renders c as the frame.Frame the transport will serialize. ts is
// stamped by the caller (normally the protocol engine, at send time).
//
// The third address slot follows the wire convention observed throughout
// spec §8's captures: a frame with no dst (the null sentinel) carries its
// own src again in that slot; a frame with an explicit dst -- including an
// explicit broadcast address -- carries the null sentinel there instead.
func (c Command) ToFrame(ts time.Time) *frame.Frame {
	announce := address.Null
	if c.Dst.IsNull() {
		announce = c.Src
	}
	return &frame.Frame{
		Timestamp: ts,
		Verb:      c.Verb,
		Src:       c.Src,
		Dst:       c.Dst,
		Announce:  announce,
		Code:      c.Code,
		Length:    len(c.Payload),
		Payload:   c.Payload,
	}
}
