// Package packet derives the correlation keys (hdr/ctx) from a decoded
// frame.Frame and builds outbound Commands. See spec §4.3.
package packet

import (
	"fmt"

	"github.com/ramses-rf/ramses-go/address"
	"github.com/ramses-rf/ramses-go/frame"
)

// Packet is a validated Frame plus its derived correlation keys.
type Packet struct {
	Frame *frame.Frame
	Hdr   string // "CODE|VERB|CTX"
	Ctx   string
}

// New derives a Packet from a decoded frame.
func New(f *frame.Frame) *Packet {
	ctx := ctxOf(f.Code, f.Payload)
	return &Packet{
		Frame: f,
		Hdr:   hdrOf(f.Code, string(f.Verb), ctx),
		Ctx:   ctx,
	}
}

func hdrOf(code, verb, ctx string) string {
	return code + "|" + verb + "|" + ctx
}

// ctxOf computes the context-within-code discriminator. The default rule
// is the first payload byte; 10E0 (device identity) has none useful, so it
// uses the fixed discriminator "True" per spec §4.3.
func ctxOf(code string, payload []byte) string {
	switch code {
	case "10E0":
		return "True"
	default:
		if len(payload) == 0 {
			return ""
		}
		return fmt.Sprintf("%02X", payload[0])
	}
}

// ReplyHdr returns the hdr a Command expects its reply to carry, and
// whether the Command expects any reply at all. An RQ expects an RP with
// the same ctx; a W expects an I with the same ctx; an I expects nothing
// unless the caller set ExpectedReplyHdr explicitly.
func ReplyHdr(c Command) (string, bool) {
	if c.NoReply {
		return "", false
	}
	if c.ExpectedReplyHdr != "" {
		return c.ExpectedReplyHdr, true
	}
	ctx := ctxOf(c.Code, c.Payload)
	switch c.Verb {
	case frame.RQ:
		return hdrOf(c.Code, string(frame.RP), ctx), true
	case frame.W:
		return hdrOf(c.Code, string(frame.I), ctx), true
	default:
		return "", false
	}
}
