package protocol

import (
	"time"

	"github.com/google/uuid"

	"github.com/ramses-rf/ramses-go/packet"
)

// State is a Transaction's position in the lifecycle of spec §4.5.
type State uint8

const (
	Queued State = iota
	Sending
	AwaitingEcho
	AwaitingReply
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Queued:
		return "QUEUED"
	case Sending:
		return "SENDING"
	case AwaitingEcho:
		return "AWAITING_ECHO"
	case AwaitingReply:
		return "AWAITING_REPLY"
	case Done:
		return "DONE"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Priority orders FIFO queue admission: binding traffic preempts ordinary
// commands, which preempt probes. Spec §4.5 "Serialization".
type Priority uint8

const (
	PriorityProbe Priority = iota
	PriorityCommand
	PriorityBinding
)

// Result is what a Send call resolves to: the reply Packet (RQ/W), the
// outgoing Packet itself (I with no expected reply), or a tagged error.
type Result struct {
	Packet *packet.Packet
	Err    error
}

// Transaction is a Command plus its lifecycle bookkeeping. Spec §3.
type Transaction struct {
	ID       uuid.UUID
	Cmd      packet.Command
	Priority Priority

	State    State
	Attempts int
	Deadline time.Time

	replyHdr string
	hasReply bool

	sentAt time.Time

	done      chan Result
	cancelled bool
}

func newTransaction(cmd packet.Command, prio Priority) *Transaction {
	replyHdr, hasReply := packet.ReplyHdr(cmd)
	return &Transaction{
		ID:       uuid.New(),
		Cmd:      cmd,
		Priority: prio,
		State:    Queued,
		replyHdr: replyHdr,
		hasReply: hasReply,
		done:     make(chan Result, 1),
	}
}

// matchesEcho reports whether pkt is the transport's echo of this
// Transaction's own outgoing Command: equal verb/src/dst/code/payload, per
// spec §4.5.
func (t *Transaction) matchesEcho(p *packet.Packet) bool {
	f := p.Frame
	return f.Verb == t.Cmd.Verb &&
		f.Src == t.Cmd.Src &&
		f.Dst == t.Cmd.Dst &&
		f.Code == t.Cmd.Code &&
		bytesEqual(f.Payload, t.Cmd.Payload)
}

// matchesReply reports whether pkt satisfies this Transaction's expected
// reply: same hdr, addressed back to the sender, and -- unless the command
// was an open/broadcast offer -- from the originally addressed device.
// Spec §4.5 "AWAITING_REPLY", §4.6 TENDER ("expected reply is a 1FC9 W from
// any respondent", sent with no dst of its own).
func (t *Transaction) matchesReply(p *packet.Packet) bool {
	if !t.hasReply || p.Hdr != t.replyHdr {
		return false
	}
	f := p.Frame
	if f.Dst != t.Cmd.Src {
		return false
	}
	open := t.Cmd.Dst.IsNull() || t.Cmd.Dst.IsBroadcast()
	if !open && f.Src != t.Cmd.Dst {
		return false
	}
	return true
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
