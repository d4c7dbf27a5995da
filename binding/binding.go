// Package binding implements the Binding FSM: the 1FC9/10E0 handshake a
// supplicant and a respondent run to agree which codes get published at
// which idx. See spec §4.6.
package binding

import (
	"context"
	"time"

	"github.com/ramses-rf/ramses-go/address"
	"github.com/ramses-rf/ramses-go/clog"
	"github.com/ramses-rf/ramses-go/frame"
	"github.com/ramses-rf/ramses-go/packet"
	"github.com/ramses-rf/ramses-go/protocol"
	"github.com/ramses-rf/ramses-go/ramseserr"
)

// Role is which side of the handshake a BindContext plays.
type Role uint8

const (
	Supplicant Role = iota
	Respondent
)

// State is a BindContext's position in the handshake. Both roles share the
// enum; only the states named for a role are reachable by it.
type State uint8

const (
	IDLE State = iota
	SuppOfferSent
	SuppReadyConfirm
	SuppReadyRatify
	SuppBound
	RespAwaitOffer
	RespAcceptSent
	RespAwaitRatify
	RespBound
	Failed
)

func (s State) String() string {
	switch s {
	case IDLE:
		return "IDLE"
	case SuppOfferSent:
		return "SUPP_OFFER_SENT"
	case SuppReadyConfirm:
		return "SUPP_READY_CONFIRM"
	case SuppReadyRatify:
		return "SUPP_READY_RATIFY"
	case SuppBound:
		return "SUPP_BOUND"
	case RespAwaitOffer:
		return "RESP_AWAIT_OFFER"
	case RespAcceptSent:
		return "RESP_ACCEPT_SENT"
	case RespAwaitRatify:
		return "RESP_AWAIT_RATIFY"
	case RespBound:
		return "RESP_BOUND"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// RetryLimit bounds the attempts at the TENDER and ACCEPT sending steps, the
// two that await a packet from the peer. AFFIRM and RATIFY are sent with the
// engine's own retry budget.
const RetryLimit = 3

// SupplicantParams configures a supplicant-role BindContext.
type SupplicantParams struct {
	Self           address.Address
	OfferCodes     []packet.Triplet
	OEMCode        *byte // nil omits the 10E0 self-advertisement triplet
	RatifyIdentity []byte
}

// RespondentParams configures a respondent-role BindContext. The idx is not
// configured here: spec §4.6 requires it be echoed verbatim from whatever
// the supplicant's TENDER declares, so it is read off the matched triplet.
type RespondentParams struct {
	Self          address.Address
	AcceptCodes   []string // codes this device is willing to consume
	RequireRatify bool
}

// Outcome is a BindContext's terminal result.
type Outcome struct {
	Peer address.Address
	Idx  byte
	Err  error
}

// BindContext is one run of the handshake, bound to a single protocol.Engine
// for transmission and a single inbox of dispatcher-routed Packets.
type BindContext struct {
	role  Role
	state State
	self  address.Address
	peer  address.Address
	idx   byte

	eng *protocol.Engine
	cfg protocol.Config
	log clog.Clog

	supp SupplicantParams
	resp RespondentParams

	inbox     chan *packet.Packet
	cancelled bool
	cancelCh  chan struct{}
}

// NewSupplicant builds a BindContext that will offer params.OfferCodes.
func NewSupplicant(eng *protocol.Engine, cfg protocol.Config, log clog.Clog, params SupplicantParams) *BindContext {
	return &BindContext{
		role:     Supplicant,
		state:    IDLE,
		self:     params.Self,
		eng:      eng,
		cfg:      cfg,
		log:      log,
		supp:     params,
		inbox:    make(chan *packet.Packet, 16),
		cancelCh: make(chan struct{}),
	}
}

// NewRespondent builds a BindContext that will wait to accept one of
// params.AcceptCodes.
func NewRespondent(eng *protocol.Engine, cfg protocol.Config, log clog.Clog, params RespondentParams) *BindContext {
	return &BindContext{
		role:     Respondent,
		state:    IDLE,
		self:     params.Self,
		eng:      eng,
		cfg:      cfg,
		log:      log,
		resp:     params,
		inbox:    make(chan *packet.Packet, 16),
		cancelCh: make(chan struct{}),
	}
}

// State reports the BindContext's current position in the handshake.
func (b *BindContext) State() State { return b.state }

// Deliver offers p to the BindContext's inbox. Spec §4.7 dispatcher rule 3:
// "Routes Packets relevant to an active BindContext ... into the Binding
// FSM's inbox." Relevance is code ∈ {1FC9, 10E0} and, once the peer is
// known, addressed to or from it. Reports whether p was accepted.
func (b *BindContext) Deliver(p *packet.Packet) bool {
	if p.Frame.Code != "1FC9" && p.Frame.Code != "10E0" {
		return false
	}
	if b.peer != "" && p.Frame.Src != b.peer && p.Frame.Dst != b.peer {
		return false
	}
	select {
	case b.inbox <- p:
		return true
	default:
		return false
	}
}

// Cancel transitions the BindContext to FAILED(CANCELLED) the next time it
// observes the signal, per spec §5 "Cancellation semantics".
func (b *BindContext) Cancel() {
	if b.cancelled {
		return
	}
	b.cancelled = true
	close(b.cancelCh)
}

// Run drives the handshake to a terminal state: SUPP_BOUND/RESP_BOUND on
// success, FAILED otherwise.
func (b *BindContext) Run(ctx context.Context) Outcome {
	var out Outcome
	if b.role == Supplicant {
		out = b.runSupplicant(ctx)
	} else {
		out = b.runRespondent(ctx)
	}
	if out.Err != nil {
		b.state = Failed
		b.log.Warn("binding failed: %v", out.Err)
	}
	return out
}

func (b *BindContext) runSupplicant(ctx context.Context) Outcome {
	// Cancel is observed by cancelling the context the engine sends under,
	// which also cancels the in-flight Transaction.
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-b.cancelCh:
			stop()
		case <-ctx.Done():
		}
	}()

	b.state = SuppOfferSent
	cmd, err := packet.BuildTender(b.self, b.supp.OfferCodes, b.supp.OEMCode)
	if err != nil {
		return Outcome{Err: err}
	}
	cmd.Timeout = b.cfg.BindWaitTimeout
	cmd.Retries = RetryLimit - 1

	accept, err := b.eng.Send(ctx, cmd)
	if err != nil {
		return Outcome{Err: ramseserr.Wrap(ramseserr.BindingFailed, err)}
	}
	triplets, err := packet.DecodeTriplets(accept.Frame.Payload)
	if err != nil || len(triplets) == 0 {
		return Outcome{Err: ramseserr.Newf(ramseserr.BindingFailed, "malformed ACCEPT payload")}
	}
	b.peer = accept.Frame.Src
	b.idx = triplets[0].Idx
	b.state = SuppReadyConfirm

	affirm := packet.BuildAffirm(b.self, b.peer, b.idx)
	if _, err := b.eng.Send(ctx, affirm); err != nil {
		return Outcome{Err: ramseserr.Wrap(ramseserr.BindingFailed, err)}
	}
	b.state = SuppReadyRatify

	if b.supp.RatifyIdentity != nil {
		ratify := packet.BuildRatify(b.self, b.supp.RatifyIdentity)
		if _, err := b.eng.Send(ctx, ratify); err != nil {
			return Outcome{Err: ramseserr.Wrap(ramseserr.BindingFailed, err)}
		}
	}
	b.state = SuppBound
	return Outcome{Peer: b.peer, Idx: b.idx}
}

func (b *BindContext) runRespondent(ctx context.Context) Outcome {
	b.state = RespAwaitOffer
	var matched []packet.Triplet
	tender, err := b.awaitInbox(ctx, 0, func(p *packet.Packet) bool {
		m := b.matchingTriplets(p)
		if len(m) == 0 {
			return false
		}
		matched = m
		return true
	})
	if err != nil {
		return Outcome{Err: err}
	}
	b.peer = tender.Frame.Src
	b.idx = matched[0].Idx

	accepts := make([]packet.Triplet, len(matched))
	for i, t := range matched {
		accepts[i] = packet.Triplet{Idx: t.Idx, Code: t.Code, Addr: b.self}
	}
	accept, err := packet.BuildAccept(b.self, b.peer, accepts)
	if err != nil {
		return Outcome{Err: err}
	}

	b.state = RespAcceptSent
	var affirmed bool
	for attempt := 1; attempt <= RetryLimit; attempt++ {
		if _, err := b.eng.Send(ctx, accept); err != nil {
			return Outcome{Err: ramseserr.Wrap(ramseserr.BindingFailed, err)}
		}
		_, err := b.awaitInbox(ctx, b.cfg.ConfirmTimeout, func(p *packet.Packet) bool {
			return p.Frame.Code == "1FC9" && p.Frame.Verb == frame.I && p.Frame.Src == b.peer
		})
		if err == nil {
			affirmed = true
			break
		}
		if kind, ok := ramseserr.Of(err); !ok || kind != ramseserr.TimeoutWait {
			return Outcome{Err: err} // cancellation, ctx cancellation, or a non-timeout fault: don't retry
		}
	}
	if !affirmed {
		return Outcome{Err: ramseserr.Newf(ramseserr.BindingFailed, "no AFFIRM from %s after %d attempts", b.peer, RetryLimit)}
	}

	if !b.resp.RequireRatify {
		b.state = RespBound
		return Outcome{Peer: b.peer, Idx: b.idx}
	}

	b.state = RespAwaitRatify
	if _, err := b.awaitInbox(ctx, b.cfg.BindWaitTimeout, func(p *packet.Packet) bool {
		return p.Frame.Code == "10E0" && p.Frame.Src == b.peer
	}); err != nil {
		return Outcome{Err: ramseserr.Wrap(ramseserr.BindingFailed, err)}
	}
	b.state = RespBound
	return Outcome{Peer: b.peer, Idx: b.idx}
}

// matchingTriplets returns the offered triplets (excluding the mandatory
// 1FC9 control triplet) for data codes this respondent is configured to
// consume, idx preserved exactly as offered.
func (b *BindContext) matchingTriplets(p *packet.Packet) []packet.Triplet {
	triplets, err := packet.DecodeTriplets(p.Frame.Payload)
	if err != nil {
		return nil
	}
	var out []packet.Triplet
	for _, t := range triplets {
		if t.Code == "1FC9" {
			continue
		}
		for _, want := range b.resp.AcceptCodes {
			if t.Code == want {
				out = append(out, t)
			}
		}
	}
	return out
}

// awaitInbox blocks for a Packet satisfying match, up to timeout (0 means
// no deadline -- used for the purely passive RESP_AWAIT_OFFER step). It
// returns ramseserr.TimeoutWait on expiry, or the cancellation/ctx error if
// the BindContext was cancelled first.
func (b *BindContext) awaitInbox(ctx context.Context, timeout time.Duration, match func(*packet.Packet) bool) (*packet.Packet, error) {
	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}
	for {
		select {
		case p := <-b.inbox:
			if match(p) {
				return p, nil
			}
		case <-timeoutC:
			return nil, ramseserr.New(ramseserr.TimeoutWait)
		case <-b.cancelCh:
			return nil, ramseserr.New(ramseserr.Cancelled)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
