// Package protocol implements the RAMSES II Protocol FSM: the single
// cooperative scheduler that owns a transport.Transport, serializes outbound
// Commands by priority, and correlates echoes and replies against the one
// Transaction in flight. See spec §4.5.
package protocol

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/ramses-rf/ramses-go/address"
	"github.com/ramses-rf/ramses-go/clog"
	"github.com/ramses-rf/ramses-go/frame"
	"github.com/ramses-rf/ramses-go/packet"
	"github.com/ramses-rf/ramses-go/ramseserr"
	"github.com/ramses-rf/ramses-go/transport"
)

// Subscriber receives every inbound Packet the active Transaction (if any)
// did not consume as its own echo or reply.
type Subscriber func(*packet.Packet)

// Diagnostic reports a non-fatal codec or dispatch event: a malformed line
// that never became a Packet. Spec §7: "surfaced as diagnostic events...
// published to subscribers exactly like a spontaneous Packet, never by
// panicking."
type Diagnostic struct {
	Kind    ramseserr.Kind
	Message string
	Raw     string
}

// DiagnosticSubscriber receives every Diagnostic the inbound task raises.
type DiagnosticSubscriber func(Diagnostic)

// replyBackoffInterval is the fixed 0.2s pause between a reply timeout and the next
// resend, per spec §4.5.
const replyBackoffInterval = 200 * time.Millisecond

// submission is a pending Send call: the built Transaction plus the channel
// its caller is blocked reading.
type submission struct {
	tx *Transaction
}

// Engine is the Protocol FSM. One Engine owns exactly one transport for its
// lifetime; construct a new one to reconnect.
type Engine struct {
	cfg  Config
	tr   transport.Transport
	self address.Address
	log  clog.Clog

	submitCh chan submission
	cancelCh chan uuid.UUID
	inboundC chan *packet.Packet

	subMu sync.Mutex
	subs  []Subscriber
	diags []DiagnosticSubscriber

	statsMu sync.Mutex
	stats   Stats
}

// Stats counts non-fatal codec and dispatch events, for diagnostics. Spec §7.
type Stats struct {
	DecodeErrors  uint64
	RetriesSpent  uint64
	TimeoutsEcho  uint64
	TimeoutsReply uint64
	Spontaneous   uint64
}

// NewEngine constructs an Engine bound to tr, identifying outbound frames as
// originating from self. cfg is validated (and defaulted) on the Engine's own
// copy; the caller's value is not modified.
func NewEngine(cfg Config, tr transport.Transport, self address.Address, log clog.Clog) (*Engine, error) {
	if err := cfg.Valid(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:      cfg,
		tr:       tr,
		self:     self,
		log:      log,
		submitCh: make(chan submission),
		cancelCh: make(chan uuid.UUID, 8),
		inboundC: make(chan *packet.Packet, cfg.SendQueueMax),
	}, nil
}

// Subscribe registers cb to receive every Packet not claimed as an echo or
// reply by the in-flight Transaction. Must be called before Run, or while
// Run is active; delivery order matches arrival order.
func (e *Engine) Subscribe(cb Subscriber) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	e.subs = append(e.subs, cb)
}

// SubscribeDiagnostics registers cb to receive every non-fatal codec
// Diagnostic the inbound task raises.
func (e *Engine) SubscribeDiagnostics(cb DiagnosticSubscriber) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	e.diags = append(e.diags, cb)
}

func (e *Engine) publishDiagnostic(d Diagnostic) {
	e.subMu.Lock()
	diags := make([]DiagnosticSubscriber, len(e.diags))
	copy(diags, e.diags)
	e.subMu.Unlock()
	for _, cb := range diags {
		cb(d)
	}
}

func (e *Engine) publish(p *packet.Packet) {
	e.statsMu.Lock()
	e.stats.Spontaneous++
	e.statsMu.Unlock()

	e.subMu.Lock()
	subs := make([]Subscriber, len(e.subs))
	copy(subs, e.subs)
	e.subMu.Unlock()
	for _, cb := range subs {
		cb(p)
	}
}

// Snapshot returns a copy of the Engine's running diagnostics.
func (e *Engine) Snapshot() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}

// Send submits cmd for transmission, blocking until it is acknowledged (a
// matched reply, or completion of an I with no reply expected), it exhausts
// its retry budget, ctx is cancelled, or the queue is full.
func (e *Engine) Send(ctx context.Context, cmd packet.Command) (*packet.Packet, error) {
	if e.cfg.ReadOnly {
		return nil, ramseserr.New(ramseserr.ReadOnly)
	}
	if cmd.Src == "" {
		cmd.Src = e.self
	}
	tx := newTransaction(cmd, priorityOf(cmd))

	select {
	case e.submitCh <- submission{tx: tx}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-tx.done:
		return res.Packet, res.Err
	case <-ctx.Done():
		e.Cancel(tx.ID)
		return nil, ctx.Err()
	}
}

// Cancel requests cooperative cancellation of the Transaction identified by
// id, whether it is queued or in flight. A no-op if id is unknown or already
// resolved.
func (e *Engine) Cancel(id uuid.UUID) {
	select {
	case e.cancelCh <- id:
	default:
	}
}

// priorityOf classifies cmd for queue admission: a binding code (1FC9/10E0)
// outranks an ordinary command, which outranks a bare probe (RQ with no
// payload). Spec §4.5 "Serialization".
func priorityOf(cmd packet.Command) Priority {
	switch cmd.Code {
	case "1FC9", "10E0":
		return PriorityBinding
	}
	if cmd.Verb == frame.RQ && len(cmd.Payload) == 0 {
		return PriorityProbe
	}
	return PriorityCommand
}

// queue is a three-tier FIFO respecting Priority ordering, bounded by
// Config.SendQueueMax.
type queue struct {
	tiers [3][]*Transaction
	max   int
}

func newQueue(max int) *queue {
	return &queue{max: max}
}

func (q *queue) len() int {
	return len(q.tiers[PriorityBinding]) + len(q.tiers[PriorityCommand]) + len(q.tiers[PriorityProbe])
}

func (q *queue) push(tx *Transaction) bool {
	if q.len() >= q.max {
		return false
	}
	q.tiers[tx.Priority] = append(q.tiers[tx.Priority], tx)
	return true
}

func (q *queue) pop() *Transaction {
	for p := PriorityBinding; ; p-- {
		tier := q.tiers[p]
		if len(tier) > 0 {
			tx := tier[0]
			q.tiers[p] = tier[1:]
			return tx
		}
		if p == PriorityProbe {
			return nil
		}
	}
}

// removeQueued drops a still-queued Transaction matching id and returns it,
// or returns nil if none is queued. Resolving it is left to the caller.
func (q *queue) removeQueued(id uuid.UUID) *Transaction {
	for p := range q.tiers {
		tier := q.tiers[p]
		for i, tx := range tier {
			if tx.ID == id {
				q.tiers[p] = append(tier[:i:i], tier[i+1:]...)
				return tx
			}
		}
	}
	return nil
}

// timerPhase names what the outbound loop's armed timer is waiting on.
type timerPhase int

const (
	phaseNone timerPhase = iota
	phaseEcho
	phaseReply
	phaseBackoff
)

// Run drives the Protocol FSM until ctx is cancelled or the transport
// faults. It is the sole reader of the transport and the sole owner of the
// in-flight Transaction; no other goroutine touches either.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	readErrCh := make(chan error, 1)
	go func() {
		defer wg.Done()
		readErrCh <- e.inboundLoop(ctx)
	}()

	err := e.outboundLoop(ctx, readErrCh)
	cancel()
	wg.Wait()
	return err
}

// inboundLoop is the Protocol FSM's inbound task: it owns ReadFrame
// exclusively and forwards every successfully decoded Packet to the
// outbound task. Malformed lines are counted and dropped, never fatal.
func (e *Engine) inboundLoop(ctx context.Context) error {
	for {
		line, err := e.tr.ReadFrame(ctx)
		if err != nil {
			return ramseserr.Wrap(ramseserr.TransportFault, err)
		}
		f, err := frame.Decode(line)
		if err != nil {
			e.statsMu.Lock()
			e.stats.DecodeErrors++
			e.statsMu.Unlock()
			e.log.Debug("dropped unparseable line: %v", err)
			kind, _ := ramseserr.Of(err)
			e.publishDiagnostic(Diagnostic{Kind: kind, Message: err.Error(), Raw: line})
			continue
		}
		p := packet.New(f)
		select {
		case e.inboundC <- p:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// outboundLoop is the Protocol FSM's sole scheduler: it admits submissions,
// dequeues by priority, and single-threadedly drives whichever Transaction
// is in flight through Sending/AwaitingEcho/AwaitingReply via its own
// select, so no lock is needed over Transaction.State.
func (e *Engine) outboundLoop(ctx context.Context, readErrCh <-chan error) error {
	q := newQueue(e.cfg.SendQueueMax)

	var active *Transaction
	var timer *time.Timer
	phase := phaseNone

	disarm := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
		}
		phase = phaseNone
	}
	arm := func(d time.Duration, p timerPhase) {
		if timer != nil {
			timer.Stop()
		}
		timer = time.NewTimer(d)
		phase = p
	}
	timerC := func() <-chan time.Time {
		if timer == nil {
			return nil
		}
		return timer.C
	}

	resolve := func(tx *Transaction, res Result) {
		tx.done <- res
		if tx == active {
			active = nil
			disarm()
		}
	}

	maxAttempts := func(tx *Transaction) int {
		if tx.Cmd.Retries > 0 {
			return tx.Cmd.Retries + 1
		}
		return e.cfg.Retries + 1
	}

	replyTimeout := func(tx *Transaction) time.Duration {
		if tx.Cmd.Timeout > 0 {
			return tx.Cmd.Timeout
		}
		return e.cfg.ReplyTimeout
	}

	startAttempt := func(tx *Transaction) error {
		tx.Attempts++
		tx.State = Sending
		f := tx.Cmd.ToFrame(time.Now())
		line, err := frame.Encode(f)
		if err != nil {
			return err
		}
		if err := e.tr.WriteFrame(ctx, line); err != nil {
			return ramseserr.Wrap(ramseserr.TransportFault, err)
		}
		tx.sentAt = time.Now()
		tx.State = AwaitingEcho
		arm(e.cfg.EchoTimeout, phaseEcho)
		return nil
	}

	promote := func() {
		if active != nil {
			return
		}
		tx := q.pop()
		if tx == nil {
			return
		}
		active = tx
		if err := startAttempt(tx); err != nil {
			resolve(tx, Result{Err: err})
		}
	}

	failAllQueued := func(err error) {
		for {
			tx := q.pop()
			if tx == nil {
				return
			}
			tx.done <- Result{Err: err}
		}
	}

	for {
		promote()

		select {
		case <-ctx.Done():
			if active != nil {
				active.done <- Result{Err: ctx.Err()}
			}
			failAllQueued(ctx.Err())
			return ctx.Err()

		case err := <-readErrCh:
			if active != nil {
				active.done <- Result{Err: err}
			}
			failAllQueued(err)
			return err

		case sub := <-e.submitCh:
			if !q.push(sub.tx) {
				sub.tx.done <- Result{Err: ramseserr.New(ramseserr.Busy)}
			}

		case id := <-e.cancelCh:
			if active != nil && active.ID == id {
				active.cancelled = true
				resolve(active, Result{Err: ramseserr.New(ramseserr.Cancelled)})
			} else if tx := q.removeQueued(id); tx != nil {
				tx.done <- Result{Err: ramseserr.New(ramseserr.Cancelled)}
			}

		case p := <-e.inboundC:
			if active == nil {
				e.publish(p)
				continue
			}
			switch active.State {
			case AwaitingEcho:
				if active.matchesEcho(p) {
					if active.hasReply {
						active.State = AwaitingReply
						arm(replyTimeout(active), phaseReply)
					} else {
						resolve(active, Result{Packet: p})
					}
					continue
				}
				e.publish(p)
			case AwaitingReply:
				if active.matchesReply(p) {
					resolve(active, Result{Packet: p})
					continue
				}
				e.publish(p)
			default:
				e.publish(p)
			}

		case <-timerC():
			tx := active
			if tx == nil {
				disarm()
				continue
			}
			if tx.cancelled {
				resolve(tx, Result{Err: ramseserr.New(ramseserr.Cancelled)})
				continue
			}
			switch phase {
			case phaseEcho:
				e.statsMu.Lock()
				e.stats.TimeoutsEcho++
				e.statsMu.Unlock()
				if tx.Attempts >= maxAttempts(tx) {
					resolve(tx, Result{Err: ramseserr.Wrap(ramseserr.RetriesExhausted, ramseserr.New(ramseserr.TimeoutEcho))})
					continue
				}
				e.statsMu.Lock()
				e.stats.RetriesSpent++
				e.statsMu.Unlock()
				if err := startAttempt(tx); err != nil {
					resolve(tx, Result{Err: err})
				}
			case phaseReply:
				e.statsMu.Lock()
				e.stats.TimeoutsReply++
				e.statsMu.Unlock()
				if tx.Attempts >= maxAttempts(tx) {
					resolve(tx, Result{Err: ramseserr.Wrap(ramseserr.RetriesExhausted, ramseserr.New(ramseserr.TimeoutReply))})
					continue
				}
				arm(backoff.NewConstantBackOff(replyBackoffInterval).NextBackOff(), phaseBackoff)
			case phaseBackoff:
				e.statsMu.Lock()
				e.stats.RetriesSpent++
				e.statsMu.Unlock()
				if err := startAttempt(tx); err != nil {
					resolve(tx, Result{Err: err})
				}
			}
		}
	}
}
