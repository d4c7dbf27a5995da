// Package dispatch wires the Protocol FSM's subscriber feed to the rest of
// the runtime: the device registry and any number of active Binding FSM
// contexts. See spec §4.7.
package dispatch

import (
	"sync"

	"github.com/ramses-rf/ramses-go/binding"
	"github.com/ramses-rf/ramses-go/clog"
	"github.com/ramses-rf/ramses-go/devices"
	"github.com/ramses-rf/ramses-go/fingerprint"
	"github.com/ramses-rf/ramses-go/packet"
)

// Dispatcher fans a protocol.Engine's subscriber feed out to the device
// registry and to whichever BindContexts are currently active. It does not
// itself see the Protocol FSM's echo/reply traffic -- that correlation has
// already happened by the time a Packet reaches Subscribe, per spec §4.7
// rule 1.
type Dispatcher struct {
	log   clog.Clog
	table *fingerprint.Table
	reg   *devices.Registry

	mu       sync.Mutex
	bindings []*binding.BindContext
	subs     []func(*packet.Packet)
}

// New builds a Dispatcher backed by reg for device state and table for
// 10E0 classification.
func New(reg *devices.Registry, table *fingerprint.Table, log clog.Clog) *Dispatcher {
	return &Dispatcher{reg: reg, table: table, log: log}
}

// RegisterBinding adds an active BindContext to receive relevant Packets.
// Callers should RemoveBinding once the context reaches a terminal state.
func (d *Dispatcher) RegisterBinding(b *binding.BindContext) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bindings = append(d.bindings, b)
}

// RemoveBinding stops routing Packets to b.
func (d *Dispatcher) RemoveBinding(b *binding.BindContext) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, existing := range d.bindings {
		if existing == b {
			d.bindings = append(d.bindings[:i:i], d.bindings[i+1:]...)
			return
		}
	}
}

// Subscribe registers an additional caller-supplied observer, delivered
// after the registry/binding routing (spec §4.7 rule 2, "unmatched Packets
// to subscribers in registration order").
func (d *Dispatcher) Subscribe(cb func(*packet.Packet)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs = append(d.subs, cb)
}

// Deliver is the callback to hand to protocol.Engine.Subscribe. It updates
// the device registry from every 10E0 it sees, routes 1FC9/10E0 traffic to
// active BindContexts, and then fans out to registered subscribers.
func (d *Dispatcher) Deliver(p *packet.Packet) {
	if p.Frame.Code == "10E0" && len(p.Frame.Payload) > 0 {
		if id, err := fingerprint.ParseIdentity(p.Frame.Payload); err == nil {
			class := d.table.Classify(*id)
			d.reg.Observe(p.Frame.Src, id, class)
		} else {
			d.log.Debug("unparseable 10E0 identity from %s: %v", p.Frame.Src, err)
		}
	}

	if p.Frame.Code == "1FC9" || p.Frame.Code == "10E0" {
		d.mu.Lock()
		targets := make([]*binding.BindContext, len(d.bindings))
		copy(targets, d.bindings)
		d.mu.Unlock()
		for _, b := range targets {
			b.Deliver(p)
		}
	}

	d.mu.Lock()
	subs := make([]func(*packet.Packet), len(d.subs))
	copy(subs, d.subs)
	d.mu.Unlock()
	for _, cb := range subs {
		cb(p)
	}
}
