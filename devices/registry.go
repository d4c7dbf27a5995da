// Package devices holds the in-process, in-memory record of every device
// the runtime has observed: its last known identity, classification, and
// binding outcome. See spec §11 ("not a schema-backed database").
package devices

import (
	"sync"
	"time"

	"github.com/ramses-rf/ramses-go/address"
	"github.com/ramses-rf/ramses-go/fingerprint"
)

// Record is everything the runtime remembers about one device address.
type Record struct {
	Address     address.Address
	Identity    *fingerprint.Identity
	Class       fingerprint.Class
	LastSeen    time.Time
	BindingPeer address.Address
	BindingIdx  byte
	BindingErr  error
}

// Registry is a concurrency-safe map of device addresses to Records.
type Registry struct {
	mu      sync.RWMutex
	records map[address.Address]*Record
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[address.Address]*Record)}
}

// Observe records a device's decoded identity and classification, as
// reported by a 10E0 I. fingerprint.DefaultOEMCode is assumed, per spec
// §4.4, until the first such frame is seen.
func (r *Registry) Observe(addr address.Address, id *fingerprint.Identity, class fingerprint.Class) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.recordLocked(addr)
	rec.Identity = id
	rec.Class = class
	rec.LastSeen = time.Now()
}

// RecordBinding updates addr's last binding outcome.
func (r *Registry) RecordBinding(addr, peer address.Address, idx byte, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.recordLocked(addr)
	rec.BindingPeer = peer
	rec.BindingIdx = idx
	rec.BindingErr = err
}

// Lookup returns a copy of addr's Record, if any has been observed.
func (r *Registry) Lookup(addr address.Address) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[addr]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// OEMCode returns addr's observed oem_code, or fingerprint.DefaultOEMCode if
// no 10E0 has been seen from it yet.
func (r *Registry) OEMCode(addr address.Address) byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[addr]
	if !ok || rec.Identity == nil {
		return fingerprint.DefaultOEMCode
	}
	return rec.Identity.OEMCode
}

// All returns a snapshot of every known Record.
func (r *Registry) All() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	return out
}

func (r *Registry) recordLocked(addr address.Address) *Record {
	rec, ok := r.records[addr]
	if !ok {
		rec = &Record{Address: addr}
		r.records[addr] = rec
	}
	return rec
}
