// Package request implements the pending-request table collaborator: the
// record of outstanding seqno requests this daemon has sent out, consulted
// by send_triggered_update to decide whether a metric change must be
// forwarded urgently to satisfy someone still waiting on a fresher seqno.
package request

import (
	"net/netip"
	"sync"
	"time"

	"github.com/babeld-go/babeld/internal/babel"
)

// defaultTTL bounds how long an outstanding request is remembered before
// it is treated as abandoned, so a request table entry never outlives the
// Babel retransmission horizon it was meant to track.
const defaultTTL = 60 * time.Second

type key struct {
	prefix     netip.Prefix
	seqno      uint16
	originHash uint64
}

// Table is the collaborator interface the route package depends on.
type Table interface {
	// Unsatisfied reports whether there is an outstanding request for
	// exactly (prefix, seqno, originHash) that a matching update would
	// satisfy.
	Unsatisfied(prefix netip.Prefix, seqno uint16, originHash uint64) bool
	// Record marks (prefix, seqno, originHash) as an outstanding request,
	// called whenever a seqno request actually goes out (see RecordingSink).
	Record(prefix netip.Prefix, seqno uint16, originHash uint64)
	// Satisfy removes a request once a matching update has been seen,
	// called by update_route for every received advertisement.
	Satisfy(prefix netip.Prefix, seqno uint16, originHash uint64)
}

// entry is one outstanding request.
type entry struct {
	expiresAt time.Time
}

// MemoryTable is the reference, in-process implementation of Table.
type MemoryTable struct {
	mu      sync.Mutex
	pending map[key]entry
	ttl     time.Duration
}

// NewMemoryTable creates an empty request table with the default TTL.
func NewMemoryTable() *MemoryTable {
	return &MemoryTable{
		pending: make(map[key]entry),
		ttl:     defaultTTL,
	}
}

// Record marks (prefix, seqno, originHash) as an outstanding request,
// called by the message sink whenever a seqno request actually goes out.
func (t *MemoryTable) Record(prefix netip.Prefix, seqno uint16, originHash uint64) {
	k := key{prefix: prefix, seqno: seqno, originHash: originHash}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[k] = entry{expiresAt: babel.Now().Add(t.ttl)}
}

// Satisfy removes a request once a matching update has been seen,
// regardless of whether it expired.
func (t *MemoryTable) Satisfy(prefix netip.Prefix, seqno uint16, originHash uint64) {
	k := key{prefix: prefix, seqno: seqno, originHash: originHash}

	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, k)
}

// Unsatisfied implements Table.
func (t *MemoryTable) Unsatisfied(prefix netip.Prefix, seqno uint16, originHash uint64) bool {
	k := key{prefix: prefix, seqno: seqno, originHash: originHash}

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.pending[k]
	if !ok {
		return false
	}
	if babel.Now().After(e.expiresAt) {
		delete(t.pending, k)
		return false
	}
	return true
}

// Expire drops every request past its TTL. The maintenance scheduler does
// not call it; an expired entry is otherwise dropped when Unsatisfied looks
// it up.
func (t *MemoryTable) Expire() {
	now := babel.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	for k, e := range t.pending {
		if now.After(e.expiresAt) {
			delete(t.pending, k)
		}
	}
}
