// Package source implements the Source table collaborator: the per-origin
// high-water mark of (seqno, metric) used by the Feasibility Oracle to
// reject routes that would reintroduce a routing loop.
//
// This mirrors rib.RIB's shape (a mutex-guarded map, a zap logger, a
// changed-at watermark) but keyed on the Babel source triple instead of a
// BGP peer/prefix pair.
package source

import (
	"net/netip"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/babeld-go/babeld/internal/babel"
)

// staleHorizon is how long a Source may go unrefreshed before it is no
// longer trusted to gate feasibility (spec §4.2: "src is stale").
const staleHorizon = 200 * time.Second

// Source is the highest (seqno, metric) pair ever advertised as feasible
// for a given (origin, prefix, plen).
type Source struct {
	Origin babel.NodeID
	Prefix netip.Prefix
	Seqno  uint16
	Metric uint16
	Time   time.Time
}

// Stale reports whether this Source is too old to be trusted, per the
// feasibility predicate's "src is stale" clause.
func (s *Source) Stale(now time.Time) bool {
	return now.Sub(s.Time) > staleHorizon
}

type key struct {
	origin babel.NodeID
	prefix netip.Prefix
}

// Table is the collaborator interface the route package depends on. It is
// kept as an interface (rather than a concrete *Table everywhere) so the
// route package's tests can substitute a trivial fake instead of dragging
// in the full memory-backed implementation.
type Table interface {
	// Find resolves the Source for (origin, prefix). If create is true and
	// none exists, one is allocated seeded with seqnoHint and a metric of
	// babel.Infinity: at the hint seqno, any finite refmetric is then
	// strictly smaller, so the first update for a never-seen source is
	// always feasible.
	Find(origin babel.NodeID, prefix netip.Prefix, create bool, seqnoHint uint16) (*Source, bool)
	// Update records a newly-seen feasible (seqno, refmetric) pair for
	// (origin, prefix), raising the high-water mark.
	Update(origin babel.NodeID, prefix netip.Prefix, seqno uint16, refmetric uint16)
}

// MemoryTable is the reference, in-process implementation of Table.
type MemoryTable struct {
	mu      sync.RWMutex
	entries map[key]*Source
	log     *zap.SugaredLogger
}

// NewMemoryTable creates an empty source table.
func NewMemoryTable(log *zap.SugaredLogger) *MemoryTable {
	return &MemoryTable{
		entries: make(map[key]*Source),
		log:     log,
	}
}

func (t *MemoryTable) Find(origin babel.NodeID, prefix netip.Prefix, create bool, seqnoHint uint16) (*Source, bool) {
	k := key{origin: origin, prefix: prefix}

	t.mu.RLock()
	s, ok := t.entries[k]
	t.mu.RUnlock()
	if ok || !create {
		return s, ok
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.entries[k]; ok {
		return s, true
	}

	s = &Source{
		Origin: origin,
		Prefix: prefix,
		Seqno:  seqnoHint,
		Metric: babel.Infinity,
		Time:   babel.Now(),
	}
	t.entries[k] = s
	t.log.Debugw("allocated source", zap.Stringer("prefix", prefix))
	return s, true
}

func (t *MemoryTable) Update(origin babel.NodeID, prefix netip.Prefix, seqno uint16, refmetric uint16) {
	k := key{origin: origin, prefix: prefix}

	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.entries[k]
	if !ok {
		s = &Source{Origin: origin, Prefix: prefix}
		t.entries[k] = s
	}
	s.Seqno = seqno
	s.Metric = refmetric
	s.Time = babel.Now()
}

// Len reports the number of tracked sources.
func (t *MemoryTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// All returns a snapshot of every tracked Source, used by the admin
// introspection surface to dump the table for operators.
func (t *MemoryTable) All() []*Source {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Source, 0, len(t.entries))
	for _, s := range t.entries {
		out = append(out, s)
	}
	return out
}
