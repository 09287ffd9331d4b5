// Package neighbour implements the Neighbour table collaborator: the set
// of adjacent Babel speakers, their link cost, and the network/interface
// they were heard on.
//
// Hello/IHU processing and link-cost estimation are out of scope for this
// repository (spec §1); Cost is instead set by whatever external process
// feeds link-quality samples in (a routing-protocol daemon's hello/IHU
// state machine, or a static config for testing). The shape of Entry
// mirrors neigh.NeighbourEntry from the teacher's discovery package:
// a next-hop-keyed record carrying an UpdatedAt timestamp and an explicit
// state.
package neighbour

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/babeld-go/babeld/internal/babel"
)

// Entry is one adjacent Babel speaker.
type Entry struct {
	// id is the neighbour's 16-octet Babel identifier.
	id babel.NodeID
	// ifIndex is the Linux interface index the neighbour was heard on,
	// used when programming kernel routes via this neighbour.
	ifIndex int
	// networkID groups neighbours sharing a physical network, so that
	// update_network_metric can recompute every route through any of them
	// in one pass.
	networkID string

	mu        sync.RWMutex
	cost      uint16
	updatedAt time.Time
}

// NewEntry creates a neighbour with an initial cost.
func NewEntry(id babel.NodeID, ifIndex int, networkID string, cost uint16) *Entry {
	return &Entry{
		id:        id,
		ifIndex:   ifIndex,
		networkID: networkID,
		cost:      cost,
		updatedAt: babel.Now(),
	}
}

// ID returns the neighbour's Babel identifier.
func (e *Entry) ID() babel.NodeID { return e.id }

// IfIndex returns the interface index used to reach this neighbour.
func (e *Entry) IfIndex() int { return e.ifIndex }

// NetworkID returns the physical network this neighbour shares with others
// on the same link, for update_network_metric.
func (e *Entry) NetworkID() string { return e.networkID }

// Cost returns the current link cost estimate, possibly babel.Infinity.
func (e *Entry) Cost() uint16 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cost
}

// SetCost updates the link cost, as fed by the external hello/IHU
// estimator. Called from outside the single-goroutine route event loop;
// the route package only ever reads Cost() when driven from that loop, so
// this lock only guards against concurrent SetCost/Cost races, not against
// racing route mutation.
func (e *Entry) SetCost(cost uint16) {
	e.mu.Lock()
	e.cost = cost
	e.updatedAt = babel.Now()
	e.mu.Unlock()
}

// UpdatedAt reports when the cost was last refreshed.
func (e *Entry) UpdatedAt() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.updatedAt
}

// Table is the collaborator interface the route package depends on for
// link-cost lookups (spec §6: neighbour_cost(neigh)).
type Table interface {
	Cost(n *Entry) uint16
}

// MemoryTable is the reference, in-process implementation of Table, also
// serving as the registry of known neighbours so a daemon-level
// neighbour-down event can be translated into flush_neighbour_routes.
type MemoryTable struct {
	mu      sync.RWMutex
	entries map[babel.NodeID]*Entry
	log     *zap.SugaredLogger
}

// NewMemoryTable creates an empty neighbour table.
func NewMemoryTable(log *zap.SugaredLogger) *MemoryTable {
	return &MemoryTable{
		entries: make(map[babel.NodeID]*Entry),
		log:     log,
	}
}

// Cost implements Table.
func (t *MemoryTable) Cost(n *Entry) uint16 {
	if n == nil {
		return babel.Infinity
	}
	return n.Cost()
}

// Upsert registers or replaces the neighbour with the given id.
func (t *MemoryTable) Upsert(id babel.NodeID, ifIndex int, networkID string, cost uint16) *Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[id]; ok {
		e.ifIndex = ifIndex
		e.networkID = networkID
		e.SetCost(cost)
		return e
	}

	e := NewEntry(id, ifIndex, networkID, cost)
	t.entries[id] = e
	t.log.Debugw("neighbour up", zap.Int("ifindex", ifIndex), zap.String("network", networkID))
	return e
}

// Remove drops a neighbour from the table, returning it if present so the
// caller can flush its routes. The neighbour is not usable after this call
// returns (per Design Notes §9: "collaborator notifies, core drops").
func (t *MemoryTable) Remove(id babel.NodeID) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
		t.log.Debugw("neighbour down", zap.Int("ifindex", e.ifIndex))
	}
	return e, ok
}

// Lookup finds a neighbour by id.
func (t *MemoryTable) Lookup(id babel.NodeID) (*Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[id]
	return e, ok
}

// Network returns every neighbour sharing the given network id, for
// update_network_metric.
func (t *MemoryTable) Network(networkID string) []*Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*Entry
	for _, e := range t.entries {
		if e.networkID == networkID {
			out = append(out, e)
		}
	}
	return out
}
