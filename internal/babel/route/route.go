// Package route implements the route table core: the RouteStore, the
// feasibility oracle, the metric engine, the selector and the update
// handler that together decide what gets installed in the kernel FIB and
// what gets announced back out.
package route

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/babeld-go/babeld/internal/babel"
	"github.com/babeld-go/babeld/internal/babel/kernel"
	"github.com/babeld-go/babeld/internal/babel/neighbour"
	"github.com/babeld-go/babeld/internal/babel/source"
)

// Timing and hysteresis constants, named after the historical babeld
// defaults this store preserves (spec §6 "Constants").
const (
	routeTimeoutDelay = 160 * time.Second
	routeGCDelay      = 180 * time.Second
	capacityPassAge   = 90 * time.Second

	crossSourceHysteresis = 192
	sameSourceHysteresis  = 96

	urgentMetricJump   = 512
	urgentMetricDelta  = 256
	resendDegradation  = 384
	requestDegradation = 288
)

// Route is one received advertisement retained in memory: a
// (src, neigh, nexthop) triple plus the metric state derived from it.
type Route struct {
	Src       *source.Source
	Neigh     *neighbour.Entry
	NextHop   netip.Addr
	RefMetric uint16
	Seqno     uint16
	Metric    uint16
	Time      time.Time
	OrigTime  time.Time
	Installed bool
}

// RouteLostFunc is invoked whenever FlushRoute or an uninstall-on-eviction
// removes a Route that was installed, so the handler can look for a
// replacement (route_lost, spec §4.10).
type RouteLostFunc func(ctx context.Context, oldSrc *source.Source, oldMetric uint16)

// Store is the RouteStore: a flat, capacity-bounded collection of Routes
// indexed by destination prefix (spec §2.2's generalized MapTrie — a single
// bucket per prefix rather than per-plen array, since plen already lives
// inside netip.Prefix).
type Store struct {
	log        *zap.SugaredLogger
	installer  kernel.Adapter
	kernelBase int
	maxRoutes  int

	mu       sync.RWMutex
	byPrefix map[netip.Prefix][]*Route
	count    int
	onLost   RouteLostFunc
}

// NewStore creates an empty RouteStore with the given capacity and kernel
// base metric (added to every kernel.ToKernelMetric conversion).
func NewStore(log *zap.SugaredLogger, installer kernel.Adapter, maxRoutes, kernelBase int) *Store {
	return &Store{
		log:        log.With(zap.String("component", "route_store")),
		installer:  installer,
		kernelBase: kernelBase,
		maxRoutes:  maxRoutes,
		byPrefix:   make(map[netip.Prefix][]*Route),
	}
}

// SetRouteLostHook wires the callback invoked after an installed Route is
// removed. Must be called once, before the store sees any traffic.
func (s *Store) SetRouteLostHook(fn RouteLostFunc) {
	s.onLost = fn
}

// Len reports the total number of Routes across every prefix.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

func (s *Store) toKernelRoute(r *Route) kernel.Route {
	return kernel.Route{
		Prefix:       r.Src.Prefix,
		NextHop:      r.NextHop,
		IfIndex:      r.Neigh.IfIndex(),
		KernelMetric: kernel.ToKernelMetric(r.Metric, s.kernelBase),
	}
}

// FindRoute implements find_route: the unique Route for (prefix, neigh,
// nexthop), if any.
func (s *Store) FindRoute(prefix netip.Prefix, neigh *neighbour.Entry, nexthop netip.Addr) *Route {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.byPrefix[prefix] {
		if r.Neigh == neigh && r.NextHop == nexthop {
			return r
		}
	}
	return nil
}

// FindInstalledRoute implements find_installed_route.
func (s *Store) FindInstalledRoute(prefix netip.Prefix) *Route {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.byPrefix[prefix] {
		if r.Installed {
			return r
		}
	}
	return nil
}

// Routes returns a snapshot of every Route for a prefix, used by the
// selector.
func (s *Store) Routes(prefix netip.Prefix) []*Route {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket := s.byPrefix[prefix]
	out := make([]*Route, len(bucket))
	copy(out, bucket)
	return out
}

// All returns a snapshot of every Route in the store, for maintenance
// sweeps and the /routes admin endpoint.
func (s *Store) All() []*Route {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Route, 0, s.count)
	for _, bucket := range s.byPrefix {
		out = append(out, bucket...)
	}
	return out
}

// Add inserts a newly allocated Route, applying drop_some_routes first if
// the store is at capacity. Returns false if there was no room even after
// eviction (spec §4.6 Case B: "if still full, log and return none").
func (s *Store) Add(prefix netip.Prefix, r *Route) bool {
	s.mu.Lock()

	var lost []lostRoute
	if s.count >= s.maxRoutes {
		lost = s.dropSomeRoutesLocked()
		if s.count >= s.maxRoutes {
			s.mu.Unlock()
			s.reportLost(lost)
			return false
		}
	}

	s.byPrefix[prefix] = append(s.byPrefix[prefix], r)
	s.count++
	s.mu.Unlock()

	s.reportLost(lost)
	return true
}

// lostRoute is an installed Route evicted by drop_some_routes, deferred
// until after the store lock is released so onLost can safely call back
// into the store (e.g. find_installed_route, considerRoute) without
// deadlocking.
type lostRoute struct {
	src    *source.Source
	metric uint16
}

func (s *Store) reportLost(lost []lostRoute) {
	if s.onLost == nil {
		return
	}
	ctx := context.Background()
	for _, l := range lost {
		s.onLost(ctx, l.src, l.metric)
	}
}

// InstallRoute implements install_route: a no-op if already installed,
// otherwise ADD, treating EEXIST as success.
func (s *Store) InstallRoute(ctx context.Context, r *Route) error {
	if r.Installed {
		return nil
	}
	if err := s.installer.Add(ctx, s.toKernelRoute(r)); err != nil {
		s.log.Warnw("install route failed", "prefix", r.Src.Prefix, "error", err)
		return err
	}
	r.Installed = true
	return nil
}

// UninstallRoute implements uninstall_route: a no-op if not installed,
// otherwise FLUSH, unconditionally clearing Installed regardless of
// outcome (spec §7: "FLUSH always forces installed = false").
func (s *Store) UninstallRoute(ctx context.Context, r *Route) error {
	if !r.Installed {
		return nil
	}
	err := s.installer.Flush(ctx, s.toKernelRoute(r))
	r.Installed = false
	if err != nil {
		s.log.Warnw("uninstall route failed", "prefix", r.Src.Prefix, "error", err)
	}
	return err
}

// ChangeRoute implements change_route: an atomic MODIFY swap from old to
// new when both exist and old is installed; otherwise a plain install of
// new, or a no-op if old exists but is not installed.
func (s *Store) ChangeRoute(ctx context.Context, old, new *Route) error {
	if old == nil {
		return s.InstallRoute(ctx, new)
	}
	if !old.Installed {
		return nil
	}

	oldKR := s.toKernelRoute(old)
	newKR := s.toKernelRoute(new)
	if err := s.installer.Modify(ctx, oldKR, newKR); err != nil {
		s.log.Warnw("change route failed", "prefix", new.Src.Prefix, "error", err)
		return err
	}
	old.Installed = false
	new.Installed = true
	return nil
}

// ChangeRouteMetric implements change_route_metric: if installed, issue a
// MODIFY that only changes the kernel metric and keep the new Metric only if
// it succeeds; if not installed, just update the Route's Metric field.
func (s *Store) ChangeRouteMetric(ctx context.Context, r *Route, newMetric uint16) error {
	if !r.Installed {
		r.Metric = newMetric
		return nil
	}

	oldMetric := r.Metric
	oldKR := s.toKernelRoute(r)
	r.Metric = newMetric
	newKR := s.toKernelRoute(r)
	if err := s.installer.Modify(ctx, oldKR, newKR); err != nil {
		r.Metric = oldMetric
		s.log.Warnw("change route metric failed", "prefix", r.Src.Prefix, "error", err)
		return err
	}
	return nil
}

// FlushRoute implements flush_route: removes r from the table, uninstalling
// it first if necessary, then invokes the route-lost hook if an installed
// Route was actually removed.
func (s *Store) FlushRoute(ctx context.Context, r *Route) {
	s.mu.Lock()
	wasInstalled := r.Installed
	oldSrc := r.Src
	oldMetric := r.Metric

	if wasInstalled {
		err := s.installer.Flush(ctx, s.toKernelRoute(r))
		r.Installed = false
		if err != nil {
			s.log.Warnw("flush route failed", "prefix", r.Src.Prefix, "error", err)
		}
	}
	s.removeLocked(r)
	s.mu.Unlock()

	if wasInstalled && s.onLost != nil {
		s.onLost(ctx, oldSrc, oldMetric)
	}
}

func (s *Store) removeLocked(r *Route) {
	prefix := r.Src.Prefix
	bucket := s.byPrefix[prefix]
	for i, cand := range bucket {
		if cand == r {
			bucket[i] = bucket[len(bucket)-1]
			bucket = bucket[:len(bucket)-1]
			if len(bucket) == 0 {
				delete(s.byPrefix, prefix)
			} else {
				s.byPrefix[prefix] = bucket
			}
			s.count--
			return
		}
	}
}

// FlushNeighbourRoutes implements flush_neighbour_routes: every Route via
// neigh is flushed, in unspecified order.
func (s *Store) FlushNeighbourRoutes(ctx context.Context, neigh *neighbour.Entry) {
	for _, r := range s.routesViaNeighbour(neigh) {
		s.FlushRoute(ctx, r)
	}
}

func (s *Store) routesViaNeighbour(neigh *neighbour.Entry) []*Route {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Route
	for _, bucket := range s.byPrefix {
		for _, r := range bucket {
			if r.Neigh == neigh {
				out = append(out, r)
			}
		}
	}
	return out
}

// dropSomeRoutesLocked implements drop_some_routes's four-pass eviction,
// called with s.mu already held for writing. Passes 1, 2 and 4 only ever
// target uninstalled entries; pass 3 (original_source/route.c:341-346) has
// no such guard and may evict an installed-but-unfeasible Route if that is
// the only way to free a slot.
func (s *Store) dropSomeRoutesLocked() []lostRoute {
	now := babel.Now()
	var lost []lostRoute

	// Pass 1: uninstalled and older than capacityPassAge.
	ok, l := s.evictLocked(func(r *Route) bool {
		return !r.Installed && now.Sub(r.Time) > capacityPassAge
	}, -1)
	lost = append(lost, l...)
	if ok {
		return lost
	}

	// Pass 2: retraction (metric >= Infinity) older than capacityPassAge.
	ok, l = s.evictLocked(func(r *Route) bool {
		return !r.Installed && r.Metric >= babel.Infinity && now.Sub(r.Time) > capacityPassAge
	}, -1)
	lost = append(lost, l...)
	if ok {
		return lost
	}

	// Pass 3: a single unfeasible Route, installed or not.
	ok, l = s.evictLocked(func(r *Route) bool {
		return !RouteFeasible(r, now)
	}, 1)
	lost = append(lost, l...)
	if ok {
		return lost
	}

	// Pass 4: a single uninstalled Route.
	_, l = s.evictLocked(func(r *Route) bool {
		return !r.Installed
	}, 1)
	return append(lost, l...)
}

// evictLocked removes up to limit Routes matching pred (unbounded if
// limit < 0), uninstalling first as flush_route would if pred selected an
// installed Route (only possible from pass 3). Installed evictions are
// returned as lostRoute entries rather than reported immediately, since
// s.mu is held here and onLost may call back into the store. Returns
// whether the store has room again.
func (s *Store) evictLocked(pred func(*Route) bool, limit int) (bool, []lostRoute) {
	removed := 0
	var lost []lostRoute
	for prefix, bucket := range s.byPrefix {
		kept := bucket[:0]
		for _, r := range bucket {
			if (limit < 0 || removed < limit) && pred(r) {
				if l, ok := s.evictRoute(r); ok {
					lost = append(lost, l)
				}
				removed++
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) == 0 {
			delete(s.byPrefix, prefix)
		} else {
			s.byPrefix[prefix] = kept
		}
		if limit >= 0 && removed >= limit {
			break
		}
	}
	return s.count < s.maxRoutes, lost
}

// evictRoute drops a Route already detached from its bucket slice by the
// caller, uninstalling it from the kernel first if it was installed.
func (s *Store) evictRoute(r *Route) (lostRoute, bool) {
	wasInstalled := r.Installed
	var l lostRoute
	if wasInstalled {
		if err := s.installer.Flush(context.Background(), s.toKernelRoute(r)); err != nil {
			s.log.Warnw("evict installed route failed", "prefix", r.Src.Prefix, "error", err)
		}
		r.Installed = false
		l = lostRoute{src: r.Src, metric: r.Metric}
	}
	s.count--
	return l, wasInstalled
}
