package route

import (
	"context"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/babeld-go/babeld/internal/babel"
	"github.com/babeld-go/babeld/internal/babel/filter"
	"github.com/babeld-go/babeld/internal/babel/message"
	"github.com/babeld-go/babeld/internal/babel/neighbour"
	"github.com/babeld-go/babeld/internal/babel/request"
	"github.com/babeld-go/babeld/internal/babel/source"
	"github.com/babeld-go/babeld/internal/babel/xroute"
)

// Handler is the update handler (spec §4.6): it owns the RouteStore and
// every collaborator needed to turn an inbound advertisement, or a
// maintenance tick, into RouteStore mutations and outbound protocol
// actions. It is driven exclusively from a single goroutine (spec §5); none
// of its methods take a lock of their own over the mutation path.
type Handler struct {
	log *zap.SugaredLogger

	store    *Store
	sources  source.Table
	neighs   neighbour.Table
	networks NetworkLister
	remover  NeighbourRemover
	xroutes  xroute.Table
	filter   filter.Filter
	msg      message.Sink
	reqs     request.Table
}

// NetworkLister groups neighbours sharing a physical network, used by
// UpdateNetworkMetric. Separate from neighbour.Table (which only covers
// link-cost lookups) so the route package does not need the concrete
// *neighbour.MemoryTable type.
type NetworkLister interface {
	Network(networkID string) []*neighbour.Entry
}

// NeighbourRemover drops a neighbour from the registry, used by
// NeighbourDown. Separate from neighbour.Table for the same reason as
// NetworkLister.
type NeighbourRemover interface {
	Remove(id babel.NodeID) (*neighbour.Entry, bool)
}

// NewHandler wires a Handler over its collaborators and installs the
// route-lost hook on store.
func NewHandler(
	log *zap.SugaredLogger,
	store *Store,
	sources source.Table,
	neighs neighbour.Table,
	networks NetworkLister,
	remover NeighbourRemover,
	xroutes xroute.Table,
	f filter.Filter,
	msg message.Sink,
	reqs request.Table,
) *Handler {
	h := &Handler{
		log:      log.With(zap.String("component", "update_handler")),
		store:    store,
		sources:  sources,
		neighs:   neighs,
		networks: networks,
		remover:  remover,
		xroutes:  xroutes,
		filter:   f,
		msg:      msg,
		reqs:     reqs,
	}
	store.SetRouteLostHook(h.routeLost)
	return h
}

// NeighbourDown implements the neighbour-down half of Lifecycle bullet (c):
// once the neighbour collaborator reports id gone, every Route reachable
// through it is flushed, uninstalling from the kernel and triggering
// route_lost for anything that was installed.
func (h *Handler) NeighbourDown(ctx context.Context, id babel.NodeID) {
	neigh, ok := h.remover.Remove(id)
	if !ok {
		return
	}
	h.store.FlushNeighbourRoutes(ctx, neigh)
}

// UpdateRoute implements update_route (spec §4.6).
func (h *Handler) UpdateRoute(
	ctx context.Context,
	origin babel.NodeID,
	prefix netip.Prefix,
	seqno uint16,
	refmetric uint16,
	neigh *neighbour.Entry,
	ifName string,
	nexthop netip.Addr,
) *Route {
	if babel.MartianPrefix(prefix) {
		h.log.Warnw("rejecting martian prefix", "prefix", prefix)
		return nil
	}

	addMetric := h.filter.Input(origin, prefix, neigh.ID(), ifName)
	if addMetric >= babel.Infinity {
		return nil
	}

	src, ok := h.sources.Find(origin, prefix, true, seqno)
	if !ok {
		h.log.Warnw("source allocation failed", "prefix", prefix)
		return nil
	}
	h.reqs.Satisfy(prefix, seqno, babel.HashID(origin))

	now := babel.Now()
	feasible := Feasible(src, seqno, refmetric, now)
	linkCost := h.neighs.Cost(neigh)
	metric := EffectiveMetric(refmetric, linkCost, addMetric)

	existing := h.store.FindRoute(prefix, neigh, nexthop)

	if existing != nil {
		return h.updateExistingRoute(ctx, existing, src, feasible, seqno, refmetric, metric)
	}
	return h.createRoute(ctx, prefix, src, seqno, refmetric, metric, feasible, neigh, nexthop, now)
}

// updateExistingRoute implements Case A of update_route.
func (h *Handler) updateExistingRoute(
	ctx context.Context,
	existing *Route,
	src *source.Source,
	feasible bool,
	seqno uint16,
	refmetric uint16,
	metric uint16,
) *Route {
	oldSrc := existing.Src
	oldMetric := existing.Metric
	oldRefMetric := existing.RefMetric

	lost := false
	if !feasible && existing.Installed {
		_ = h.store.UninstallRoute(ctx, existing)
		lost = true
	}

	existing.Src = src
	now := babel.Now()
	if feasible && refmetric < babel.Infinity {
		existing.Time = now
		if oldRefMetric >= babel.Infinity {
			existing.OrigTime = now
		}
	}
	existing.Seqno = seqno
	existing.RefMetric = refmetric
	_ = h.store.ChangeRouteMetric(ctx, existing, metric)

	if feasible {
		// triggerRouteChange is run before the source high-water mark is
		// raised: it may re-derive feasibility for existing (or for an
		// alternative sharing the same source) via RouteFeasible, which
		// must see the pre-acceptance source state — raising the mark
		// first would make this very update self-infeasible on re-check.
		h.triggerRouteChange(ctx, existing, oldSrc, oldMetric)
		h.sources.Update(src.Origin, src.Prefix, seqno, refmetric)
	} else {
		h.sendUnfeasibleRequest(existing.Src, metric)
	}

	if lost {
		h.routeLost(ctx, oldSrc, oldMetric)
	}

	return existing
}

// createRoute implements Case B of update_route.
func (h *Handler) createRoute(
	ctx context.Context,
	prefix netip.Prefix,
	src *source.Source,
	seqno uint16,
	refmetric uint16,
	metric uint16,
	feasible bool,
	neigh *neighbour.Entry,
	nexthop netip.Addr,
	now time.Time,
) *Route {
	if !feasible {
		h.sendUnfeasibleRequest(src, metric)
		return nil
	}
	if refmetric >= babel.Infinity {
		return nil
	}

	r := &Route{
		Src:       src,
		Neigh:     neigh,
		NextHop:   nexthop,
		RefMetric: refmetric,
		Seqno:     seqno,
		Metric:    metric,
		Time:      now,
		OrigTime:  now,
		Installed: false,
	}
	if !h.store.Add(prefix, r) {
		h.log.Warnw("route table full after eviction, dropping update", "prefix", prefix)
		return nil
	}

	// considerRoute runs before the source high-water mark is raised for the
	// same reason as in updateExistingRoute: RouteFeasible(r) must see the
	// pre-acceptance source state, or this very route would make itself
	// infeasible the instant its own refmetric became the new mark.
	h.considerRoute(ctx, r)
	h.sources.Update(src.Origin, src.Prefix, seqno, refmetric)
	return r
}

// considerRoute implements consider_route (spec §4.7).
func (h *Handler) considerRoute(ctx context.Context, candidate *Route) {
	if candidate.Installed {
		return
	}
	now := babel.Now()
	if !RouteFeasible(candidate, now) {
		return
	}
	if h.xroutes.Exists(candidate.Src.Prefix) {
		return
	}

	cur := h.store.FindInstalledRoute(candidate.Src.Prefix)

	install := false
	switch {
	case cur == nil:
		install = true
	case candidate.Metric >= babel.Infinity:
		install = false
	case cur.Metric >= babel.Infinity:
		install = true
	case uint32(cur.Metric) >= uint32(candidate.Metric)+crossSourceHysteresis:
		install = true
	case cur.Src != candidate.Src:
		install = false
	case uint32(cur.Metric) >= uint32(candidate.Metric)+sameSourceHysteresis:
		install = true
	default:
		install = false
	}
	if !install {
		return
	}

	hadPrevious := cur != nil
	var oldSrc *source.Source
	var oldMetric uint16
	if hadPrevious {
		oldSrc = cur.Src
		oldMetric = cur.Metric
	}

	if err := h.store.ChangeRoute(ctx, cur, candidate); err != nil {
		return
	}

	if hadPrevious && candidate.Installed {
		h.sendTriggeredUpdate(candidate, oldSrc, oldMetric)
		return
	}
	h.msg.SendUpdate(babel.NodeID{}, false, false, candidate.Src.Prefix)
}

// sendTriggeredUpdate implements send_triggered_update (spec §4.8).
func (h *Handler) sendTriggeredUpdate(r *Route, oldSrc *source.Source, oldMetric uint16) {
	srcChanged := r.Src != oldSrc
	becameRetraction := oldMetric < babel.Infinity && r.Metric >= babel.Infinity
	jump := metricDelta(r.Metric, oldMetric)

	unsatisfied := h.reqs.Unsatisfied(r.Src.Prefix, r.Seqno, babel.HashID(r.Src.Origin))
	urgent := srcChanged || becameRetraction || jump >= urgentMetricJump || unsatisfied

	if urgent || jump >= urgentMetricDelta {
		h.msg.SendUpdate(r.Neigh.ID(), true, urgent, r.Src.Prefix)
	}

	if oldMetric < babel.Infinity {
		degraded := int(r.Metric) - int(oldMetric)
		switch {
		case degraded >= resendDegradation || r.Metric >= babel.Infinity:
			h.msg.SendRequestResend(r.Src.Prefix, r.Src.Seqno, babel.HashID(r.Src.Origin))
		case degraded >= requestDegradation:
			h.msg.SendRequest(babel.NodeID{}, false, r.Src.Prefix, r.Seqno, 0, babel.HashID(r.Src.Origin))
		}
	}
}

func metricDelta(a, b uint16) int {
	d := int(a) - int(b)
	if d < 0 {
		return -d
	}
	return d
}

// triggerRouteChange implements trigger_route_change (spec §4.9).
func (h *Handler) triggerRouteChange(ctx context.Context, r *Route, oldSrc *source.Source, oldMetric uint16) {
	if r.Installed && r.Metric > oldMetric {
		now := babel.Now()
		alt := FindBestRoute(h.store.Routes(r.Src.Prefix), true, nil, now)
		if alt != nil && alt != r && uint32(r.Metric) >= uint32(alt.Metric)+sameSourceHysteresis {
			h.considerRoute(ctx, alt)
		}
	}

	if r.Installed {
		h.sendTriggeredUpdate(r, oldSrc, oldMetric)
		return
	}
	h.considerRoute(ctx, r)
}

// routeLost implements route_lost (spec §4.10), wired as the Store's
// RouteLostFunc.
func (h *Handler) routeLost(ctx context.Context, oldSrc *source.Source, oldMetric uint16) {
	now := babel.Now()
	alt := FindBestRoute(h.store.Routes(oldSrc.Prefix), true, nil, now)
	if alt != nil {
		h.considerRoute(ctx, alt)
		return
	}

	h.msg.SendUpdate(babel.NodeID{}, false, true, oldSrc.Prefix)
	if oldMetric < babel.Infinity {
		h.msg.SendRequestResend(oldSrc.Prefix, oldSrc.Seqno, babel.HashID(oldSrc.Origin))
	}
}

// sendUnfeasibleRequest implements send_unfeasible_request (spec §4.11).
func (h *Handler) sendUnfeasibleRequest(src *source.Source, unfeasibleMetric uint16) {
	installed := h.store.FindInstalledRoute(src.Prefix)
	if installed != nil && uint32(installed.Metric) < uint32(unfeasibleMetric)+urgentMetricDelta {
		return
	}

	seqno := src.Seqno
	if src.Metric < babel.Infinity {
		seqno++
	}
	h.msg.SendRequestResend(src.Prefix, seqno, babel.HashID(src.Origin))
}
