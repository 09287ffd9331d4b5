package route

import (
	"context"

	"github.com/hashicorp/go-multierror"

	"github.com/babeld-go/babeld/internal/babel"
	"github.com/babeld-go/babeld/internal/babel/neighbour"
)

// refreshPingDelay is the "max(10, route_timeout_delay - 25)" threshold
// from spec §4.12 at which expire_routes proactively pings the advertising
// neighbour for a refresh.
const refreshPingDelay = routeTimeoutDelay - 25

// UpdateRouteMetric implements update_route_metric (spec §4.12): either
// force a Route into retraction once it has gone quiet past the timeout, or
// recompute its metric from the current link cost. Returns any kernel
// error from the underlying change_route_metric, for the caller to
// aggregate rather than abort on.
func (h *Handler) UpdateRouteMetric(ctx context.Context, r *Route) error {
	now := babel.Now()
	oldSrc := r.Src
	oldMetric := r.Metric

	var err error
	if now.Sub(r.Time) > routeTimeoutDelay {
		if r.RefMetric < babel.Infinity {
			r.RefMetric = babel.Infinity
			r.Seqno = r.Src.Seqno + 1
		}
		err = h.store.ChangeRouteMetric(ctx, r, babel.Infinity)
	} else {
		linkCost := h.neighs.Cost(r.Neigh)
		err = h.store.ChangeRouteMetric(ctx, r, EffectiveMetric(r.RefMetric, linkCost, 0))
	}

	h.triggerRouteChange(ctx, r, oldSrc, oldMetric)
	return err
}

// UpdateNeighbourMetric implements update_neighbour_metric: recompute every
// Route reachable via neigh.
func (h *Handler) UpdateNeighbourMetric(ctx context.Context, neigh *neighbour.Entry) error {
	var errs *multierror.Error
	for _, r := range h.store.routesViaNeighbour(neigh) {
		if err := h.UpdateRouteMetric(ctx, r); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// UpdateNetworkMetric implements update_network_metric: recompute every
// Route whose neighbour shares networkID.
func (h *Handler) UpdateNetworkMetric(ctx context.Context, networkID string) error {
	var errs *multierror.Error
	for _, neigh := range h.networks.Network(networkID) {
		if err := h.UpdateNeighbourMetric(ctx, neigh); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// ExpireRoutes implements expire_routes (spec §4.12): GC routes past
// route_gc_delay, otherwise recompute their metric, and proactively request
// a refresh from the advertising neighbour for routes approaching timeout.
// Per-route metric-change kernel failures are aggregated with go-multierror
// rather than aborting the sweep over the remaining routes (spec §4.12.1);
// kernel failures while flushing a GC'd route are logged by the Store and
// are not part of the returned error.
func (h *Handler) ExpireRoutes(ctx context.Context) error {
	now := babel.Now()
	var errs *multierror.Error
	for _, r := range h.store.All() {
		if now.Sub(r.Time) > routeGCDelay {
			h.store.FlushRoute(ctx, r)
			continue
		}

		if err := h.UpdateRouteMetric(ctx, r); err != nil {
			errs = multierror.Append(errs, err)
		}

		if r.Installed && r.RefMetric < babel.Infinity && now.Sub(r.Time) > refreshPingDelay {
			h.msg.SendUnicastRequest(r.Neigh.ID(), r.Src.Prefix, r.Src.Seqno, 0, babel.HashID(r.Src.Origin))
		}
	}
	return errs.ErrorOrNil()
}
