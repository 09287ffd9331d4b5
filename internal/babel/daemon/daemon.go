// Package daemon wires the route-table core's collaborators into a single
// event-loop goroutine, matching the "one thread" model of spec §5: every
// inbound update and every maintenance tick is serialized onto one channel
// and handled by one goroutine, so route mutations never race one another;
// internal/babel/route.Store's own mutex only keeps its prefix index
// consistent for the admin surface's concurrent snapshot reads.
package daemon

import (
	"context"
	"net/netip"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/babeld-go/babeld/internal/babel/neighbour"
	"github.com/babeld-go/babeld/internal/babel/route"
)

// updateRequest is one inbound advertisement, queued onto the event loop
// and answered on reply once applied.
type updateRequest struct {
	origin    [16]byte
	prefix    netip.Prefix
	seqno     uint16
	refmetric uint16
	neigh     *neighbour.Entry
	ifName    string
	nexthop   netip.Addr
	reply     chan *route.Route
}

// neighbourDownRequest is one neighbour-down notification, queued onto the
// event loop alongside updateRequest so Handler.NeighbourDown only ever
// runs from the single driving goroutine.
type neighbourDownRequest struct {
	id    [16]byte
	reply chan struct{}
}

// sweepRequest is one maintenance tick, queued onto the event loop so
// Handler.ExpireRoutes never races an in-flight UpdateRoute/NeighbourDown
// for the same Route/Source state.
type sweepRequest struct {
	reply chan error
}

// Daemon drives a route.Handler from a single goroutine (Run), accepting
// inbound updates from any number of caller goroutines through a buffered
// channel.
type Daemon struct {
	log     *zap.SugaredLogger
	handler *route.Handler
	store   *route.Store

	updates       chan updateRequest
	neighbourDown chan neighbourDownRequest
	sweeps        chan sweepRequest
}

// New creates a Daemon over an already-wired route.Handler/route.Store
// pair.
func New(log *zap.SugaredLogger, handler *route.Handler, store *route.Store) *Daemon {
	return &Daemon{
		log:           log.With(zap.String("component", "daemon")),
		handler:       handler,
		store:         store,
		updates:       make(chan updateRequest, 256),
		neighbourDown: make(chan neighbourDownRequest, 16),
		sweeps:        make(chan sweepRequest, 1),
	}
}

// UpdateRoute enqueues an inbound advertisement for the event loop and
// blocks until it has been applied, returning the resulting Route (nil if
// the update was rejected or created no Route; a returned Route is not
// necessarily installed). Safe to call concurrently from many goroutines; Run is the
// only goroutine that ever touches the underlying Handler/Store.
func (d *Daemon) UpdateRoute(
	ctx context.Context,
	origin [16]byte,
	prefix netip.Prefix,
	seqno, refmetric uint16,
	neigh *neighbour.Entry,
	ifName string,
	nexthop netip.Addr,
) (*route.Route, error) {
	req := updateRequest{
		origin:    origin,
		prefix:    prefix,
		seqno:     seqno,
		refmetric: refmetric,
		neigh:     neigh,
		ifName:    ifName,
		nexthop:   nexthop,
		reply:     make(chan *route.Route, 1),
	}

	select {
	case d.updates <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-req.reply:
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// NeighbourDown enqueues a neighbour-down notification for the event loop
// and blocks until its routes have been flushed. Safe to call concurrently
// from many goroutines, the same way UpdateRoute is.
func (d *Daemon) NeighbourDown(ctx context.Context, id [16]byte) error {
	req := neighbourDownRequest{id: id, reply: make(chan struct{}, 1)}

	select {
	case d.neighbourDown <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep enqueues one maintenance pass (route.Handler.ExpireRoutes) for the
// event loop and blocks until it has run, implementing
// maintenance.Sweeper so the Scheduler's own ticker goroutine never calls
// into route.Handler/route.Store directly.
func (d *Daemon) Sweep(ctx context.Context) error {
	req := sweepRequest{reply: make(chan error, 1)}

	select {
	case d.sweeps <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is the event loop: it owns the only goroutine that calls into
// route.Handler, and is meant to be passed to an errgroup.Group.Go call
// alongside the maintenance scheduler and admin server.
func (d *Daemon) Run(ctx context.Context) error {
	d.log.Infow("event loop started")
	for {
		select {
		case <-ctx.Done():
			return d.shutdown(context.Background())
		case req := <-d.updates:
			r := d.handler.UpdateRoute(ctx, req.origin, req.prefix, req.seqno, req.refmetric, req.neigh, req.ifName, req.nexthop)
			req.reply <- r
		case req := <-d.neighbourDown:
			d.handler.NeighbourDown(ctx, req.id)
			req.reply <- struct{}{}
		case req := <-d.sweeps:
			req.reply <- d.handler.ExpireRoutes(ctx)
		}
	}
}

// shutdown uninstalls every installed route from the kernel FIB before the
// process exits, aggregating per-route failures with go-multierror rather
// than aborting partway through (spec §7's "kernel failures are logged,
// never fatal" stance applies just as much at teardown as in steady state).
func (d *Daemon) shutdown(ctx context.Context) error {
	var result *multierror.Error
	for _, r := range d.store.All() {
		if !r.Installed {
			continue
		}
		if err := d.store.UninstallRoute(ctx, r); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if result != nil {
		d.log.Errorw("errors uninstalling routes during shutdown", "error", result.ErrorOrNil())
	}
	return nil
}
