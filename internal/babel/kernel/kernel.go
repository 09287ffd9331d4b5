// Package kernel implements the kernel FIB adapter collaborator over Linux
// netlink. It is the one place in this repository that actually touches
// the host's forwarding table; everything above it (the Installer in
// internal/babel/route) only ever sees Add/Flush/Modify and an error.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Infinity is the platform-defined KERNEL_INFINITY: the maximum route
// priority Linux accepts, used to represent an unreachable route.
const Infinity = 255

// Route describes one FIB entry as the Installer sees it: enough to issue
// an ADD/DEL/REPLACE without reaching back into the route package's own
// types.
type Route struct {
	Prefix       netip.Prefix
	NextHop      netip.Addr
	IfIndex      int
	KernelMetric int
}

// ToKernelMetric maps a daemon metric to the kernel priority space:
// min(ceil(metric/256) + base, Infinity); an Infinity daemon metric always
// maps to kernel Infinity.
func ToKernelMetric(metric uint16, base int) int {
	if metric >= 0xFFFF {
		return Infinity
	}
	kernelMetric := (int(metric)+255)/256 + base
	if kernelMetric > Infinity {
		return Infinity
	}
	return kernelMetric
}

// Adapter is the collaborator interface the Installer depends on.
type Adapter interface {
	// Add programs a new FIB entry. When the kernel already has the exact
	// entry (unix.EEXIST) the adapter reports success and returns nil, so
	// callers only ever see real failures.
	Add(ctx context.Context, r Route) error
	// Flush removes a FIB entry. Never returns EEXIST.
	Flush(ctx context.Context, r Route) error
	// Modify atomically repoints an installed FIB entry from old to new.
	// Both must share the same destination prefix.
	Modify(ctx context.Context, old, new Route) error
}

// NetlinkAdapter is the reference Adapter, backed by vishvananda/netlink.
type NetlinkAdapter struct {
	log     *zap.SugaredLogger
	backoff func() backoff.BackOff
}

// NewNetlinkAdapter creates an Adapter that programs the real kernel FIB.
func NewNetlinkAdapter(log *zap.SugaredLogger) *NetlinkAdapter {
	return &NetlinkAdapter{
		log: log.With(zap.String("component", "kernel")),
		backoff: func() backoff.BackOff {
			return &backoff.ExponentialBackOff{
				InitialInterval:     50 * time.Millisecond,
				RandomizationFactor: 0.2,
				Multiplier:          2,
				MaxInterval:         2 * time.Second,
			}
		},
	}
}

func toNetlinkRoute(r Route) *netlink.Route {
	ones := r.Prefix.Bits()
	bits := 32
	if r.Prefix.Addr().Is6() && !r.Prefix.Addr().Is4In6() {
		bits = 128
	}
	ip := net.IP(r.Prefix.Addr().AsSlice())
	return &netlink.Route{
		Dst:       &net.IPNet{IP: ip, Mask: net.CIDRMask(ones, bits)},
		Gw:        net.IP(r.NextHop.AsSlice()),
		LinkIndex: r.IfIndex,
		Priority:  r.KernelMetric,
		Protocol:  unix.RTPROT_BABEL,
	}
}

// Add implements Adapter, retrying transient failures with a bounded
// exponential backoff before surfacing an error to the Installer. EEXIST
// ends the retry at once and is reported as success (nil), since the FIB
// is already in the desired state; any other non-transient error ends the
// retry at once and is returned.
func (a *NetlinkAdapter) Add(ctx context.Context, r Route) error {
	route := toNetlinkRoute(r)

	operation := func() (struct{}, error) {
		err := netlink.RouteAdd(route)
		if err == nil || errors.Is(err, unix.EEXIST) {
			return struct{}{}, nil
		}
		if isTransient(err) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}

	_, err := backoff.Retry(ctx, operation, backoff.WithBackOff(a.backoff()), backoff.WithMaxTries(5))
	if err != nil {
		return fmt.Errorf("kernel route add %s via %s: %w", r.Prefix, r.NextHop, err)
	}
	return nil
}

// Flush implements Adapter.
func (a *NetlinkAdapter) Flush(_ context.Context, r Route) error {
	if err := netlink.RouteDel(toNetlinkRoute(r)); err != nil {
		return fmt.Errorf("kernel route flush %s via %s: %w", r.Prefix, r.NextHop, err)
	}
	return nil
}

// Modify implements Adapter as a single RouteReplace targeting new's
// nexthop/ifindex/metric, preserving the no-uninstall-gap guarantee the
// spec requires of change_route/change_route_metric.
func (a *NetlinkAdapter) Modify(_ context.Context, old, new Route) error {
	if old.Prefix != new.Prefix {
		return fmt.Errorf("kernel route modify: prefix mismatch %s != %s", old.Prefix, new.Prefix)
	}
	if err := netlink.RouteReplace(toNetlinkRoute(new)); err != nil {
		return fmt.Errorf("kernel route modify %s via %s: %w", new.Prefix, new.NextHop, err)
	}
	return nil
}

// isTransient reports whether err is worth retrying rather than treating
// as the operation's final answer.
func isTransient(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EBUSY) || errors.Is(err, unix.EINTR)
}
