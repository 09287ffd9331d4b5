package route

import (
	"time"

	"github.com/babeld-go/babeld/internal/babel/neighbour"
)

// FindBestRoute implements find_best_route (spec §4.4): the smallest-metric
// Route among those passed, skipping stale entries, optionally restricting
// to feasible routes and/or excluding one neighbour. Ties go to the first
// match in routes order (the per-prefix bucket's order: insertion order,
// except that FlushRoute moves the bucket's last Route into the slot of the
// Route it removes).
func FindBestRoute(routes []*Route, feasibleOnly bool, excludeNeigh *neighbour.Entry, now time.Time) *Route {
	var best *Route
	for _, r := range routes {
		if now.Sub(r.Time) > routeTimeoutDelay {
			continue
		}
		if feasibleOnly && !RouteFeasible(r, now) {
			continue
		}
		if excludeNeigh != nil && r.Neigh == excludeNeigh {
			continue
		}
		if best == nil || r.Metric < best.Metric {
			best = r
		}
	}
	return best
}
