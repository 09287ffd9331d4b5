package route

import (
	"time"

	"github.com/babeld-go/babeld/internal/babel"
	"github.com/babeld-go/babeld/internal/babel/source"
)

// Feasible implements the Babel loop-avoidance feasibility predicate
// (spec §4.2) for a candidate (seqno, refmetric) against src, which may be
// nil (an as-yet-unseen origin is maximally permissive).
func Feasible(src *source.Source, seqno uint16, refmetric uint16, now time.Time) bool {
	if src == nil {
		return true
	}
	if src.Stale(now) {
		return true
	}
	if refmetric >= babel.Infinity {
		return true
	}
	switch babel.SeqnoCompare(seqno, src.Seqno) {
	case 1:
		return true
	case 0:
		return refmetric < src.Metric
	default:
		return false
	}
}

// RouteFeasible implements route_feasible: whether r's own (seqno,
// refmetric) is still feasible against the current state of its Source.
func RouteFeasible(r *Route, now time.Time) bool {
	return Feasible(r.Src, r.Seqno, r.RefMetric, now)
}
