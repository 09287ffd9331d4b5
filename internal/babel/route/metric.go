package route

import "github.com/babeld-go/babeld/internal/babel"

// EffectiveMetric implements the metric engine's core computation (spec
// §4.3): the local metric for an advertisement is the neighbour-advertised
// refmetric plus the link cost to that neighbour plus any filter penalty,
// saturating at Infinity.
func EffectiveMetric(refmetric, linkCost, filterAdd uint16) uint16 {
	sum := uint32(refmetric) + uint32(linkCost) + uint32(filterAdd)
	if sum >= uint32(babel.Infinity) {
		return babel.Infinity
	}
	return uint16(sum)
}
