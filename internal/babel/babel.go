// Package babel holds the small set of types and pure functions shared by
// every route-table collaborator: the metric space, seqno arithmetic, node
// identifiers and the martian-prefix check. It has no dependencies on any
// other internal package so that source, neighbour, kernel, filter and route
// can all import it without risk of a cycle.
package babel

import (
	"hash/fnv"
	"net/netip"
	"time"
)

// Infinity is the daemon-level metric value meaning "unreachable" or
// "retracted". It is never exceeded; every computation that could overflow
// past it saturates at Infinity instead.
const Infinity uint16 = 0xFFFF

// NodeID identifies a Babel router: either the origin of an advertisement
// or the neighbour that relayed it. It is always 16 octets, with IPv4
// identifiers carried in v4-mapped form, matching the wire format.
type NodeID [16]byte

// NodeIDFromAddr packs an address into a NodeID, mapping IPv4 into the
// v4-mapped IPv6 range as the wire format requires.
func NodeIDFromAddr(addr netip.Addr) NodeID {
	return NodeID(addr.As16())
}

// String renders a NodeID as an address, unmapping IPv4-mapped identifiers
// back to dotted-quad form, for logging and admin introspection.
func (id NodeID) String() string {
	return netip.AddrFrom16(id).Unmap().String()
}

// SeqnoCompare returns a positive number if a is strictly newer than b in
// modular 16-bit sequence space, a negative number if b is newer, and zero
// if they are equal. "a > b" holds iff (a-b) mod 2^16 lies in (0, 2^15),
// per RFC 8966 / babeld's seqno_compare.
func SeqnoCompare(a, b uint16) int {
	delta := a - b
	switch {
	case delta == 0:
		return 0
	case delta < 1<<15:
		return 1
	default:
		return -1
	}
}

// SeqnoPlus returns seqno advanced by n, wrapping modulo 2^16.
func SeqnoPlus(seqno uint16, n uint16) uint16 {
	return seqno + n
}

// HashID folds a NodeID down to a stable 64-bit value, used to key
// outstanding seqno requests without retaining the full identifier.
func HashID(id NodeID) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(id[:])
	return h.Sum64()
}

// MartianPrefix reports whether prefix must never be accepted as a route:
// loopback, multicast, link-local-scoped, or the unspecified address.
func MartianPrefix(prefix netip.Prefix) bool {
	addr := prefix.Addr()
	return addr.IsLoopback() ||
		addr.IsMulticast() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsUnspecified()
}

// Now returns the monotonic clock reading used for all route-table
// timestamps. Routes compare Time/OrigTime by subtracting time.Time values
// (now.Sub), which uses the monotonic reading embedded by time.Now, so wall-clock steps
// (NTP adjustments) never perturb expiry decisions.
func Now() time.Time {
	return time.Now()
}

