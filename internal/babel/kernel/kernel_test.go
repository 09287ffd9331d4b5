package kernel

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToKernelMetric(t *testing.T) {
	cases := []struct {
		metric uint16
		base   int
		want   int
	}{
		{metric: 0, base: 0, want: 0},
		{metric: 256, base: 0, want: 1},
		{metric: 257, base: 0, want: 2},
		{metric: 100, base: 10, want: 11},
		{metric: 0xFFFF, base: 0, want: Infinity},
		{metric: 65000, base: 200, want: Infinity},
	}
	for _, c := range cases {
		require.Equal(t, c.want, ToKernelMetric(c.metric, c.base))
	}
}

func TestToNetlinkRouteIPv4(t *testing.T) {
	r := Route{
		Prefix:       netip.MustParsePrefix("10.0.0.0/24"),
		NextHop:      netip.MustParseAddr("10.0.0.1"),
		IfIndex:      4,
		KernelMetric: 12,
	}
	nl := toNetlinkRoute(r)
	ones, bits := nl.Dst.Mask.Size()
	require.Equal(t, 24, ones)
	require.Equal(t, 32, bits)
	require.Equal(t, 4, nl.LinkIndex)
	require.Equal(t, 12, nl.Priority)
}

func TestToNetlinkRouteIPv6(t *testing.T) {
	r := Route{
		Prefix:  netip.MustParsePrefix("2001:db8::/64"),
		NextHop: netip.MustParseAddr("2001:db8::1"),
		IfIndex: 2,
	}
	nl := toNetlinkRoute(r)
	ones, bits := nl.Dst.Mask.Size()
	require.Equal(t, 64, ones)
	require.Equal(t, 128, bits)
}
