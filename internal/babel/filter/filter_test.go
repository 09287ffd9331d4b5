package filter_test

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/babeld-go/babeld/internal/babel"
	"github.com/babeld-go/babeld/internal/babel/filter"
)

func TestGlobFilterMatchesInterfaceGlob(t *testing.T) {
	f, err := filter.NewGlobFilter([]filter.Rule{
		{Interface: "wg-*", AddMetric: 256},
		{Interface: "eth*", Deny: true},
	})
	require.NoError(t, err)

	require.Equal(t, uint16(256), f.Input(babel.NodeID{}, netip.Prefix{}, babel.NodeID{}, "wg-mesh0"))
	require.Equal(t, babel.Infinity, f.Input(babel.NodeID{}, netip.Prefix{}, babel.NodeID{}, "eth0"))
	require.Equal(t, uint16(0), f.Input(babel.NodeID{}, netip.Prefix{}, babel.NodeID{}, "tun0"))
}

func TestGlobFilterPrefixScoping(t *testing.T) {
	restricted := netip.MustParsePrefix("10.0.0.0/24")
	f, err := filter.NewGlobFilter([]filter.Rule{
		{Prefix: restricted, AddMetric: 1000},
	})
	require.NoError(t, err)

	require.Equal(t, uint16(1000), f.Input(babel.NodeID{}, restricted, babel.NodeID{}, "eth0"))
	require.Equal(t, uint16(0), f.Input(babel.NodeID{}, netip.MustParsePrefix("10.0.1.0/24"), babel.NodeID{}, "eth0"))
}
