package xroute_test

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/babeld-go/babeld/internal/babel/xroute"
)

func TestStaticTableExists(t *testing.T) {
	redistributed := netip.MustParsePrefix("10.0.0.0/24")
	tbl := xroute.NewStaticTable([]netip.Prefix{redistributed})

	require.True(t, tbl.Exists(redistributed))
	require.False(t, tbl.Exists(netip.MustParsePrefix("10.0.1.0/24")))
}

func TestSetReplacesWholesale(t *testing.T) {
	tbl := xroute.NewStaticTable([]netip.Prefix{netip.MustParsePrefix("10.0.0.0/24")})
	next := netip.MustParsePrefix("192.168.0.0/24")
	tbl.Set([]netip.Prefix{next})

	require.False(t, tbl.Exists(netip.MustParsePrefix("10.0.0.0/24")))
	require.True(t, tbl.Exists(next))
}
