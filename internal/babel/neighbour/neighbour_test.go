package neighbour_test

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/babeld-go/babeld/internal/babel"
	"github.com/babeld-go/babeld/internal/babel/neighbour"
)

func testID(n byte) babel.NodeID {
	addr := netip.AddrFrom16([16]byte{15: n})
	return babel.NodeIDFromAddr(addr)
}

func TestUpsertAndRemove(t *testing.T) {
	tbl := neighbour.NewMemoryTable(zap.NewNop().Sugar())

	e := tbl.Upsert(testID(1), 3, "eth0", 96)
	require.Equal(t, uint16(96), e.Cost())
	require.Equal(t, 3, e.IfIndex())

	again := tbl.Upsert(testID(1), 4, "eth1", 256)
	require.Same(t, e, again)
	require.Equal(t, 4, e.IfIndex())
	require.Equal(t, uint16(256), e.Cost())

	removed, ok := tbl.Remove(testID(1))
	require.True(t, ok)
	require.Same(t, e, removed)

	_, ok = tbl.Lookup(testID(1))
	require.False(t, ok)
}

func TestCostOfNilIsInfinity(t *testing.T) {
	tbl := neighbour.NewMemoryTable(zap.NewNop().Sugar())
	require.Equal(t, babel.Infinity, tbl.Cost(nil))
}

func TestNetworkGroupsSharedLink(t *testing.T) {
	tbl := neighbour.NewMemoryTable(zap.NewNop().Sugar())
	tbl.Upsert(testID(1), 1, "eth0", 96)
	tbl.Upsert(testID(2), 1, "eth0", 128)
	tbl.Upsert(testID(3), 2, "eth1", 96)

	require.Len(t, tbl.Network("eth0"), 2)
	require.Len(t, tbl.Network("eth1"), 1)
}
