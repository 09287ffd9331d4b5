package source_test

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/babeld-go/babeld/internal/babel"
	"github.com/babeld-go/babeld/internal/babel/source"
)

func testOrigin() babel.NodeID {
	return babel.NodeIDFromAddr(netip.MustParseAddr("2001:db8::1"))
}

func TestFindCreatesOnlyWhenAsked(t *testing.T) {
	tbl := source.NewMemoryTable(zap.NewNop().Sugar())
	prefix := netip.MustParsePrefix("2001:db8:1::/48")

	_, ok := tbl.Find(testOrigin(), prefix, false, 0)
	require.False(t, ok)

	s, ok := tbl.Find(testOrigin(), prefix, true, 7)
	require.True(t, ok)
	require.Equal(t, uint16(7), s.Seqno)
	require.Equal(t, babel.Infinity, s.Metric)

	again, ok := tbl.Find(testOrigin(), prefix, false, 0)
	require.True(t, ok)
	require.Same(t, s, again)
}

func TestUpdateRaisesHighWaterMark(t *testing.T) {
	tbl := source.NewMemoryTable(zap.NewNop().Sugar())
	prefix := netip.MustParsePrefix("2001:db8:2::/48")
	origin := testOrigin()

	tbl.Update(origin, prefix, 5, 20)
	s, ok := tbl.Find(origin, prefix, false, 0)
	require.True(t, ok)
	require.Equal(t, uint16(5), s.Seqno)
	require.Equal(t, uint16(20), s.Metric)
}

func TestStale(t *testing.T) {
	s := &source.Source{Time: time.Now().Add(-300 * time.Second)}
	require.True(t, s.Stale(time.Now()))

	fresh := &source.Source{Time: time.Now()}
	require.False(t, fresh.Stale(time.Now()))
}
