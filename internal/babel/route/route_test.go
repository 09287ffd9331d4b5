package route

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/babeld-go/babeld/internal/babel"
	"github.com/babeld-go/babeld/internal/babel/filter"
	"github.com/babeld-go/babeld/internal/babel/kernel"
	"github.com/babeld-go/babeld/internal/babel/neighbour"
	"github.com/babeld-go/babeld/internal/babel/request"
	"github.com/babeld-go/babeld/internal/babel/source"
	"github.com/babeld-go/babeld/internal/babel/xroute"
)

// fakeKernel is an in-memory stand-in for kernel.Adapter, recording every
// call instead of touching the real FIB.
type fakeKernel struct {
	installed map[netip.Prefix]kernel.Route
	addCalls  int
	failNext  bool
}

func newFakeKernel() *fakeKernel {
	return &fakeKernel{installed: make(map[netip.Prefix]kernel.Route)}
}

func (k *fakeKernel) Add(_ context.Context, r kernel.Route) error {
	k.addCalls++
	if k.failNext {
		k.failNext = false
		return errTransientFailure
	}
	k.installed[r.Prefix] = r
	return nil
}

func (k *fakeKernel) Flush(_ context.Context, r kernel.Route) error {
	delete(k.installed, r.Prefix)
	return nil
}

func (k *fakeKernel) Modify(_ context.Context, _, new kernel.Route) error {
	k.installed[new.Prefix] = new
	return nil
}

type errString string

func (e errString) Error() string { return string(e) }

const errTransientFailure = errString("transient kernel failure")

// fakeSink is an in-memory stand-in for message.Sink, recording every
// outbound action for assertions.
type fakeSink struct {
	updates  []netip.Prefix
	urgent   []bool
	resends  []netip.Prefix
	requests []netip.Prefix
	unicasts []netip.Prefix
}

func (s *fakeSink) SendUpdate(_ babel.NodeID, _ bool, urgent bool, prefix netip.Prefix) {
	s.updates = append(s.updates, prefix)
	s.urgent = append(s.urgent, urgent)
}

func (s *fakeSink) SendUnicastRequest(_ babel.NodeID, prefix netip.Prefix, _ uint16, _ int, _ uint64) {
	s.unicasts = append(s.unicasts, prefix)
}

func (s *fakeSink) SendRequestResend(prefix netip.Prefix, _ uint16, _ uint64) {
	s.resends = append(s.resends, prefix)
}

func (s *fakeSink) SendRequest(_ babel.NodeID, _ bool, prefix netip.Prefix, _ uint16, _ int, _ uint64) {
	s.requests = append(s.requests, prefix)
}

func (s *fakeSink) sawUpdate(prefix netip.Prefix) bool {
	for _, p := range s.updates {
		if p == prefix {
			return true
		}
	}
	return false
}

func nodeID(n byte) babel.NodeID {
	var id babel.NodeID
	id[15] = n
	return id
}

func testNeighbour(id byte, ifIndex int, networkID string, cost uint16) *neighbour.Entry {
	return neighbour.NewEntry(nodeID(id), ifIndex, networkID, cost)
}

type testFixture struct {
	handler *Handler
	store   *Store
	kern    *fakeKernel
	sink    *fakeSink
	sources *source.MemoryTable
	neighs  *neighbour.MemoryTable
	xroutes *xroute.StaticTable
	reqs    *request.MemoryTable
}

func newFixture(t *testing.T, maxRoutes int) *testFixture {
	t.Helper()
	log := zap.NewNop().Sugar()

	kern := newFakeKernel()
	store := NewStore(log, kern, maxRoutes, 0)
	sources := source.NewMemoryTable(log)
	neighs := neighbour.NewMemoryTable(log)
	xroutes := xroute.NewStaticTable(nil)
	reqs := request.NewMemoryTable()
	sink := &fakeSink{}
	f, err := filter.NewGlobFilter(nil)
	require.NoError(t, err)

	handler := NewHandler(log, store, sources, neighs, neighs, neighs, xroutes, f, sink, reqs)
	return &testFixture{
		handler: handler,
		store:   store,
		kern:    kern,
		sink:    sink,
		sources: sources,
		neighs:  neighs,
		xroutes: xroutes,
		reqs:    reqs,
	}
}

var ctx = context.Background()

// --- Scenarios (spec §8) ---

func TestScenarioS1FreshInstall(t *testing.T) {
	fx := newFixture(t, 10)
	prefix := netip.MustParsePrefix("2001:db8:1::/64")
	neighN := testNeighbour(10, 5, "eth0", 50)
	nexthop := netip.MustParseAddr("2001:db8:1::ffff")

	r := fx.handler.UpdateRoute(ctx, nodeID(1), prefix, 1, 100, neighN, "eth0", nexthop)

	require.NotNil(t, r)
	require.Equal(t, uint16(150), r.Metric)
	require.True(t, r.Installed)
	require.Equal(t, 1, fx.kern.addCalls)
	require.Equal(t, 1, fx.kern.installed[prefix].KernelMetric)
	require.True(t, fx.sink.sawUpdate(prefix))
}

func TestScenarioS2HysteresisHolds(t *testing.T) {
	fx := newFixture(t, 10)
	prefix := netip.MustParsePrefix("2001:db8:1::/64")
	neighN := testNeighbour(10, 5, "eth0", 50)
	nexthop := netip.MustParseAddr("2001:db8:1::ffff")
	installed := fx.handler.UpdateRoute(ctx, nodeID(1), prefix, 1, 100, neighN, "eth0", nexthop)
	require.True(t, installed.Installed)

	neighN2 := testNeighbour(11, 6, "eth1", 50)
	nexthop2 := netip.MustParseAddr("2001:db8:1::fffe")
	r2 := fx.handler.UpdateRoute(ctx, nodeID(1), prefix, 1, 60, neighN2, "eth1", nexthop2)

	require.NotNil(t, r2)
	require.Equal(t, uint16(110), r2.Metric)
	require.False(t, r2.Installed)
	require.True(t, installed.Installed)
}

func TestScenarioS3HysteresisCrossed(t *testing.T) {
	fx := newFixture(t, 10)
	prefix := netip.MustParsePrefix("2001:db8:1::/64")
	neighN := testNeighbour(10, 5, "eth0", 50)
	nexthop := netip.MustParseAddr("2001:db8:1::ffff")
	installed := fx.handler.UpdateRoute(ctx, nodeID(1), prefix, 1, 100, neighN, "eth0", nexthop)
	require.True(t, installed.Installed)

	neighN2 := testNeighbour(11, 6, "eth1", 50)
	nexthop2 := netip.MustParseAddr("2001:db8:1::fffe")
	r2 := fx.handler.UpdateRoute(ctx, nodeID(1), prefix, 1, 0, neighN2, "eth1", nexthop2)

	require.NotNil(t, r2)
	require.Equal(t, uint16(50), r2.Metric)
	require.True(t, r2.Installed)
	require.False(t, installed.Installed)
}

func TestScenarioS4SourceSwitchRequires192(t *testing.T) {
	fx := newFixture(t, 10)
	prefix := netip.MustParsePrefix("2001:db8:1::/64")
	neighN := testNeighbour(10, 5, "eth0", 50)
	nexthop := netip.MustParseAddr("2001:db8:1::ffff")
	installed := fx.handler.UpdateRoute(ctx, nodeID(1), prefix, 1, 100, neighN, "eth0", nexthop)
	require.True(t, installed.Installed)

	neighN2 := testNeighbour(12, 7, "eth2", 50)
	nexthop2 := netip.MustParseAddr("2001:db8:1::fffd")
	r2 := fx.handler.UpdateRoute(ctx, nodeID(2), prefix, 1, 50, neighN2, "eth2", nexthop2)
	require.NotNil(t, r2)
	require.Equal(t, uint16(100), r2.Metric)
	require.False(t, r2.Installed)
	require.True(t, installed.Installed)

	neighN3 := testNeighbour(13, 8, "eth3", 0)
	nexthop3 := netip.MustParseAddr("2001:db8:1::fffc")
	r3 := fx.handler.UpdateRoute(ctx, nodeID(2), prefix, 1, 0, neighN3, "eth3", nexthop3)
	require.NotNil(t, r3)
	require.Equal(t, uint16(0), r3.Metric)
	require.False(t, r3.Installed)
	require.True(t, installed.Installed)

	// Now with cur.metric = 300, a metric-0 candidate at a fresh seqno does
	// cross the 192 cross-source threshold and gets installed.
	installed.Metric = 300
	neighN4 := testNeighbour(14, 9, "eth4", 0)
	nexthop4 := netip.MustParseAddr("2001:db8:1::fffb")
	r4 := fx.handler.UpdateRoute(ctx, nodeID(2), prefix, 2, 0, neighN4, "eth4", nexthop4)
	require.NotNil(t, r4)
	require.True(t, r4.Installed)
	require.False(t, installed.Installed)
}

func TestScenarioS5UnfeasibleFromInstalledSuccessor(t *testing.T) {
	fx := newFixture(t, 10)
	prefix := netip.MustParsePrefix("2001:db8:1::/64")
	neighN := testNeighbour(10, 5, "eth0", 0)
	nexthop := netip.MustParseAddr("2001:db8:1::ffff")

	installed := fx.handler.UpdateRoute(ctx, nodeID(1), prefix, 5, 100, neighN, "eth0", nexthop)
	require.True(t, installed.Installed)
	require.Equal(t, uint16(5), installed.Seqno)

	updated := fx.handler.UpdateRoute(ctx, nodeID(1), prefix, 5, 200, neighN, "eth0", nexthop)
	require.Same(t, installed, updated)
	require.False(t, updated.Installed)
	require.Equal(t, uint16(200), updated.RefMetric)
}

func TestScenarioS6ExpiryPipeline(t *testing.T) {
	fx := newFixture(t, 10)
	prefix := netip.MustParsePrefix("2001:db8:1::/64")
	neighN := testNeighbour(10, 5, "eth0", 0)
	nexthop := netip.MustParseAddr("2001:db8:1::ffff")

	r := fx.handler.UpdateRoute(ctx, nodeID(1), prefix, 1, 100, neighN, "eth0", nexthop)
	require.True(t, r.Installed)

	r.Time = babel.Now().Add(-(routeGCDelay + time.Second))
	fx.handler.ExpireRoutes(ctx)

	require.Nil(t, fx.store.FindRoute(prefix, neighN, nexthop))
	_, stillInstalled := fx.kern.installed[prefix]
	require.False(t, stillInstalled)
}

// --- Universal invariants (spec §8) ---

func TestInvariantAtMostOneInstalledPerPrefix(t *testing.T) {
	fx := newFixture(t, 10)
	prefix := netip.MustParsePrefix("2001:db8:1::/64")
	neighN := testNeighbour(10, 5, "eth0", 50)
	nexthop := netip.MustParseAddr("2001:db8:1::ffff")
	fx.handler.UpdateRoute(ctx, nodeID(1), prefix, 1, 100, neighN, "eth0", nexthop)

	neighN2 := testNeighbour(11, 6, "eth1", 0)
	nexthop2 := netip.MustParseAddr("2001:db8:1::fffe")
	fx.handler.UpdateRoute(ctx, nodeID(1), prefix, 1, 0, neighN2, "eth1", nexthop2)

	installedCount := 0
	for _, r := range fx.store.Routes(prefix) {
		if r.Installed {
			installedCount++
		}
	}
	require.Equal(t, 1, installedCount)
}

func TestInvariantInstalledNeverInfinite(t *testing.T) {
	fx := newFixture(t, 10)
	prefix := netip.MustParsePrefix("2001:db8:1::/64")
	neighN := testNeighbour(10, 5, "eth0", 0)
	nexthop := netip.MustParseAddr("2001:db8:1::ffff")

	r := fx.handler.UpdateRoute(ctx, nodeID(1), prefix, 1, babel.Infinity, neighN, "eth0", nexthop)
	require.Nil(t, r)
	require.Nil(t, fx.store.FindInstalledRoute(prefix))
}

func TestInvariantXrouteBlocksInstall(t *testing.T) {
	fx := newFixture(t, 10)
	prefix := netip.MustParsePrefix("2001:db8:1::/64")
	fx.xroutes.Set([]netip.Prefix{prefix})

	neighN := testNeighbour(10, 5, "eth0", 0)
	nexthop := netip.MustParseAddr("2001:db8:1::ffff")
	r := fx.handler.UpdateRoute(ctx, nodeID(1), prefix, 1, 100, neighN, "eth0", nexthop)

	require.NotNil(t, r)
	require.False(t, r.Installed)
}

func TestInvariantFeasibilityMonotoneInSeqno(t *testing.T) {
	now := babel.Now()
	src := &source.Source{Seqno: 10, Metric: 50, Time: now}

	require.False(t, Feasible(src, 10, 60, now))
	require.True(t, Feasible(src, 11, 60, now))
	require.True(t, Feasible(src, 255, 60, now))
}

func TestInvariantFlushRouteRemovesFromTable(t *testing.T) {
	fx := newFixture(t, 10)
	prefix := netip.MustParsePrefix("2001:db8:1::/64")
	neighN := testNeighbour(10, 5, "eth0", 0)
	nexthop := netip.MustParseAddr("2001:db8:1::ffff")
	r := fx.handler.UpdateRoute(ctx, nodeID(1), prefix, 1, 100, neighN, "eth0", nexthop)
	require.Equal(t, 1, fx.store.Len())

	fx.store.FlushRoute(ctx, r)
	require.Equal(t, 0, fx.store.Len())
	require.Nil(t, fx.store.FindRoute(prefix, neighN, nexthop))
}

func TestDropSomeRoutesEvictsUnfeasibleInstalledWhenAllInstalled(t *testing.T) {
	fx := newFixture(t, 1)
	prefix := netip.MustParsePrefix("2001:db8:1::/64")
	neighN := testNeighbour(10, 5, "eth0", 0)
	nexthop := netip.MustParseAddr("2001:db8:1::ffff")
	installed := fx.handler.UpdateRoute(ctx, nodeID(1), prefix, 1, 100, neighN, "eth0", nexthop)
	require.True(t, installed.Installed)

	// Store is at capacity (1) and its only Route is installed. Accepting
	// that route raised its Source's mark to (seqno 1, metric 100), so the
	// route now reads as unfeasible, and pass 3 of drop_some_routes evicts
	// it to make room for a second, unrelated update.
	prefix2 := netip.MustParsePrefix("2001:db8:2::/64")
	neighN2 := testNeighbour(11, 6, "eth1", 0)
	nexthop2 := netip.MustParseAddr("2001:db8:2::ffff")
	fx.handler.UpdateRoute(ctx, nodeID(2), prefix2, 1, 100, neighN2, "eth1", nexthop2)

	require.False(t, installed.Installed)
	require.Nil(t, fx.store.FindRoute(prefix, neighN, nexthop))
}

func TestInvariantFlushNeighbourRoutes(t *testing.T) {
	fx := newFixture(t, 10)
	prefix := netip.MustParsePrefix("2001:db8:1::/64")
	neighN := testNeighbour(10, 5, "eth0", 0)
	nexthop := netip.MustParseAddr("2001:db8:1::ffff")
	fx.handler.UpdateRoute(ctx, nodeID(1), prefix, 1, 100, neighN, "eth0", nexthop)
	require.Equal(t, 1, fx.store.Len())

	fx.store.FlushNeighbourRoutes(ctx, neighN)
	require.Equal(t, 0, fx.store.Len())
}

func TestToKernelRouteSnapshot(t *testing.T) {
	fx := newFixture(t, 10)
	prefix := netip.MustParsePrefix("2001:db8:1::/64")
	neighN := testNeighbour(10, 5, "eth0", 50)
	nexthop := netip.MustParseAddr("2001:db8:1::ffff")
	r := fx.handler.UpdateRoute(ctx, nodeID(1), prefix, 1, 100, neighN, "eth0", nexthop)
	require.True(t, r.Installed)

	want := kernel.Route{
		Prefix:       prefix,
		NextHop:      nexthop,
		IfIndex:      5,
		KernelMetric: fx.kern.installed[prefix].KernelMetric,
	}
	got := fx.kern.installed[prefix]
	opts := cmp.Options{
		cmp.Comparer(func(a, b netip.Addr) bool { return a == b }),
		cmp.Comparer(func(a, b netip.Prefix) bool { return a == b }),
	}
	if diff := cmp.Diff(want, got, opts); diff != "" {
		t.Errorf("installed kernel route mismatch (-want +got):\n%s", diff)
	}
}

func TestInvariantExpireRoutesIdempotent(t *testing.T) {
	fx := newFixture(t, 10)
	prefix := netip.MustParsePrefix("2001:db8:1::/64")
	neighN := testNeighbour(10, 5, "eth0", 0)
	nexthop := netip.MustParseAddr("2001:db8:1::ffff")
	fx.handler.UpdateRoute(ctx, nodeID(1), prefix, 1, 100, neighN, "eth0", nexthop)

	fx.handler.ExpireRoutes(ctx)
	lenAfterFirst := fx.store.Len()
	fx.handler.ExpireRoutes(ctx)
	require.Equal(t, lenAfterFirst, fx.store.Len())
}
