package daemon

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/babeld-go/babeld/internal/babel"
	"github.com/babeld-go/babeld/internal/babel/filter"
	"github.com/babeld-go/babeld/internal/babel/kernel"
	"github.com/babeld-go/babeld/internal/babel/message"
	"github.com/babeld-go/babeld/internal/babel/neighbour"
	"github.com/babeld-go/babeld/internal/babel/request"
	"github.com/babeld-go/babeld/internal/babel/route"
	"github.com/babeld-go/babeld/internal/babel/source"
	"github.com/babeld-go/babeld/internal/babel/xroute"
)

type noopKernel struct{}

func (noopKernel) Add(context.Context, kernel.Route) error                 { return nil }
func (noopKernel) Flush(context.Context, kernel.Route) error               { return nil }
func (noopKernel) Modify(context.Context, kernel.Route, kernel.Route) error { return nil }

func TestDaemonAppliesQueuedUpdate(t *testing.T) {
	log := zap.NewNop().Sugar()
	store := route.NewStore(log, noopKernel{}, 10, 0)
	sources := source.NewMemoryTable(log)
	neighs := neighbour.NewMemoryTable(log)
	xroutes := xroute.NewStaticTable(nil)
	reqs := request.NewMemoryTable()
	sink := message.NewLogSink(log)
	f, err := filter.NewGlobFilter(nil)
	require.NoError(t, err)

	handler := route.NewHandler(log, store, sources, neighs, neighs, neighs, xroutes, f, sink, reqs)
	d := New(log, handler, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	neighID := babel.NodeID{10}
	neigh := neighs.Upsert(neighID, 5, "eth0", 0)
	prefix := netip.MustParsePrefix("2001:db8::/32")
	nexthop := netip.MustParseAddr("2001:db8::1")

	r, err := d.UpdateRoute(context.Background(), babel.NodeID{1}, prefix, 1, 100, neigh, "eth0", nexthop)
	require.NoError(t, err)
	require.NotNil(t, r)
	require.True(t, r.Installed)

	require.NoError(t, d.NeighbourDown(context.Background(), neighID))
	require.Zero(t, store.Len())
	_, ok := neighs.Lookup(neighID)
	require.False(t, ok)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("daemon did not shut down")
	}
}
