package daemon

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/babeld-go/babeld/internal/admin"
	"github.com/babeld-go/babeld/internal/babel/filter"
	"github.com/babeld-go/babeld/internal/babel/kernel"
	"github.com/babeld-go/babeld/internal/babel/maintenance"
	"github.com/babeld-go/babeld/internal/babel/message"
	"github.com/babeld-go/babeld/internal/babel/neighbour"
	"github.com/babeld-go/babeld/internal/babel/request"
	"github.com/babeld-go/babeld/internal/babel/route"
	"github.com/babeld-go/babeld/internal/babel/source"
	"github.com/babeld-go/babeld/internal/babel/xroute"
	"github.com/babeld-go/babeld/internal/config"
)

// App is the fully-wired daemon: the event loop plus its maintenance
// scheduler and admin surface, ready to be run together under one
// errgroup, the same shape as RouteModule.Run's server-plus-registration
// pair.
type App struct {
	log *zap.SugaredLogger

	Daemon      *Daemon
	Scheduler   *maintenance.Scheduler
	Admin       *admin.Server
	Neighbours  *neighbour.MemoryTable
	KernelStore *route.Store
}

// NewApp builds every collaborator and the daemon that drives them, from a
// loaded Config. This is the single place that decides which concrete
// implementation backs each collaborator interface named in spec §6.
func NewApp(log *zap.SugaredLogger, cfg *config.Config) (*App, error) {
	sources := source.NewMemoryTable(log)
	neighs := neighbour.NewMemoryTable(log)
	reqs := request.NewMemoryTable()
	sink := request.NewRecordingSink(message.NewLogSink(log), reqs)

	xroutes := xroute.NewStaticTable(cfg.Babel.Redistribute)

	f, err := filter.NewGlobFilter(cfg.Babel.Filters)
	if err != nil {
		return nil, fmt.Errorf("failed to compile input filter: %w", err)
	}

	kernelAdapter := kernel.NewNetlinkAdapter(log)
	store := route.NewStore(log, kernelAdapter, cfg.Babel.MaxRoutes(), cfg.Babel.KernelBase)
	handler := route.NewHandler(log, store, sources, neighs, neighs, neighs, xroutes, f, sink, reqs)

	d := New(log, handler, store)
	scheduler := maintenance.NewScheduler(log, d, cfg.Babel.MaintenancePeriod)
	adminSrv := admin.New(log, store, sources, cfg.Admin.GRPCEndpoint, cfg.Admin.HTTPEndpoint)

	return &App{
		log:         log,
		Daemon:      d,
		Scheduler:   scheduler,
		Admin:       adminSrv,
		Neighbours:  neighs,
		KernelStore: store,
	}, nil
}

// Run drives the event loop, maintenance scheduler and admin surface
// together, tearing all three down on first error or context
// cancellation (the same errgroup pattern as RouteModule.Run).
func (a *App) Run(ctx context.Context) error {
	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error { return a.Daemon.Run(ctx) })
	wg.Go(func() error { return a.Scheduler.Run(ctx) })
	wg.Go(func() error { return a.Admin.Run(ctx) })
	return wg.Wait()
}
