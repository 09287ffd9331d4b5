// Package admin implements babeld's operator-facing surface: a gRPC health
// service (so orchestration tooling can probe liveness the same way
// RouteModule.Run's gRPC server is probed) and a small JSON HTTP API
// dumping the live route and source tables, mirroring RouteService's
// "show me the table" purpose without hand-rolled protobuf codegen for a
// one-off response shape (see DESIGN.md).
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/babeld-go/babeld/internal/babel/route"
	"github.com/babeld-go/babeld/internal/babel/source"
)

// RouteDump is one row of the /routes JSON response.
type RouteDump struct {
	Prefix    string `json:"prefix"`
	Neighbour string `json:"neighbour"`
	NextHop   string `json:"nexthop"`
	RefMetric uint16 `json:"refmetric"`
	Metric    uint16 `json:"metric"`
	Seqno     uint16 `json:"seqno"`
	Installed bool   `json:"installed"`
}

// SourceDump is one row of the /sources JSON response.
type SourceDump struct {
	Prefix string `json:"prefix"`
	Seqno  uint16 `json:"seqno"`
	Metric uint16 `json:"metric"`
}

// Server runs the gRPC health service and the HTTP introspection API.
type Server struct {
	log          *zap.SugaredLogger
	store        *route.Store
	sources      *source.MemoryTable
	grpcEndpoint string
	httpEndpoint string

	health *health.Server
}

// New creates a Server. grpcEndpoint/httpEndpoint may be empty to disable
// the corresponding listener.
func New(log *zap.SugaredLogger, store *route.Store, sources *source.MemoryTable, grpcEndpoint, httpEndpoint string) *Server {
	return &Server{
		log:          log.With(zap.String("component", "admin")),
		store:        store,
		sources:      sources,
		grpcEndpoint: grpcEndpoint,
		httpEndpoint: httpEndpoint,
		health:       health.NewServer(),
	}
}

// Run serves both surfaces until ctx is cancelled, intended to be passed
// directly to an errgroup.Group.Go call. The health service reports SERVING
// as soon as Run starts and NOT_SERVING once ctx is cancelled, so a liveness
// probe reflects whether the event loop's sibling goroutines are still up.
func (s *Server) Run(ctx context.Context) error {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	defer s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	wg, ctx := errgroup.WithContext(ctx)

	if s.grpcEndpoint != "" {
		lis, err := net.Listen("tcp", s.grpcEndpoint)
		if err != nil {
			return fmt.Errorf("failed to listen on admin grpc endpoint: %w", err)
		}
		srv := grpc.NewServer()
		healthpb.RegisterHealthServer(srv, s.health)
		reflection.Register(srv)

		wg.Go(func() error {
			go func() {
				<-ctx.Done()
				srv.GracefulStop()
			}()
			s.log.Infow("admin grpc server listening", "endpoint", lis.Addr().String())
			return srv.Serve(lis)
		})
	}

	if s.httpEndpoint != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/routes", s.handleRoutes)
		mux.HandleFunc("/sources", s.handleSources)
		httpSrv := &http.Server{Addr: s.httpEndpoint, Handler: mux}

		wg.Go(func() error {
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = httpSrv.Shutdown(shutdownCtx)
			}()
			s.log.Infow("admin http server listening", "endpoint", s.httpEndpoint)
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	return wg.Wait()
}

func (s *Server) handleRoutes(w http.ResponseWriter, _ *http.Request) {
	routes := s.store.All()
	dump := make([]RouteDump, 0, len(routes))
	for _, r := range routes {
		dump = append(dump, RouteDump{
			Prefix:    r.Src.Prefix.String(),
			Neighbour: r.Neigh.ID().String(),
			NextHop:   r.NextHop.String(),
			RefMetric: r.RefMetric,
			Metric:    r.Metric,
			Seqno:     r.Seqno,
			Installed: r.Installed,
		})
	}
	writeJSON(w, dump)
}

func (s *Server) handleSources(w http.ResponseWriter, _ *http.Request) {
	srcs := s.sources.All()
	dump := make([]SourceDump, 0, len(srcs))
	for _, src := range srcs {
		dump = append(dump, SourceDump{
			Prefix: src.Prefix.String(),
			Seqno:  src.Seqno,
			Metric: src.Metric,
		})
	}
	writeJSON(w, dump)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
