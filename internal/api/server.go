// Package api provides the HTTP, WebSocket and gRPC surfaces of rltrader:
// starting training runs, polling and streaming their progress, running
// backtests and listing stored reports.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"rltrader/internal/config"
	"rltrader/internal/market"
	"rltrader/internal/progress"
	"rltrader/internal/store"
	"rltrader/internal/strategy"
	"rltrader/internal/util"
)

// Deps are the collaborators the server is built from.
type Deps struct {
	Fetcher  market.Fetcher
	Registry *strategy.Registry
	Reports  store.ReportStore
	Runs     store.RunStore
	Equity   store.EquityStore
	// Tracker is the process-wide progress record. Nil creates one.
	Tracker progress.Sink
	Log     *slog.Logger
	// Now anchors lookback windows. Nil means time.Now.
	Now func() time.Time
}

// Server is the main API server that hosts HTTP and gRPC endpoints.
type Server struct {
	cfg      *config.Config
	deps     Deps
	log      *slog.Logger
	jobs     *JobManager
	bt       *strategy.Backtester
	hub      *Hub
	httpAddr string
	grpcAddr string

	httpServer *http.Server
	grpcServer *grpc.Server
}

// NewServer creates a new Server configured from the given Config.
func NewServer(cfg *config.Config, deps Deps) *Server {
	if deps.Tracker == nil {
		deps.Tracker = progress.NewTracker()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Registry == nil {
		deps.Registry = strategy.NewRegistry()
	}
	log := util.OrDiscard(deps.Log).With("component", "api")

	load := market.LoadOptions{Retries: cfg.Data.Retries, RetryDelay: cfg.Data.RetryDelay, Log: deps.Log}
	s := &Server{
		cfg:      cfg,
		deps:     deps,
		log:      log,
		jobs:     NewJobManager(cfg, deps, load),
		hub:      NewHub(deps.Tracker, log),
		httpAddr: net.JoinHostPort(cfg.Server.Host, fmt.Sprint(cfg.Server.Port)),
		grpcAddr: net.JoinHostPort(cfg.Server.Host, fmt.Sprint(cfg.Server.GRPCPort)),
		bt: strategy.NewBacktester(deps.Fetcher, deps.Registry, strategy.Options{
			InitialBalance: cfg.Simulation.InitialBalance,
			MinBars:        cfg.Simulation.MinBars,
			Load:           load,
			Log:            deps.Log,
			Now:            deps.Now,
		}),
	}
	return s
}

// Jobs returns the training job manager.
func (s *Server) Jobs() *JobManager { return s.jobs }

// Handler returns the HTTP handler with every route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

// RegisterGRPC registers the gRPC services on gs.
func (s *Server) RegisterGRPC(gs *grpc.Server) {
	RegisterProgressServer(gs, NewProgressService(s.deps.Tracker, 250*time.Millisecond, s.log))
}

// ListenAndServe starts the HTTP and gRPC listeners and the WebSocket hub,
// and blocks until the context is cancelled or a fatal error occurs.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpLn, err := net.Listen("tcp", s.httpAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpAddr, err)
	}
	grpcLn, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		httpLn.Close()
		return fmt.Errorf("listening on %s: %w", s.grpcAddr, err)
	}
	return s.Serve(ctx, httpLn, grpcLn)
}

// Serve serves HTTP on httpLn and gRPC on grpcLn until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, httpLn, grpcLn net.Listener) error {
	s.httpServer = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	s.grpcServer = grpc.NewServer()
	s.RegisterGRPC(s.grpcServer)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		s.log.Info("http listening", "addr", httpLn.Addr().String())
		if err := s.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		s.log.Info("grpc listening", "addr", grpcLn.Addr().String())
		if err := s.grpcServer.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Shutdown performs a graceful shutdown of the HTTP and gRPC servers and
// cancels any running training job.
func (s *Server) Shutdown(ctx context.Context) error {
	s.jobs.CancelAll()
	if s.grpcServer != nil {
		stopped := make(chan struct{})
		go func() {
			s.grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			s.grpcServer.Stop()
		}
	}
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
