// Package grpcserver exposes the standard gRPC health service, with one
// entry per background component.
package grpcserver

import (
	"context"
	"net"
	"sort"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"mangashelf/pkg/clock"
	"mangashelf/pkg/logging"
)

const (
	ServiceStore     = "mangashelf.store"
	ServiceDownloads = "mangashelf.downloads"
	ServiceSync      = "mangashelf.sync"
)

// Check reports whether a component is able to serve.
type Check func(ctx context.Context) bool

type Server struct {
	Addr     string
	Health   *health.Server
	Checks   map[string]Check
	Interval time.Duration
	Clock    clock.Clock
	Log      *zap.Logger
}

func NewServer(addr string, checks map[string]Check, interval time.Duration, clk clock.Clock, log *zap.Logger) *Server {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	s := &Server{
		Addr:     addr,
		Health:   health.NewServer(),
		Checks:   checks,
		Interval: interval,
		Clock:    clock.OrReal(clk),
		Log:      logging.OrNop(log),
	}
	for _, name := range s.names() {
		s.Health.SetServingStatus(name, healthpb.HealthCheckResponse_UNKNOWN)
	}
	return s
}

func (s *Server) names() []string {
	out := make([]string, 0, len(s.Checks))
	for name := range s.Checks {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Refresh evaluates every check once. The overall ("") status is SERVING
// only while every component is.
func (s *Server) Refresh(ctx context.Context) {
	all := true
	for _, name := range s.names() {
		st := healthpb.HealthCheckResponse_SERVING
		if !s.Checks[name](ctx) {
			st = healthpb.HealthCheckResponse_NOT_SERVING
			all = false
		}
		s.Health.SetServingStatus(name, st)
	}
	overall := healthpb.HealthCheckResponse_SERVING
	if !all {
		overall = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.Health.SetServingStatus("", overall)
}

// Run listens on Addr until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, s.Health)

	go func() {
		for {
			s.Refresh(ctx)
			select {
			case <-ctx.Done():
				s.Health.Shutdown()
				gs.GracefulStop()
				return
			case <-s.Clock.After(s.Interval):
			}
		}
	}()

	s.Log.Info("grpc health listening", zap.String("addr", ln.Addr().String()))
	if err := gs.Serve(ln); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
