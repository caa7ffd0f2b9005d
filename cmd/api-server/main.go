package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mangashelf/internal/app"
	"mangashelf/internal/events"
	"mangashelf/internal/grpcserver"
	"mangashelf/pkg/logging"
	"mangashelf/pkg/utils"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "api-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := utils.LoadConfig()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	a, err := app.New(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gin.SetMode(gin.ReleaseMode)
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.Router(ctx),
		ReadHeaderTimeout: 5 * time.Second,
	}
	tcpSrv := events.NewServer(cfg.TCPAddr, a.Hub, log.Named("tcp"))
	healthSrv := grpcserver.NewServer(cfg.GRPCAddr, a.HealthChecks(), 10*time.Second, a.Clock, log.Named("grpc"))

	g, gctx := errgroup.WithContext(ctx)

	// bind the TCP port first so address conflicts surface early
	g.Go(func() error { return tcpSrv.Run(gctx) })
	g.Go(func() error { return healthSrv.Run(gctx) })
	g.Go(func() error { return a.Downloads.Run(gctx) })
	g.Go(func() error { return a.Scheduler.Run(gctx) })
	g.Go(func() error {
		log.Info("http server starting", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down servers")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Info("servers stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
