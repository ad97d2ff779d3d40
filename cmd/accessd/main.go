package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"kompassi.org/internal/access"
	"kompassi.org/internal/app"
	"kompassi.org/internal/audit"
	"kompassi.org/internal/config"
	"kompassi.org/internal/httpapi"
	"kompassi.org/internal/obs"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	configPath := flag.String("config", os.Getenv("ACCESS_CONFIG"), "Path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		obs.Logger().Error("load config", "error", err)
		os.Exit(1)
	}
	if cfg.Version == "dev" {
		cfg.Version, cfg.Commit = version, commit
	}
	logger := obs.NewLogger(os.Stdout, cfg.SlogLevel()).With("service", "accessd")
	obs.SetLogger(logger)
	obs.Init()
	obs.InitBuildInfo(cfg.Version, cfg.Commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, app.Worker)
	if err != nil {
		logger.Error("start", "error", err)
		os.Exit(1)
	}
	probe := httpapi.ReadyProbe{Checks: map[string]httpapi.Pinger{"postgres": a.PG}}
	if err := serve(ctx, cfg, a, probe, logger); err != nil {
		stop()
		os.Exit(1)
	}
}

// serve runs until ctx ends or a component fails. Every exit path goes
// through the shutdown sequence and closes a.
func serve(ctx context.Context, cfg *config.Config, a *app.App, probe httpapi.ReadyProbe, logger *slog.Logger) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close app", "error", err)
		}
	}()

	api := httpapi.New(probe, cfg.Version)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	hs := httpapi.NewGRPCHealth()
	grpcSrv := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, hs)

	var wg sync.WaitGroup
	fail := make(chan error, 3)

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("http listening", "addr", srv.Addr, "version", cfg.Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fail <- err
		}
	}()

	if lis, err := net.Listen("tcp", cfg.GRPCAddr); err != nil {
		fail <- fmt.Errorf("grpc listen %s: %w", cfg.GRPCAddr, err)
	} else {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("grpc health listening", "addr", cfg.GRPCAddr)
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				fail <- err
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		httpapi.WatchReadiness(ctx, hs, probe, 5*time.Second)
	}()

	if a.Queue != nil {
		workerCtx := audit.WithActor(ctx, "accessd")
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("consuming grant jobs", "queue", cfg.GrantQueue)
			err := a.Queue.Consume(workerCtx, func(ctx context.Context, job access.GrantJob) error {
				return a.Engine.Execute(ctx, job.PrivilegeID, job.PersonID)
			})
			if err != nil {
				fail <- err
			}
		}()
	} else {
		logger.Warn("no ACCESS_AMQP_URL configured, grant worker idle")
	}

	var failure error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case failure = <-fail:
		logger.Error("component failed, shutting down", "error", failure)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
	wg.Wait()
	logger.Info("stopped")
	return failure
}
