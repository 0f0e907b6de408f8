package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/HatiCode/gapfill/cmd/gapfill/metrics"
	"github.com/HatiCode/gapfill/cmd/gapfill/router"
	"github.com/HatiCode/gapfill/pkg/httpx"
)

// fillTimeout bounds one API fill, below the server write timeout.
const fillTimeout = 4 * time.Minute

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the fill API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	log := a.logger
	log.Info("starting gapfill server", "version", version, "listen", cfg.Listen)

	m := metrics.New(nil)
	runner, closeStore, err := a.newRunner(ctx, m, false)
	if err != nil {
		return err
	}
	defer closeStore()

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}

	mux, err := router.SetupRoutes(runner, runner.store, router.Options{
		CacheSize: cfg.CacheSize,
		Timeout:   fillTimeout,
		Health:    storePing(runner.store),
		Limiter:   limiter,
		Metrics:   m,
	}, log)
	if err != nil {
		return err
	}

	var handler http.Handler = mux
	handler = httpx.LoggingMiddleware(log)(handler)
	handler = httpx.RecoveryMiddleware(log)(handler)
	httpServer := httpx.NewServer(cfg.Listen, handler, log)

	tlsConfig, err := cfg.TLS.ServerConfig()
	if err != nil {
		return fmt.Errorf("TLS: %w", err)
	}
	if tlsConfig != nil {
		httpServer.SetTLSConfig(tlsConfig)
	}

	serverErr := make(chan error, 2)
	go func() {
		serverErr <- httpServer.Start()
	}()

	var grpcServer *grpc.Server
	var healthServer *health.Server
	if cfg.GRPCListen != "" {
		var opts []grpc.ServerOption
		if tlsConfig != nil {
			opts = append(opts, grpc.Creds(credentials.NewTLS(tlsConfig)))
		}
		grpcServer = grpc.NewServer(opts...)

		healthServer = health.NewServer()
		grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
		healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

		reflection.Register(grpcServer)

		lis, err := net.Listen("tcp", cfg.GRPCListen)
		if err != nil {
			_ = httpServer.Stop(time.Second)
			return fmt.Errorf("grpc listen: %w", err)
		}
		go func() {
			log.Info("grpc health server listening", "address", cfg.GRPCListen)
			serverErr <- grpcServer.Serve(lis)
		}()
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var runErr error
	select {
	case <-sigCtx.Done():
		log.Info("received shutdown signal")
	case runErr = <-serverErr:
		if runErr != nil {
			log.Error("server failed", "error", runErr)
		}
	}

	log.Info("shutting down")
	if grpcServer != nil {
		healthServer.Shutdown()
		grpcServer.GracefulStop()
	}
	if err := httpServer.Stop(10 * time.Second); err != nil {
		log.Error("server shutdown failed", "error", err)
		return err
	}

	log.Info("shutdown complete")
	return runErr
}
