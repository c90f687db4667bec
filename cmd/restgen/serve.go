package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"restgen.dev/internal/httpapi"
	"restgen.dev/internal/obs"
)

const healthInterval = 5 * time.Second

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Aliases: []string{"s"},
		Short:   "Start the HTTP API (and gRPC health service when configured)",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			log, err := obs.NewLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			restore := obs.SetLogger(log)
			defer restore()

			obs.Init()
			obs.PublishBuildInfo(obs.ResolveBuildInfo(version, commit))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := build(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.serve(ctx)
		},
	}
}

// serve runs until ctx ends, then drains both listeners within the
// configured shutdown timeout.
func (a *app) serve(ctx context.Context) error {
	sc := a.cfg.Server
	srv := &http.Server{
		Addr:              sc.Addr,
		Handler:           a.api.Handler(),
		ReadTimeout:       sc.ReadTimeout,
		ReadHeaderTimeout: sc.ReadHeaderTimeout,
		WriteTimeout:      sc.WriteTimeout,
		IdleTimeout:       sc.IdleTimeout,
	}

	errc := make(chan error, 2)
	go func() {
		a.log.Info("http listening", zap.String("addr", sc.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	var grpcSrv *grpc.Server
	if sc.GRPCAddr != "" {
		lis, err := net.Listen("tcp", sc.GRPCAddr)
		if err != nil {
			_ = srv.Close()
			return err
		}
		grpcSrv = grpc.NewServer()
		health := httpapi.NewHealthServer(a.store, a.log)
		health.Register(grpcSrv)
		go health.Run(ctx, healthInterval)
		go func() {
			a.log.Info("grpc listening", zap.String("addr", sc.GRPCAddr))
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errc <- err
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutting down")
	case serveErr = <-errc:
		a.log.Error("listener failed", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), sc.ShutdownTimeout)
	defer cancel()
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("http shutdown", zap.Error(err))
	}
	a.log.Info("stopped")
	return serveErr
}
