package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"docdrive/internal/handler"
	"docdrive/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the blob sweeper",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.blobs.Ping(ctx); err != nil {
		a.logger.Warn().Err(err).Str("bucket", a.cfg.S3.Bucket).Msg("object store is not reachable yet")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := service.NewMetrics(reg)

	fileService := service.NewFileService(a.store, a.blobs, metrics, a.logger)
	directoryService := service.NewDirectoryService(a.store, metrics, a.logger)

	validate := validator.New(validator.WithRequiredStructEnabled())
	router := handler.NewRouter(
		handler.NewFileHandler(fileService, validate, a.logger),
		handler.NewDirectoryHandler(directoryService, validate, a.logger),
		handler.RouterConfig{
			AllowedOrigins: a.cfg.Server.AllowedOrigins,
			RequestTimeout: a.cfg.Server.RequestTimeout,
			Gatherer:       reg,
			Health:         a.health,
			Logger:         a.logger,
		},
	)

	if a.cfg.Sweeper.Enabled {
		sweeper := service.NewBlobSweeper(a.store, a.blobs, metrics, a.logger, a.cfg.Sweeper.BatchSize)
		go func() {
			if err := sweeper.Run(ctx, a.cfg.Sweeper.Interval); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error().Err(err).Msg("blob sweeper stopped")
			}
		}()
	}

	srv := &http.Server{
		Addr:    ":" + a.cfg.Server.Port,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
