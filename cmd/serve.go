package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-cli/internal/api"
	"github.com/sells-group/invoice-cli/internal/monitoring"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and review desk",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		collector := monitoring.NewCollector(env.Store)
		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			go checker.Run(ctx)
			zap.L().Info("monitoring enabled",
				zap.Int("interval_secs", cfg.Monitoring.CheckIntervalSecs),
			)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newServeHandler(env, collector),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func newServeHandler(env *appEnv, metrics api.Metrics) http.Handler {
	return api.NewRouter(api.Deps{
		Processor: env.Orchestrator,
		Store:     env.Store,
		Desk:      env.Desk,
		Metrics:   metrics,
	}, api.Config{
		UploadDir:     cfg.Server.UploadDir,
		MaxUploadMB:   cfg.Server.MaxUploadMB,
		CORSOrigins:   cfg.Server.CORSOrigins,
		InputDir:      cfg.Batch.InputDir,
		Patterns:      cfg.Batch.Patterns,
		Concurrency:   cfg.Batch.MaxConcurrent,
		LookbackHours: cfg.Monitoring.LookbackWindowHours,
	})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
