package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/confabhq/confab"
	"github.com/confabhq/confab/config"
	"github.com/confabhq/confab/logging"
)

// shutdownGrace bounds how long a stopping daemon waits for in-flight turns.
const shutdownGrace = 30 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		logger := logging.NewSlogLogger(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format, false)

		c, err := confab.New(func(o *confab.Options) {
			o.Config = cfg
			o.Logger = logger
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := c.Start(ctx); err != nil {
			return err
		}

		var metricsSrv *http.Server
		if cfg.Metrics.Enabled {
			mux := http.NewServeMux()
			mux.Handle("/metrics", c.Metrics().Handler())
			metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
			go func() {
				logger.Info("confabd.metrics_listening", "addr", cfg.Metrics.Addr)
				if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("confabd.metrics_server_failed", "error", err.Error())
				}
			}()
		}

		<-ctx.Done()
		stop()
		logger.Info("confabd.shutting_down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if metricsSrv != nil {
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("confabd.metrics_shutdown_failed", "error", err.Error())
			}
		}
		return c.Stop(shutdownCtx)
	},
}
