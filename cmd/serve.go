package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"codejanitor/internal/bootstrap/logging"
	"codejanitor/internal/errs"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the background scheduler",
	RunE: withApp(func(cmd *cobra.Command, deps appDeps) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := deps.App.InitSchema(ctx); err != nil {
			logging.Error(ctx, "initialize schema failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "initialize schema")
		}

		addr, _ := cmd.Flags().GetString("addr")
		addr = strings.TrimSpace(addr)
		if addr == "" {
			addr = deps.App.Config.Server.Addr
		}
		noScheduler, _ := cmd.Flags().GetBool("no-scheduler")

		server := &http.Server{
			Addr: addr,
			Handler: newAPIHandler(ctx, deps.Service, apiOptions{
				CORSOrigins:  deps.App.Config.Server.CORSOrigins,
				MetricsRoute: promhttp.Handler(),
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		if !noScheduler {
			if err := deps.Scheduler.Start(ctx); err != nil {
				return errs.Wrap(err, "start scheduler")
			}
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
				defer cancel()
				if err := deps.Scheduler.Stop(stopCtx); err != nil {
					logging.Error(ctx, "scheduler stop failed", slog.Any("err", errs.Loggable(err)))
				}
			}()
		}

		serveErr := make(chan error, 1)
		go func() {
			logging.Info(ctx, "api server started", slog.String("addr", addr), slog.Bool("scheduler", !noScheduler))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
			close(serveErr)
		}()

		select {
		case err := <-serveErr:
			if err != nil {
				logging.Error(ctx, "api server failed", slog.Any("err", errs.Loggable(err)))
				return errs.Wrap(err, "serve api")
			}
			return nil
		case <-ctx.Done():
		}

		logging.Info(ctx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errs.Wrap(err, "shutdown api server")
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "Listen address (defaults to server.addr)")
	serveCmd.Flags().Bool("no-scheduler", false, "Serve the API without the background scheduler")
}
