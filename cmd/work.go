package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/app"
	"github.com/JakeFAU/review-harvester/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func newWorkCmd() *cobra.Command {
	var (
		once     bool
		itemCap  int
		seedFile string
	)
	cmd := &cobra.Command{
		Use:   "work",
		Short: "Process units from the work queue until it drains",
		Long: `Polls the work queue and harvests one unit at a time. Completed units are
acknowledged; incomplete ones are left on the queue for a later retry.
The command exits when the queue is empty with nothing in flight, or on
SIGINT/SIGTERM after the current unit finishes.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("item-cap") {
				a.Config.Harvest.ItemCap = itemCap
			}
			if seedFile != "" {
				n, err := enqueueFile(cmd.Context(), a, seedFile)
				if err != nil {
					return err
				}
				a.Logger.Info("queue seeded", zap.String("file", seedFile), zap.Int("units", n))
			}
			maxUnits := 0
			if once {
				maxUnits = 1
			}
			return runWorker(cmd.Context(), a, maxUnits)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "process a single unit and exit")
	cmd.Flags().IntVar(&itemCap, "item-cap", 0, "max reviews per unit per run (0 = unlimited; default from config)")
	cmd.Flags().StringVar(&seedFile, "seed", "", "enqueue unit ids from this file before starting")
	return cmd
}

func runWorker(ctx context.Context, a *app.App, maxUnits int) error {
	var exporters []sdktrace.TracerProviderOption
	if a.Config.Telemetry.TracingEnabled {
		opts, err := telemetry.ExporterOptions(a.Config.Telemetry.Exporter, a.Logger.Named("trace"))
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		exporters = opts
	}
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		Enabled:     a.Config.Telemetry.TracingEnabled,
		ServiceName: a.Config.Telemetry.ServiceName,
		WorkerID:    a.WorkerID,
	}, exporters...)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	d, err := a.Dispatcher(ctx, maxUnits)
	if err != nil {
		return err
	}

	if port := a.Config.Server.Port; port > 0 {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           a.StatusServer().Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.Logger.Info("status server started", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.Logger.Error("status server error", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.Logger.Error("status server shutdown error", zap.Error(err))
			}
		}()
	}

	a.Logger.Info("worker started",
		zap.Int("item_cap", a.Config.Harvest.ItemCap),
		zap.Int("max_units", maxUnits),
		zap.Int("pid", os.Getpid()),
	)
	if err := d.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			a.Logger.Info("worker interrupted; exiting")
			return nil
		}
		return fmt.Errorf("run dispatcher: %w", err)
	}
	a.Logger.Info("worker finished")
	return nil
}
