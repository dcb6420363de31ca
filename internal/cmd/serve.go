package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/dagu-org/sysgenid/internal/build"
	"github.com/dagu-org/sysgenid/internal/bus"
	"github.com/dagu-org/sysgenid/internal/common/logger"
	"github.com/dagu-org/sysgenid/internal/common/logger/tag"
	"github.com/dagu-org/sysgenid/internal/coordinator"
	"github.com/dagu-org/sysgenid/internal/metrics"
	"github.com/dagu-org/sysgenid/internal/service/sysgenid"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func Serve() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "serve [flags]",
			Short: "Run the generation coordinator on the bus",
			Long: `Start the com.RFC.sysgenid coordinator.

The coordinator owns the system generation counter. Watchers acknowledge each
generation over the bus; once every tracked watcher has caught up after a
trigger, the coordinator emits SystemReady.

Flags:
  --bus string           session (default), system or address
  --bus-address string   explicit bus address
  --metrics              serve /metrics and /health
  --metrics-port string  port of the metrics server (default: 9464)

Example:
  sysgenid serve --bus=system --metrics
`,
			Args: cobra.NoArgs,
		}, serveFlags, runServe,
	)
}

var serveFlags = []commandLineFlag{metricsFlag, metricsPortFlag}

func runServe(ctx *Context, _ []string) error {
	cfg := ctx.Config

	runCtx, stop := withShutdownSignals(ctx.Context)
	defer stop()

	instanceID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("failed to generate instance id: %w", err)
	}

	conn, err := bus.Connect(ctx, cfg.Bus)
	if err != nil {
		return err
	}

	coord := coordinator.New()
	svc := sysgenid.NewService(conn, coord, cfg.Bus, instanceID.String())
	if err := svc.Start(runCtx); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to start service: %w", err)
	}

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		registry := metrics.NewRegistry(metrics.NewCollector(build.Version, coord))
		metricsServer = metrics.NewServer(cfg.Metrics, build.Version, coord, registry)
		if err := metricsServer.Start(runCtx); err != nil {
			return errors.Join(err, svc.Stop(context.WithoutCancel(runCtx)))
		}
	}

	<-runCtx.Done()
	logger.Info(ctx, "Shutting down", tag.Generation(uint32(coord.Generation())))

	shutdownCtx := context.WithoutCancel(ctx.Context)
	var errs []error
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop metrics server: %w", err))
		}
	}
	if err := svc.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
