package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/curvedinf/razor/internal/config"
	"github.com/curvedinf/razor/internal/demo"
	"github.com/curvedinf/razor/pkg/logging"
	"github.com/curvedinf/razor/pkg/metrics"
	"github.com/curvedinf/razor/pkg/razor"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// tickRate is the CLI harness's fixed simulation rate. The core itself has
// no opinion on tick rate; this is purely a property of the demo driver.
const tickRate = 60

func daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run Razor as the authoritative daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.MustLoad(configPath, "daemon")
			if err := logging.Init(cfg.Logging.Level, cfg.Logging.Development); err != nil {
				return err
			}
			defer logging.Sync()

			serveMetrics(cfg)

			world := demo.NewWorld()
			engine, err := razor.NewDaemon(int(cfg.Port), world, cfg.LogNetworking)
			if err != nil {
				return err
			}
			defer engine.Close()

			logging.Info("razor daemon started", zap.Uint16("port", cfg.Port))
			return runTickLoop(cmd.Context(), engine)
		},
	}
}

// serveMetrics starts the Prometheus /metrics endpoint if enabled in cfg.
// Both daemon and slave expose it: the slave is the role that populates
// future_time_ms, the protocol's most interesting gauge.
func serveMetrics(cfg *config.Config) {
	if cfg.Metrics.Enabled {
		_ = metrics.Serve(fmt.Sprintf(":%d", cfg.Metrics.Port))
	}
}

// runTickLoop drives Engine.Tick at tickRate until ctx is cancelled, in the
// spirit of dittofs' signal-driven shutdown in cmd/dittofs/commands/start.go.
func runTickLoop(ctx context.Context, engine *razor.Engine) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zeroTime := time.Now()
	ticker := time.NewTicker(time.Second / tickRate)
	defer ticker.Stop()

	var tick uint64
	for {
		select {
		case <-ctx.Done():
			logging.Info("razor shutting down")
			return nil
		case <-ticker.C:
			if err := engine.Tick(tick, zeroTime); err != nil {
				logging.Error("tick error", zap.Error(err))
				if engine.Disconnected() {
					return err
				}
			}
			tick++
		}
	}
}
