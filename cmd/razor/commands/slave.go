package commands

import (
	"github.com/curvedinf/razor/internal/config"
	"github.com/curvedinf/razor/internal/demo"
	"github.com/curvedinf/razor/pkg/logging"
	"github.com/curvedinf/razor/pkg/razor"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func slaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "slave",
		Short: "Run Razor as a slave connecting to a daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.MustLoad(configPath, "slave")
			if err := logging.Init(cfg.Logging.Level, cfg.Logging.Development); err != nil {
				return err
			}
			defer logging.Sync()

			serveMetrics(cfg)

			world := demo.NewWorld()
			engine, err := razor.NewSlave(int(cfg.Port), cfg.DaemonAddress, world, cfg.LogNetworking)
			if err != nil {
				return err
			}
			defer engine.Close()

			logging.Info("razor slave started",
				zap.Uint16("port", cfg.Port),
				zap.String("daemon", cfg.DaemonAddress))
			return runTickLoop(cmd.Context(), engine)
		},
	}
}
