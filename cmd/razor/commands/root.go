package commands

import (
	"github.com/spf13/cobra"
)

var configPath string

// Root returns the razor command tree: daemon and slave subcommands sharing
// a --config flag, in the style of dittofs' cobra-based cmd/dittofs tree.
func Root() *cobra.Command {
	root := &cobra.Command{
		Use:   "razor",
		Short: "Razor tick-driven simulation sync daemon/slave harness",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	root.AddCommand(daemonCmd())
	root.AddCommand(slaveCmd())
	return root
}
