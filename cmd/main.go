package main

import (
	"os"

	"github.com/dagu-org/sysgenid/internal/build"
	"github.com/dagu-org/sysgenid/internal/cmd"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   build.Slug,
	Short: "sysgenid coordinates system generation changes over D-Bus",
	Long: `sysgenid coordinates system generation changes over D-Bus.

After an event such as a virtual machine snapshot restore, an overseer starts
a new generation. Watchers re-create their generation-bound state and
acknowledge it, and the coordinator announces SystemReady once every tracked
watcher has caught up.
`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(cmd.Serve())
	rootCmd.AddCommand(cmd.Status())
	rootCmd.AddCommand(cmd.Trigger())
	rootCmd.AddCommand(cmd.Oversee())
	rootCmd.AddCommand(cmd.Watch())
	rootCmd.AddCommand(cmd.Version())

	build.Version = version
}

var version = "0.0.0"
