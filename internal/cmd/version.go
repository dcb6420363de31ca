package cmd

import (
	"fmt"

	"github.com/dagu-org/sysgenid/internal/build"
	"github.com/spf13/cobra"
)

func Version() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Display the binary version",
		Long:  `Print the current version and build details of the sysgenid executable.`,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", build.AppName, build.Version, build.GoVersion())
		},
	}
}
