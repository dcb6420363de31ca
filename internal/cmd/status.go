package cmd

import (
	"fmt"

	"github.com/dagu-org/sysgenid/internal/core/generation"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func Status() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "status [flags]",
			Short: "Show the current generation and outdated watchers",
			Long: `Query the coordinator for the system generation counter and the number of
tracked watchers that have not acknowledged it yet.

Example:
  sysgenid status --bus=system
`,
			Args: cobra.NoArgs,
		}, nil, runStatus,
	)
}

var statusHeader = table.Row{
	"Bus Name",
	"Generation",
	"Outdated Watchers",
	"Ready",
}

func runStatus(ctx *Context, _ []string) error {
	cl, err := ctx.Dial()
	if err != nil {
		return err
	}
	defer func() {
		_ = cl.Close()
	}()

	gen, err := cl.Generation(ctx)
	if err != nil {
		return err
	}
	outdated, err := cl.OutdatedCount(ctx)
	if err != nil {
		return err
	}

	fmt.Println(renderStatus(ctx.Config.Bus.Name, gen, outdated))
	return nil
}

func renderStatus(name string, gen generation.Counter, outdated uint32) string {
	t := table.NewWriter()
	t.AppendHeader(statusHeader)
	t.AppendRow(table.Row{
		name,
		uint32(gen),
		outdated,
		outdated == 0,
	})
	return t.Render()
}
