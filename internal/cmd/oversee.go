package cmd

import (
	"fmt"

	"github.com/dagu-org/sysgenid/internal/common/logger"
	"github.com/dagu-org/sysgenid/internal/common/logger/tag"
	"github.com/dagu-org/sysgenid/internal/overseer"
	"github.com/spf13/cobra"
)

func Oversee() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "oversee [flags]",
			Short: "Quiesce, change generation, wait for readiness and resume",
			Long: `Run one complete generation change:

  1. run overseer.quiesce_command, if configured
  2. trigger a new generation (at least --min-gen)
  3. wait for SystemReady, polling the outdated count as a fallback
  4. run overseer.unquiesce_command, if configured

The unquiesce command runs even when waiting fails or times out. Hooks see
SYSGENID_PHASE and, after the trigger, SYSGENID_GENERATION.

Example:
  sysgenid oversee --min-gen=100 --timeout=1m
`,
			Args: cobra.NoArgs,
		}, overseeFlags, runOversee,
	)
}

var overseeFlags = []commandLineFlag{minGenFlag, timeoutFlag}

func runOversee(ctx *Context, _ []string) error {
	cl, err := ctx.Dial()
	if err != nil {
		return err
	}
	defer func() {
		_ = cl.Close()
	}()

	runCtx, stop := withShutdownSignals(ctx.Context)
	defer stop()

	o := overseer.New(cl, ctx.Config.Overseer, overseer.WithObserver(func(s overseer.State) {
		logger.Debug(ctx, "Overseer state changed", tag.State(s.String()))
	}))

	res, err := o.Run(runCtx)
	if err != nil {
		return err
	}

	detection := "signal"
	if !res.ViaSignal {
		detection = "polling"
	}
	fmt.Printf("generation %d ready after %s (%s)\n", uint32(res.Generation), res.Waited, detection)
	return nil
}
