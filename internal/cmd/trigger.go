package cmd

import (
	"fmt"

	"github.com/dagu-org/sysgenid/internal/common/logger"
	"github.com/dagu-org/sysgenid/internal/common/logger/tag"
	"github.com/dagu-org/sysgenid/internal/core/generation"
	"github.com/dagu-org/sysgenid/internal/overseer"
	"github.com/spf13/cobra"
)

func Trigger() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "trigger [flags]",
			Short: "Start a new system generation",
			Long: `Ask the coordinator to advance the generation counter to
max(min-gen, current+1). Every tracked watcher becomes outdated until it
acknowledges the new generation.

Flags:
  --min-gen uint      minimum value of the new generation (default: 0)
  --wait              block until every tracked watcher has adjusted
  --timeout duration  limit for --wait (default: 30s, 0 waits forever)

Example:
  sysgenid trigger --wait --timeout=10s
`,
			Args: cobra.NoArgs,
		}, triggerFlags, runTrigger,
	)
}

var triggerFlags = []commandLineFlag{minGenFlag, waitFlag, timeoutFlag}

func runTrigger(ctx *Context, _ []string) error {
	wait, err := ctx.BoolParam("wait")
	if err != nil {
		return err
	}

	cl, err := ctx.Dial()
	if err != nil {
		return err
	}
	defer func() {
		_ = cl.Close()
	}()

	if wait {
		// The overseer without hooks is a plain trigger-and-wait.
		cfg := ctx.Config.Overseer
		cfg.QuiesceCommand, cfg.UnquiesceCommand = "", ""

		runCtx, stop := withShutdownSignals(ctx.Context)
		defer stop()

		res, err := overseer.New(cl, cfg).Run(runCtx)
		if err != nil {
			return err
		}
		fmt.Println(uint32(res.Generation))
		return nil
	}

	minimum := generation.Counter(ctx.Config.Overseer.MinGen)
	if err := cl.Trigger(ctx, minimum); err != nil {
		return fmt.Errorf("failed to trigger generation update: %w", err)
	}
	gen, err := cl.Generation(ctx)
	if err != nil {
		return err
	}
	logger.Info(ctx, "Generation triggered",
		tag.MinGeneration(uint32(minimum)),
		tag.Generation(uint32(gen)),
	)
	fmt.Println(uint32(gen))
	return nil
}
