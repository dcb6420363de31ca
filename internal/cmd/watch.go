package cmd

import (
	"errors"

	"github.com/dagu-org/sysgenid/internal/common/logger"
	"github.com/dagu-org/sysgenid/internal/common/logger/tag"
	"github.com/dagu-org/sysgenid/internal/watchapp"
	"github.com/spf13/cobra"
)

func Watch() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "watch [flags]",
			Short: "Follow system generations as a watcher",
			Long: `Register with the coordinator and re-adjust after every generation change.

On each NewGeneration the watcher runs the --on-generation command, if any,
regenerates its instance id and acknowledges the new generation. A tracked
watcher holds back SystemReady until it has acknowledged. On exit it
withdraws so it no longer counts as outdated.

Flags:
  --untracked             follow generations without being waited for
  --on-generation string  command to run before acknowledging

Example:
  sysgenid watch --on-generation="systemctl restart rngd"
`,
			Args: cobra.NoArgs,
		}, watchFlags, runWatch,
	)
}

var watchFlags = []commandLineFlag{untrackedFlag, onGenerationFlag}

func runWatch(ctx *Context, _ []string) error {
	untracked, err := ctx.BoolParam("untracked")
	if err != nil {
		return err
	}
	tracking := ctx.Config.Watcher.Tracking && !untracked

	cl, err := ctx.Dial()
	if err != nil {
		return err
	}
	defer func() {
		_ = cl.Close()
	}()

	runCtx, stop := withShutdownSignals(ctx.Context)
	defer stop()

	runCtx = logger.WithValues(runCtx, tag.Watcher(cl.UniqueName()), tag.Tracking(tracking))
	logger.Info(runCtx, "Watching system generations")

	agent := watchapp.New(cl,
		watchapp.WithTracking(tracking),
		watchapp.WithOnGeneration(ctx.Config.Watcher.OnGeneration),
	)
	if err := agent.Run(runCtx); err != nil && !errors.Is(err, runCtx.Err()) {
		return err
	}
	return nil
}
