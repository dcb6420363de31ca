package cmd

import (
	"context"
	"os"
	ossignal "os/signal"

	"github.com/dagu-org/sysgenid/internal/common/logger"
	"github.com/dagu-org/sysgenid/internal/common/logger/tag"
	"github.com/dagu-org/sysgenid/internal/signal"
)

// withShutdownSignals returns a context that is cancelled when the process
// receives a termination signal.
func withShutdownSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, signal.ShutdownSignals()...)

	go func() {
		defer ossignal.Stop(sigCh)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigCh:
				logger.Info(ctx, "Received signal", tag.Signal(signal.Name(sig)))
				if signal.IsTerminationSignalOS(sig) {
					cancel()
					return
				}
			}
		}
	}()

	return ctx, cancel
}
