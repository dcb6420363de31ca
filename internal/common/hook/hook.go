// Package hook runs the optional shell commands configured around
// generation changes.
package hook

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/dagu-org/sysgenid/internal/common/logger"
	"github.com/dagu-org/sysgenid/internal/common/logger/tag"
	"mvdan.cc/sh/v3/shell"
)

// Variables exported to every hook.
const (
	EnvGeneration = "SYSGENID_GENERATION"
	EnvPhase      = "SYSGENID_PHASE"
)

// Env holds extra variables for a hook. They are visible both to the
// expansion of the command line and to the started process.
type Env map[string]string

// Hook is a command line run at a named phase. The command is split and
// expanded with POSIX shell rules but not run through a shell, so pipes and
// redirections need an explicit "sh -c".
type Hook struct {
	Name    string
	Command string
}

// Empty reports whether there is nothing to run.
func (h Hook) Empty() bool {
	return strings.TrimSpace(h.Command) == ""
}

// Run executes the hook and waits for it. Output is captured and logged at
// debug level, and included in the error when the command fails.
func (h Hook) Run(ctx context.Context, env Env) error {
	if h.Empty() {
		return nil
	}

	args, err := shell.Fields(h.Command, func(name string) string {
		if v, ok := env[name]; ok {
			return v
		}
		return os.Getenv(name)
	})
	if err != nil {
		return fmt.Errorf("hook %s: invalid command %q: %w", h.Name, h.Command, err)
	}
	if len(args) == 0 {
		return nil
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = append(os.Environ(), env.list()...)
	cmd.Stdout = &out
	cmd.Stderr = &out

	logger.Info(ctx, "Running hook", tag.Hook(h.Name), tag.Command(h.Command))
	start := time.Now()
	if err := cmd.Run(); err != nil {
		output := strings.TrimSpace(out.String())
		if output == "" {
			return fmt.Errorf("hook %s failed: %w", h.Name, err)
		}
		return fmt.Errorf("hook %s failed: %w: %s", h.Name, err, output)
	}

	logger.Debug(ctx, "Hook finished",
		tag.Hook(h.Name),
		tag.Duration(time.Since(start)),
		"output", strings.TrimSpace(out.String()),
	)
	return nil
}

func (e Env) list() []string {
	keys := slices.Sorted(maps.Keys(e))
	list := make([]string, 0, len(keys))
	for _, k := range keys {
		list = append(list, k+"="+e[k])
	}
	return list
}
