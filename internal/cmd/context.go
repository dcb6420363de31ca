package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dagu-org/sysgenid/internal/client"
	"github.com/dagu-org/sysgenid/internal/common/config"
	"github.com/dagu-org/sysgenid/internal/common/logger"
	"github.com/dagu-org/sysgenid/internal/common/logger/tag"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Context holds the configuration for a command.
type Context struct {
	context.Context

	Command *cobra.Command
	Flags   []commandLineFlag
	Config  *config.Config
	Quiet   bool

	logFile io.Closer
}

// NewContext loads the configuration with the command's flags applied and
// sets up the logger.
func NewContext(cmd *cobra.Command, flags []commandLineFlag) (*Context, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	v := viper.New()
	if err := bindFlags(v, cmd, flags); err != nil {
		return nil, err
	}

	quiet, err := cmd.Flags().GetBool("quiet")
	if err != nil {
		return nil, fmt.Errorf("failed to get quiet flag: %w", err)
	}

	var loaderOpts []config.ConfigLoaderOption
	if cfgPath, _ := cmd.Flags().GetString("config"); cfgPath != "" {
		loaderOpts = append(loaderOpts, config.WithConfigFile(cfgPath))
	}

	cfg, err := config.NewConfigLoader(v, loaderOpts...).Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	c := &Context{
		Command: cmd,
		Flags:   flags,
		Config:  cfg,
		Quiet:   quiet,
	}

	var opts []logger.Option
	if cfg.Core.Debug {
		opts = append(opts, logger.WithDebug())
	}
	if quiet {
		opts = append(opts, logger.WithQuiet())
	}
	if cfg.Core.LogFormat != "" {
		opts = append(opts, logger.WithFormat(cfg.Core.LogFormat))
	}
	if cfg.Core.LogFile != "" {
		f, err := openLogFile(cfg.Core.LogFile)
		if err != nil {
			return nil, err
		}
		c.logFile = f
		opts = append(opts, logger.WithWriter(f))
	}
	ctx = logger.WithLogger(ctx, logger.NewLogger(opts...))

	// Log any warnings collected during configuration loading
	for _, w := range cfg.Warnings {
		logger.Warn(ctx, w)
	}
	if cfg.Paths.ConfigFileUsed != "" {
		logger.Debug(ctx, "Configuration loaded", tag.File(cfg.Paths.ConfigFileUsed))
	}

	c.Context = config.WithConfig(ctx, cfg)
	return c, nil
}

// Close releases the log file, if any.
func (c *Context) Close() error {
	if c.logFile == nil {
		return nil
	}
	return c.logFile.Close()
}

// BoolParam retrieves a boolean flag.
func (c *Context) BoolParam(name string) (bool, error) {
	val, err := c.Command.Flags().GetBool(name)
	if err != nil {
		return false, fmt.Errorf("failed to get flag %s: %w", name, err)
	}
	return val, nil
}

// Dial connects a client to the configured bus.
func (c *Context) Dial() (*client.Client, error) {
	cl, err := client.Dial(c, c.Config.Bus)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to the coordinator: %w", err)
	}
	return cl, nil
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create log directory for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return f, nil
}

// NewCommand creates a new command instance with the given cobra command and run function.
func NewCommand(cmd *cobra.Command, flags []commandLineFlag, runFunc func(cmd *Context, args []string) error) *cobra.Command {
	initFlags(cmd, flags...)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx, err := NewContext(cmd, flags)
		if err != nil {
			fmt.Printf("Initialization error: %v\n", err)
			os.Exit(1)
		}
		defer func() {
			_ = ctx.Close()
		}()

		if err := runFunc(ctx, args); err != nil {
			logger.Error(ctx.Context, "Command failed", tag.Error(err))
			_ = ctx.Close()
			os.Exit(1)
		}
		return nil
	}

	return cmd
}
