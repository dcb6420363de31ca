package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type commandLineFlag struct {
	name, shorthand, defaultValue, usage string
	isBool                               bool
	// bindViper is the config key the flag overrides, if any.
	bindViper string
}

var (
	configFlag = commandLineFlag{
		name:      "config",
		shorthand: "c",
		usage:     "config file (default is $XDG_CONFIG_HOME/sysgenid/config.yaml)",
	}
	quietFlag = commandLineFlag{
		name:      "quiet",
		shorthand: "q",
		usage:     "suppress log output on stderr",
		isBool:    true,
	}
	busFlag = commandLineFlag{
		name:      "bus",
		usage:     "bus to connect to: session, system or address",
		bindViper: "bus.type",
	}
	busAddressFlag = commandLineFlag{
		name:      "bus-address",
		usage:     "explicit bus address, e.g. unix:path=/run/dbus/system_bus_socket",
		bindViper: "bus.address",
	}
	metricsFlag = commandLineFlag{
		name:      "metrics",
		usage:     "serve /metrics and /health",
		isBool:    true,
		bindViper: "metrics.enabled",
	}
	metricsPortFlag = commandLineFlag{
		name:      "metrics-port",
		usage:     "port of the metrics server",
		bindViper: "metrics.port",
	}
	minGenFlag = commandLineFlag{
		name:      "min-gen",
		usage:     "minimum value of the new generation",
		bindViper: "overseer.min_gen",
	}
	timeoutFlag = commandLineFlag{
		name:      "timeout",
		usage:     "how long to wait for the system to become ready (0 waits forever)",
		bindViper: "overseer.timeout",
	}
	waitFlag = commandLineFlag{
		name:   "wait",
		usage:  "wait until every watcher has adjusted",
		isBool: true,
	}
	untrackedFlag = commandLineFlag{
		name:   "untracked",
		usage:  "follow generations without being waited for",
		isBool: true,
	}
	onGenerationFlag = commandLineFlag{
		name:      "on-generation",
		usage:     "command to run before acknowledging a new generation",
		bindViper: "watcher.on_generation",
	}
)

// commonFlags are added to every command.
var commonFlags = []commandLineFlag{configFlag, quietFlag, busFlag, busAddressFlag}

func withCommonFlags(flags []commandLineFlag) []commandLineFlag {
	return append(append([]commandLineFlag{}, commonFlags...), flags...)
}

func initFlags(cmd *cobra.Command, additionalFlags ...commandLineFlag) {
	for _, flag := range withCommonFlags(additionalFlags) {
		if flag.isBool {
			cmd.Flags().BoolP(flag.name, flag.shorthand, flag.defaultValue == "true", flag.usage)
		} else {
			cmd.Flags().StringP(flag.name, flag.shorthand, flag.defaultValue, flag.usage)
		}
	}
}

// bindFlags makes flags override the config keys they name. Unset flags
// leave the config file, environment and defaults in charge.
func bindFlags(v *viper.Viper, cmd *cobra.Command, flags []commandLineFlag) error {
	for _, flag := range withCommonFlags(flags) {
		if flag.bindViper == "" {
			continue
		}
		if err := v.BindPFlag(flag.bindViper, cmd.Flags().Lookup(flag.name)); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", flag.name, err)
		}
	}
	return nil
}
