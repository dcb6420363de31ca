// Package signal classifies operating system signals for the long-running
// commands.
package signal

import (
	"os"
	"syscall"
)

type signalInfo struct {
	name          string
	isTermination bool
}

// Name returns the conventional name of sig, such as "SIGTERM".
func Name(sig os.Signal) string {
	if s, ok := sig.(syscall.Signal); ok {
		if info, ok := signalMap[s]; ok {
			return info.name
		}
	}
	return sig.String()
}

// IsTerminationSignalOS reports whether sig asks the process to stop.
func IsTerminationSignalOS(sig os.Signal) bool {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return false
	}
	info, ok := signalMap[s]
	return ok && info.isTermination
}

// ShutdownSignals lists the signals the serve and watch loops listen for.
func ShutdownSignals() []os.Signal {
	return append([]os.Signal(nil), shutdownSignals...)
}
