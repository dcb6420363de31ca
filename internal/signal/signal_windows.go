//go:build windows

package signal

import (
	"os"
	"syscall"
)

var signalMap = map[syscall.Signal]signalInfo{
	syscall.SIGABRT: {"SIGABRT", true},
	syscall.SIGHUP:  {"SIGHUP", true},
	syscall.SIGINT:  {"SIGINT", true},
	syscall.SIGKILL: {"SIGKILL", true},
	syscall.SIGTERM: {"SIGTERM", true},
}

var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}
