//go:build unix

package signal

import (
	"os"
	"syscall"
)

// See https://pubs.opengroup.org/onlinepubs/9699919799/

var signalMap = map[syscall.Signal]signalInfo{
	syscall.SIGABRT:  {"SIGABRT", true},  // A - Process abort signal
	syscall.SIGHUP:   {"SIGHUP", true},   // T - Hangup
	syscall.SIGINT:   {"SIGINT", true},   // T - Terminal interrupt signal
	syscall.SIGKILL:  {"SIGKILL", true},  // T - Kill (cannot be caught or ignored)
	syscall.SIGPIPE:  {"SIGPIPE", true},  // T - Write on pipe with no one to read it
	syscall.SIGQUIT:  {"SIGQUIT", true},  // A - Terminal quit signal
	syscall.SIGTERM:  {"SIGTERM", true},  // T - Termination signal
	syscall.SIGUSR1:  {"SIGUSR1", true},  // T - User-defined signal 1
	syscall.SIGUSR2:  {"SIGUSR2", true},  // T - User-defined signal 2
	syscall.SIGCHLD:  {"SIGCHLD", false}, // I - Child process terminated, stopped, or continued
	syscall.SIGCONT:  {"SIGCONT", false}, // C - Continue executing, if stopped
	syscall.SIGSTOP:  {"SIGSTOP", false}, // S - Stop executing (cannot be caught or ignored)
	syscall.SIGTSTP:  {"SIGTSTP", false}, // S - Terminal stop signal
	syscall.SIGWINCH: {"SIGWINCH", false},
}

var shutdownSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP}
