// Package tag provides standardized tag functions for structured logging.
//
// All tag keys use kebab-case naming convention for consistency.
package tag

import (
	"log/slog"
	"time"
)

// Error creates a tag for error objects.
func Error(err any) slog.Attr {
	return slog.Any("err", err)
}

// Generation creates a tag for a system generation counter.
func Generation(gen uint32) slog.Attr {
	return slog.Uint64("generation", uint64(gen))
}

// MinGeneration creates a tag for the minimum generation requested by a trigger.
func MinGeneration(gen uint32) slog.Attr {
	return slog.Uint64("min-gen", uint64(gen))
}

// ObservedGeneration creates a tag for the generation a watcher reported.
func ObservedGeneration(gen uint32) slog.Attr {
	return slog.Uint64("observed-gen", uint64(gen))
}

// Watcher creates a tag for watcher identities (unique bus names).
func Watcher(id string) slog.Attr {
	return slog.String("watcher", id)
}

// Sender creates a tag for the bus sender of a method call.
func Sender(name string) slog.Attr {
	return slog.String("sender", name)
}

// Tracking creates a tag for the tracking flag of an UpdateWatcher call.
func Tracking(v bool) slog.Attr {
	return slog.Bool("tracking", v)
}

// Outdated creates a tag for the number of outdated watchers.
func Outdated(n int) slog.Attr {
	return slog.Int("outdated", n)
}

// Tracked creates a tag for the number of current watchers.
func Tracked(n int) slog.Attr {
	return slog.Int("tracked", n)
}

// Notification creates a tag for outbound notification kinds.
func Notification(kind string) slog.Attr {
	return slog.String("notification", kind)
}

// State creates a tag for state machine states.
func State(s string) slog.Attr {
	return slog.String("state", s)
}

// Bus creates a tag for the bus kind (session, system, address).
func Bus(kind string) slog.Attr {
	return slog.String("bus", kind)
}

// BusName creates a tag for well-known bus names.
func BusName(name string) slog.Attr {
	return slog.String("bus-name", name)
}

// ObjectPath creates a tag for bus object paths.
func ObjectPath(path string) slog.Attr {
	return slog.String("object-path", path)
}

// Addr creates a tag for network addresses (host:port or socket path).
func Addr(addr string) slog.Attr {
	return slog.String("addr", addr)
}

// Command creates a tag for hook commands.
func Command(cmd string) slog.Attr {
	return slog.String("command", cmd)
}

// Hook creates a tag for hook names.
func Hook(name string) slog.Attr {
	return slog.String("hook", name)
}

// Instance creates a tag for process instance identifiers.
func Instance(id string) slog.Attr {
	return slog.String("instance", id)
}

// Signal creates a tag for OS signal names (e.g., SIGTERM).
func Signal(sig string) slog.Attr {
	return slog.String("signal", sig)
}

// Attempt creates a tag for attempt numbers.
func Attempt(n int) slog.Attr {
	return slog.Int("attempt", n)
}

// File creates a tag for file paths.
func File(path string) slog.Attr {
	return slog.String("file", path)
}

// Interval creates a tag for time intervals.
func Interval(d time.Duration) slog.Attr {
	return slog.Duration("interval", d)
}

// Timeout creates a tag for timeout duration values.
func Timeout(d time.Duration) slog.Attr {
	return slog.Duration("timeout", d)
}

// Duration creates a tag for time durations.
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}
