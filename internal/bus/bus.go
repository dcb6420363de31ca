// Package bus holds the D-Bus names of the sysgenid interface and the
// connection helper shared by the service and its clients.
package bus

import (
	"context"
	"fmt"

	"github.com/dagu-org/sysgenid/internal/common/config"
	"github.com/godbus/dbus/v5"
)

const (
	// Interface is the D-Bus interface exported by the coordinator.
	Interface = "com.RFC.sysgenid"
	// DefaultName is the well-known bus name requested by the service.
	DefaultName = "com.RFC.sysgenid"
	// DefaultPath is the object path of the coordinator.
	DefaultPath dbus.ObjectPath = "/com/RFC/sysgenid"

	MethodGetSysGenCounter      = "GetSysGenCounter"
	MethodCountOutdatedWatchers = "CountOutdatedWatchers"
	MethodUpdateWatcher         = "UpdateWatcher"
	MethodTriggerSysGenUpdate   = "TriggerSysGenUpdate"

	SignalNewGeneration = "NewGeneration"
	SignalSystemReady   = "SystemReady"

	// ErrorInvalidArgs and ErrorFailed are the standard D-Bus error names
	// used for rejected calls.
	ErrorInvalidArgs = "org.freedesktop.DBus.Error.InvalidArgs"
	ErrorFailed      = "org.freedesktop.DBus.Error.Failed"
)

// Bus daemon names used to follow clients leaving the bus.
const (
	daemonInterface        = "org.freedesktop.DBus"
	daemonPath             = dbus.ObjectPath("/org/freedesktop/DBus")
	memberNameOwnerChanged = "NameOwnerChanged"
	// NameOwnerChanged is the fully qualified signal name as it appears in
	// dbus.Signal.Name.
	NameOwnerChanged = daemonInterface + "." + memberNameOwnerChanged
)

// NameOwnerChangedMatch returns the match rule for bus name ownership changes.
func NameOwnerChangedMatch() []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchSender(daemonInterface),
		dbus.WithMatchObjectPath(daemonPath),
		dbus.WithMatchInterface(daemonInterface),
		dbus.WithMatchMember(memberNameOwnerChanged),
	}
}

// SignalMatch returns the match rule for one sysgenid signal.
func SignalMatch(path dbus.ObjectPath, member string) []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchObjectPath(path),
		dbus.WithMatchInterface(Interface),
		dbus.WithMatchMember(member),
	}
}

// Connect opens a private connection to the bus selected by cfg. ctx only
// aborts a connection attempt; the connection stays open until it is closed,
// so shutdown can still release names on it.
func Connect(ctx context.Context, cfg config.Bus) (*dbus.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		conn *dbus.Conn
		err  error
	)
	switch cfg.Type {
	case config.BusSession, "":
		conn, err = dbus.ConnectSessionBus()
	case config.BusSystem:
		conn, err = dbus.ConnectSystemBus()
	case config.BusAddress:
		if cfg.Address == "" {
			return nil, fmt.Errorf("bus type %q requires an address", cfg.Type)
		}
		conn, err = dbus.Connect(cfg.Address)
	default:
		return nil, fmt.Errorf("unknown bus type %q", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s bus: %w", cfg.Type, err)
	}
	return conn, nil
}
