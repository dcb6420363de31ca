package sysgenid

import (
	"github.com/dagu-org/sysgenid/internal/bus"
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
)

// introspectNode describes the coordinator object. Argument names are spelled
// out because introspect.Methods cannot recover them from Go signatures.
func introspectNode(path dbus.ObjectPath) *introspect.Node {
	return &introspect.Node{
		Name: string(path),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name: bus.Interface,
				Methods: []introspect.Method{
					{
						Name: bus.MethodGetSysGenCounter,
						Args: []introspect.Arg{
							{Name: "sysgen_counter", Type: "u", Direction: "out"},
						},
					},
					{
						Name: bus.MethodCountOutdatedWatchers,
						Args: []introspect.Arg{
							{Name: "outdated_watchers", Type: "u", Direction: "out"},
						},
					},
					{
						Name: bus.MethodUpdateWatcher,
						Args: []introspect.Arg{
							{Name: "tracking", Type: "b", Direction: "in"},
							{Name: "watcher_counter", Type: "u", Direction: "in"},
							{Name: "sysgen_counter", Type: "u", Direction: "out"},
						},
					},
					{
						Name: bus.MethodTriggerSysGenUpdate,
						Args: []introspect.Arg{
							{Name: "min_gen", Type: "u", Direction: "in"},
						},
					},
				},
				Signals: []introspect.Signal{
					{
						Name: bus.SignalNewGeneration,
						Args: []introspect.Arg{{Name: "sysgen_counter", Type: "u"}},
					},
					{Name: bus.SignalSystemReady},
				},
			},
		},
	}
}
