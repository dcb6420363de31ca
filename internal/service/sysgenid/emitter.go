package sysgenid

import (
	"context"
	"fmt"

	"github.com/dagu-org/sysgenid/internal/bus"
	"github.com/dagu-org/sysgenid/internal/coordinator"
	"github.com/godbus/dbus/v5"
)

var _ coordinator.Publisher = (*signalEmitter)(nil)

type emitter interface {
	Emit(path dbus.ObjectPath, name string, values ...any) error
}

// signalEmitter broadcasts coordinator notifications as bus signals.
type signalEmitter struct {
	conn emitter
	path dbus.ObjectPath
}

func newSignalEmitter(conn emitter, path dbus.ObjectPath) *signalEmitter {
	return &signalEmitter{conn: conn, path: path}
}

// Publish implements coordinator.Publisher.
func (e *signalEmitter) Publish(_ context.Context, n coordinator.Notification) error {
	switch n.Kind {
	case coordinator.KindNewGeneration:
		return e.conn.Emit(e.path, bus.Interface+"."+bus.SignalNewGeneration, uint32(n.Generation))
	case coordinator.KindSystemReady:
		return e.conn.Emit(e.path, bus.Interface+"."+bus.SignalSystemReady)
	default:
		return fmt.Errorf("cannot emit notification of kind %s", n.Kind)
	}
}
