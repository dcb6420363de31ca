// Package sysgenid puts a coordinator on the message bus: it exports the
// com.RFC.sysgenid object, emits its signals and forgets watchers that leave
// the bus.
package sysgenid

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/dagu-org/sysgenid/internal/bus"
	"github.com/dagu-org/sysgenid/internal/common/config"
	"github.com/dagu-org/sysgenid/internal/common/logger"
	"github.com/dagu-org/sysgenid/internal/common/logger/tag"
	"github.com/dagu-org/sysgenid/internal/coordinator"
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
)

// ErrNameTaken is returned by Start when another process owns the bus name.
var ErrNameTaken = errors.New("bus name already taken")

const signalBuffer = 64

// Conn is the part of *dbus.Conn the service uses.
type Conn interface {
	Export(v any, path dbus.ObjectPath, iface string) error
	RequestName(name string, flags dbus.RequestNameFlags) (dbus.RequestNameReply, error)
	ReleaseName(name string) (dbus.ReleaseNameReply, error)
	Emit(path dbus.ObjectPath, name string, values ...any) error
	AddMatchSignal(options ...dbus.MatchOption) error
	RemoveMatchSignal(options ...dbus.MatchOption) error
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
	Close() error
}

type Service struct {
	conn       Conn
	coord      *coordinator.Coordinator
	cfg        config.Bus
	instanceID string
	signals    chan *dbus.Signal
	wg         sync.WaitGroup

	// For graceful shutdown
	stopCancel context.CancelFunc
}

func NewService(conn Conn, coord *coordinator.Coordinator, cfg config.Bus, instanceID string) *Service {
	return &Service{
		conn:       conn,
		coord:      coord,
		cfg:        cfg,
		instanceID: instanceID,
	}
}

// Start exports the coordinator and requests the bus name. The disconnect
// listener is running before the name is acquired so no departure of a
// watcher can be missed.
func (srv *Service) Start(ctx context.Context) error {
	path := srv.cfg.ObjectPath()
	ctx = logger.WithValues(ctx,
		tag.BusName(srv.cfg.Name),
		tag.ObjectPath(string(path)),
		tag.Instance(srv.instanceID),
	)

	internalCtx, cancel := context.WithCancel(ctx)
	srv.stopCancel = cancel

	handler := NewHandler(internalCtx, srv.coord)
	if err := srv.conn.Export(handler, path, bus.Interface); err != nil {
		cancel()
		return fmt.Errorf("failed to export %s: %w", bus.Interface, err)
	}
	node := introspect.NewIntrospectable(introspectNode(path))
	if err := srv.conn.Export(node, path, "org.freedesktop.DBus.Introspectable"); err != nil {
		cancel()
		return fmt.Errorf("failed to export introspection data: %w", err)
	}

	srv.coord.SetPublisher(newSignalEmitter(srv.conn, path))

	if err := srv.conn.AddMatchSignal(bus.NameOwnerChangedMatch()...); err != nil {
		cancel()
		return fmt.Errorf("failed to watch bus name owners: %w", err)
	}
	srv.signals = make(chan *dbus.Signal, signalBuffer)
	srv.conn.Signal(srv.signals)

	srv.wg.Add(1)
	go func() {
		defer srv.wg.Done()
		srv.watchDepartures(internalCtx)
	}()

	reply, err := srv.conn.RequestName(srv.cfg.Name, dbus.NameFlagDoNotQueue)
	if err != nil {
		_ = srv.Stop(ctx)
		return fmt.Errorf("failed to request bus name %s: %w", srv.cfg.Name, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		_ = srv.Stop(ctx)
		return fmt.Errorf("%w: %s", ErrNameTaken, srv.cfg.Name)
	}

	logger.Info(ctx, "Coordinator is serving on the bus", tag.Bus(string(srv.cfg.Type)))
	return nil
}

// Stop releases the bus name, stops the disconnect listener and closes the
// connection. Notifications produced afterwards are no longer emitted. A
// connection that is already closed has released the name with it and is not
// an error.
func (srv *Service) Stop(ctx context.Context) error {
	srv.coord.SetPublisher(nil)

	var errs []error
	if _, err := srv.conn.ReleaseName(srv.cfg.Name); err != nil && !isClosed(err) {
		errs = append(errs, fmt.Errorf("failed to release bus name: %w", err))
	}

	if srv.signals != nil {
		srv.conn.RemoveSignal(srv.signals)
		_ = srv.conn.RemoveMatchSignal(bus.NameOwnerChangedMatch()...)
	}
	if srv.stopCancel != nil {
		srv.stopCancel()
	}
	srv.wg.Wait()

	if err := srv.conn.Close(); err != nil && !isClosed(err) {
		errs = append(errs, fmt.Errorf("failed to close bus connection: %w", err))
	}

	logger.Info(ctx, "Coordinator left the bus", tag.BusName(srv.cfg.Name))
	return errors.Join(errs...)
}

func isClosed(err error) bool {
	return errors.Is(err, dbus.ErrClosed) || errors.Is(err, net.ErrClosed)
}

func (srv *Service) watchDepartures(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-srv.signals:
			if !ok {
				return
			}
			if name, departed := departedName(sig); departed {
				srv.coord.HandleWatcherDisconnected(ctx, name)
			}
		}
	}
}

// departedName reports the unique name of a client that left the bus. The
// bus announces it as a NameOwnerChanged for the unique name itself, with the
// name as old owner and no new owner.
func departedName(sig *dbus.Signal) (string, bool) {
	if sig == nil || sig.Name != bus.NameOwnerChanged || len(sig.Body) != 3 {
		return "", false
	}
	name, ok1 := sig.Body[0].(string)
	oldOwner, ok2 := sig.Body[1].(string)
	newOwner, ok3 := sig.Body[2].(string)
	if !ok1 || !ok2 || !ok3 {
		return "", false
	}
	if !strings.HasPrefix(name, ":") || name != oldOwner || newOwner != "" {
		return "", false
	}
	return name, true
}
