package sysgenid

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/dagu-org/sysgenid/internal/bus"
	"github.com/dagu-org/sysgenid/internal/common/config"
	"github.com/dagu-org/sysgenid/internal/coordinator"
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emittedSignal struct {
	path   dbus.ObjectPath
	name   string
	values []any
}

type fakeConn struct {
	mu         sync.Mutex
	exported   map[string]any
	requested  []string
	flags      dbus.RequestNameFlags
	reply      dbus.RequestNameReply
	requestErr error
	released   []string
	emitted    []emittedSignal
	matches    int
	signalCh   chan<- *dbus.Signal
	closed     bool
	releaseErr error
	// lifetime, when set, closes the connection once it is done, the way
	// godbus treats dbus.WithContext.
	lifetime context.Context
}

func (c *fakeConn) gone() bool {
	if c.closed {
		return true
	}
	return c.lifetime != nil && c.lifetime.Err() != nil
}

func closedSocketError() error {
	return &net.OpError{Op: "read", Net: "unix", Err: net.ErrClosed}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		exported: make(map[string]any),
		reply:    dbus.RequestNameReplyPrimaryOwner,
	}
}

func (c *fakeConn) Export(v any, _ dbus.ObjectPath, iface string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exported[iface] = v
	return nil
}

func (c *fakeConn) RequestName(name string, flags dbus.RequestNameFlags) (dbus.RequestNameReply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requested = append(c.requested, name)
	c.flags = flags
	return c.reply, c.requestErr
}

func (c *fakeConn) ReleaseName(name string) (dbus.ReleaseNameReply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = append(c.released, name)
	if c.gone() {
		return 0, closedSocketError()
	}
	return dbus.ReleaseNameReplyReleased, c.releaseErr
}

func (c *fakeConn) Emit(path dbus.ObjectPath, name string, values ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitted = append(c.emitted, emittedSignal{path: path, name: name, values: values})
	return nil
}

func (c *fakeConn) AddMatchSignal(...dbus.MatchOption) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.matches++
	return nil
}

func (c *fakeConn) RemoveMatchSignal(...dbus.MatchOption) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.matches--
	return nil
}

func (c *fakeConn) Signal(ch chan<- *dbus.Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signalCh = ch
}

func (c *fakeConn) RemoveSignal(chan<- *dbus.Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signalCh = nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	wasGone := c.gone()
	c.closed = true
	if wasGone {
		return dbus.ErrClosed
	}
	return nil
}

func (c *fakeConn) signals() []emittedSignal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]emittedSignal(nil), c.emitted...)
}

func (c *fakeConn) deliver(t *testing.T, sig *dbus.Signal) {
	t.Helper()
	c.mu.Lock()
	ch := c.signalCh
	c.mu.Unlock()
	require.NotNil(t, ch, "no signal channel registered")
	ch <- sig
}

func testBusConfig() config.Bus {
	return config.Bus{
		Type: config.BusSession,
		Name: bus.DefaultName,
		Path: string(bus.DefaultPath),
	}
}

func ownerChanged(name, oldOwner, newOwner string) *dbus.Signal {
	return &dbus.Signal{
		Sender: "org.freedesktop.DBus",
		Path:   "/org/freedesktop/DBus",
		Name:   bus.NameOwnerChanged,
		Body:   []any{name, oldOwner, newOwner},
	}
}

func TestService_StartStop(t *testing.T) {
	ctx := context.Background()
	conn := newFakeConn()
	coord := coordinator.New()
	srv := NewService(conn, coord, testBusConfig(), "test-instance")

	require.NoError(t, srv.Start(ctx))

	assert.Equal(t, []string{bus.DefaultName}, conn.requested)
	assert.Equal(t, dbus.NameFlagDoNotQueue, conn.flags)
	assert.Equal(t, 1, conn.matches)

	handler, ok := conn.exported[bus.Interface].(*Handler)
	require.True(t, ok, "handler not exported")

	intro, ok := conn.exported["org.freedesktop.DBus.Introspectable"].(introspect.Introspectable)
	require.True(t, ok, "introspection not exported")
	xml, derr := intro.Introspect()
	require.Nil(t, derr)
	assert.Contains(t, xml, `name="com.RFC.sysgenid"`)
	assert.Contains(t, xml, `name="watcher_counter"`)
	assert.Contains(t, xml, `name="SystemReady"`)

	t.Run("SignalsAreEmitted", func(t *testing.T) {
		_, derr := handler.UpdateWatcher(":1.5", true, 0)
		require.Nil(t, derr)
		require.Nil(t, handler.TriggerSysGenUpdate(":1.9", 0))

		sigs := conn.signals()
		require.Len(t, sigs, 1)
		assert.Equal(t, bus.DefaultPath, sigs[0].path)
		assert.Equal(t, "com.RFC.sysgenid.NewGeneration", sigs[0].name)
		assert.Equal(t, []any{uint32(1)}, sigs[0].values)
	})

	t.Run("DepartureMakesSystemReady", func(t *testing.T) {
		conn.deliver(t, ownerChanged(":1.5", ":1.5", ""))

		require.Eventually(t, func() bool {
			return len(conn.signals()) == 2
		}, time.Second, 10*time.Millisecond)

		sigs := conn.signals()
		assert.Equal(t, "com.RFC.sysgenid.SystemReady", sigs[1].name)
		assert.Empty(t, sigs[1].values)
		assert.Equal(t, 0, coord.OutdatedCount())
	})

	require.NoError(t, srv.Stop(ctx))
	assert.Equal(t, []string{bus.DefaultName}, conn.released)
	assert.True(t, conn.closed)
	assert.Equal(t, 0, conn.matches)

	// Nothing is emitted once the service is gone.
	coord.TriggerUpdate(ctx, 0)
	assert.Len(t, conn.signals(), 2)
}

func TestService_StopAfterConnectionClosed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	conn := newFakeConn()
	conn.lifetime = ctx

	srv := NewService(conn, coordinator.New(), testBusConfig(), "test-instance")
	require.NoError(t, srv.Start(ctx))

	// A termination signal cancels the start context before shutdown runs.
	cancel()

	require.NoError(t, srv.Stop(context.Background()))
	assert.Equal(t, []string{bus.DefaultName}, conn.released)
	assert.True(t, conn.closed)
}

func TestService_StopReportsReleaseFailure(t *testing.T) {
	conn := newFakeConn()
	conn.releaseErr = errors.New("access denied")

	srv := NewService(conn, coordinator.New(), testBusConfig(), "test-instance")
	require.NoError(t, srv.Start(context.Background()))

	err := srv.Stop(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to release bus name")
	assert.True(t, conn.closed)
}

func TestService_NameTaken(t *testing.T) {
	conn := newFakeConn()
	conn.reply = dbus.RequestNameReplyExists

	srv := NewService(conn, coordinator.New(), testBusConfig(), "test-instance")
	err := srv.Start(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNameTaken)
	assert.True(t, conn.closed)
}

func TestService_RequestNameError(t *testing.T) {
	conn := newFakeConn()
	conn.requestErr = errors.New("access denied")

	srv := NewService(conn, coordinator.New(), testBusConfig(), "test-instance")
	err := srv.Start(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
	assert.True(t, conn.closed)
}

func TestDepartedName(t *testing.T) {
	tests := []struct {
		name     string
		sig      *dbus.Signal
		wantName string
		wantOK   bool
	}{
		{
			name:     "UniqueNameLeft",
			sig:      ownerChanged(":1.42", ":1.42", ""),
			wantName: ":1.42",
			wantOK:   true,
		},
		{
			name: "UniqueNameJoined",
			sig:  ownerChanged(":1.42", "", ":1.42"),
		},
		{
			name: "WellKnownNameReleased",
			sig:  ownerChanged("org.example.App", ":1.42", ""),
		},
		{
			name: "WellKnownNameMoved",
			sig:  ownerChanged("org.example.App", ":1.42", ":1.43"),
		},
		{
			name: "OtherSignal",
			sig: &dbus.Signal{
				Name: "com.RFC.sysgenid.SystemReady",
				Body: []any{":1.42", ":1.42", ""},
			},
		},
		{
			name: "MalformedBody",
			sig: &dbus.Signal{
				Name: bus.NameOwnerChanged,
				Body: []any{":1.42", uint32(1), ""},
			},
		},
		{
			name: "ShortBody",
			sig: &dbus.Signal{
				Name: bus.NameOwnerChanged,
				Body: []any{":1.42"},
			},
		},
		{
			name: "Nil",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, ok := departedName(tt.sig)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantName, name)
		})
	}
}
