package sysgenid

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/dagu-org/sysgenid/internal/bus"
	"github.com/dagu-org/sysgenid/internal/coordinator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T) (*Handler, *coordinator.Coordinator, *[]coordinator.Notification) {
	t.Helper()
	var notes []coordinator.Notification
	coord := coordinator.New(coordinator.WithPublisher(coordinator.PublisherFunc(
		func(_ context.Context, n coordinator.Notification) error {
			notes = append(notes, n)
			return nil
		},
	)))
	return NewHandler(context.Background(), coord), coord, &notes
}

func TestHandler_Counters(t *testing.T) {
	h, coord, _ := newTestHandler(t)

	gen, derr := h.GetSysGenCounter()
	require.Nil(t, derr)
	assert.Equal(t, uint32(0), gen)

	_, derr = h.UpdateWatcher(":1.1", true, 0)
	require.Nil(t, derr)
	_, derr = h.UpdateWatcher(":1.2", true, 0)
	require.Nil(t, derr)
	require.Nil(t, h.TriggerSysGenUpdate(":1.3", 10))

	gen, derr = h.GetSysGenCounter()
	require.Nil(t, derr)
	assert.Equal(t, uint32(10), gen)

	count, derr := h.CountOutdatedWatchers()
	require.Nil(t, derr)
	assert.Equal(t, uint32(2), count)
	assert.Equal(t, 2, coord.OutdatedCount())
}

func TestHandler_UpdateWatcher(t *testing.T) {
	h, _, notes := newTestHandler(t)

	_, derr := h.UpdateWatcher(":1.1", true, 0)
	require.Nil(t, derr)
	require.Nil(t, h.TriggerSysGenUpdate(":1.9", 0))
	*notes = nil

	t.Run("StaleIsInvalidArgs", func(t *testing.T) {
		_, derr := h.UpdateWatcher(":1.1", true, 0)
		require.NotNil(t, derr)
		assert.Equal(t, bus.ErrorInvalidArgs, derr.Name)
		assert.Empty(t, *notes)
	})

	t.Run("AcknowledgeReturnsGeneration", func(t *testing.T) {
		gen, derr := h.UpdateWatcher(":1.1", true, 1)
		require.Nil(t, derr)
		assert.Equal(t, uint32(1), gen)
		require.Len(t, *notes, 1)
		assert.Equal(t, coordinator.KindSystemReady, (*notes)[0].Kind)
	})

	t.Run("OptOutIgnoresCounter", func(t *testing.T) {
		gen, derr := h.UpdateWatcher(":1.1", false, 12345)
		require.Nil(t, derr)
		assert.Equal(t, uint32(1), gen)
	})

	t.Run("MissingSenderFails", func(t *testing.T) {
		_, derr := h.UpdateWatcher("", true, 1)
		require.NotNil(t, derr)
		assert.Equal(t, bus.ErrorFailed, derr.Name)
	})
}

func TestHandler_TriggerAtMaximumGeneration(t *testing.T) {
	h, coord, notes := newTestHandler(t)

	_, derr := h.UpdateWatcher(":1.1", true, 0)
	require.Nil(t, derr)
	require.Nil(t, h.TriggerSysGenUpdate(":1.9", math.MaxUint32))
	_, derr = h.UpdateWatcher(":1.1", true, math.MaxUint32)
	require.Nil(t, derr)
	*notes = nil

	// The counter cannot grow any further; callers get an error reply and
	// the service keeps serving.
	for _, minGen := range []uint32{0, math.MaxUint32} {
		derr = h.TriggerSysGenUpdate(":1.9", minGen)
		require.NotNil(t, derr)
		assert.Equal(t, bus.ErrorFailed, derr.Name)
	}
	assert.Empty(t, *notes)

	gen, derr := h.GetSysGenCounter()
	require.Nil(t, derr)
	assert.Equal(t, uint32(math.MaxUint32), gen)
	assert.Equal(t, 0, coord.OutdatedCount())

	gen, derr = h.UpdateWatcher(":1.1", true, math.MaxUint32)
	require.Nil(t, derr)
	assert.Equal(t, uint32(math.MaxUint32), gen)
}

func TestBusError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "Stale",
			err:  fmt.Errorf("%w: watcher :1.1 sent 0, current generation is 1", coordinator.ErrStaleAcknowledgement),
			want: bus.ErrorInvalidArgs,
		},
		{
			name: "IdentityUnavailable",
			err:  coordinator.ErrIdentityUnavailable,
			want: bus.ErrorFailed,
		},
		{
			name: "GenerationExhausted",
			err:  fmt.Errorf("%w at 4294967295", coordinator.ErrGenerationExhausted),
			want: bus.ErrorFailed,
		},
		{
			name: "Other",
			err:  errors.New("boom"),
			want: bus.ErrorFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			derr := busError(tt.err)
			require.NotNil(t, derr)
			assert.Equal(t, tt.want, derr.Name)
			assert.Equal(t, []any{tt.err.Error()}, derr.Body)
		})
	}
}

func TestSignalEmitter_UnknownKind(t *testing.T) {
	e := newSignalEmitter(newFakeConn(), bus.DefaultPath)
	err := e.Publish(context.Background(), coordinator.Notification{Kind: coordinator.Kind(99)})
	require.Error(t, err)
}
