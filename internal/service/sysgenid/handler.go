package sysgenid

import (
	"context"
	"errors"

	"github.com/dagu-org/sysgenid/internal/bus"
	"github.com/dagu-org/sysgenid/internal/common/logger"
	"github.com/dagu-org/sysgenid/internal/common/logger/tag"
	"github.com/dagu-org/sysgenid/internal/coordinator"
	"github.com/dagu-org/sysgenid/internal/core/generation"
	"github.com/godbus/dbus/v5"
)

// Handler is the object exported at the coordinator path. Each exported
// method is one member of the com.RFC.sysgenid interface; godbus fills in the
// dbus.Sender argument with the caller's unique bus name.
type Handler struct {
	// ctx carries the logger; godbus does not pass a context to methods.
	ctx   context.Context
	coord *coordinator.Coordinator
}

// NewHandler creates a Handler serving coord.
func NewHandler(ctx context.Context, coord *coordinator.Coordinator) *Handler {
	return &Handler{ctx: ctx, coord: coord}
}

// GetSysGenCounter returns the current generation.
func (h *Handler) GetSysGenCounter() (uint32, *dbus.Error) {
	return uint32(h.coord.Generation()), nil
}

// CountOutdatedWatchers returns how many watchers still have to acknowledge
// the current generation.
func (h *Handler) CountOutdatedWatchers() (uint32, *dbus.Error) {
	return uint32(h.coord.OutdatedCount()), nil
}

// UpdateWatcher acknowledges counter for the caller when tracking is true,
// and stops tracking the caller otherwise.
func (h *Handler) UpdateWatcher(sender dbus.Sender, tracking bool, counter uint32) (uint32, *dbus.Error) {
	ctx := logger.WithValues(h.ctx, tag.Sender(string(sender)))

	gen, _, err := h.coord.UpdateWatcher(ctx, string(sender), tracking, generation.Counter(counter))
	if err != nil {
		logger.Debug(ctx, "Rejected watcher update",
			tag.Tracking(tracking),
			tag.ObservedGeneration(counter),
			tag.Error(err),
		)
		return 0, busError(err)
	}
	return uint32(gen), nil
}

// TriggerSysGenUpdate advances the generation to at least minGen.
func (h *Handler) TriggerSysGenUpdate(sender dbus.Sender, minGen uint32) *dbus.Error {
	ctx := logger.WithValues(h.ctx, tag.Sender(string(sender)))

	gen, _, err := h.coord.TriggerUpdate(ctx, generation.Counter(minGen))
	if err != nil {
		return busError(err)
	}
	logger.Info(ctx, "Generation update triggered",
		tag.MinGeneration(minGen),
		tag.Generation(uint32(gen)),
	)
	return nil
}

// busError maps coordinator errors to D-Bus error replies.
func busError(err error) *dbus.Error {
	switch {
	case errors.Is(err, coordinator.ErrStaleAcknowledgement):
		return dbus.NewError(bus.ErrorInvalidArgs, []any{err.Error()})
	case errors.Is(err, coordinator.ErrIdentityUnavailable),
		errors.Is(err, coordinator.ErrGenerationExhausted):
		return dbus.NewError(bus.ErrorFailed, []any{err.Error()})
	default:
		return dbus.MakeFailedError(err)
	}
}
