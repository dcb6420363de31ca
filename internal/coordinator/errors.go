package coordinator

import (
	"errors"

	"github.com/dagu-org/sysgenid/internal/core/generation"
	"github.com/dagu-org/sysgenid/internal/core/watcher"
)

var (
	// ErrStaleAcknowledgement is returned when a watcher asks to be tracked
	// with a generation other than the current one. The caller should re-read
	// the generation and retry.
	ErrStaleAcknowledgement = watcher.ErrStaleAcknowledgement

	// ErrIdentityUnavailable is returned when the transport could not tell
	// who made the call.
	ErrIdentityUnavailable = errors.New("caller identity unavailable")

	// ErrGenerationExhausted is returned by TriggerUpdate when the counter is
	// at its maximum value.
	ErrGenerationExhausted = generation.ErrExhausted
)

// InvariantViolation is the panic value raised when the watcher bookkeeping is
// found corrupted. Such a panic is a bug and is not recovered.
type InvariantViolation = watcher.InvariantViolation
