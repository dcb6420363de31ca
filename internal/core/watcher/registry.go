// Package watcher tracks which bus clients have caught up with the current
// system generation.
//
// A watcher is in one of three states. It is Untracked until its first
// successful acknowledgement, Current while its acknowledged generation
// equals the clock, and Outdated from the moment the clock advances until it
// acknowledges again. The registry reports when the last Outdated watcher
// leaves the outdated set so the caller can announce readiness.
package watcher

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dagu-org/sysgenid/internal/core/generation"
)

// ErrStaleAcknowledgement is returned when a watcher acknowledges a
// generation other than the current one.
var ErrStaleAcknowledgement = errors.New("stale generation acknowledgement")

// ID identifies a watcher. It is the unique bus name of the client.
type ID string

// State is the tracking state of a single watcher.
type State int

const (
	StateUntracked State = iota
	StateCurrent
	StateOutdated
)

func (s State) String() string {
	switch s {
	case StateUntracked:
		return "untracked"
	case StateCurrent:
		return "current"
	case StateOutdated:
		return "outdated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Signal tells the caller whether an operation completed the catch-up of
// the outdated watchers.
type Signal int

const (
	// SignalNone means nothing observable changed for readiness.
	SignalNone Signal = iota
	// SignalBecameReady means the operation removed the last outdated watcher.
	SignalBecameReady
)

// GenerationSource provides the generation acknowledgements are checked against.
type GenerationSource interface {
	Current() generation.Counter
}

// Record is a snapshot of one tracked watcher.
type Record struct {
	ID    ID
	State State
	// Generation is the acknowledged generation. Only set for StateCurrent.
	Generation generation.Counter
}

// InvariantViolation is the panic value used when the registry finds its own
// bookkeeping corrupted. It is a defect, never a runtime condition.
type InvariantViolation struct {
	Watcher ID
	Detail  string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("watcher registry invariant violated for %q: %s", e.Watcher, e.Detail)
}

// Registry holds the tracked-current and outdated sets. It is not safe for
// concurrent use; callers serialize access.
type Registry struct {
	source   GenerationSource
	current  map[ID]generation.Counter // watcher -> acknowledged generation
	outdated map[ID]struct{}
}

// NewRegistry creates an empty registry validating against source.
func NewRegistry(source GenerationSource) *Registry {
	return &Registry{
		source:   source,
		current:  make(map[ID]generation.Counter),
		outdated: make(map[ID]struct{}),
	}
}

// MarkAllOutdated moves every current watcher into the outdated set.
// Watchers that were already outdated stay outdated.
func (r *Registry) MarkAllOutdated() {
	for id := range r.current {
		r.outdated[id] = struct{}{}
	}
	clear(r.current)
}

// Acknowledge records that the watcher has adjusted to gen. It fails with
// ErrStaleAcknowledgement, leaving the registry untouched, if gen is not the
// current generation. Acknowledging twice is a no-op.
func (r *Registry) Acknowledge(id ID, gen generation.Counter) (Signal, error) {
	now := r.source.Current()
	if gen != now {
		return SignalNone, fmt.Errorf("%w: watcher %s sent %d, current generation is %d",
			ErrStaleAcknowledgement, id, gen, now)
	}

	if acked, ok := r.current[id]; ok {
		if acked != now {
			panic(&InvariantViolation{
				Watcher: id,
				Detail:  fmt.Sprintf("current watcher holds generation %d while clock is at %d", acked, now),
			})
		}
		return SignalNone, nil
	}

	r.current[id] = now
	return r.removeOutdated(id), nil
}

// StopTracking forgets the watcher. It is safe to call for unknown ids.
func (r *Registry) StopTracking(id ID) Signal {
	delete(r.current, id)
	return r.removeOutdated(id)
}

func (r *Registry) removeOutdated(id ID) Signal {
	if _, ok := r.outdated[id]; !ok {
		return SignalNone
	}
	delete(r.outdated, id)
	if len(r.outdated) == 0 {
		return SignalBecameReady
	}
	return SignalNone
}

// OutdatedCount returns the number of watchers that still have to acknowledge.
func (r *Registry) OutdatedCount() int {
	return len(r.outdated)
}

// TrackedCount returns the number of current watchers.
func (r *Registry) TrackedCount() int {
	return len(r.current)
}

// State returns the state of a single watcher.
func (r *Registry) State(id ID) State {
	if _, ok := r.current[id]; ok {
		return StateCurrent
	}
	if _, ok := r.outdated[id]; ok {
		return StateOutdated
	}
	return StateUntracked
}

// Watchers returns every tracked watcher ordered by id.
func (r *Registry) Watchers() []Record {
	records := make([]Record, 0, len(r.current)+len(r.outdated))
	for id, gen := range r.current {
		records = append(records, Record{ID: id, State: StateCurrent, Generation: gen})
	}
	for id := range r.outdated {
		records = append(records, Record{ID: id, State: StateOutdated})
	}
	slices.SortFunc(records, func(a, b Record) int {
		return strings.Compare(string(a.ID), string(b.ID))
	})
	return records
}

// CheckInvariants verifies that no watcher is both current and outdated and
// that every current watcher holds the current generation.
func (r *Registry) CheckInvariants() error {
	now := r.source.Current()
	var errs []error
	for id, gen := range r.current {
		if _, ok := r.outdated[id]; ok {
			errs = append(errs, &InvariantViolation{Watcher: id, Detail: "watcher is both current and outdated"})
		}
		if gen != now {
			errs = append(errs, &InvariantViolation{
				Watcher: id,
				Detail:  fmt.Sprintf("current watcher holds generation %d while clock is at %d", gen, now),
			})
		}
	}
	return errors.Join(errs...)
}
