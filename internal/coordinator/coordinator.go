// Package coordinator serializes generation triggers, watcher
// acknowledgements and disconnects into atomic transitions over the
// generation clock and the watcher registry.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/dagu-org/sysgenid/internal/common/logger"
	"github.com/dagu-org/sysgenid/internal/common/logger/tag"
	"github.com/dagu-org/sysgenid/internal/core/generation"
	"github.com/dagu-org/sysgenid/internal/core/watcher"
)

// Coordinator is the single owner of the generation state. All methods are
// safe for concurrent use; each one runs as one atomic step.
type Coordinator struct {
	mu        sync.Mutex
	clock     *generation.Clock
	registry  *watcher.Registry
	publisher Publisher
	now       func() time.Time
	stats     stats
}

type stats struct {
	newGenerations uint64
	systemReadies  uint64
	lastTrigger    time.Time
	lastReady      time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPublisher sets where notifications are delivered.
func WithPublisher(p Publisher) Option {
	return func(c *Coordinator) {
		c.publisher = p
	}
}

// WithNow overrides the time source used for snapshot timestamps.
func WithNow(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// New creates a coordinator at generation 0 with no watchers.
func New(opts ...Option) *Coordinator {
	clock := generation.NewClock()
	c := &Coordinator{
		clock:    clock,
		registry: watcher.NewRegistry(clock),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetPublisher replaces the publisher. The transport uses it once it is
// ready to emit.
func (c *Coordinator) SetPublisher(p Publisher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publisher = p
}

// Generation returns the current generation.
func (c *Coordinator) Generation() generation.Counter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clock.Current()
}

// OutdatedCount returns the number of watchers that have not yet
// acknowledged the current generation.
func (c *Coordinator) OutdatedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.OutdatedCount()
}

// TriggerUpdate advances the generation to at least minimum and marks every
// tracked watcher outdated. It always announces the new generation, and also
// announces readiness right away when nobody is left to wait for. Once the
// counter is exhausted it returns ErrGenerationExhausted and changes nothing.
func (c *Coordinator) TriggerUpdate(ctx context.Context, minimum generation.Counter) (generation.Counter, []Notification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	gen, err := c.clock.Advance(minimum)
	if err != nil {
		logger.Warn(ctx, "Generation cannot advance",
			tag.Generation(uint32(gen)),
			tag.MinGeneration(uint32(minimum)),
		)
		return gen, nil, err
	}
	c.registry.MarkAllOutdated()
	outdated := c.registry.OutdatedCount()

	logger.Info(ctx, "Generation advanced",
		tag.Generation(uint32(gen)),
		tag.MinGeneration(uint32(minimum)),
		tag.Outdated(outdated),
	)

	notes := []Notification{{Kind: KindNewGeneration, Generation: gen}}
	if outdated == 0 {
		notes = append(notes, Notification{Kind: KindSystemReady, Generation: gen})
	}
	c.publish(ctx, notes)
	return gen, notes, nil
}

// UpdateWatcher acknowledges observed for callerID when tracking is true, or
// stops tracking callerID when it is false (observed is then ignored). It
// returns the current generation on success.
func (c *Coordinator) UpdateWatcher(ctx context.Context, callerID string, tracking bool, observed generation.Counter) (generation.Counter, []Notification, error) {
	if callerID == "" {
		return 0, nil, ErrIdentityUnavailable
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	id := watcher.ID(callerID)
	var sig watcher.Signal
	if tracking {
		var err error
		sig, err = c.registry.Acknowledge(id, observed)
		if err != nil {
			return 0, nil, err
		}
		logger.Debug(ctx, "Watcher acknowledged generation",
			tag.Watcher(callerID),
			tag.Generation(uint32(observed)),
		)
	} else {
		sig = c.registry.StopTracking(id)
		logger.Debug(ctx, "Watcher stopped tracking", tag.Watcher(callerID))
	}

	notes := c.readiness(ctx, sig)
	return c.clock.Current(), notes, nil
}

// HandleWatcherDisconnected forgets a watcher that left the bus. It is the
// transport-driven equivalent of UpdateWatcher(id, false, 0).
func (c *Coordinator) HandleWatcherDisconnected(ctx context.Context, id string) []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := c.registry.State(watcher.ID(id))
	sig := c.registry.StopTracking(watcher.ID(id))
	if state != watcher.StateUntracked {
		logger.Info(ctx, "Tracked watcher disconnected",
			tag.Watcher(id),
			tag.State(state.String()),
		)
	}
	return c.readiness(ctx, sig)
}

// readiness turns a registry signal into notifications. Must hold c.mu.
func (c *Coordinator) readiness(ctx context.Context, sig watcher.Signal) []Notification {
	if sig != watcher.SignalBecameReady {
		return nil
	}
	gen := c.clock.Current()
	logger.Info(ctx, "All watchers adjusted, system ready", tag.Generation(uint32(gen)))

	notes := []Notification{{Kind: KindSystemReady, Generation: gen}}
	c.publish(ctx, notes)
	return notes
}

// publish records and delivers notifications. Must hold c.mu, which keeps
// delivery ordered with the state change that produced it.
func (c *Coordinator) publish(ctx context.Context, notes []Notification) {
	now := c.now()
	for _, n := range notes {
		switch n.Kind {
		case KindNewGeneration:
			c.stats.newGenerations++
			c.stats.lastTrigger = now
		case KindSystemReady:
			c.stats.systemReadies++
			c.stats.lastReady = now
		}

		if c.publisher == nil {
			continue
		}
		if err := c.publisher.Publish(ctx, n); err != nil {
			logger.Error(ctx, "Failed to publish notification",
				tag.Notification(n.Kind.String()),
				tag.Generation(uint32(n.Generation)),
				tag.Error(err),
			)
		}
	}
}

// Snapshot is a consistent view of the coordinator state.
type Snapshot struct {
	Generation generation.Counter
	Tracked    int
	Outdated   int
	Watchers   []watcher.Record
	// Ready is true when no watcher is outdated.
	Ready          bool
	NewGenerations uint64
	SystemReadies  uint64
	LastTrigger    time.Time
	LastReady      time.Time
}

// Snapshot returns the current state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	outdated := c.registry.OutdatedCount()
	return Snapshot{
		Generation:     c.clock.Current(),
		Tracked:        c.registry.TrackedCount(),
		Outdated:       outdated,
		Watchers:       c.registry.Watchers(),
		Ready:          outdated == 0,
		NewGenerations: c.stats.newGenerations,
		SystemReadies:  c.stats.systemReadies,
		LastTrigger:    c.stats.lastTrigger,
		LastReady:      c.stats.lastReady,
	}
}
