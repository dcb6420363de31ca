// Package watchapp is a watcher that follows the coordinator: it
// acknowledges every generation after re-adjusting to it.
package watchapp

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dagu-org/sysgenid/internal/client"
	"github.com/dagu-org/sysgenid/internal/common/backoff"
	"github.com/dagu-org/sysgenid/internal/common/hook"
	"github.com/dagu-org/sysgenid/internal/common/logger"
	"github.com/dagu-org/sysgenid/internal/common/logger/tag"
	"github.com/dagu-org/sysgenid/internal/coordinator"
	"github.com/dagu-org/sysgenid/internal/core/generation"
	"github.com/google/uuid"
)

// ErrSubscriptionClosed is returned by Run when the signal stream ends while
// the agent is still supposed to run.
var ErrSubscriptionClosed = errors.New("coordinator signal subscription closed")

// EnvInstance carries the agent's instance id to the on-generation hook.
const EnvInstance = "SYSGENID_INSTANCE"

const optOutTimeout = 5 * time.Second

// Coordinator is the part of the bus client the agent uses.
type Coordinator interface {
	Generation(ctx context.Context) (generation.Counter, error)
	UpdateWatcher(ctx context.Context, tracking bool, counter generation.Counter) (generation.Counter, error)
	Subscribe(ctx context.Context) (<-chan client.Event, func(), error)
}

// Agent re-adjusts to every new generation. The instance id stands in for
// state that must not survive an environment change, such as random seeds or
// unique identifiers, and is regenerated each time.
type Agent struct {
	coord    Coordinator
	tracking bool
	hook     hook.Hook
	retry    backoff.RetryPolicy

	mu         sync.Mutex
	instance   uuid.UUID
	generation generation.Counter
	adjusted   bool
}

// Option configures an Agent.
type Option func(*Agent)

// WithTracking controls whether the agent acknowledges generations. An
// untracked agent still follows them but never holds up readiness.
func WithTracking(tracking bool) Option {
	return func(a *Agent) {
		a.tracking = tracking
	}
}

// WithOnGeneration sets a command run after each new generation, before it
// is acknowledged.
func WithOnGeneration(command string) Option {
	return func(a *Agent) {
		a.hook = hook.Hook{Name: "on-generation", Command: command}
	}
}

// WithRetryPolicy sets how stale acknowledgements are retried.
func WithRetryPolicy(policy backoff.RetryPolicy) Option {
	return func(a *Agent) {
		a.retry = policy
	}
}

func New(coord Coordinator, opts ...Option) *Agent {
	retry := backoff.NewConstantBackoffPolicy(50 * time.Millisecond)
	retry.MaxRetries = 10

	a := &Agent{
		coord:    coord,
		tracking: true,
		retry:    retry,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// State returns the current instance id and the generation it belongs to.
// ok is false until the first adjustment completed.
func (a *Agent) State() (instance uuid.UUID, gen generation.Counter, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.instance, a.generation, a.adjusted
}

// Run follows the coordinator until ctx is done. On the way out a tracking
// agent withdraws so it stops counting as outdated.
func (a *Agent) Run(ctx context.Context) error {
	// Subscribe before the first read so a generation change in between is
	// not missed.
	events, cancel, err := a.coord.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer cancel()

	if err := a.adjust(ctx, false); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return a.optOut(ctx)

		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return a.optOut(ctx)
				}
				return ErrSubscriptionClosed
			}
			if ev.Kind != coordinator.KindNewGeneration {
				continue
			}
			drain(events)
			if err := a.adjust(ctx, true); err != nil {
				if ctx.Err() != nil {
					return a.optOut(ctx)
				}
				logger.Error(ctx, "Failed to adjust to new generation",
					tag.Generation(uint32(ev.Generation)),
					tag.Error(err),
				)
			}
		}
	}
}

// adjust re-reads the generation, re-creates generation-bound state and
// acknowledges. A stale acknowledgement means the generation moved again in
// the meantime, so the whole adjustment is repeated.
func (a *Agent) adjust(ctx context.Context, runHook bool) error {
	attempt := 0
	return backoff.Retry(ctx, func(ctx context.Context) error {
		attempt++
		gen, err := a.coord.Generation(ctx)
		if err != nil {
			return fmt.Errorf("failed to read generation: %w", err)
		}

		instance := uuid.New()
		if runHook {
			err := a.hook.Run(ctx, hook.Env{
				hook.EnvGeneration: strconv.FormatUint(uint64(gen), 10),
				hook.EnvPhase:      a.hook.Name,
				EnvInstance:        instance.String(),
			})
			if err != nil {
				return err
			}
		}

		if a.tracking {
			if _, err := a.coord.UpdateWatcher(ctx, true, gen); err != nil {
				if errors.Is(err, client.ErrStaleAcknowledgement) {
					logger.Info(ctx, "Generation moved during adjustment, retrying",
						tag.Generation(uint32(gen)),
						tag.Attempt(attempt),
					)
				}
				return err
			}
		}

		a.mu.Lock()
		a.instance = instance
		a.generation = gen
		a.adjusted = true
		a.mu.Unlock()

		logger.Info(ctx, "Adjusted to generation",
			tag.Generation(uint32(gen)),
			tag.Instance(instance.String()),
		)
		return nil
	}, a.retry, func(err error) bool {
		return errors.Is(err, client.ErrStaleAcknowledgement)
	})
}

func (a *Agent) optOut(ctx context.Context) error {
	if !a.tracking {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), optOutTimeout)
	defer cancel()

	if _, err := a.coord.UpdateWatcher(ctx, false, 0); err != nil {
		return fmt.Errorf("failed to stop tracking: %w", err)
	}
	logger.Info(ctx, "Stopped tracking generations")
	return nil
}

// drain drops queued events; the next adjustment reads the latest generation
// anyway.
func drain(events <-chan client.Event) {
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
