// Package overseer drives a generation change from the outside: quiesce the
// system, trigger the change, wait for every watcher to catch up, resume.
package overseer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dagu-org/sysgenid/internal/client"
	"github.com/dagu-org/sysgenid/internal/common/backoff"
	"github.com/dagu-org/sysgenid/internal/common/config"
	"github.com/dagu-org/sysgenid/internal/common/hook"
	"github.com/dagu-org/sysgenid/internal/common/logger"
	"github.com/dagu-org/sysgenid/internal/common/logger/tag"
	"github.com/dagu-org/sysgenid/internal/coordinator"
	"github.com/dagu-org/sysgenid/internal/core/generation"
)

// ErrReadyTimeout is returned when the watchers did not all acknowledge
// within the configured timeout.
var ErrReadyTimeout = errors.New("timed out waiting for system ready")

const defaultPollInterval = time.Second

// Coordinator is the part of the bus client the overseer uses.
type Coordinator interface {
	Generation(ctx context.Context) (generation.Counter, error)
	OutdatedCount(ctx context.Context) (uint32, error)
	Trigger(ctx context.Context, minimum generation.Counter) error
	Subscribe(ctx context.Context) (<-chan client.Event, func(), error)
}

// Result describes a completed generation change.
type Result struct {
	Generation generation.Counter
	// Waited is the time between the trigger and readiness.
	Waited time.Duration
	// ViaSignal is false when readiness was detected by polling.
	ViaSignal bool
}

type Overseer struct {
	coord     Coordinator
	cfg       config.Overseer
	quiesce   hook.Hook
	unquiesce hook.Hook
	observer  func(State)

	mu    sync.Mutex
	state State
}

// Option configures an Overseer.
type Option func(*Overseer)

// WithObserver registers a function called on every state change.
func WithObserver(fn func(State)) Option {
	return func(o *Overseer) {
		o.observer = fn
	}
}

func New(coord Coordinator, cfg config.Overseer, opts ...Option) *Overseer {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	o := &Overseer{
		coord:     coord,
		cfg:       cfg,
		quiesce:   hook.Hook{Name: "quiesce", Command: cfg.QuiesceCommand},
		unquiesce: hook.Hook{Name: "unquiesce", Command: cfg.UnquiesceCommand},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current phase.
func (o *Overseer) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Overseer) setState(ctx context.Context, s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()

	logger.Debug(ctx, "Overseer state changed", tag.State(s.String()))
	if o.observer != nil {
		o.observer(s)
	}
}

// Run performs one generation change. Once the quiesce hook succeeded the
// unquiesce hook always runs, also when triggering or waiting failed.
func (o *Overseer) Run(ctx context.Context) (Result, error) {
	ctx = logger.WithValues(ctx, tag.MinGeneration(o.cfg.MinGen))

	o.setState(ctx, StateQuiescing)
	if err := o.quiesce.Run(ctx, o.hookEnv(o.quiesce, 0)); err != nil {
		o.setState(ctx, StateReady)
		return Result{}, err
	}
	o.setState(ctx, StateQuiesced)

	res, err := o.adjust(ctx)

	o.setState(ctx, StateUnquiescing)
	// Resuming must not be skipped because the caller gave up waiting.
	unquiesceCtx := context.WithoutCancel(ctx)
	if uerr := o.unquiesce.Run(unquiesceCtx, o.hookEnv(o.unquiesce, res.Generation)); uerr != nil {
		err = errors.Join(err, uerr)
	}
	o.setState(ctx, StateReady)

	if err != nil {
		return res, err
	}
	logger.Info(ctx, "Generation change complete",
		tag.Generation(uint32(res.Generation)),
		tag.Duration(res.Waited),
	)
	return res, nil
}

func (o *Overseer) adjust(ctx context.Context) (Result, error) {
	o.setState(ctx, StateAdjusting)

	// Subscribe first so the readiness signal of our own trigger cannot be
	// missed, including the immediate one when nobody is tracked.
	events, cancel, err := o.coord.Subscribe(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to subscribe: %w", err)
	}
	defer cancel()

	start := time.Now()
	if err := o.coord.Trigger(ctx, generation.Counter(o.cfg.MinGen)); err != nil {
		return Result{}, fmt.Errorf("failed to trigger generation update: %w", err)
	}
	gen, err := o.coord.Generation(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read generation: %w", err)
	}
	logger.Info(ctx, "Generation update triggered, waiting for watchers", tag.Generation(uint32(gen)))

	viaSignal, err := o.waitReady(ctx, events)
	res := Result{Generation: gen, Waited: time.Since(start), ViaSignal: viaSignal}
	if err != nil {
		return res, err
	}
	o.setState(ctx, StateAdjusted)
	return res, nil
}

// waitReady returns once SystemReady arrives or a poll finds no outdated
// watcher. A SystemReady only counts after a NewGeneration was seen, since
// one queued from an earlier generation may precede it.
func (o *Overseer) waitReady(ctx context.Context, events <-chan client.Event) (bool, error) {
	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, o.cfg.Timeout, ErrReadyTimeout)
		defer cancel()
	}

	retrier := backoff.NewRetrier(backoff.NewExponentialBackoffPolicy(o.cfg.PollInterval))
	interval, _ := retrier.Next(nil)
	timer := time.NewTimer(interval)
	defer timer.Stop()

	seenNewGeneration := false
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				// Keep going on polling alone.
				events = nil
				continue
			}
			switch ev.Kind {
			case coordinator.KindNewGeneration:
				seenNewGeneration = true
			case coordinator.KindSystemReady:
				if seenNewGeneration {
					return true, nil
				}
			}

		case <-timer.C:
			count, err := o.coord.OutdatedCount(ctx)
			if err != nil {
				logger.Warn(ctx, "Failed to poll outdated watchers", tag.Error(err))
			} else if count == 0 {
				return false, nil
			} else {
				logger.Debug(ctx, "Waiting for outdated watchers", tag.Outdated(int(count)))
			}
			interval, _ = retrier.Next(nil)
			timer.Reset(interval)

		case <-ctx.Done():
			cause := context.Cause(ctx)
			if errors.Is(cause, ErrReadyTimeout) {
				return false, o.timeoutError(ctx)
			}
			return false, cause
		}
	}
}

func (o *Overseer) timeoutError(ctx context.Context) error {
	countCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if count, err := o.coord.OutdatedCount(countCtx); err == nil {
		return fmt.Errorf("%w after %s: %d watcher(s) outdated", ErrReadyTimeout, o.cfg.Timeout, count)
	}
	return fmt.Errorf("%w after %s", ErrReadyTimeout, o.cfg.Timeout)
}

// hookEnv builds the hook variables. The generation is left out before a
// trigger succeeded.
func (o *Overseer) hookEnv(h hook.Hook, gen generation.Counter) hook.Env {
	env := hook.Env{hook.EnvPhase: h.Name}
	if gen > 0 {
		env[hook.EnvGeneration] = strconv.FormatUint(uint64(gen), 10)
	}
	return env
}
