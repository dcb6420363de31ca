package watchapp

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dagu-org/sysgenid/internal/client"
	"github.com/dagu-org/sysgenid/internal/common/logger"
	"github.com/dagu-org/sysgenid/internal/common/logger/tag"
	"github.com/dagu-org/sysgenid/internal/coordinator"
	"github.com/dagu-org/sysgenid/internal/core/generation"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBus connects an agent to an in-process coordinator the way the bus
// would: calls carry a fixed unique name and notifications arrive as events.
type fakeBus struct {
	coord  *coordinator.Coordinator
	id     string
	events chan client.Event

	mu sync.Mutex
	// beforeAck runs before each acknowledgement is forwarded.
	beforeAck func()
	acks      int
}

func newFakeBus(id string) *fakeBus {
	b := &fakeBus{
		id:     id,
		events: make(chan client.Event, 64),
	}
	b.coord = coordinator.New(coordinator.WithPublisher(coordinator.PublisherFunc(
		func(_ context.Context, n coordinator.Notification) error {
			b.events <- client.Event{Kind: n.Kind, Generation: n.Generation}
			return nil
		},
	)))
	return b
}

func (b *fakeBus) Generation(context.Context) (generation.Counter, error) {
	return b.coord.Generation(), nil
}

func (b *fakeBus) UpdateWatcher(ctx context.Context, tracking bool, counter generation.Counter) (generation.Counter, error) {
	b.mu.Lock()
	hook := b.beforeAck
	b.beforeAck = nil
	if tracking {
		b.acks++
	}
	b.mu.Unlock()
	if hook != nil {
		hook()
	}
	gen, _, err := b.coord.UpdateWatcher(ctx, b.id, tracking, counter)
	return gen, err
}

func (b *fakeBus) Subscribe(context.Context) (<-chan client.Event, func(), error) {
	return b.events, func() {}, nil
}

func (b *fakeBus) ackCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acks
}

func startAgent(t *testing.T, a *Agent) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- a.Run(ctx)
	}()
	require.Eventually(t, func() bool {
		_, _, ok := a.State()
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	return cancel, done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("agent did not stop")
		return nil
	}
}

func TestAgent_FollowsGenerations(t *testing.T) {
	b := newFakeBus(":1.10")
	a := New(b)

	cancel, done := startAgent(t, a)
	first, gen, _ := a.State()
	assert.Equal(t, generation.Counter(0), gen)
	assert.Equal(t, 1, b.coord.Snapshot().Tracked)

	b.coord.TriggerUpdate(context.Background(), 5)

	require.Eventually(t, func() bool {
		_, gen, _ := a.State()
		return gen == 5 && b.coord.OutdatedCount() == 0
	}, 2*time.Second, 5*time.Millisecond)

	second, _, _ := a.State()
	assert.NotEqual(t, first, second)
	assert.NotEqual(t, uuid.Nil, second)
	assert.Equal(t, uint64(1), b.coord.Snapshot().SystemReadies)

	cancel()
	require.NoError(t, waitRun(t, done))
	assert.Equal(t, 0, b.coord.Snapshot().Tracked)
}

func TestAgent_AdjustLogsCarryContextValues(t *testing.T) {
	b := newFakeBus(":1.16")
	a := New(b)

	var buf bytes.Buffer
	ctx := logger.WithLogger(context.Background(),
		logger.NewLogger(logger.WithQuiet(), logger.WithWriter(&buf), logger.WithFormat("text")))
	ctx = logger.WithValues(ctx, tag.Watcher(b.id), tag.Tracking(true))

	require.NoError(t, a.adjust(ctx, false))

	var adjusted []string
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.Contains(line, "Adjusted to generation") {
			adjusted = append(adjusted, line)
		}
	}
	require.Len(t, adjusted, 1)
	assert.Equal(t, 1, strings.Count(adjusted[0], "tracking="))
	assert.Equal(t, 1, strings.Count(adjusted[0], "watcher="))
	assert.Contains(t, adjusted[0], "generation=0")
}

func TestAgent_RetriesStaleAcknowledgement(t *testing.T) {
	b := newFakeBus(":1.11")
	a := New(b)

	cancel, done := startAgent(t, a)
	defer func() {
		cancel()
		_ = waitRun(t, done)
	}()

	// The generation moves again between the agent's read and its ack.
	b.mu.Lock()
	b.beforeAck = func() {
		b.coord.TriggerUpdate(context.Background(), 0)
	}
	b.mu.Unlock()

	b.coord.TriggerUpdate(context.Background(), 0)

	require.Eventually(t, func() bool {
		_, gen, _ := a.State()
		return gen == 2 && b.coord.OutdatedCount() == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, b.ackCount(), 3)
}

func TestAgent_Untracked(t *testing.T) {
	b := newFakeBus(":1.12")
	a := New(b, WithTracking(false))

	cancel, done := startAgent(t, a)
	assert.Equal(t, 0, b.coord.Snapshot().Tracked)

	b.coord.TriggerUpdate(context.Background(), 0)
	require.Eventually(t, func() bool {
		_, gen, _ := a.State()
		return gen == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, b.ackCount())

	cancel()
	require.NoError(t, waitRun(t, done))
}

func TestAgent_OnGenerationHook(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("hook uses POSIX utilities")
	}

	dir := t.TempDir()
	b := newFakeBus(":1.13")
	a := New(b, WithOnGeneration("touch "+dir+"/gen-${SYSGENID_GENERATION}"))

	cancel, done := startAgent(t, a)
	defer func() {
		cancel()
		_ = waitRun(t, done)
	}()

	// The hook does not run for the generation the agent starts in.
	_, err := os.Stat(filepath.Join(dir, "gen-0"))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	b.coord.TriggerUpdate(context.Background(), 3)
	require.Eventually(t, func() bool {
		_, gen, _ := a.State()
		return gen == 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.FileExists(t, filepath.Join(dir, "gen-3"))
}

func TestAgent_FailingHookDoesNotAcknowledge(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("hook uses POSIX utilities")
	}

	b := newFakeBus(":1.14")
	a := New(b, WithOnGeneration("false"))

	cancel, done := startAgent(t, a)
	defer func() {
		cancel()
		_ = waitRun(t, done)
	}()

	b.coord.TriggerUpdate(context.Background(), 0)

	// Give the agent time to process the event.
	assert.Never(t, func() bool {
		return b.coord.OutdatedCount() == 0
	}, 200*time.Millisecond, 10*time.Millisecond)
	_, gen, _ := a.State()
	assert.Equal(t, generation.Counter(0), gen)
}

func TestAgent_SubscriptionClosed(t *testing.T) {
	b := newFakeBus(":1.15")
	a := New(b)

	cancel, done := startAgent(t, a)
	defer cancel()
	close(b.events)

	assert.ErrorIs(t, waitRun(t, done), ErrSubscriptionClosed)
}
