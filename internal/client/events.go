package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/dagu-org/sysgenid/internal/bus"
	"github.com/dagu-org/sysgenid/internal/coordinator"
	"github.com/dagu-org/sysgenid/internal/core/generation"
	"github.com/godbus/dbus/v5"
)

const eventBuffer = 16

// Event is a signal received from the coordinator. Generation is only set
// for coordinator.KindNewGeneration.
type Event struct {
	Kind       coordinator.Kind
	Generation generation.Counter
}

func (e Event) String() string {
	if e.Kind == coordinator.KindNewGeneration {
		return fmt.Sprintf("%s(%d)", e.Kind, e.Generation)
	}
	return e.Kind.String()
}

// Subscribe delivers NewGeneration and SystemReady signals until ctx is done
// or the returned cancel function is called. The match rules are installed
// before Subscribe returns, so a call made afterwards cannot race its signal.
func (c *Client) Subscribe(ctx context.Context) (<-chan Event, func(), error) {
	path := c.cfg.ObjectPath()
	members := []string{bus.SignalNewGeneration, bus.SignalSystemReady}

	var added [][]dbus.MatchOption
	for _, member := range members {
		match := append(bus.SignalMatch(path, member), dbus.WithMatchSender(c.cfg.Name))
		if err := c.conn.AddMatchSignal(match...); err != nil {
			for _, m := range added {
				_ = c.conn.RemoveMatchSignal(m...)
			}
			return nil, nil, fmt.Errorf("failed to subscribe to %s: %w", member, err)
		}
		added = append(added, match)
	}

	signals := make(chan *dbus.Signal, eventBuffer)
	c.conn.Signal(signals)

	events := make(chan Event, eventBuffer)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(events)
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case sig := <-signals:
				ev, ok := decodeSignal(path, sig)
				if !ok {
					continue
				}
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				case <-done:
					return
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			wg.Wait()
			c.conn.RemoveSignal(signals)
			for _, m := range added {
				_ = c.conn.RemoveMatchSignal(m...)
			}
		})
	}
	return events, cancel, nil
}

// decodeSignal turns a coordinator signal into an Event. Anything else,
// including signals from other objects on the same connection, is ignored.
func decodeSignal(path dbus.ObjectPath, sig *dbus.Signal) (Event, bool) {
	if sig == nil || sig.Path != path {
		return Event{}, false
	}
	switch sig.Name {
	case bus.Interface + "." + bus.SignalNewGeneration:
		if len(sig.Body) != 1 {
			return Event{}, false
		}
		gen, ok := sig.Body[0].(uint32)
		if !ok {
			return Event{}, false
		}
		return Event{Kind: coordinator.KindNewGeneration, Generation: generation.Counter(gen)}, true
	case bus.Interface + "." + bus.SignalSystemReady:
		return Event{Kind: coordinator.KindSystemReady}, true
	default:
		return Event{}, false
	}
}
