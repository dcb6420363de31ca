// Package client talks to a running sysgenid coordinator over the bus.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dagu-org/sysgenid/internal/bus"
	"github.com/dagu-org/sysgenid/internal/common/backoff"
	"github.com/dagu-org/sysgenid/internal/common/config"
	"github.com/dagu-org/sysgenid/internal/common/logger"
	"github.com/dagu-org/sysgenid/internal/common/logger/tag"
	"github.com/dagu-org/sysgenid/internal/coordinator"
	"github.com/dagu-org/sysgenid/internal/core/generation"
	"github.com/godbus/dbus/v5"
)

// ErrStaleAcknowledgement is returned by UpdateWatcher when the coordinator
// moved on before the acknowledgement arrived.
var ErrStaleAcknowledgement = coordinator.ErrStaleAcknowledgement

// Client is a connection to the coordinator object.
type Client struct {
	conn *dbus.Conn
	obj  dbus.BusObject
	cfg  config.Bus
}

type dialOptions struct {
	policy backoff.RetryPolicy
}

// DialOption configures Dial.
type DialOption func(*dialOptions)

// WithRetryPolicy overrides how connection attempts are retried.
func WithRetryPolicy(policy backoff.RetryPolicy) DialOption {
	return func(o *dialOptions) {
		o.policy = policy
	}
}

func defaultRetryPolicy() backoff.RetryPolicy {
	policy := backoff.NewExponentialBackoffPolicy(200 * time.Millisecond)
	policy.MaxRetries = 5
	return policy
}

// Dial connects to the bus selected by cfg, retrying while the bus is not
// reachable yet.
func Dial(ctx context.Context, cfg config.Bus, opts ...DialOption) (*Client, error) {
	o := dialOptions{policy: defaultRetryPolicy()}
	for _, opt := range opts {
		opt(&o)
	}

	var (
		conn    *dbus.Conn
		attempt int
	)
	err := backoff.Retry(ctx, func(ctx context.Context) error {
		attempt++
		var err error
		conn, err = bus.Connect(ctx, cfg)
		if err != nil {
			logger.Warn(ctx, "Bus connection failed",
				tag.Bus(string(cfg.Type)),
				tag.Attempt(attempt),
				tag.Error(err),
			)
		}
		return err
	}, o.policy, nil)
	if err != nil {
		return nil, err
	}
	return New(conn, cfg), nil
}

// New wraps an established connection.
func New(conn *dbus.Conn, cfg config.Bus) *Client {
	return &Client{
		conn: conn,
		obj:  conn.Object(cfg.Name, cfg.ObjectPath()),
		cfg:  cfg,
	}
}

// UniqueName returns the caller identity the coordinator sees for this client.
func (c *Client) UniqueName() string {
	if names := c.conn.Names(); len(names) > 0 {
		return names[0]
	}
	return ""
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Generation returns the current generation.
func (c *Client) Generation(ctx context.Context) (generation.Counter, error) {
	var gen uint32
	if err := c.call(ctx, bus.MethodGetSysGenCounter, []any{&gen}); err != nil {
		return 0, err
	}
	return generation.Counter(gen), nil
}

// OutdatedCount returns the number of watchers that have not acknowledged
// the current generation.
func (c *Client) OutdatedCount(ctx context.Context) (uint32, error) {
	var count uint32
	if err := c.call(ctx, bus.MethodCountOutdatedWatchers, []any{&count}); err != nil {
		return 0, err
	}
	return count, nil
}

// UpdateWatcher acknowledges counter when tracking is true, or stops being
// tracked when it is false. It returns the coordinator's current generation.
func (c *Client) UpdateWatcher(ctx context.Context, tracking bool, counter generation.Counter) (generation.Counter, error) {
	var gen uint32
	if err := c.call(ctx, bus.MethodUpdateWatcher, []any{&gen}, tracking, uint32(counter)); err != nil {
		return 0, err
	}
	return generation.Counter(gen), nil
}

// Trigger asks the coordinator to advance to at least minimum.
func (c *Client) Trigger(ctx context.Context, minimum generation.Counter) error {
	return c.call(ctx, bus.MethodTriggerSysGenUpdate, nil, uint32(minimum))
}

func (c *Client) call(ctx context.Context, method string, out []any, args ...any) error {
	if c.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
	}

	call := c.obj.CallWithContext(ctx, bus.Interface+"."+method, 0, args...)
	if call.Err != nil {
		return translateError(method, call.Err)
	}
	if len(out) > 0 {
		if err := call.Store(out...); err != nil {
			return fmt.Errorf("%s: unexpected reply: %w", method, err)
		}
	}
	return nil
}

// translateError turns D-Bus error replies back into coordinator errors.
func translateError(method string, err error) error {
	derr, ok := asBusError(err)
	if !ok {
		return fmt.Errorf("%s: %w", method, err)
	}
	if derr.Name == bus.ErrorInvalidArgs {
		return fmt.Errorf("%s: %w (%s)", method, ErrStaleAcknowledgement, errorMessage(derr))
	}
	return fmt.Errorf("%s: %s: %s", method, derr.Name, errorMessage(derr))
}

func asBusError(err error) (dbus.Error, bool) {
	var derr dbus.Error
	if errors.As(err, &derr) {
		return derr, true
	}
	var pderr *dbus.Error
	if errors.As(err, &pderr) && pderr != nil {
		return *pderr, true
	}
	return dbus.Error{}, false
}

func errorMessage(derr dbus.Error) string {
	if len(derr.Body) > 0 {
		if msg, ok := derr.Body[0].(string); ok {
			return msg
		}
	}
	return derr.Name
}
