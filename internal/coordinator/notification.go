package coordinator

import (
	"context"
	"fmt"

	"github.com/dagu-org/sysgenid/internal/core/generation"
)

// Kind is the type of an outbound notification. String values match the
// bus signal member names.
type Kind int

const (
	KindNewGeneration Kind = iota + 1
	KindSystemReady
)

func (k Kind) String() string {
	switch k {
	case KindNewGeneration:
		return "NewGeneration"
	case KindSystemReady:
		return "SystemReady"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Notification is a state change the coordinator announces to everyone.
type Notification struct {
	Kind Kind
	// Generation is the generation in effect when the notification was produced.
	Generation generation.Counter
}

// Publisher delivers notifications to the outside world.
//
// Publish is called while the coordinator holds its lock, in the order the
// notifications were produced, so it must not call back into the Coordinator.
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, n Notification) error

// Publish implements Publisher.
func (f PublisherFunc) Publish(ctx context.Context, n Notification) error {
	return f(ctx, n)
}
