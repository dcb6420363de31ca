// Package generation holds the system generation counter.
package generation

import (
	"errors"
	"fmt"
	"math"
)

// ErrExhausted is returned by Advance when the counter cannot grow any more.
var ErrExhausted = errors.New("generation counter exhausted")

// Counter is a system generation number. It starts at 0 and only grows.
type Counter uint32

// Clock owns the generation counter. It is not safe for concurrent use;
// callers serialize access (see coordinator.Coordinator).
type Clock struct {
	current Counter
}

// NewClock creates a clock at generation 0.
func NewClock() *Clock {
	return &Clock{}
}

// Current returns the current generation.
func (c *Clock) Current() Counter {
	return c.current
}

// Advance moves the clock to max(minimum, current+1) and returns the new value.
// The counter always grows by at least one, whatever minimum is passed. At
// MaxUint32 it returns ErrExhausted and leaves the counter unchanged.
func (c *Clock) Advance(minimum Counter) (Counter, error) {
	if c.current == math.MaxUint32 {
		return c.current, fmt.Errorf("%w at %d", ErrExhausted, c.current)
	}
	c.current = max(minimum, c.current+1)
	return c.current, nil
}
