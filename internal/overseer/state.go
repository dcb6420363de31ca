package overseer

import "fmt"

// State is a phase of the overseer workflow. A run always walks the states
// in declaration order and ends back in StateReady.
type State int

const (
	StateReady State = iota
	StateQuiescing
	StateQuiesced
	StateAdjusting
	StateAdjusted
	StateUnquiescing
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "Ready"
	case StateQuiescing:
		return "Quiescing"
	case StateQuiesced:
		return "Quiesced"
	case StateAdjusting:
		return "Adjusting"
	case StateAdjusted:
		return "Adjusted"
	case StateUnquiescing:
		return "Unquiescing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}
