package session

import "errors"

var ErrClosed = errors.New("session: controller closed")

type State int

const (
	AwaitingConsent State = iota
	Initializing
	Active
	Finalizing
	Closed
)

func (s State) String() string {
	switch s {
	case AwaitingConsent:
		return "awaiting-consent"
	case Initializing:
		return "initializing"
	case Active:
		return "active"
	case Finalizing:
		return "finalizing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// move changes state to "to" if the current state is one of from.
func (c *Controller) move(to State, from ...State) (prev State, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev = c.state
	for _, f := range from {
		if f == prev {
			c.state = to
			return prev, true
		}
	}
	return prev, false
}

// beginInitializing is the consent callback's transition.
func (c *Controller) beginInitializing() bool {
	_, ok := c.move(Initializing, AwaitingConsent)
	return ok
}

// activate runs once the sink handshake succeeded or was abandoned.
func (c *Controller) activate() bool {
	_, ok := c.move(Active, Initializing)
	return ok
}

// beginFinalizing starts teardown. A controller that never got consent goes
// straight to Closed. It reports the state teardown started from.
func (c *Controller) beginFinalizing() (State, bool) {
	if prev, ok := c.move(Closed, AwaitingConsent); ok {
		return prev, true
	}
	return c.move(Finalizing, Initializing, Active)
}

func (c *Controller) finish() bool {
	_, ok := c.move(Closed, Finalizing)
	return ok
}
