package execution

import (
	"fmt"
	"time"
)

// State is a pipeline stage.
type State string

const (
	StateIdle           State = "IDLE"
	StateQuoteRequested State = "QUOTE_REQUESTED"
	StateQuoteReady     State = "QUOTE_READY"
	StateBuildRequested State = "BUILD_REQUESTED"
	StateSignRequested  State = "SIGN_REQUESTED"
	StateBroadcast      State = "BROADCAST"
	StateConfirming     State = "CONFIRMING"
	StateConfirmed      State = "CONFIRMED"
	StateFailed         State = "FAILED"
	StateUnknown        State = "UNKNOWN"
)

// transitions lists legal edges. FAILED may still lead to CONFIRMED when the
// pre-retry lookup finds the outcome landed after all.
var transitions = map[State][]State{
	StateIdle:           {StateQuoteRequested, StateFailed},
	StateQuoteRequested: {StateQuoteReady, StateFailed},
	StateQuoteReady:     {StateBuildRequested, StateFailed},
	StateBuildRequested: {StateSignRequested, StateFailed},
	StateSignRequested:  {StateBroadcast, StateFailed},
	StateBroadcast:      {StateConfirming, StateFailed},
	StateConfirming:     {StateConfirmed, StateFailed, StateUnknown},
	StateFailed:         {StateQuoteRequested, StateBuildRequested, StateConfirmed},
	StateUnknown:        {StateConfirmed, StateFailed, StateQuoteRequested, StateBuildRequested},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s ends an attempt. FAILED and UNKNOWN are
// terminal for a single pass but may be re-entered by a retry.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateFailed || s == StateUnknown
}

// machine tracks the current state and accumulates time spent per stage.
type machine struct {
	state   State
	entered time.Time
	clock   func() time.Time
	stages  map[State]time.Duration
	path    []State
}

func newMachine(clock func() time.Time) *machine {
	return &machine{
		state:   StateIdle,
		entered: clock(),
		clock:   clock,
		stages:  make(map[State]time.Duration),
		path:    []State{StateIdle},
	}
}

func (m *machine) to(next State) error {
	if !CanTransition(m.state, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, next)
	}
	now := m.clock()
	m.stages[m.state] += now.Sub(m.entered)
	m.state = next
	m.entered = now
	m.path = append(m.path, next)
	return nil
}

func (m *machine) current() State { return m.state }

func (m *machine) durations() map[State]time.Duration {
	out := make(map[State]time.Duration, len(m.stages))
	for k, v := range m.stages {
		if k == StateIdle {
			continue
		}
		out[k] = v
	}
	return out
}
