package hr

import (
	"errors"
	"fmt"
	"sync"
)

// Phase is the sensor session phase.
type Phase int

const (
	Disconnected Phase = iota
	Connecting
	Connected
)

func (p Phase) String() string {
	switch p {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// ErrInvalidTransition is returned for a phase change the session does not allow.
var ErrInvalidTransition = errors.New("invalid phase transition")

var transitions = map[Phase][]Phase{
	Disconnected: {Connecting},
	Connecting:   {Connected, Disconnected},
	Connected:    {Disconnected},
}

// Machine guards the Disconnected → Connecting → Connected → Disconnected cycle.
type Machine struct {
	mu    sync.Mutex
	phase Phase
}

// NewMachine starts in Disconnected.
func NewMachine() *Machine {
	return &Machine{phase: Disconnected}
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Transition moves to next or returns ErrInvalidTransition.
func (m *Machine) Transition(next Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, allowed := range transitions[m.phase] {
		if allowed == next {
			m.phase = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.phase, next)
}

// TransitionFrom moves to next only if the machine is currently in from.
// It is the compare-and-swap used to admit a single in-flight connection.
func (m *Machine) TransitionFrom(from, next Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != from {
		return fmt.Errorf("%w: %s -> %s (expected %s)", ErrInvalidTransition, m.phase, next, from)
	}
	for _, allowed := range transitions[from] {
		if allowed == next {
			m.phase = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next)
}
