// Package status tracks the daemon's connection to the chat backend.
package status

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
)

// State is the daemon's view of its backend session.
type State string

const (
	Booting    State = "BOOTING"
	Connecting State = "CONNECTING"
	SignedOut  State = "SIGNED_OUT"
	Syncing    State = "SYNCING"
	Ready      State = "READY"
	Degraded   State = "DEGRADED"
	Error      State = "ERROR"
)

// ErrInvalidTransition is wrapped by Transition for disallowed moves.
var ErrInvalidTransition = errors.New("invalid state transition")

var validTransitions = map[State][]State{
	Booting:    {Connecting, SignedOut, Error},
	Connecting: {Syncing, SignedOut, Degraded, Error},
	SignedOut:  {Connecting, Error},
	Syncing:    {Ready, Degraded, SignedOut, Error},
	Ready:      {Degraded, SignedOut, Error},
	Degraded:   {Ready, SignedOut, Connecting, Error},
	Error:      {Booting},
}

// Machine enforces state transitions and publishes each change.
type Machine struct {
	mu      sync.RWMutex
	current State
	since   time.Time
	bus     *bus.Bus
}

// NewMachine creates a machine in Booting.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		since:   time.Now(),
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Since returns when the current state was entered.
func (m *Machine) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since
}

// Transition moves to a directly reachable state.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(to)
}

// ReportSuccess moves toward Ready through the intermediate states.
func (m *Machine) ReportSuccess() { m.walk(Ready) }

// ReportUnauthorized moves to SignedOut.
func (m *Machine) ReportUnauthorized() { m.walk(SignedOut) }

// ReportTransient moves to Degraded. A machine still booting or signed out
// stays where it is.
func (m *Machine) ReportTransient() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if slices.Contains(validTransitions[m.current], Degraded) {
		_ = m.transitionLocked(Degraded)
	}
}

// walk follows the shortest allowed path to target. It is a no-op when
// already there or when target is unreachable.
func (m *Machine) walk(target State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, step := range pathTo(m.current, target) {
		if err := m.transitionLocked(step); err != nil {
			return
		}
	}
}

func (m *Machine) transitionLocked(to State) error {
	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, m.current, to)
	}
	from := m.current
	m.current = to
	m.since = time.Now()
	if m.bus != nil {
		m.bus.Emit(bus.StatusChanged, StatusChange{From: from, To: to})
	}
	return nil
}

// pathTo returns the states visited on the shortest path, excluding from.
func pathTo(from, target State) []State {
	if from == target {
		return nil
	}
	prev := map[State]State{from: from}
	queue := []State{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range validTransitions[cur] {
			if _, seen := prev[next]; seen {
				continue
			}
			prev[next] = cur
			if next == target {
				var path []State
				for s := target; s != from; s = prev[s] {
					path = append([]State{s}, path...)
				}
				return path
			}
			queue = append(queue, next)
		}
	}
	return nil
}

// StatusChange is the payload of bus.StatusChanged events.
type StatusChange struct {
	From State `json:"from"`
	To   State `json:"to"`
}
