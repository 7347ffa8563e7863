package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/tpost/internal/bus"
)

// State represents the daemon's connectivity state.
type State string

const (
	Booting      State = "BOOTING"
	Offline      State = "OFFLINE"
	AuthRequired State = "AUTH_REQUIRED"
	Online       State = "ONLINE"
)

// validTransitions defines allowed state transitions. Booting is never
// re-entered.
var validTransitions = map[State][]State{
	Booting:      {Offline, AuthRequired, Online},
	Offline:      {AuthRequired, Online},
	AuthRequired: {Offline, Online},
	Online:       {Offline, AuthRequired},
}

// Derive maps the two observed inputs onto a state. Network loss wins over a
// missing account.
func Derive(online, authenticated bool) State {
	switch {
	case !online:
		return Offline
	case !authenticated:
		return AuthRequired
	default:
		return Online
	}
}

// Machine tracks and enforces daemon connectivity state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Emit(bus.KindConnectivityChanged, StatusChange{From: from, To: to})
	return nil
}

// StatusChange is the payload for connectivity change events.
type StatusChange struct {
	From State
	To   State
}
