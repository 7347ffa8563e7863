// Package connectivity tracks network reachability and account presence and
// derives whether the queue may be drained right now.
package connectivity

import (
	"sync"

	"go.uber.org/zap"

	"github.com/matheus3301/tpost/internal/bus"
	"github.com/matheus3301/tpost/internal/status"
)

// Change is delivered to subscribers on every state transition.
type Change struct {
	From status.State
	To   status.State
}

// Monitor combines the online and authenticated inputs into the daemon's
// connectivity state.
type Monitor struct {
	mu            sync.Mutex
	online        bool
	authenticated bool
	machine       *status.Machine
	bus           *bus.Bus
	log           *zap.Logger
}

// NewMonitor creates a monitor in the BOOTING state. Nothing is reachable
// until the first SetOnline/SetAuthenticated call.
func NewMonitor(b *bus.Bus, machine *status.Machine, log *zap.Logger) *Monitor {
	return &Monitor{
		machine: machine,
		bus:     b,
		log:     log,
	}
}

// SetOnline records the latest network observation.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online = online
	m.apply()
}

// SetAuthenticated records whether an account is signed in.
func (m *Monitor) SetAuthenticated(authenticated bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authenticated = authenticated
	m.apply()
}

// Online reports the last network observation.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Authenticated reports whether an account is present.
func (m *Monitor) Authenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authenticated
}

// CanSyncNow is online AND authenticated.
func (m *Monitor) CanSyncNow() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online && m.authenticated
}

// State returns the derived connectivity state.
func (m *Monitor) State() status.State {
	return m.machine.Current()
}

// apply must be called with mu held.
func (m *Monitor) apply() {
	want := status.Derive(m.online, m.authenticated)
	if m.machine.Current() == want {
		return
	}
	if err := m.machine.Transition(want); err != nil {
		m.log.Warn("connectivity transition rejected", zap.Error(err))
		return
	}
	m.log.Info("connectivity changed",
		zap.String("state", string(want)),
		zap.Bool("online", m.online),
		zap.Bool("authenticated", m.authenticated),
	)
}

// Subscribe returns a channel of state transitions and a function that
// releases the subscription. The channel is closed after release.
func (m *Monitor) Subscribe(bufSize int) (<-chan Change, func()) {
	events, unsub := m.bus.Subscribe(bus.KindConnectivityChanged, bufSize)
	out := make(chan Change, bufSize)
	done := make(chan struct{})

	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case evt := <-events:
				sc, ok := evt.Payload.(status.StatusChange)
				if !ok {
					continue
				}
				select {
				case out <- Change{From: sc.From, To: sc.To}:
				case <-done:
					return
				}
			}
		}
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() {
			unsub()
			close(done)
		})
	}
}
