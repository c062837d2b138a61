package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/slproto/slproto/internal/events"
	"github.com/slproto/slproto/internal/protocol"
)

// ErrOutOfOrder is returned when a handshake message arrives or is sent in
// a state that does not expect it.
var ErrOutOfOrder = errors.New("handshake message out of order")

// ErrCircuitRejected is returned when the simulator refuses the circuit code.
var ErrCircuitRejected = errors.New("circuit code rejected by simulator")

// Direction says which side produced a message.
type Direction int

const (
	DirInbound Direction = iota
	DirOutbound
)

func (d Direction) String() string {
	if d == DirOutbound {
		return "outbound"
	}
	return "inbound"
}

// OrderError reports a rejected transition. Stale is set when the message
// belongs to a step the machine has already passed.
type OrderError struct {
	State     events.SessionState
	Message   string
	Direction Direction
	Stale     bool
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("%s %s in state %s", e.Direction, e.Message, e.State)
}

func (e *OrderError) Is(target error) bool {
	return target == ErrOutOfOrder
}

type step struct {
	dir  Direction
	from events.SessionState
	to   events.SessionState
}

// handshakeSteps maps each handshake message to the single transition it drives.
var handshakeSteps = map[string]step{
	"UseCircuitCode":        {DirOutbound, events.StateDisconnected, events.StateCircuitRequested},
	"UseCircuitCodeReply":   {DirInbound, events.StateCircuitRequested, events.StateCircuitAccepted},
	"CompleteAgentMovement": {DirOutbound, events.StateCircuitAccepted, events.StateMovementRequested},
	"AgentMovementComplete": {DirInbound, events.StateMovementRequested, events.StateMovementComplete},
	"RegionHandshake":       {DirInbound, events.StateMovementComplete, events.StateRegionHandshakeReceived},
	"RegionHandshakeReply":  {DirOutbound, events.StateRegionHandshakeReceived, events.StateRegionAcknowledged},
	"AgentThrottle":         {DirOutbound, events.StateRegionAcknowledged, events.StateThrottleNegotiated},
	"AgentUpdate":           {DirOutbound, events.StateThrottleNegotiated, events.StateSteadyState},
}

// Transition records one state change.
type Transition struct {
	From events.SessionState
	To   events.SessionState
	At   time.Time
}

// Machine tracks the handshake state. All transitions go through Apply or
// Disconnect; it is safe for concurrent readers.
type Machine struct {
	mu      sync.RWMutex
	state   events.SessionState
	changed time.Time
	history []Transition
}

// NewMachine returns a machine in the Disconnected state.
func NewMachine() *Machine {
	return &Machine{
		state:   events.StateDisconnected,
		changed: time.Now(),
	}
}

// State returns the current state.
func (m *Machine) State() events.SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Since returns when the current state was entered.
func (m *Machine) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.changed
}

// History returns a copy of the recorded transitions.
func (m *Machine) History() []Transition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

// Step is a validated transition that has not been committed yet.
type Step struct {
	From events.SessionState
	To   events.SessionState
}

// Apply feeds a message through the machine. Messages that are not
// handshake steps pass through unchanged. A handshake message that does
// not match the current state yields an *OrderError and leaves the state
// untouched. Once in SteadyState, outbound AgentUpdate and AgentThrottle
// repeat freely.
//
// The returned Transition is non-nil only when the state changed.
func (m *Machine) Apply(dir Direction, msg protocol.Message) (*Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.planLocked(dir, msg)
	if err != nil || st == nil {
		return nil, err
	}
	return m.moveLocked(st.To), nil
}

// Plan checks msg the way Apply does but leaves the state alone. A nil
// Step means msg would not change the state.
func (m *Machine) Plan(dir Direction, msg protocol.Message) (*Step, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.planLocked(dir, msg)
}

// Commit performs a planned step if the machine is still in st.From.
func (m *Machine) Commit(st Step) *Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != st.From {
		return nil
	}
	return m.moveLocked(st.To)
}

func (m *Machine) planLocked(dir Direction, msg protocol.Message) (*Step, error) {
	if dir == DirOutbound {
		if _, ok := msg.(protocol.LogoutRequest); ok {
			return m.stepLocked(events.StateDisconnected), nil
		}
	}

	st, ok := handshakeSteps[msg.Name()]
	if !ok || st.dir != dir {
		return nil, nil
	}

	if m.state == events.StateSteadyState && dir == DirOutbound {
		return nil, nil
	}

	if st.from != m.state {
		return nil, &OrderError{
			State:     m.state,
			Message:   msg.Name(),
			Direction: dir,
			Stale:     st.to <= m.state,
		}
	}

	if reply, ok := msg.(protocol.UseCircuitCodeReply); ok && !reply.Success {
		return nil, ErrCircuitRejected
	}

	return m.stepLocked(st.to), nil
}

func (m *Machine) stepLocked(to events.SessionState) *Step {
	if m.state == to {
		return nil
	}
	return &Step{From: m.state, To: to}
}

// Expects reports whether msg is the handshake step the current state waits for.
func (m *Machine) Expects(dir Direction, msg protocol.Message) bool {
	st, ok := handshakeSteps[msg.Name()]
	if !ok || st.dir != dir {
		return false
	}
	return st.from == m.State()
}

// Disconnect moves to Disconnected from any state.
func (m *Machine) Disconnect() *Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.moveLocked(events.StateDisconnected)
}

func (m *Machine) moveLocked(to events.SessionState) *Transition {
	if m.state == to {
		return nil
	}
	t := Transition{From: m.state, To: to, At: time.Now()}
	m.state = to
	m.changed = t.At
	m.history = append(m.history, t)
	return &t
}
