// Package events defines event types and enumerations for the slproto event system.
package events

import (
	"encoding/json"
	"time"

	"github.com/slproto/slproto/internal/protocol"
)

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Login events
	EventLoginSucceeded EventType = "login_succeeded"
	EventLoginFailed    EventType = "login_failed"

	// Session lifecycle events
	EventStateChanged EventType = "session_state_changed"
	EventSessionError EventType = "session_error"
	EventDisconnected EventType = "session_disconnected"

	// Inbound simulator messages
	EventRegionHandshake    EventType = "region_handshake"
	EventMovementComplete   EventType = "agent_movement_complete"
	EventChat               EventType = "chat_from_simulator"
	EventOnlineNotification EventType = "online_notification"
	EventPing               EventType = "ping"
	EventMessage            EventType = "message_received"

	// System events
	EventConfigChanged EventType = "config_changed"
	EventShutdown      EventType = "shutdown"
)

// SessionState is a step of the post-login handshake. States only move
// forward, except that Disconnected is reachable from any state.
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateCircuitRequested
	StateCircuitAccepted
	StateMovementRequested
	StateMovementComplete
	StateRegionHandshakeReceived
	StateRegionAcknowledged
	StateThrottleNegotiated
	StateSteadyState
)

// sessionStateStrings maps SessionState values to their snake_case JSON representation.
var sessionStateStrings = map[SessionState]string{
	StateDisconnected:            "disconnected",
	StateCircuitRequested:        "circuit_requested",
	StateCircuitAccepted:         "circuit_accepted",
	StateMovementRequested:       "movement_requested",
	StateMovementComplete:        "movement_complete",
	StateRegionHandshakeReceived: "region_handshake_received",
	StateRegionAcknowledged:      "region_acknowledged",
	StateThrottleNegotiated:      "throttle_negotiated",
	StateSteadyState:             "steady_state",
}

// String returns the string representation of SessionState.
func (s SessionState) String() string {
	if str, ok := sessionStateStrings[s]; ok {
		return str
	}
	return "unknown"
}

// MarshalJSON serializes SessionState as a JSON string (e.g. "steady_state").
func (s SessionState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Event represents a single event in the system.
type Event struct {
	Type    EventType   `json:"type"`
	Source  string      `json:"source"`
	Payload interface{} `json:"payload,omitempty"`
}

// LoginPayload describes a finished login attempt.
type LoginPayload struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	LoginURI  string `json:"login_uri"`
	AgentID   string `json:"agent_id,omitempty"`
	SimAddr   string `json:"sim_addr,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// StateChangedPayload is emitted on every handshake transition.
type StateChangedPayload struct {
	From SessionState `json:"from"`
	To   SessionState `json:"to"`
	At   time.Time    `json:"at"`
}

// SessionErrorPayload carries a session-fatal error.
type SessionErrorPayload struct {
	State SessionState
	Err   error
}

func (p SessionErrorPayload) MarshalJSON() ([]byte, error) {
	msg := ""
	if p.Err != nil {
		msg = p.Err.Error()
	}
	return json.Marshal(struct {
		State SessionState `json:"state"`
		Error string       `json:"error"`
	}{p.State, msg})
}

// MessagePayload wraps an inbound message with its envelope data.
type MessagePayload struct {
	Sequence uint32
	Reliable bool
	Message  protocol.Message
}

func (p MessagePayload) MarshalJSON() ([]byte, error) {
	name := ""
	if p.Message != nil {
		name = p.Message.Name()
	}
	return json.Marshal(struct {
		Name     string           `json:"name"`
		Sequence uint32           `json:"sequence"`
		Reliable bool             `json:"reliable"`
		Message  protocol.Message `json:"message"`
	}{name, p.Sequence, p.Reliable, p.Message})
}

// ConfigChangedPayload is emitted when configuration changes occur.
type ConfigChangedPayload struct {
	Section string      `json:"section"`
	Key     string      `json:"key"`
	Value   interface{} `json:"value"`
}
