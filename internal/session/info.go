// Package session drives the post-login exchange with a simulator: the
// ordered circuit handshake, the reliable-delivery circuit underneath it,
// and the steady-state command loop.
package session

import (
	"errors"
	"fmt"
	"net"

	"github.com/google/uuid"

	"github.com/slproto/slproto/internal/events"
	"github.com/slproto/slproto/internal/protocol"
)

// Info is what a successful login hands to the session.
type Info struct {
	AgentID         uuid.UUID        `json:"agent_id"`
	SessionID       uuid.UUID        `json:"session_id"`
	SecureSessionID uuid.UUID        `json:"secure_session_id"`
	CircuitCode     uint32           `json:"circuit_code"`
	SimAddr         *net.UDPAddr     `json:"sim_addr"`
	LookAt          protocol.Vector3 `json:"look_at"`
	StartLocation   string           `json:"start_location"`
	FirstName       string           `json:"first_name"`
	LastName        string           `json:"last_name"`
}

// Validate checks the fields the circuit handshake cannot do without.
func (i *Info) Validate() error {
	if i.AgentID == uuid.Nil {
		return errors.New("missing agent id")
	}
	if i.SessionID == uuid.Nil {
		return errors.New("missing session id")
	}
	if i.SimAddr == nil || i.SimAddr.IP == nil || i.SimAddr.IP.IsUnspecified() {
		return fmt.Errorf("invalid simulator address %v", i.SimAddr)
	}
	if i.SimAddr.Port <= 0 || i.SimAddr.Port > 65535 {
		return fmt.Errorf("invalid simulator port %d", i.SimAddr.Port)
	}
	return nil
}

// ErrResendsExhausted is returned when a reliable packet is never acknowledged.
var ErrResendsExhausted = errors.New("reliable packet not acknowledged")

// ErrStepTimeout is returned when a handshake step is not answered in time.
var ErrStepTimeout = errors.New("handshake step timed out")

// SessionError is a session-fatal failure. The session is Disconnected
// after it is returned and a fresh login is required.
type SessionError struct {
	State events.SessionState
	Op    string
	Err   error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session failed in %s during %s: %v", e.State, e.Op, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}
