package session

import (
	"github.com/google/uuid"

	"github.com/slproto/slproto/internal/protocol"
)

// Command is an outbound intent from the application. The set is closed:
// SendChat, SendAgentUpdate, RequestObject, RequestTexture, SetThrottle,
// Logout and SendRaw.
type Command interface {
	CommandName() string
	command()
}

// SendChat says something on a chat channel.
type SendChat struct {
	Message string            `json:"message"`
	Channel int32             `json:"channel"`
	Type    protocol.ChatType `json:"type"`
}

// SendAgentUpdate moves the agent or its camera.
type SendAgentUpdate struct {
	Position     protocol.Vector3 `json:"position"`
	CameraAt     protocol.Vector3 `json:"camera_at"`
	CameraEye    protocol.Vector3 `json:"camera_eye"`
	ControlFlags uint32           `json:"control_flags"`
}

// RequestObject asks for a full update of an object by region-local id.
type RequestObject struct {
	LocalID uint32 `json:"local_id"`
}

// RequestTexture asks for texture data by asset id.
type RequestTexture struct {
	TextureID    uuid.UUID `json:"texture_id"`
	DiscardLevel int8      `json:"discard_level"`
	Priority     float32   `json:"priority"`
}

// SetThrottle renegotiates bandwidth: resend, land, wind, cloud, task,
// texture, asset.
type SetThrottle struct {
	Values [7]float32 `json:"values"`
}

// Logout ends the session.
type Logout struct{}

// SendRaw sends a pre-built message as is.
type SendRaw struct {
	Message  protocol.Message
	Reliable bool
}

func (SendChat) CommandName() string        { return "send_chat" }
func (SendAgentUpdate) CommandName() string { return "send_agent_update" }
func (RequestObject) CommandName() string   { return "request_object" }
func (RequestTexture) CommandName() string  { return "request_texture" }
func (SetThrottle) CommandName() string     { return "set_throttle" }
func (Logout) CommandName() string          { return "logout" }
func (SendRaw) CommandName() string         { return "send_raw" }

func (SendChat) command()        {}
func (SendAgentUpdate) command() {}
func (RequestObject) command()   {}
func (RequestTexture) command()  {}
func (SetThrottle) command()     {}
func (Logout) command()          {}
func (SendRaw) command()         {}

// outbound turns a command into the message to send and its reliability.
// Logout is handled by the session and never reaches here.
func (s *Session) outbound(cmd Command) (protocol.Message, bool) {
	agent, session := s.info.AgentID, s.info.SessionID

	switch c := cmd.(type) {
	case SendChat:
		return protocol.ChatFromViewer{
			AgentID:   agent,
			SessionID: session,
			Message:   c.Message,
			Type:      c.Type,
			Channel:   c.Channel,
		}, true

	case SendAgentUpdate:
		return protocol.AgentUpdate{
			AgentID:      agent,
			SessionID:    session,
			Position:     c.Position,
			CameraAt:     c.CameraAt,
			CameraEye:    c.CameraEye,
			ControlFlags: c.ControlFlags,
		}, false

	case RequestObject:
		return protocol.RequestMultipleObjects{
			AgentID:   agent,
			SessionID: session,
			Objects:   []protocol.ObjectRequest{{LocalID: c.LocalID}},
		}, true

	case RequestTexture:
		return protocol.RequestImage{
			AgentID:   agent,
			SessionID: session,
			Images: []protocol.ImageRequest{{
				Image:            c.TextureID,
				DiscardLevel:     c.DiscardLevel,
				DownloadPriority: c.Priority,
			}},
		}, false

	case SetThrottle:
		return protocol.AgentThrottle{
			AgentID:     agent,
			SessionID:   session,
			CircuitCode: s.info.CircuitCode,
			Throttles:   c.Values,
		}, true

	case SendRaw:
		return c.Message, c.Reliable
	}
	return nil, false
}
