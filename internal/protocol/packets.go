// Package protocol implements the LLUDP wire codec: the packet envelope
// (flags, sequence number, extra header, tiered message identifier), the
// zerocoding transform, typed field readers and writers, and the closed set
// of session messages exchanged with a simulator.
package protocol

import "github.com/slproto/slproto/internal/template"

// Header flag bits.
const (
	FlagZerocoded byte = 0x80
	FlagReliable  byte = 0x40
	FlagResent    byte = 0x20
	FlagAck       byte = 0x10
)

// HeaderSize is the fixed part of the envelope: flags, sequence, extra size.
const HeaderSize = 6

// MaxPacketSize bounds a single datagram.
const MaxPacketSize = 8192

// MaxAppendedAcks is the most acks one packet can carry in its trailer.
const MaxAppendedAcks = 255

// Frequency is the message identifier tier.
type Frequency = template.Frequency

// Key identifies a message on the wire by tier and identifier.
type Key = template.Key

const (
	FrequencyHigh   = template.FrequencyHigh
	FrequencyMedium = template.FrequencyMedium
	FrequencyLow    = template.FrequencyLow
	FrequencyFixed  = template.FrequencyFixed
)

// Message identifiers within their tier.
const (
	IDStartPingCheck         uint32 = 1
	IDCompletePingCheck      uint32 = 2
	IDAgentUpdate            uint32 = 4
	IDRequestImage           uint32 = 8
	IDRequestMultipleObjects uint32 = 3 // Medium
	IDRegionHandshake        uint32 = 1 // Low
	IDRegionHandshakeHigh    uint32 = 0
	IDRegionHandshakeLegacy  uint32 = 148
	IDUseCircuitCode         uint32 = 3
	IDChatFromViewer         uint32 = 80
	IDAgentThrottle          uint32 = 81
	IDChatFromSimulator      uint32 = 139
	IDRegionHandshakeReply   uint32 = 149
	IDUseCircuitCodeReply    uint32 = 150
	IDCompleteAgentMovement  uint32 = 249
	IDAgentMovementComplete  uint32 = 250
	IDLogoutRequest          uint32 = 252
	IDOnlineNotification     uint32 = 322
	IDPacketAck              uint32 = 0xFFFFFFFB
)

// DefaultThrottle is the bandwidth allocation (bits per second) sent in
// AgentThrottle: resend, land, wind, cloud, task, texture, asset.
var DefaultThrottle = [7]float32{
	207360,
	165376,
	33075.19921875,
	33075.19921875,
	682700.75,
	682700.75,
	269312,
}
