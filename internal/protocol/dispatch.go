package protocol

import (
	"fmt"
	"sync"

	"github.com/slproto/slproto/internal/template"
)

type decodeFunc func(r *PacketReader) (Message, error)

// decoders maps template message names to payload decoders.
var decoders = map[string]decodeFunc{
	"UseCircuitCode":         decodeUseCircuitCode,
	"UseCircuitCodeReply":    decodeUseCircuitCodeReply,
	"CompleteAgentMovement":  decodeCompleteAgentMovement,
	"AgentMovementComplete":  decodeAgentMovementComplete,
	"RegionHandshake":        decodeRegionHandshake,
	"RegionHandshakeReply":   decodeRegionHandshakeReply,
	"AgentThrottle":          decodeAgentThrottle,
	"AgentUpdate":            decodeAgentUpdate,
	"PacketAck":              decodePacketAck,
	"ChatFromViewer":         decodeChatFromViewer,
	"ChatFromSimulator":      decodeChatFromSimulator,
	"StartPingCheck":         decodeStartPingCheck,
	"CompletePingCheck":      decodeCompletePingCheck,
	"OnlineNotification":     decodeOnlineNotification,
	"LogoutRequest":          decodeLogoutRequest,
	"RequestMultipleObjects": decodeRequestMultipleObjects,
	"RequestImage":           decodeRequestImage,
}

// regionHandshakeAliases are extra keys simulators have used for
// RegionHandshake.
var regionHandshakeAliases = []Key{
	{Frequency: FrequencyHigh, ID: IDRegionHandshakeHigh},
	{Frequency: FrequencyLow, ID: IDRegionHandshakeLegacy},
}

type dispatchTable struct {
	byKey     map[Key]decodeFunc
	zerocoded map[Key]bool
}

var (
	dispatchOnce sync.Once
	dispatch     *dispatchTable
	dispatchErr  error
)

// table resolves the decoder map against the bundled template once.
func table() (*dispatchTable, error) {
	dispatchOnce.Do(func() {
		reg, err := template.Default()
		if err != nil {
			dispatchErr = err
			return
		}
		t := &dispatchTable{
			byKey:     make(map[Key]decodeFunc, len(decoders)+len(regionHandshakeAliases)),
			zerocoded: make(map[Key]bool, len(decoders)),
		}
		for name, fn := range decoders {
			def, ok := reg.ByName(name)
			if !ok {
				dispatchErr = fmt.Errorf("message %s missing from bundled template", name)
				return
			}
			k := Key{Frequency: def.Frequency, ID: def.ID}
			t.byKey[k] = fn
			t.zerocoded[k] = def.Zerocoded()
		}
		for _, k := range regionHandshakeAliases {
			t.byKey[k] = decodeRegionHandshake
		}
		dispatch = t
	})
	return dispatch, dispatchErr
}

// UnsupportedMessageError is returned for well-formed packets whose key has
// no decoder. Callers usually log and drop these.
type UnsupportedMessageError struct {
	Key Key
}

func (e *UnsupportedMessageError) Error() string {
	return fmt.Sprintf("unsupported message %s", e.Key)
}

// MessageError wraps a payload decode failure with the message name.
type MessageError struct {
	Name string
	Err  error
}

func (e *MessageError) Error() string {
	return fmt.Sprintf("failed to decode %s: %v", e.Name, e.Err)
}

func (e *MessageError) Unwrap() error {
	return e.Err
}

// DecodeMessage decodes the payload of p into its message variant.
func DecodeMessage(p *Packet) (Message, error) {
	t, err := table()
	if err != nil {
		return nil, err
	}
	fn, ok := t.byKey[p.Key()]
	if !ok {
		return nil, &UnsupportedMessageError{Key: p.Key()}
	}
	m, err := fn(NewPacketReader(p.Payload))
	if err != nil {
		return nil, &MessageError{Name: messageName(p.Key()), Err: err}
	}
	return m, nil
}

// Supported reports whether a wire key has a decoder.
func Supported(k Key) bool {
	t, err := table()
	if err != nil {
		return false
	}
	_, ok := t.byKey[k]
	return ok
}

func messageName(k Key) string {
	if reg, err := template.Default(); err == nil {
		if def, ok := reg.Lookup(k.Frequency, k.ID); ok {
			return def.Name
		}
	}
	return k.String()
}

// NewPacket wraps an encoded message in an envelope. The zerocoded flag
// follows the template encoding of the message.
func NewPacket(m Message, seq uint32, reliable bool) (*Packet, error) {
	t, err := table()
	if err != nil {
		return nil, err
	}
	b := NewPacketBuilder()
	m.Encode(b)

	p := &Packet{
		Sequence:  seq,
		Frequency: m.Key().Frequency,
		ID:        m.Key().ID,
		Payload:   b.Build(),
	}
	p.SetFlag(FlagReliable, reliable)
	p.SetFlag(FlagZerocoded, t.zerocoded[m.Key()])
	return p, nil
}

// Marshal encodes a message into a ready-to-send datagram.
func Marshal(m Message, seq uint32, reliable bool, acks []uint32) ([]byte, error) {
	p, err := NewPacket(m, seq, reliable)
	if err != nil {
		return nil, err
	}
	p.Acks = acks
	return EncodePacket(p)
}

// Unmarshal decodes a datagram and its message. The packet is returned
// even when the message is unsupported so that acks can still be honored.
func Unmarshal(data []byte) (*Packet, Message, error) {
	p, err := DecodePacket(data)
	if err != nil {
		return nil, nil, err
	}
	m, err := DecodeMessage(p)
	return p, m, err
}
