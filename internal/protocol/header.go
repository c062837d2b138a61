package protocol

import (
	"encoding/binary"
	"fmt"
)

// Packet is one LLUDP datagram. Payload is always the expanded form; the
// zerocoded flag only decides how it travels.
type Packet struct {
	Flags     byte
	Sequence  uint32
	Extra     []byte
	Frequency Frequency
	ID        uint32
	Payload   []byte
	// Acks are sequence numbers piggybacked in the packet trailer.
	Acks []uint32
}

// Key returns the wire key of the packet's message.
func (p *Packet) Key() Key {
	return Key{Frequency: p.Frequency, ID: p.ID}
}

// Reliable reports whether the sender expects an acknowledgement.
func (p *Packet) Reliable() bool { return p.Flags&FlagReliable != 0 }

// Resent reports whether the packet is a retransmission.
func (p *Packet) Resent() bool { return p.Flags&FlagResent != 0 }

// Zerocoded reports whether the payload travels zerocoded.
func (p *Packet) Zerocoded() bool { return p.Flags&FlagZerocoded != 0 }

// SetFlag sets or clears a header flag bit.
func (p *Packet) SetFlag(flag byte, on bool) {
	if on {
		p.Flags |= flag
	} else {
		p.Flags &^= flag
	}
}

// idWidth returns the number of identifier bytes for a tier, marker bytes included.
func idWidth(f Frequency) int {
	switch f {
	case FrequencyHigh:
		return 1
	case FrequencyMedium:
		return 2
	default:
		return 4
	}
}

// checkID rejects identifiers that would decode into a different tier.
func checkID(f Frequency, id uint32) error {
	switch f {
	case FrequencyHigh:
		if id >= 0xFF {
			return fmt.Errorf("high identifier %d out of range", id)
		}
	case FrequencyMedium:
		if id >= 0xFF {
			return fmt.Errorf("medium identifier %d out of range", id)
		}
	case FrequencyLow:
		if id >= 0xFF00 {
			return fmt.Errorf("low identifier %d out of range", id)
		}
	case FrequencyFixed:
		if id&0xFFFFFF00 != 0xFFFFFF00 {
			return fmt.Errorf("fixed identifier 0x%08X lacks the 0xFFFFFF prefix", id)
		}
	default:
		return fmt.Errorf("unknown frequency %d", int(f))
	}
	return nil
}

// AppendID appends the tiered message identifier.
func AppendID(dst []byte, f Frequency, id uint32) []byte {
	switch f {
	case FrequencyHigh:
		return append(dst, byte(id))
	case FrequencyMedium:
		return append(dst, 0xFF, byte(id))
	case FrequencyLow:
		return binary.BigEndian.AppendUint16(append(dst, 0xFF, 0xFF), uint16(id))
	default:
		return binary.BigEndian.AppendUint32(dst, id)
	}
}

// EncodePacket serializes a packet:
// [flags][sequence BE][extra size][extra][message id][payload][acks][ack count].
func EncodePacket(p *Packet) ([]byte, error) {
	if err := checkID(p.Frequency, p.ID); err != nil {
		return nil, err
	}
	if len(p.Extra) > 0xFF {
		return nil, fmt.Errorf("extra header of %d bytes exceeds 255", len(p.Extra))
	}
	if len(p.Acks) > MaxAppendedAcks {
		return nil, fmt.Errorf("%d appended acks exceed %d", len(p.Acks), MaxAppendedAcks)
	}

	flags := p.Flags &^ FlagAck
	if len(p.Acks) > 0 {
		flags |= FlagAck
	}

	out := make([]byte, 0, HeaderSize+len(p.Extra)+4+len(p.Payload)+len(p.Acks)*4+1)
	out = append(out, flags)
	out = binary.BigEndian.AppendUint32(out, p.Sequence)
	out = append(out, byte(len(p.Extra)))
	out = append(out, p.Extra...)
	out = AppendID(out, p.Frequency, p.ID)

	if flags&FlagZerocoded != 0 {
		out = append(out, Zerocode(p.Payload)...)
	} else {
		out = append(out, p.Payload...)
	}

	if len(p.Acks) > 0 {
		for _, seq := range p.Acks {
			out = binary.BigEndian.AppendUint32(out, seq)
		}
		out = append(out, byte(len(p.Acks)))
	}

	if len(out) > MaxPacketSize {
		return nil, fmt.Errorf("encoded packet of %d bytes exceeds %d", len(out), MaxPacketSize)
	}
	return out, nil
}

// DecodePacket parses a datagram. The tier is recovered by counting the
// 0xFF marker bytes at the identifier position: none is High, one Medium,
// two Low, three or more Fixed.
func DecodePacket(data []byte) (*Packet, error) {
	if len(data) < HeaderSize+1 {
		return nil, fmt.Errorf("%w: %d bytes, header needs %d", ErrShortPacket, len(data), HeaderSize+1)
	}

	p := &Packet{
		Flags:    data[0],
		Sequence: binary.BigEndian.Uint32(data[1:5]),
	}

	body := data[HeaderSize:]
	if extra := int(data[5]); extra > 0 {
		if len(body) < extra+1 {
			return nil, fmt.Errorf("%w: extra header of %d bytes at offset %d", ErrShortPacket, extra, HeaderSize)
		}
		p.Extra = append([]byte(nil), body[:extra]...)
		body = body[extra:]
	}

	if p.Flags&FlagAck != 0 {
		acks, rest, err := splitAcks(body)
		if err != nil {
			return nil, err
		}
		p.Acks = acks
		body = rest
	}

	freq, id, n, err := decodeID(body)
	if err != nil {
		return nil, err
	}
	p.Frequency = freq
	p.ID = id

	payload := body[n:]
	if p.Zerocoded() {
		p.Payload = Zerodecode(payload)
	} else {
		p.Payload = append([]byte(nil), payload...)
	}
	return p, nil
}

// splitAcks removes the appended-ack trailer: N big-endian sequence
// numbers followed by the count byte N.
func splitAcks(body []byte) ([]uint32, []byte, error) {
	if len(body) < 1 {
		return nil, nil, fmt.Errorf("%w: missing ack count", ErrShortPacket)
	}
	count := int(body[len(body)-1])
	need := count*4 + 1
	if len(body) < need+1 {
		return nil, nil, fmt.Errorf("%w: %d appended acks need %d bytes, have %d",
			ErrShortPacket, count, need, len(body)-1)
	}
	start := len(body) - need
	acks := make([]uint32, count)
	for i := range acks {
		off := start + i*4
		acks[i] = binary.BigEndian.Uint32(body[off : off+4])
	}
	return acks, body[:start], nil
}

func decodeID(body []byte) (Frequency, uint32, int, error) {
	markers := 0
	for markers < len(body) && markers < 3 && body[markers] == 0xFF {
		markers++
	}

	freq := [...]Frequency{FrequencyHigh, FrequencyMedium, FrequencyLow, FrequencyFixed}[markers]
	width := idWidth(freq)
	if len(body) < width {
		return 0, 0, 0, fmt.Errorf("%w: %s identifier needs %d bytes at offset %d, have %d",
			ErrShortPacket, freq, width, HeaderSize, len(body))
	}

	var id uint32
	switch freq {
	case FrequencyHigh:
		id = uint32(body[0])
	case FrequencyMedium:
		id = uint32(body[1])
	case FrequencyLow:
		id = uint32(binary.BigEndian.Uint16(body[2:4]))
	default:
		id = binary.BigEndian.Uint32(body[0:4])
	}
	return freq, id, width, nil
}
