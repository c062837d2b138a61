package protocol

import (
	"bytes"
	"errors"
	"math"
	"testing"
)

func TestZerocodeRoundTrip(t *testing.T) {
	long := make([]byte, 600)
	long[0] = 7
	tests := []struct {
		name string
		in   []byte
	}{
		{"empty", []byte{}},
		{"single zero", []byte{0}},
		{"no zeros", []byte{1, 2, 3}},
		{"mixed", []byte{1, 0, 0, 0, 2, 0, 3}},
		{"exactly 255", make([]byte, 255)},
		{"256 zeros", make([]byte, 256)},
		{"long run", long},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := Zerocode(tt.in)
			dec := Zerodecode(enc)
			if !bytes.Equal(dec, tt.in) {
				t.Fatalf("round trip mismatch: in=%x enc=%x dec=%x", tt.in, enc, dec)
			}
		})
	}
}

func TestZerocodeSplitsLongRuns(t *testing.T) {
	enc := Zerocode(make([]byte, 256))
	want := []byte{0x00, 0xFF, 0x00, 0x01}
	if !bytes.Equal(enc, want) {
		t.Fatalf("Zerocode(256 zeros) = %x, want %x", enc, want)
	}
}

func TestZerodecodeEdgeCases(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want []byte
	}{
		{"trailing lone zero truncates", []byte{1, 2, 0}, []byte{1, 2}},
		{"zero count expands to one", []byte{0, 0, 5}, []byte{0, 5}},
		{"run of three", []byte{9, 0, 3}, []byte{9, 0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Zerodecode(tt.in)
			if !bytes.Equal(got, tt.want) {
				t.Fatalf("Zerodecode(%x) = %x, want %x", tt.in, got, tt.want)
			}
		})
	}
}

func TestFrequencyRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		freq   Frequency
		id     uint32
		idWire []byte
	}{
		{"high", FrequencyHigh, 4, []byte{0x04}},
		{"medium", FrequencyMedium, 6, []byte{0xFF, 0x06}},
		{"low", FrequencyLow, 3, []byte{0xFF, 0xFF, 0x00, 0x03}},
		{"low 249", FrequencyLow, 249, []byte{0xFF, 0xFF, 0x00, 0xF9}},
		{"fixed", FrequencyFixed, 0xFFFFFFFB, []byte{0xFF, 0xFF, 0xFF, 0xFB}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Packet{Sequence: 77, Frequency: tt.freq, ID: tt.id, Payload: []byte{0xAA}}
			data, err := EncodePacket(p)
			if err != nil {
				t.Fatalf("encode failed: %v", err)
			}
			if got := data[HeaderSize : HeaderSize+len(tt.idWire)]; !bytes.Equal(got, tt.idWire) {
				t.Fatalf("identifier bytes = %x, want %x", got, tt.idWire)
			}

			back, err := DecodePacket(data)
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if back.Frequency != tt.freq || back.ID != tt.id {
				t.Fatalf("decoded %s/%d, want %s/%d", back.Frequency, back.ID, tt.freq, tt.id)
			}
			if back.Sequence != 77 || !bytes.Equal(back.Payload, []byte{0xAA}) {
				t.Fatalf("unexpected packet: %+v", back)
			}
		})
	}
}

func TestEncodeRejectsAmbiguousIDs(t *testing.T) {
	tests := []struct {
		freq Frequency
		id   uint32
	}{
		{FrequencyHigh, 0xFF},
		{FrequencyMedium, 0xFF},
		{FrequencyLow, 0xFF00},
		{FrequencyFixed, 0x00000001},
	}
	for _, tt := range tests {
		if _, err := EncodePacket(&Packet{Frequency: tt.freq, ID: tt.id}); err == nil {
			t.Errorf("%s/%d: expected error", tt.freq, tt.id)
		}
	}
}

func TestPacketAckBytes(t *testing.T) {
	data, err := Marshal(PacketAck{Packets: []uint32{42}}, 1, false, nil)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	want := []byte{0xFF, 0xFF, 0xFF, 0xFB, 0x01, 0x00, 0x00, 0x00, 0x2A}
	if !bytes.Equal(data[HeaderSize:], want) {
		t.Fatalf("body = % X, want % X", data[HeaderSize:], want)
	}
	if data[0] != 0 {
		t.Fatalf("flags = %#x, want 0", data[0])
	}
}

func TestAppendedAcks(t *testing.T) {
	p := &Packet{
		Flags:     FlagReliable,
		Sequence:  9,
		Frequency: FrequencyHigh,
		ID:        IDCompletePingCheck,
		Payload:   []byte{5},
		Acks:      []uint32{100, 0x01020304},
	}
	data, err := EncodePacket(p)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if data[0]&FlagAck == 0 {
		t.Fatalf("ack flag not set: %#x", data[0])
	}
	if data[len(data)-1] != 2 {
		t.Fatalf("ack count byte = %d, want 2", data[len(data)-1])
	}

	back, err := DecodePacket(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(back.Acks) != 2 || back.Acks[0] != 100 || back.Acks[1] != 0x01020304 {
		t.Fatalf("acks = %v", back.Acks)
	}
	if !bytes.Equal(back.Payload, []byte{5}) {
		t.Fatalf("payload = %x, want 05", back.Payload)
	}
	if !back.Reliable() {
		t.Fatal("reliable flag lost")
	}
}

func TestZerocodedPayloadOnly(t *testing.T) {
	p := &Packet{
		Flags:     FlagZerocoded,
		Sequence:  0,
		Frequency: FrequencyLow,
		ID:        IDRegionHandshake,
		Payload:   []byte{0, 0, 0, 0, 1},
	}
	data, err := EncodePacket(p)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	// sequence zero stays literal in the header
	if !bytes.Equal(data[1:5], []byte{0, 0, 0, 0}) {
		t.Fatalf("header sequence = %x", data[1:5])
	}
	if !bytes.Equal(data[HeaderSize+4:], []byte{0, 4, 1}) {
		t.Fatalf("payload on wire = %x, want 000401", data[HeaderSize+4:])
	}

	back, err := DecodePacket(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !bytes.Equal(back.Payload, p.Payload) {
		t.Fatalf("payload = %x, want %x", back.Payload, p.Payload)
	}
}

func TestExtraHeaderSkipped(t *testing.T) {
	p := &Packet{Extra: []byte{1, 2, 3}, Frequency: FrequencyHigh, ID: 2, Payload: []byte{9}}
	data, err := EncodePacket(p)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	back, err := DecodePacket(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !bytes.Equal(back.Extra, p.Extra) || back.ID != 2 || !bytes.Equal(back.Payload, []byte{9}) {
		t.Fatalf("unexpected packet: %+v", back)
	}
}

func TestDecodeShortPackets(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"header only", []byte{0, 0, 0, 0, 1, 0}},
		{"truncated low id", []byte{0, 0, 0, 0, 1, 0, 0xFF, 0xFF, 0x00}},
		{"extra overruns", []byte{0, 0, 0, 0, 1, 8, 1, 2}},
		{"ack trailer overruns", []byte{FlagAck, 0, 0, 0, 1, 0, 0x01, 0x05}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePacket(tt.data)
			if !errors.Is(err, ErrShortPacket) {
				t.Fatalf("err = %v, want ErrShortPacket", err)
			}
		})
	}
}

func TestNormalizeW(t *testing.T) {
	q := NormalizeW(0, 0, 0)
	if q.W != 1 {
		t.Fatalf("identity w = %v, want 1", q.W)
	}

	q = NormalizeW(0.6, 0, 0)
	if math.Abs(float64(q.W)-0.8) > 1e-6 {
		t.Fatalf("w = %v, want 0.8", q.W)
	}

	q = NormalizeW(0.9, 0.9, 0)
	if q.W != 0 || q.X != 0.9 || q.Y != 0.9 {
		t.Fatalf("overflow not clamped: %+v", q)
	}
}

func TestReaderFieldError(t *testing.T) {
	r := NewPacketReader([]byte{1, 2})
	if _, err := r.ReadU8("A"); err != nil {
		t.Fatalf("ReadU8 failed: %v", err)
	}
	_, err := r.ReadU32("B")
	var fe *FieldError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want *FieldError", err)
	}
	if fe.Field != "B" || fe.Offset != 1 {
		t.Fatalf("field error = %+v", fe)
	}
	if !errors.Is(err, ErrShortPacket) {
		t.Fatal("field error does not wrap ErrShortPacket")
	}
}
