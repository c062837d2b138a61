package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// PacketBuilder constructs message payloads field by field. Template
// fields are little-endian; a few session fields are sent big-endian and
// have explicit BE writers.
type PacketBuilder struct {
	buf bytes.Buffer
}

// NewPacketBuilder creates a new PacketBuilder.
func NewPacketBuilder() *PacketBuilder {
	return &PacketBuilder{}
}

// Reset clears the builder for reuse.
func (b *PacketBuilder) Reset() {
	b.buf.Reset()
}

// WriteU8 writes a single byte.
func (b *PacketBuilder) WriteU8(v uint8) *PacketBuilder {
	b.buf.WriteByte(v)
	return b
}

// WriteS8 writes a signed byte.
func (b *PacketBuilder) WriteS8(v int8) *PacketBuilder {
	b.buf.WriteByte(byte(v))
	return b
}

// WriteBool writes a boolean as one byte.
func (b *PacketBuilder) WriteBool(v bool) *PacketBuilder {
	if v {
		return b.WriteU8(1)
	}
	return b.WriteU8(0)
}

// WriteU16 writes a uint16 in little-endian order.
func (b *PacketBuilder) WriteU16(v uint16) *PacketBuilder {
	b.buf.Write(binary.LittleEndian.AppendUint16(nil, v))
	return b
}

// WriteU32 writes a uint32 in little-endian order.
func (b *PacketBuilder) WriteU32(v uint32) *PacketBuilder {
	b.buf.Write(binary.LittleEndian.AppendUint32(nil, v))
	return b
}

// WriteU32BE writes a uint32 in big-endian order.
func (b *PacketBuilder) WriteU32BE(v uint32) *PacketBuilder {
	b.buf.Write(binary.BigEndian.AppendUint32(nil, v))
	return b
}

// WriteS32 writes an int32 in little-endian order.
func (b *PacketBuilder) WriteS32(v int32) *PacketBuilder {
	return b.WriteU32(uint32(v))
}

// WriteU64 writes a uint64 in little-endian order.
func (b *PacketBuilder) WriteU64(v uint64) *PacketBuilder {
	b.buf.Write(binary.LittleEndian.AppendUint64(nil, v))
	return b
}

// WriteF32 writes a float32 in little-endian order.
func (b *PacketBuilder) WriteF32(v float32) *PacketBuilder {
	return b.WriteU32(math.Float32bits(v))
}

// WriteF32BE writes a float32 in big-endian order.
func (b *PacketBuilder) WriteF32BE(v float32) *PacketBuilder {
	return b.WriteU32BE(math.Float32bits(v))
}

// WriteF64 writes a float64 in little-endian order.
func (b *PacketBuilder) WriteF64(v float64) *PacketBuilder {
	return b.WriteU64(math.Float64bits(v))
}

// WriteUUID writes the 16 raw bytes of a UUID.
func (b *PacketBuilder) WriteUUID(id uuid.UUID) *PacketBuilder {
	b.buf.Write(id[:])
	return b
}

// WriteVector3 writes three little-endian floats.
func (b *PacketBuilder) WriteVector3(v Vector3) *PacketBuilder {
	return b.WriteF32(v.X).WriteF32(v.Y).WriteF32(v.Z)
}

// WriteVector3BE writes three big-endian floats.
func (b *PacketBuilder) WriteVector3BE(v Vector3) *PacketBuilder {
	return b.WriteF32BE(v.X).WriteF32BE(v.Y).WriteF32BE(v.Z)
}

// WriteVector4 writes four little-endian floats.
func (b *PacketBuilder) WriteVector4(v Vector4) *PacketBuilder {
	return b.WriteF32(v.X).WriteF32(v.Y).WriteF32(v.Z).WriteF32(v.W)
}

// WriteQuaternion writes x, y and z. The receiver reconstructs w.
func (b *PacketBuilder) WriteQuaternion(q Quaternion) *PacketBuilder {
	return b.WriteF32(q.X).WriteF32(q.Y).WriteF32(q.Z)
}

// WriteVariable1 writes a buffer with a 1-byte length prefix.
// Data longer than 255 bytes is truncated.
func (b *PacketBuilder) WriteVariable1(data []byte) *PacketBuilder {
	if len(data) > math.MaxUint8 {
		data = data[:math.MaxUint8]
	}
	b.buf.WriteByte(byte(len(data)))
	b.buf.Write(data)
	return b
}

// WriteVariable2 writes a buffer with a 2-byte little-endian length prefix.
// Data longer than 65535 bytes is truncated.
func (b *PacketBuilder) WriteVariable2(data []byte) *PacketBuilder {
	if len(data) > math.MaxUint16 {
		data = data[:math.MaxUint16]
	}
	b.WriteU16(uint16(len(data)))
	b.buf.Write(data)
	return b
}

// WriteString writes a NUL-terminated string as a Variable 1 field.
func (b *PacketBuilder) WriteString(s string) *PacketBuilder {
	return b.WriteVariable1(nulTerminated(s, math.MaxUint8))
}

// WriteString2 writes a NUL-terminated string as a Variable 2 field.
func (b *PacketBuilder) WriteString2(s string) *PacketBuilder {
	return b.WriteVariable2(nulTerminated(s, math.MaxUint16))
}

// WriteBytes writes raw bytes.
func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	b.buf.Write(data)
	return b
}

// Build returns the constructed payload bytes.
func (b *PacketBuilder) Build() []byte {
	return b.buf.Bytes()
}

// Len returns the current size of the payload being built.
func (b *PacketBuilder) Len() int {
	return b.buf.Len()
}

// String returns a hex dump of the current payload for debugging.
func (b *PacketBuilder) String() string {
	data := b.buf.Bytes()
	return fmt.Sprintf("PacketBuilder[%d bytes]: %x", len(data), data)
}

func nulTerminated(s string, max int) []byte {
	data := []byte(s)
	if len(data) > max-1 {
		data = data[:max-1]
	}
	return append(data, 0)
}
