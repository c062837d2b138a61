package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// ErrShortPacket is returned when fewer bytes remain than a field or
// envelope needs.
var ErrShortPacket = errors.New("packet too short")

// FieldError reports a typed field that failed to decode.
type FieldError struct {
	Field  string
	Offset int
	Err    error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s at offset %d: %v", e.Field, e.Offset, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// PacketReader reads typed fields from a payload in order.
type PacketReader struct {
	data []byte
	pos  int
}

// NewPacketReader wraps a payload.
func NewPacketReader(data []byte) *PacketReader {
	return &PacketReader{data: data}
}

// Remaining returns the number of unread bytes.
func (r *PacketReader) Remaining() int {
	return len(r.data) - r.pos
}

// Offset returns the current read position.
func (r *PacketReader) Offset() int {
	return r.pos
}

func (r *PacketReader) take(field string, n int) ([]byte, error) {
	if r.Remaining() < n {
		return nil, &FieldError{
			Field:  field,
			Offset: r.pos,
			Err:    fmt.Errorf("%w: need %d bytes, have %d", ErrShortPacket, n, r.Remaining()),
		}
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadU8 reads one byte.
func (r *PacketReader) ReadU8(field string) (uint8, error) {
	b, err := r.take(field, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadS8 reads a signed byte.
func (r *PacketReader) ReadS8(field string) (int8, error) {
	v, err := r.ReadU8(field)
	return int8(v), err
}

// ReadBool reads a one-byte boolean.
func (r *PacketReader) ReadBool(field string) (bool, error) {
	v, err := r.ReadU8(field)
	return v != 0, err
}

// ReadU16 reads a little-endian uint16.
func (r *PacketReader) ReadU16(field string) (uint16, error) {
	b, err := r.take(field, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadU32 reads a little-endian uint32.
func (r *PacketReader) ReadU32(field string) (uint32, error) {
	b, err := r.take(field, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadU32BE reads a big-endian uint32.
func (r *PacketReader) ReadU32BE(field string) (uint32, error) {
	b, err := r.take(field, 4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// ReadS32 reads a little-endian int32.
func (r *PacketReader) ReadS32(field string) (int32, error) {
	v, err := r.ReadU32(field)
	return int32(v), err
}

// ReadU64 reads a little-endian uint64.
func (r *PacketReader) ReadU64(field string) (uint64, error) {
	b, err := r.take(field, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadF32 reads a little-endian float32.
func (r *PacketReader) ReadF32(field string) (float32, error) {
	v, err := r.ReadU32(field)
	return math.Float32frombits(v), err
}

// ReadF32BE reads a big-endian float32.
func (r *PacketReader) ReadF32BE(field string) (float32, error) {
	v, err := r.ReadU32BE(field)
	return math.Float32frombits(v), err
}

// ReadF64 reads a little-endian float64.
func (r *PacketReader) ReadF64(field string) (float64, error) {
	v, err := r.ReadU64(field)
	return math.Float64frombits(v), err
}

// ReadUUID reads 16 raw UUID bytes.
func (r *PacketReader) ReadUUID(field string) (uuid.UUID, error) {
	b, err := r.take(field, 16)
	if err != nil {
		return uuid.Nil, err
	}
	var id uuid.UUID
	copy(id[:], b)
	return id, nil
}

// ReadVector3 reads three little-endian floats.
func (r *PacketReader) ReadVector3(field string) (Vector3, error) {
	b, err := r.take(field, 12)
	if err != nil {
		return Vector3{}, err
	}
	return Vector3{
		X: math.Float32frombits(binary.LittleEndian.Uint32(b[0:4])),
		Y: math.Float32frombits(binary.LittleEndian.Uint32(b[4:8])),
		Z: math.Float32frombits(binary.LittleEndian.Uint32(b[8:12])),
	}, nil
}

// ReadVector3BE reads three big-endian floats.
func (r *PacketReader) ReadVector3BE(field string) (Vector3, error) {
	b, err := r.take(field, 12)
	if err != nil {
		return Vector3{}, err
	}
	return Vector3{
		X: math.Float32frombits(binary.BigEndian.Uint32(b[0:4])),
		Y: math.Float32frombits(binary.BigEndian.Uint32(b[4:8])),
		Z: math.Float32frombits(binary.BigEndian.Uint32(b[8:12])),
	}, nil
}

// ReadVector4 reads four little-endian floats.
func (r *PacketReader) ReadVector4(field string) (Vector4, error) {
	v, err := r.ReadVector3(field)
	if err != nil {
		return Vector4{}, err
	}
	w, err := r.ReadF32(field)
	if err != nil {
		return Vector4{}, err
	}
	return Vector4{X: v.X, Y: v.Y, Z: v.Z, W: w}, nil
}

// ReadQuaternion reads x, y and z and reconstructs w with NormalizeW.
func (r *PacketReader) ReadQuaternion(field string) (Quaternion, error) {
	v, err := r.ReadVector3(field)
	if err != nil {
		return Quaternion{}, err
	}
	return NormalizeW(v.X, v.Y, v.Z), nil
}

// ReadVariable1 reads a buffer with a 1-byte length prefix.
func (r *PacketReader) ReadVariable1(field string) ([]byte, error) {
	n, err := r.ReadU8(field)
	if err != nil {
		return nil, err
	}
	return r.take(field, int(n))
}

// ReadVariable2 reads a buffer with a 2-byte little-endian length prefix.
func (r *PacketReader) ReadVariable2(field string) ([]byte, error) {
	n, err := r.ReadU16(field)
	if err != nil {
		return nil, err
	}
	return r.take(field, int(n))
}

// ReadString reads a Variable 1 field and strips the NUL terminator.
func (r *PacketReader) ReadString(field string) (string, error) {
	b, err := r.ReadVariable1(field)
	return trimNul(b), err
}

// ReadString2 reads a Variable 2 field and strips the NUL terminator.
func (r *PacketReader) ReadString2(field string) (string, error) {
	b, err := r.ReadVariable2(field)
	return trimNul(b), err
}

// ReadBytes reads n raw bytes.
func (r *PacketReader) ReadBytes(field string, n int) ([]byte, error) {
	return r.take(field, n)
}

func trimNul(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
