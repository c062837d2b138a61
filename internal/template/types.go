package template

import "strings"

// Kind is the concrete representation a template type token maps to.
type Kind int

const (
	KindBytes Kind = iota // raw variable-length buffer, the fallback
	KindU8
	KindS8
	KindU16
	KindS16
	KindU32
	KindS32
	KindU64
	KindS64
	KindF32
	KindF64
	KindBool
	KindUUID
	KindVector3
	KindVector4
	KindQuaternion
	KindIPAddr
	KindIPPort
	KindVariable1
	KindVariable2
)

// FieldType is the resolved layout of a template type token.
type FieldType struct {
	Kind Kind
	// Size is the fixed wire width in bytes, or 0 for length-prefixed and raw types.
	Size int
	// PrefixSize is the little-endian length prefix width of Variable 1/2 buffers.
	PrefixSize int
	// GoType is the declaration used by the generator.
	GoType string
}

// Fixed reports whether the type has a fixed wire width.
func (t FieldType) Fixed() bool {
	return t.Size > 0
}

var fixedTypes = map[string]FieldType{
	"U8":           {Kind: KindU8, Size: 1, GoType: "uint8"},
	"S8":           {Kind: KindS8, Size: 1, GoType: "int8"},
	"U16":          {Kind: KindU16, Size: 2, GoType: "uint16"},
	"S16":          {Kind: KindS16, Size: 2, GoType: "int16"},
	"U32":          {Kind: KindU32, Size: 4, GoType: "uint32"},
	"S32":          {Kind: KindS32, Size: 4, GoType: "int32"},
	"F32":          {Kind: KindF32, Size: 4, GoType: "float32"},
	"IPADDR":       {Kind: KindIPAddr, Size: 4, GoType: "[4]byte"},
	"IPPORT":       {Kind: KindIPPort, Size: 4, GoType: "uint32"},
	"U64":          {Kind: KindU64, Size: 8, GoType: "uint64"},
	"S64":          {Kind: KindS64, Size: 8, GoType: "int64"},
	"F64":          {Kind: KindF64, Size: 8, GoType: "float64"},
	"LLUUID":       {Kind: KindUUID, Size: 16, GoType: "uuid.UUID"},
	"BOOL":         {Kind: KindBool, Size: 1, GoType: "bool"},
	"LLVector3":    {Kind: KindVector3, Size: 12, GoType: "protocol.Vector3"},
	"LLVector4":    {Kind: KindVector4, Size: 16, GoType: "protocol.Vector4"},
	"LLQuaternion": {Kind: KindQuaternion, Size: 12, GoType: "protocol.Quaternion"},
	"Variable 1":   {Kind: KindVariable1, PrefixSize: 1, GoType: "[]byte"},
	"Variable 2":   {Kind: KindVariable2, PrefixSize: 2, GoType: "[]byte"},
}

// rawType is returned for every token without an explicit mapping.
var rawType = FieldType{Kind: KindBytes, GoType: "[]byte"}

// MapType resolves a template type token. It is total: unknown tokens,
// including other Variable and Fixed widths, map to a raw byte buffer.
func MapType(token string) FieldType {
	token = strings.Join(strings.Fields(token), " ")
	if t, ok := fixedTypes[token]; ok {
		return t
	}
	return rawType
}
