// Package template parses the brace-delimited message template language
// into an in-memory schema and generates typed packet declarations from it.
package template

import "fmt"

// Frequency is the message identifier tier. It decides how many marker
// bytes precede the identifier on the wire.
type Frequency int

const (
	FrequencyHigh Frequency = iota
	FrequencyMedium
	FrequencyLow
	FrequencyFixed
)

var frequencyNames = map[Frequency]string{
	FrequencyHigh:   "High",
	FrequencyMedium: "Medium",
	FrequencyLow:    "Low",
	FrequencyFixed:  "Fixed",
}

// String returns the template token for the tier.
func (f Frequency) String() string {
	if s, ok := frequencyNames[f]; ok {
		return s
	}
	return fmt.Sprintf("Frequency(%d)", int(f))
}

// MarshalJSON serializes the tier as its template token.
func (f Frequency) MarshalJSON() ([]byte, error) {
	return []byte(`"` + f.String() + `"`), nil
}

// MaxID returns the largest identifier representable in the tier.
func (f Frequency) MaxID() uint32 {
	switch f {
	case FrequencyHigh, FrequencyMedium:
		return 0xFF
	case FrequencyLow:
		return 0xFFFF
	default:
		return 0xFFFFFFFF
	}
}

// ParseFrequency maps a template token to a tier.
func ParseFrequency(token string) (Frequency, bool) {
	for f, name := range frequencyNames {
		if name == token {
			return f, true
		}
	}
	return 0, false
}

// Trust is the sender trust requirement of a message.
type Trust int

const (
	TrustNotTrusted Trust = iota
	TrustTrusted
)

func (t Trust) String() string {
	if t == TrustTrusted {
		return "Trusted"
	}
	return "NotTrusted"
}

// Encoding says whether the payload is zerocoded on the wire.
type Encoding int

const (
	EncodingUnencoded Encoding = iota
	EncodingZerocoded
)

func (e Encoding) String() string {
	if e == EncodingZerocoded {
		return "Zerocoded"
	}
	return "Unencoded"
}

// Cardinality describes how often a block repeats.
type Cardinality int

const (
	// CardinalitySingle blocks appear exactly once.
	CardinalitySingle Cardinality = iota
	// CardinalityMultiple blocks repeat a fixed count known from the template.
	CardinalityMultiple
	// CardinalityVariable blocks carry their repeat count in a leading byte.
	CardinalityVariable
)

func (c Cardinality) String() string {
	switch c {
	case CardinalityMultiple:
		return "Multiple"
	case CardinalityVariable:
		return "Variable"
	default:
		return "Single"
	}
}

// MessageTemplate is the ordered set of message definitions read from a
// template source. It is immutable once returned by Parse.
type MessageTemplate struct {
	Version  string               `json:"version,omitempty"`
	Messages []*MessageDefinition `json:"messages"`
}

// MessageDefinition describes a single protocol message.
type MessageDefinition struct {
	Name      string             `json:"name"`
	Frequency Frequency          `json:"frequency"`
	ID        uint32             `json:"id"`
	Trust     Trust              `json:"trust"`
	Encoding  Encoding           `json:"encoding"`
	Flags     []string           `json:"flags,omitempty"`
	Blocks    []*BlockDefinition `json:"blocks"`

	// Line is the 1-based source line of the message header.
	Line int `json:"line"`
}

// Zerocoded reports whether the message payload is zerocoded.
func (m *MessageDefinition) Zerocoded() bool {
	return m.Encoding == EncodingZerocoded
}

// HasFlag reports whether the header carried the given free-form flag.
func (m *MessageDefinition) HasFlag(flag string) bool {
	for _, f := range m.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Block returns the named block or nil.
func (m *MessageDefinition) Block(name string) *BlockDefinition {
	for _, b := range m.Blocks {
		if b.Name == name {
			return b
		}
	}
	return nil
}

// BlockDefinition is a named group of fields inside a message.
type BlockDefinition struct {
	Name        string             `json:"name"`
	Cardinality Cardinality        `json:"cardinality"`
	Count       *int               `json:"count,omitempty"`
	Fields      []*FieldDefinition `json:"fields"`
}

// FieldDefinition is one typed field of a block.
type FieldDefinition struct {
	Name string `json:"name"`
	// Type is the declared type token, which may contain spaces ("Variable 1").
	Type string `json:"type"`
}

// Mapped resolves the declared type token through MapType.
func (f *FieldDefinition) Mapped() FieldType {
	return MapType(f.Type)
}
