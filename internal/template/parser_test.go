package template

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

const minimalTemplate = `
version 2.0
// single message, single block, single field
{
	TestMessage Low 1 NotTrusted Zerocoded
	{
		TestBlock1 Single
		{	Test1	U32	}
	}
}
`

func TestParseMinimal(t *testing.T) {
	tmpl, err := Parse(minimalTemplate)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if tmpl.Version != "2.0" {
		t.Errorf("version = %q, want 2.0", tmpl.Version)
	}
	if len(tmpl.Messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(tmpl.Messages))
	}

	msg := tmpl.Messages[0]
	if msg.Name != "TestMessage" || msg.Frequency != FrequencyLow || msg.ID != 1 {
		t.Errorf("unexpected header: %+v", msg)
	}
	if msg.Trust != TrustNotTrusted || !msg.Zerocoded() {
		t.Errorf("trust/encoding mismatch: %s %s", msg.Trust, msg.Encoding)
	}
	if msg.Line != 5 {
		t.Errorf("header line = %d, want 5", msg.Line)
	}
	if len(msg.Blocks) != 1 || len(msg.Blocks[0].Fields) != 1 {
		t.Fatalf("unexpected blocks: %+v", msg.Blocks)
	}
	block := msg.Blocks[0]
	if block.Name != "TestBlock1" || block.Cardinality != CardinalitySingle || block.Count != nil {
		t.Errorf("unexpected block: %+v", block)
	}
	field := block.Fields[0]
	if field.Name != "Test1" || field.Type != "U32" {
		t.Errorf("unexpected field: %+v", field)
	}
	if ft := field.Mapped(); ft.Kind != KindU32 || ft.Size != 4 {
		t.Errorf("U32 mapped to %+v", ft)
	}
}

func TestParseDeterministic(t *testing.T) {
	a, err := Parse(DefaultSource())
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	b, err := Parse(DefaultSource())
	if err != nil {
		t.Fatalf("second parse failed: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatal("parsing the same text twice produced different templates")
	}
}

func TestParsePacketAckSingleLine(t *testing.T) {
	src := "{ PacketAck Fixed 0xFFFFFFFB NotTrusted Unencoded { Packets Variable { ID U32 } } }"
	tmpl, err := Parse(src)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(tmpl.Messages) != 1 {
		t.Fatalf("got %d messages", len(tmpl.Messages))
	}
	msg := tmpl.Messages[0]
	if msg.Name != "PacketAck" || msg.Frequency != FrequencyFixed || msg.ID != 4294967291 {
		t.Fatalf("unexpected message: %s %s %d", msg.Name, msg.Frequency, msg.ID)
	}
	if len(msg.Blocks) != 1 {
		t.Fatalf("got %d blocks", len(msg.Blocks))
	}
	b := msg.Blocks[0]
	if b.Name != "Packets" || b.Cardinality != CardinalityVariable || b.Count != nil {
		t.Fatalf("unexpected block: %+v", b)
	}
	if len(b.Fields) != 1 || b.Fields[0].Name != "ID" || b.Fields[0].Type != "U32" {
		t.Fatalf("unexpected fields: %+v", b.Fields)
	}
}

func TestParseHexAndDecimalIDs(t *testing.T) {
	hex, err := Parse("{ A Fixed 0xFFFFFFFB NotTrusted Unencoded }")
	if err != nil {
		t.Fatalf("hex parse failed: %v", err)
	}
	dec, err := Parse("{ A Fixed 4294967291 NotTrusted Unencoded }")
	if err != nil {
		t.Fatalf("decimal parse failed: %v", err)
	}
	if hex.Messages[0].ID != 4294967291 || hex.Messages[0].ID != dec.Messages[0].ID {
		t.Fatalf("hex id %d, decimal id %d", hex.Messages[0].ID, dec.Messages[0].ID)
	}
}

func TestParseCardinality(t *testing.T) {
	src := `
{
	Neighbors Low 10 Trusted Unencoded
	{
		NeighborBlock Multiple 4
		{ Test0 U32 }
		{ Test1 Variable 1 }
	}
}
`
	tmpl, err := Parse(src)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	b := tmpl.Messages[0].Blocks[0]
	if b.Cardinality != CardinalityMultiple || b.Count == nil || *b.Count != 4 {
		t.Fatalf("unexpected block: %+v", b)
	}
	if b.Fields[1].Type != "Variable 1" {
		t.Errorf("type with space parsed as %q", b.Fields[1].Type)
	}
}

func TestParseFlags(t *testing.T) {
	tmpl, err := Parse("{ Old Low 7 NotTrusted Unencoded UDPDeprecated UDPBlackListed }")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	msg := tmpl.Messages[0]
	if !msg.HasFlag("UDPDeprecated") || !msg.HasFlag("UDPBlackListed") || msg.HasFlag("Other") {
		t.Fatalf("flags = %v", msg.Flags)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name      string
		src       string
		wantLine  int
		wantToken string
	}{
		{
			name:      "garbage at top level",
			src:       "\n\nhello",
			wantLine:  3,
			wantToken: "hello",
		},
		{
			name:      "unknown frequency",
			src:       "{\n A Often 1 NotTrusted Unencoded\n}",
			wantLine:  2,
			wantToken: "Often",
		},
		{
			name:      "fixed id without prefix",
			src:       "{\n A Fixed 0x01 NotTrusted Unencoded\n}",
			wantLine:  2,
			wantToken: "0x01",
		},
		{
			name:      "unknown trust",
			src:       "{\n A Low 1 Maybe Unencoded\n}",
			wantLine:  2,
			wantToken: "Maybe",
		},
		{
			name:      "unknown encoding",
			src:       "{\n A Low 1 Trusted Squashed\n}",
			wantLine:  2,
			wantToken: "Squashed",
		},
		{
			name:      "short header",
			src:       "{\n A Low 1\n}",
			wantLine:  2,
			wantToken: "A",
		},
		{
			name:      "bad identifier",
			src:       "{\n A Low zz Trusted Unencoded\n}",
			wantLine:  2,
			wantToken: "zz",
		},
		{
			name:      "high identifier too wide",
			src:       "{\n A High 300 Trusted Unencoded\n}",
			wantLine:  2,
			wantToken: "300",
		},
		{
			name:      "multiple without count",
			src:       "{\n A Low 1 Trusted Unencoded\n {\n B Multiple\n { X U8 }\n }\n}",
			wantLine:  4,
			wantToken: "B",
		},
		{
			name:      "unknown cardinality",
			src:       "{\n A Low 1 Trusted Unencoded\n {\n B Sometimes\n }\n}",
			wantLine:  4,
			wantToken: "Sometimes",
		},
		{
			name:     "unclosed message",
			src:      "{\n A Low 1 Trusted Unencoded\n {\n B Single\n { X U8 }\n }",
			wantLine: 6,
		},
		{
			name:      "duplicate identifier",
			src:       "{ A Low 1 Trusted Unencoded }\n{ B Low 1 Trusted Unencoded }",
			wantLine:  2,
			wantToken: "B",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.src)
			if err == nil {
				t.Fatal("expected parse error, got nil")
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("error %v is not a *ParseError", err)
			}
			if pe.Line != tt.wantLine {
				t.Errorf("line = %d, want %d (%v)", pe.Line, tt.wantLine, err)
			}
			if tt.wantToken != "" && pe.Token != tt.wantToken {
				t.Errorf("token = %q, want %q", pe.Token, tt.wantToken)
			}
		})
	}
}

func TestParseIgnoresCommentsAndBlankLines(t *testing.T) {
	src := strings.Join([]string{
		"// leading comment",
		"",
		"version 3.0",
		"{",
		"  A Low 1 Trusted Unencoded // trailing comment",
		"  // inside message",
		"}",
	}, "\n")
	tmpl, err := Parse(src)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(tmpl.Messages) != 1 || len(tmpl.Messages[0].Flags) != 0 {
		t.Fatalf("unexpected template: %+v", tmpl.Messages)
	}
}

func TestDefaultRegistry(t *testing.T) {
	reg, err := Default()
	if err != nil {
		t.Fatalf("bundled template failed to load: %v", err)
	}

	tests := []struct {
		name string
		freq Frequency
		id   uint32
	}{
		{"UseCircuitCode", FrequencyLow, 3},
		{"CompleteAgentMovement", FrequencyLow, 249},
		{"RegionHandshakeReply", FrequencyLow, 149},
		{"AgentThrottle", FrequencyLow, 81},
		{"AgentUpdate", FrequencyHigh, 4},
		{"RequestMultipleObjects", FrequencyMedium, 3},
		{"PacketAck", FrequencyFixed, 0xFFFFFFFB},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, ok := reg.Lookup(tt.freq, tt.id)
			if !ok {
				t.Fatalf("%s/%d not registered", tt.freq, tt.id)
			}
			if def.Name != tt.name {
				t.Fatalf("lookup returned %s", def.Name)
			}
			byName, ok := reg.ByName(tt.name)
			if !ok || byName != def {
				t.Fatal("name lookup disagrees with key lookup")
			}
		})
	}
}
