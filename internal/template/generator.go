package template

import (
	"bytes"
	"fmt"
	"go/format"
	"strings"
	"unicode"
)

// GeneratorOptions controls the emitted Go source.
type GeneratorOptions struct {
	// Package is the package clause of the generated file.
	Package string
	// Source names the template the code came from, for the header comment.
	Source string
}

// Generate emits Go declarations for every message of the template: one
// record type per distinct repeated block and one packet type per message.
func Generate(t *MessageTemplate, opts GeneratorOptions) ([]byte, error) {
	if opts.Package == "" {
		opts.Package = "messages"
	}

	g := &generator{tmpl: t}
	body := g.body()

	var out bytes.Buffer
	out.WriteString("// Code generated by slproto template gen. DO NOT EDIT.\n")
	if opts.Source != "" {
		fmt.Fprintf(&out, "// Source: %s\n", opts.Source)
	}
	fmt.Fprintf(&out, "\npackage %s\n\n", opts.Package)

	var imports []string
	if g.usesUUID {
		imports = append(imports, `"github.com/google/uuid"`)
	}
	// Frequency constants are always emitted.
	imports = append(imports, `"github.com/slproto/slproto/internal/protocol"`)
	out.WriteString("import (\n")
	for _, imp := range imports {
		out.WriteString("\t" + imp + "\n")
	}
	out.WriteString(")\n\n")
	out.Write(body)

	src, err := format.Source(out.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to format generated source: %w", err)
	}
	return src, nil
}

type generator struct {
	tmpl     *MessageTemplate
	usesUUID bool

	// decls hands out package-level identifiers; records maps a block's
	// default record name to the one it was given.
	decls   *nameSet
	records map[string]string
}

// messageNames are the identifiers claimed for one message.
type messageNames struct {
	typ, id, frequency, trusted, zerocoded, reliable string
}

func (g *generator) body() []byte {
	var buf bytes.Buffer
	g.decls = newNameSet()
	g.records = make(map[string]string)

	var records []*BlockDefinition
	for _, msg := range g.tmpl.Messages {
		for _, block := range msg.Blocks {
			if block.Cardinality == CardinalitySingle || len(block.Fields) == 0 {
				continue
			}
			key := BlockTypeName(block.Name)
			if _, ok := g.records[key]; ok {
				continue
			}
			g.records[key] = g.decls.claim(key)
			records = append(records, block)
		}
	}

	// Types first so constants yield to them on a clash.
	names := make([]messageNames, len(g.tmpl.Messages))
	for i, msg := range g.tmpl.Messages {
		names[i].typ = g.decls.claim(msg.Name)
	}
	for i := range names {
		n := &names[i]
		n.id = g.decls.claim(n.typ + "ID")
		n.frequency = g.decls.claim(n.typ + "Frequency")
		n.trusted = g.decls.claim(n.typ + "Trusted")
		n.zerocoded = g.decls.claim(n.typ + "Zerocoded")
		n.reliable = g.decls.claim(n.typ + "Reliable")
	}

	for _, block := range records {
		g.writeBlockRecord(&buf, g.records[BlockTypeName(block.Name)], block)
	}
	for i, msg := range g.tmpl.Messages {
		g.writeMessage(&buf, msg, names[i])
	}
	return buf.Bytes()
}

func (g *generator) writeBlockRecord(buf *bytes.Buffer, typeName string, block *BlockDefinition) {
	fmt.Fprintf(buf, "// %s is one repetition of the %s block.\n", typeName, block.Name)
	fmt.Fprintf(buf, "type %s struct {\n", typeName)
	names := newNameSet()
	for _, f := range block.Fields {
		fmt.Fprintf(buf, "\t%s %s\n", names.claim(f.Name), g.goType(f))
	}
	buf.WriteString("}\n\n")
}

func (g *generator) writeMessage(buf *bytes.Buffer, msg *MessageDefinition, n messageNames) {
	fmt.Fprintf(buf, "// %s is the %s message %d.\n", n.typ, msg.Frequency, msg.ID)
	fmt.Fprintf(buf, "type %s struct {\n", n.typ)
	fields := newNameSet()
	fields.reserve("MessageName")
	for _, block := range msg.Blocks {
		if block.Cardinality == CardinalitySingle {
			for _, f := range block.Fields {
				fmt.Fprintf(buf, "\t%s %s\n", fields.claim(f.Name), g.goType(f))
			}
			continue
		}
		if len(block.Fields) == 0 {
			continue
		}
		fmt.Fprintf(buf, "\t%s []%s\n", fields.claim(block.Name), g.records[BlockTypeName(block.Name)])
	}
	buf.WriteString("}\n\n")

	fmt.Fprintf(buf, "const (\n")
	fmt.Fprintf(buf, "\t%s uint32 = 0x%X\n", n.id, msg.ID)
	fmt.Fprintf(buf, "\t%s = protocol.Frequency%s\n", n.frequency, msg.Frequency)
	fmt.Fprintf(buf, "\t%s = %t\n", n.trusted, msg.Trust == TrustTrusted)
	fmt.Fprintf(buf, "\t%s = %t\n", n.zerocoded, msg.Zerocoded())
	// Callers override reliability per send.
	fmt.Fprintf(buf, "\t%s = true\n", n.reliable)
	buf.WriteString(")\n\n")

	fmt.Fprintf(buf, "// MessageName returns the template name of the message.\n")
	fmt.Fprintf(buf, "func (%s) MessageName() string { return %q }\n\n", n.typ, msg.Name)
}

func (g *generator) goType(f *FieldDefinition) string {
	t := f.Mapped()
	if t.Kind == KindUUID {
		g.usesUUID = true
	}
	return t.GoType
}

// BlockTypeName is the record type name for a repeated block.
func BlockTypeName(block string) string {
	return Identifier(block) + "Block"
}

// Identifier turns a template name into an exported Go identifier.
func Identifier(name string) string {
	var sb strings.Builder
	for i, r := range name {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if i == 0 {
				if unicode.IsDigit(r) {
					sb.WriteByte('X')
				}
				r = unicode.ToUpper(r)
			}
			sb.WriteRune(r)
		default:
			if i == 0 {
				sb.WriteByte('X')
			}
			sb.WriteByte('_')
		}
	}
	if sb.Len() == 0 {
		return "X"
	}
	return sb.String()
}

// nameSet hands out unique field names, suffixing repeats with 2, 3, ...
// in the order they are claimed.
type nameSet struct {
	used map[string]int
}

func newNameSet() *nameSet {
	return &nameSet{used: make(map[string]int)}
}

// reserve marks name as taken without handing it out.
func (s *nameSet) reserve(name string) {
	s.used[name]++
}

func (s *nameSet) claim(raw string) string {
	base := Identifier(raw)
	n := s.used[base]
	s.used[base] = n + 1
	if n == 0 {
		return base
	}
	for {
		n++
		candidate := fmt.Sprintf("%s%d", base, n)
		if s.used[candidate] == 0 {
			s.used[candidate] = 1
			return candidate
		}
	}
}
