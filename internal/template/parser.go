package template

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseError is a template syntax or semantic error at a source line.
type ParseError struct {
	Line  int
	Token string
	Msg   string
}

func (e *ParseError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("template line %d: %s (near %q)", e.Line, e.Msg, e.Token)
	}
	return fmt.Sprintf("template line %d: %s", e.Line, e.Msg)
}

// token is a word or a brace together with its 1-based source line.
type token struct {
	text string
	line int
}

func (t token) isOpen() bool  { return t.text == "{" }
func (t token) isClose() bool { return t.text == "}" }
func (t token) isBrace() bool { return t.isOpen() || t.isClose() }

// templateParser walks the token stream with one token of lookahead.
type templateParser struct {
	tokens  []token
	pos     int
	lastLn  int
	version string
}

// Parse reads template source text into a MessageTemplate.
func Parse(src string) (*MessageTemplate, error) {
	p := &templateParser{}
	p.tokenize(src)
	return p.parse()
}

// tokenize splits the source into words and braces. Comments and the
// version directive are dropped here so the grammar never sees them.
func (p *templateParser) tokenize(src string) {
	lines := strings.Split(src, "\n")
	p.lastLn = len(lines)
	for i, raw := range lines {
		lineNo := i + 1
		if idx := strings.Index(raw, "//"); idx >= 0 {
			raw = raw[:idx]
		}
		fields := strings.Fields(raw)
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "version" {
			if len(fields) > 1 {
				p.version = fields[1]
			}
			continue
		}
		spaced := strings.NewReplacer("{", " { ", "}", " } ").Replace(raw)
		for _, w := range strings.Fields(spaced) {
			p.tokens = append(p.tokens, token{text: w, line: lineNo})
		}
	}
}

func (p *templateParser) peek() (token, bool) {
	if p.pos >= len(p.tokens) {
		return token{}, false
	}
	return p.tokens[p.pos], true
}

func (p *templateParser) next() (token, bool) {
	t, ok := p.peek()
	if ok {
		p.pos++
	}
	return t, ok
}

// words consumes non-brace tokens up to the next brace.
func (p *templateParser) words() []token {
	var out []token
	for {
		t, ok := p.peek()
		if !ok || t.isBrace() {
			return out
		}
		out = append(out, t)
		p.pos++
	}
}

func (p *templateParser) eof(opened token, what string) error {
	return &ParseError{
		Line: p.lastLn,
		Msg:  fmt.Sprintf("unexpected end of input, unclosed %s opened at line %d", what, opened.line),
	}
}

func (p *templateParser) parse() (*MessageTemplate, error) {
	tmpl := &MessageTemplate{Version: p.version}
	seenID := make(map[[2]uint32]*MessageDefinition)
	seenName := make(map[string]*MessageDefinition)

	for {
		t, ok := p.next()
		if !ok {
			break
		}
		if !t.isOpen() {
			return nil, &ParseError{Line: t.line, Token: t.text, Msg: "expected '{' to open a message"}
		}

		msg, err := p.parseMessage(t)
		if err != nil {
			return nil, err
		}

		key := [2]uint32{uint32(msg.Frequency), msg.ID}
		if prev, dup := seenID[key]; dup {
			return nil, &ParseError{
				Line:  msg.Line,
				Token: msg.Name,
				Msg: fmt.Sprintf("duplicate %s identifier %d, already used by %s at line %d",
					msg.Frequency, msg.ID, prev.Name, prev.Line),
			}
		}
		if prev, dup := seenName[msg.Name]; dup {
			return nil, &ParseError{
				Line:  msg.Line,
				Token: msg.Name,
				Msg:   fmt.Sprintf("duplicate message name, first defined at line %d", prev.Line),
			}
		}
		seenID[key] = msg
		seenName[msg.Name] = msg
		tmpl.Messages = append(tmpl.Messages, msg)
	}

	return tmpl, nil
}

func (p *templateParser) parseMessage(open token) (*MessageDefinition, error) {
	header := p.words()
	if len(header) == 0 {
		t, ok := p.peek()
		if !ok {
			return nil, p.eof(open, "message")
		}
		return nil, &ParseError{Line: t.line, Token: t.text, Msg: "missing message header"}
	}
	msg, err := parseMessageHeader(header)
	if err != nil {
		return nil, err
	}

	for {
		t, ok := p.next()
		if !ok {
			return nil, p.eof(open, "message "+msg.Name)
		}
		if t.isClose() {
			return msg, nil
		}
		if !t.isOpen() {
			return nil, &ParseError{Line: t.line, Token: t.text, Msg: "expected '{' or '}' in message " + msg.Name}
		}
		block, err := p.parseBlock(t)
		if err != nil {
			return nil, err
		}
		msg.Blocks = append(msg.Blocks, block)
	}
}

func parseMessageHeader(header []token) (*MessageDefinition, error) {
	line := header[0].line
	if len(header) < 5 {
		return nil, &ParseError{
			Line:  line,
			Token: header[0].text,
			Msg:   fmt.Sprintf("message header needs at least 5 tokens, got %d", len(header)),
		}
	}

	msg := &MessageDefinition{Name: header[0].text, Line: line}

	freq, ok := ParseFrequency(header[1].text)
	if !ok {
		return nil, &ParseError{Line: line, Token: header[1].text, Msg: "unknown frequency"}
	}
	msg.Frequency = freq

	id, err := parseID(header[2].text)
	if err != nil {
		return nil, &ParseError{Line: line, Token: header[2].text, Msg: "invalid message identifier"}
	}
	if id > freq.MaxID() {
		return nil, &ParseError{
			Line:  line,
			Token: header[2].text,
			Msg:   fmt.Sprintf("identifier exceeds %s tier maximum 0x%X", freq, freq.MaxID()),
		}
	}
	if freq == FrequencyFixed && id&0xFFFFFF00 != 0xFFFFFF00 {
		return nil, &ParseError{Line: line, Token: header[2].text, Msg: "fixed identifier lacks the 0xFFFFFF prefix"}
	}
	msg.ID = id

	switch header[3].text {
	case "Trusted":
		msg.Trust = TrustTrusted
	case "NotTrusted":
		msg.Trust = TrustNotTrusted
	default:
		return nil, &ParseError{Line: line, Token: header[3].text, Msg: "unknown trust level"}
	}

	switch header[4].text {
	case "Zerocoded":
		msg.Encoding = EncodingZerocoded
	case "Unencoded":
		msg.Encoding = EncodingUnencoded
	default:
		return nil, &ParseError{Line: line, Token: header[4].text, Msg: "unknown encoding"}
	}

	for _, f := range header[5:] {
		msg.Flags = append(msg.Flags, f.text)
	}
	return msg, nil
}

// parseID accepts a 0x-prefixed hexadecimal literal or a decimal literal.
func parseID(s string) (uint32, error) {
	var (
		v   uint64
		err error
	)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err = strconv.ParseUint(s[2:], 16, 32)
	} else {
		v, err = strconv.ParseUint(s, 10, 32)
	}
	return uint32(v), err
}

func (p *templateParser) parseBlock(open token) (*BlockDefinition, error) {
	header := p.words()
	if len(header) < 2 {
		t, ok := p.peek()
		if !ok {
			return nil, p.eof(open, "block")
		}
		return nil, &ParseError{Line: t.line, Token: t.text, Msg: "block header needs a name and a cardinality"}
	}

	block := &BlockDefinition{Name: header[0].text}
	card := header[1]
	switch card.text {
	case "Single":
		block.Cardinality = CardinalitySingle
	case "Variable":
		block.Cardinality = CardinalityVariable
	case "Multiple":
		block.Cardinality = CardinalityMultiple
		if len(header) < 3 {
			return nil, &ParseError{Line: card.line, Token: block.Name, Msg: "Multiple block requires a count"}
		}
		n, err := strconv.Atoi(header[2].text)
		if err != nil || n < 0 {
			return nil, &ParseError{Line: card.line, Token: header[2].text, Msg: "invalid block count"}
		}
		block.Count = &n
	default:
		return nil, &ParseError{Line: card.line, Token: card.text, Msg: "unknown block cardinality"}
	}

	for {
		t, ok := p.next()
		if !ok {
			return nil, p.eof(open, "block "+block.Name)
		}
		if t.isClose() {
			return block, nil
		}
		if !t.isOpen() {
			return nil, &ParseError{Line: t.line, Token: t.text, Msg: "expected '{' or '}' in block " + block.Name}
		}
		field, err := p.parseField(t)
		if err != nil {
			return nil, err
		}
		block.Fields = append(block.Fields, field)
	}
}

func (p *templateParser) parseField(open token) (*FieldDefinition, error) {
	words := p.words()
	closing, ok := p.next()
	if !ok {
		return nil, p.eof(open, "field")
	}
	if !closing.isClose() {
		return nil, &ParseError{Line: closing.line, Token: closing.text, Msg: "nested '{' inside field declaration"}
	}
	if len(words) < 2 {
		tok := ""
		if len(words) == 1 {
			tok = words[0].text
		}
		return nil, &ParseError{Line: open.line, Token: tok, Msg: "field declaration needs a name and a type"}
	}

	typeTokens := make([]string, 0, len(words)-1)
	for _, w := range words[1:] {
		typeTokens = append(typeTokens, w.text)
	}
	return &FieldDefinition{
		Name: words[0].text,
		Type: strings.Join(typeTokens, " "),
	}, nil
}
