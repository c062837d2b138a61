package login

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind is the type of an XML-RPC value.
type Kind int

const (
	KindString Kind = iota
	KindBool
	KindInt
	KindDouble
	KindArray
	KindStruct
)

// Value is one node of an XML-RPC value tree.
type Value struct {
	Kind   Kind
	Str    string
	Bool   bool
	Int    int64
	Double float64
	Array  []Value
	Struct []Member
}

// Member is a named struct entry. Order is kept as received.
type Member struct {
	Name  string
	Value Value
}

func String(s string) Value      { return Value{Kind: KindString, Str: s} }
func Bool(b bool) Value          { return Value{Kind: KindBool, Bool: b} }
func Int(n int64) Value          { return Value{Kind: KindInt, Int: n} }
func Double(f float64) Value     { return Value{Kind: KindDouble, Double: f} }
func Array(items ...Value) Value { return Value{Kind: KindArray, Array: items} }
func Struct(members ...Member) Value {
	return Value{Kind: KindStruct, Struct: members}
}

// Strings builds an array of string values.
func Strings(items []string) Value {
	values := make([]Value, len(items))
	for i, s := range items {
		values[i] = String(s)
	}
	return Array(values...)
}

// Get returns the struct member with the given name.
func (v Value) Get(name string) (Value, bool) {
	for _, m := range v.Struct {
		if m.Name == name {
			return m.Value, true
		}
	}
	return Value{}, false
}

// Text renders the value as flat text. Arrays become [a,b] and structs
// become {"k":"v"} with members rendered recursively.
func (v Value) Text() string {
	switch v.Kind {
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindDouble:
		return strconv.FormatFloat(v.Double, 'f', -1, 64)
	case KindArray:
		parts := make([]string, 0, len(v.Array))
		for _, item := range v.Array {
			if text := item.Text(); text != "" {
				parts = append(parts, text)
			}
		}
		return "[" + strings.Join(parts, ",") + "]"
	case KindStruct:
		parts := make([]string, 0, len(v.Struct))
		for _, m := range v.Struct {
			parts = append(parts, fmt.Sprintf("%q:%q", m.Name, m.Value.Text()))
		}
		return "{" + strings.Join(parts, ",") + "}"
	default:
		return v.Str
	}
}

// FaultError is an XML-RPC <fault> response.
type FaultError struct {
	Code   int64
	String string
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("xml-rpc fault %d: %s", e.Code, e.String)
}

// ErrNoParams is returned for a methodResponse without a param value.
var ErrNoParams = errors.New("xml-rpc response has no params")

// wire shapes

type xmlValue struct {
	String   *string    `xml:"string,omitempty"`
	Boolean  *string    `xml:"boolean,omitempty"`
	Int      *string    `xml:"int,omitempty"`
	I4       *string    `xml:"i4,omitempty"`
	Double   *string    `xml:"double,omitempty"`
	Array    *xmlArray  `xml:"array,omitempty"`
	Struct   *xmlStruct `xml:"struct,omitempty"`
	Chardata string     `xml:",chardata"`
}

type xmlArray struct {
	Values []xmlValue `xml:"data>value"`
}

type xmlStruct struct {
	Members []xmlMember `xml:"member"`
}

type xmlMember struct {
	Name  string   `xml:"name"`
	Value xmlValue `xml:"value"`
}

type xmlMethodCall struct {
	XMLName    xml.Name   `xml:"methodCall"`
	MethodName string     `xml:"methodName"`
	Params     []xmlValue `xml:"params>param>value"`
}

type xmlMethodResponse struct {
	XMLName xml.Name   `xml:"methodResponse"`
	Params  []xmlValue `xml:"params>param>value"`
	Fault   *xmlValue  `xml:"fault>value"`
}

func toXML(v Value) xmlValue {
	str := func(s string) *string { return &s }
	switch v.Kind {
	case KindBool:
		if v.Bool {
			return xmlValue{Boolean: str("1")}
		}
		return xmlValue{Boolean: str("0")}
	case KindInt:
		return xmlValue{Int: str(strconv.FormatInt(v.Int, 10))}
	case KindDouble:
		return xmlValue{Double: str(strconv.FormatFloat(v.Double, 'f', -1, 64))}
	case KindArray:
		arr := &xmlArray{Values: make([]xmlValue, len(v.Array))}
		for i, item := range v.Array {
			arr.Values[i] = toXML(item)
		}
		return xmlValue{Array: arr}
	case KindStruct:
		st := &xmlStruct{Members: make([]xmlMember, len(v.Struct))}
		for i, m := range v.Struct {
			st.Members[i] = xmlMember{Name: m.Name, Value: toXML(m.Value)}
		}
		return xmlValue{Struct: st}
	default:
		return xmlValue{String: str(v.Str)}
	}
}

func fromXML(x xmlValue) (Value, error) {
	switch {
	case x.String != nil:
		return String(*x.String), nil
	case x.Boolean != nil:
		b, err := parseBool(*x.Boolean)
		if err != nil {
			return Value{}, err
		}
		return Bool(b), nil
	case x.Int != nil, x.I4 != nil:
		raw := x.Int
		if raw == nil {
			raw = x.I4
		}
		n, err := strconv.ParseInt(strings.TrimSpace(*raw), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("invalid int %q: %w", *raw, err)
		}
		return Int(n), nil
	case x.Double != nil:
		f, err := strconv.ParseFloat(strings.TrimSpace(*x.Double), 64)
		if err != nil {
			return Value{}, fmt.Errorf("invalid double %q: %w", *x.Double, err)
		}
		return Double(f), nil
	case x.Array != nil:
		items := make([]Value, 0, len(x.Array.Values))
		for _, raw := range x.Array.Values {
			item, err := fromXML(raw)
			if err != nil {
				return Value{}, err
			}
			items = append(items, item)
		}
		return Array(items...), nil
	case x.Struct != nil:
		members := make([]Member, 0, len(x.Struct.Members))
		for _, raw := range x.Struct.Members {
			val, err := fromXML(raw.Value)
			if err != nil {
				return Value{}, fmt.Errorf("member %s: %w", raw.Name, err)
			}
			members = append(members, Member{Name: raw.Name, Value: val})
		}
		return Struct(members...), nil
	default:
		// A value without a type element is a string.
		return String(x.Chardata), nil
	}
}

// EncodeCall renders a methodCall document.
func EncodeCall(method string, params ...Value) ([]byte, error) {
	call := xmlMethodCall{MethodName: method, Params: make([]xmlValue, len(params))}
	for i, p := range params {
		call.Params[i] = toXML(p)
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(call); err != nil {
		return nil, fmt.Errorf("failed to encode %s call: %w", method, err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// DecodeCall parses a methodCall document.
func DecodeCall(data []byte) (string, []Value, error) {
	var call xmlMethodCall
	if err := xml.Unmarshal(data, &call); err != nil {
		return "", nil, fmt.Errorf("failed to parse method call: %w", err)
	}
	params := make([]Value, 0, len(call.Params))
	for _, raw := range call.Params {
		v, err := fromXML(raw)
		if err != nil {
			return "", nil, err
		}
		params = append(params, v)
	}
	return call.MethodName, params, nil
}

// EncodeResponse renders a methodResponse with a single param.
func EncodeResponse(result Value) ([]byte, error) {
	resp := xmlMethodResponse{Params: []xmlValue{toXML(result)}}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(resp); err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeResponse returns the first param of a methodResponse. A fault is
// returned as *FaultError.
func DecodeResponse(data []byte) (Value, error) {
	var resp xmlMethodResponse
	if err := xml.Unmarshal(data, &resp); err != nil {
		return Value{}, fmt.Errorf("failed to parse method response: %w", err)
	}
	if resp.Fault != nil {
		fault, err := fromXML(*resp.Fault)
		if err != nil {
			return Value{}, fmt.Errorf("failed to parse fault: %w", err)
		}
		fe := &FaultError{}
		if code, ok := fault.Get("faultCode"); ok {
			fe.Code = code.Int
		}
		if msg, ok := fault.Get("faultString"); ok {
			fe.String = msg.Str
		}
		return Value{}, fe
	}
	if len(resp.Params) == 0 {
		return Value{}, ErrNoParams
	}
	return fromXML(resp.Params[0])
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "y", "yes":
		return true, nil
	case "0", "false", "n", "no", "":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}
