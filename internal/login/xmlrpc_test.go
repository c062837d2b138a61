package login

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestCallRoundTrip(t *testing.T) {
	param := Struct(
		Member{"first", String("Test")},
		Member{"agree_to_tos", Bool(true)},
		Member{"count", Int(-7)},
		Member{"ratio", Double(0.25)},
		Member{"options", Strings([]string{"a", "b"})},
		Member{"inner", Struct(Member{"k", String("v & <w>")})},
	)
	data, err := EncodeCall("login_to_simulator", param)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "<?xml") {
		t.Fatalf("missing xml header: %s", data)
	}

	method, params, err := DecodeCall(data)
	if err != nil {
		t.Fatal(err)
	}
	if method != "login_to_simulator" {
		t.Fatalf("method = %q", method)
	}
	if len(params) != 1 || !reflect.DeepEqual(params[0], param) {
		t.Fatalf("params = %+v, want %+v", params, param)
	}
}

func TestDecodeResponseLeaves(t *testing.T) {
	doc := `<?xml version="1.0"?>
<methodResponse><params><param><value><struct>
  <member><name>s</name><value><string>text</string></value></member>
  <member><name>bare</name><value>untyped</value></member>
  <member><name>b</name><value><boolean>1</boolean></value></member>
  <member><name>i</name><value><int>42</int></value></member>
  <member><name>i4</name><value><i4>-3</i4></value></member>
  <member><name>d</name><value><double>1.5</double></value></member>
  <member><name>arr</name><value><array><data>
    <value><string>x</string></value><value><int>2</int></value>
  </data></array></value></member>
</struct></value></param></params></methodResponse>`

	v, err := DecodeResponse([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		want Value
	}{
		{"s", String("text")},
		{"bare", String("untyped")},
		{"b", Bool(true)},
		{"i", Int(42)},
		{"i4", Int(-3)},
		{"d", Double(1.5)},
		{"arr", Array(String("x"), Int(2))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := v.Get(tt.name)
			if !ok {
				t.Fatalf("member %s missing", tt.name)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecodeResponseFault(t *testing.T) {
	doc := `<methodResponse><fault><value><struct>
<member><name>faultCode</name><value><int>4</int></value></member>
<member><name>faultString</name><value><string>Too many parameters.</string></value></member>
</struct></value></fault></methodResponse>`

	_, err := DecodeResponse([]byte(doc))
	var fault *FaultError
	if !errors.As(err, &fault) {
		t.Fatalf("err = %v, want *FaultError", err)
	}
	if fault.Code != 4 || fault.String != "Too many parameters." {
		t.Fatalf("fault = %+v", fault)
	}
}

func TestDecodeResponseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not xml", "<html>oops"},
		{"no params", "<methodResponse></methodResponse>"},
		{"bad int", "<methodResponse><params><param><value><int>x</int></value></param></params></methodResponse>"},
		{"bad boolean", "<methodResponse><params><param><value><boolean>maybe</boolean></value></param></params></methodResponse>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeResponse([]byte(tt.doc)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestValueText(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want string
	}{
		{"string", String("abc"), "abc"},
		{"bool", Bool(false), "false"},
		{"int", Int(9), "9"},
		{"double", Double(0.5), "0.5"},
		{"array skips empty", Array(String("a"), String(""), Int(1)), "[a,1]"},
		{"struct", Struct(Member{"folder_id", String("abc")}), `{"folder_id":"abc"}`},
		{"nested", Array(Struct(Member{"n", Int(1)})), `[{"n":"1"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.v.Text(); got != tt.want {
				t.Fatalf("Text() = %s, want %s", got, tt.want)
			}
		})
	}
}
