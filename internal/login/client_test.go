package login

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/slproto/slproto/internal/events"
)

// loginServer answers every call with result and hands the decoded request
// struct to got.
func loginServer(t *testing.T, status int, result Value, got chan<- Value) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "text/xml" {
			t.Errorf("unexpected request %s %s", r.Method, r.Header.Get("Content-Type"))
		}
		body, _ := io.ReadAll(r.Body)
		method, params, err := DecodeCall(body)
		if err != nil || method != "login_to_simulator" || len(params) != 1 {
			t.Errorf("bad call %q %v: %v", method, params, err)
		}
		if got != nil && len(params) == 1 {
			got <- params[0]
		}
		out, err := EncodeResponse(result)
		if err != nil {
			t.Errorf("encode: %v", err)
		}
		w.Header().Set("Content-Type", "text/xml")
		w.WriteHeader(status)
		w.Write(out)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testRequest() Request {
	req := NewRequest("Test", "Resident", "secret")
	req.MFAToken = ""
	req.MFAHash = ""
	return req
}

func TestLoginSuccess(t *testing.T) {
	got := make(chan Value, 1)
	srv := loginServer(t, http.StatusOK, successValue(), got)

	bus := events.NewEventBus()
	defer bus.Stop()
	seen := make(chan events.Event, 1)
	bus.Subscribe(events.EventLoginSucceeded, "test", func(ctx context.Context, e events.Event) error {
		seen <- e
		return nil
	})

	c := NewClient(Options{LoginURI: srv.URL, Bus: bus})
	resp, err := c.Login(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.AgentID != uuid.MustParse(testAgent) {
		t.Fatalf("agent id = %s", resp.AgentID)
	}

	sent := <-got
	checks := map[string]string{
		"first":         "Test",
		"last":          "Resident",
		"passwd":        HashPassword("secret"),
		"start":         "last",
		"channel":       "slproto",
		"agree_to_tos":  "true",
		"read_critical": "true",
		"viewer_digest": "00000000-0000-0000-0000-000000000000",
		"options":       "[inventory-root,inventory-skeleton,buddy-list,login-flags]",
	}
	for name, want := range checks {
		v, ok := sent.Get(name)
		if !ok {
			t.Errorf("request missing %s", name)
			continue
		}
		if v.Text() != want {
			t.Errorf("%s = %s, want %s", name, v.Text(), want)
		}
	}
	for _, name := range []string{"platform", "mac", "id0", "version"} {
		if v, ok := sent.Get(name); !ok || v.Text() == "" {
			t.Errorf("request %s empty", name)
		}
	}
	if _, ok := sent.Get("token"); ok {
		t.Error("token sent without being set")
	}

	select {
	case e := <-seen:
		if p := e.Payload.(events.LoginPayload); p.AgentID != testAgent || p.SimAddr != "127.0.0.1:13005" {
			t.Fatalf("payload = %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("login event not emitted")
	}
}

func TestLoginSendsMFA(t *testing.T) {
	got := make(chan Value, 1)
	srv := loginServer(t, http.StatusOK, successValue(), got)

	req := testRequest()
	req.MFAToken = "123456"
	req.MFAHash = "abc"
	if _, err := NewClient(Options{LoginURI: srv.URL}).Login(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	sent := <-got
	if v, _ := sent.Get("token"); v.Str != "123456" {
		t.Fatalf("token = %q", v.Str)
	}
	if v, _ := sent.Get("mfa_hash"); v.Str != "abc" {
		t.Fatalf("mfa_hash = %q", v.Str)
	}
}

func TestLoginFailures(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		result     Value
		wantReason  string
		wantMessage string
		wantStatus  int
	}{
		{
			name:       "reason",
			status:     http.StatusOK,
			result:      Struct(Member{"login", String("false")}, Member{"reason", String("key")}, Member{"message", String("bad password")}),
			wantReason:  "key",
			wantMessage: "bad password",
		},
		{
			name:   "rejected with empty fields",
			status: http.StatusOK,
			result: Struct(
				Member{"login", String("false")},
				Member{"reason", String("key")},
				Member{"message", String("Wrong password")},
				Member{"circuit_code", String("")},
				Member{"agent_id", String("")},
			),
			wantReason:  "key",
			wantMessage: "Wrong password",
		},
		{
			name:   "indeterminate login",
			status: http.StatusOK,
			result: Struct(
				Member{"login", String("indeterminate")},
				Member{"reason", String("update")},
				Member{"message", String("Please upgrade your viewer")},
			),
			wantReason:  "update",
			wantMessage: "Please upgrade your viewer",
		},
		{
			name:       "message fallback",
			status:     http.StatusOK,
			result:      Struct(Member{"login", String("false")}, Member{"message", String("bad password")}),
			wantReason:  "bad password",
			wantMessage: "bad password",
		},
		{
			name:       "generic",
			status:     http.StatusOK,
			result:     Struct(Member{"login", String("false")}),
			wantReason: "login failed",
		},
		{
			name:       "non-2xx",
			status:     http.StatusServiceUnavailable,
			result:     Struct(),
			wantReason: "Service Unavailable",
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "unparseable field",
			status:     http.StatusOK,
			result:     Struct(Member{"login", String("true")}, Member{"agent_id", String("nope")}),
			wantReason: "malformed login response",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := loginServer(t, tt.status, tt.result, nil)
			_, err := NewClient(Options{LoginURI: srv.URL}).Login(context.Background(), testRequest())
			var authErr *AuthError
			if !errors.As(err, &authErr) {
				t.Fatalf("err = %v, want *AuthError", err)
			}
			if authErr.Reason != tt.wantReason || authErr.Status != tt.wantStatus {
				t.Fatalf("auth error = %+v, want reason %q status %d", authErr, tt.wantReason, tt.wantStatus)
			}
			if authErr.Message != tt.wantMessage {
				t.Fatalf("message = %q, want %q", authErr.Message, tt.wantMessage)
			}
			if tt.wantMessage != "" && !strings.Contains(err.Error(), tt.wantMessage) {
				t.Fatalf("error %q does not mention %q", err.Error(), tt.wantMessage)
			}
		})
	}
}

func TestLoginMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>maintenance</html>"))
	}))
	defer srv.Close()

	_, err := NewClient(Options{LoginURI: srv.URL}).Login(context.Background(), testRequest())
	var authErr *AuthError
	if !errors.As(err, &authErr) || authErr.Reason != "malformed login response" {
		t.Fatalf("err = %v", err)
	}
}

func TestLoginRejectsInvalidRequest(t *testing.T) {
	req := testRequest()
	req.Password = ""
	_, err := NewClient(Options{LoginURI: "http://127.0.0.1:1"}).Login(context.Background(), req)
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("err = %v, want *AuthError", err)
	}
}

func TestLoginHonorsContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewClient(Options{LoginURI: srv.URL}).Login(ctx, testRequest())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("login returned after %s", time.Since(start))
	}
}

func TestSplitName(t *testing.T) {
	tests := []struct {
		in          string
		first, last string
	}{
		{"Test Resident", "Test", "Resident"},
		{"test.user", "test", "user"},
		{"solo", "solo", "Resident"},
		{"  padded   name ", "padded", "name"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			first, last := SplitName(tt.in)
			if first != tt.first || last != tt.last {
				t.Fatalf("SplitName(%q) = %q %q", tt.in, first, last)
			}
		})
	}
}
