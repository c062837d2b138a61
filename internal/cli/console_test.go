package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/slproto/slproto/internal/events"
	"github.com/slproto/slproto/internal/protocol"
	"github.com/slproto/slproto/internal/session"
	"github.com/slproto/slproto/internal/template"
)

type fakeCommander struct {
	mu        sync.Mutex
	submitted []session.Command
}

func (f *fakeCommander) Snapshot() session.Snapshot {
	return session.Snapshot{
		State:   events.StateSteadyState,
		Name:    "Test Resident",
		AgentID: "a2e76fcd-9360-4f6d-a924-000000000003",
		SimAddr: "127.0.0.1:13005",
		Region:  "Da Boom",
	}
}

func (f *fakeCommander) Submit(_ context.Context, cmd session.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, cmd)
	return nil
}

func TestConsoleExecute(t *testing.T) {
	tests := []struct {
		line    string
		want    session.Command
		wantErr bool
	}{
		{line: "say hello there", want: session.SendChat{Message: "hello there", Type: protocol.ChatNormal}},
		{line: "shout HEY", want: session.SendChat{Message: "HEY", Type: protocol.ChatShout}},
		{line: "whisper psst", want: session.SendChat{Message: "psst", Type: protocol.ChatWhisper}},
		{line: "channel 42 open sesame", want: session.SendChat{Message: "open sesame", Channel: 42, Type: protocol.ChatNormal}},
		{line: "move 128 64.5 22", want: session.SendAgentUpdate{Position: protocol.Vector3{X: 128, Y: 64.5, Z: 22}}},
		{line: "object 7", want: session.RequestObject{LocalID: 7}},
		{line: "throttle 1 2 3 4 5 6 7", want: session.SetThrottle{Values: [7]float32{1, 2, 3, 4, 5, 6, 7}}},
		{line: "say", wantErr: true},
		{line: "channel x hi", wantErr: true},
		{line: "move 1 2", wantErr: true},
		{line: "throttle 1 2 3", wantErr: true},
		{line: "throttle 1 2 3 4 5 6 -7", wantErr: true},
		{line: "texture not-a-uuid", wantErr: true},
		{line: ""},
		{line: "dance"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			sess := &fakeCommander{}
			var out bytes.Buffer
			c := NewConsole(sess, strings.NewReader(""), &out)

			err := c.Execute(context.Background(), tt.line)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Execute(%q) error = %v, wantErr %v", tt.line, err, tt.wantErr)
			}
			if tt.want == nil {
				if len(sess.submitted) != 0 {
					t.Errorf("submitted %v, want nothing", sess.submitted)
				}
				return
			}
			if len(sess.submitted) != 1 || sess.submitted[0] != tt.want {
				t.Errorf("submitted %#v, want %#v", sess.submitted, tt.want)
			}
		})
	}
}

func TestConsoleRunQuitLogsOut(t *testing.T) {
	sess := &fakeCommander{}
	var out bytes.Buffer
	in := strings.NewReader("status\nsay hi\nquit\nsay never\n")

	c := NewConsole(sess, in, &out)
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(sess.submitted) != 2 {
		t.Fatalf("submitted %d commands, want 2: %v", len(sess.submitted), sess.submitted)
	}
	if _, ok := sess.submitted[1].(session.Logout); !ok {
		t.Errorf("last command = %T, want Logout", sess.submitted[1])
	}
	if !strings.Contains(out.String(), "Da Boom") {
		t.Errorf("status output missing region:\n%s", out.String())
	}
}

func TestFormatEvent(t *testing.T) {
	tests := []struct {
		name string
		ev   events.Event
		want string
		ok   bool
	}{
		{
			name: "state",
			ev: events.Event{Type: events.EventStateChanged, Payload: events.StateChangedPayload{
				From: events.StateCircuitRequested, To: events.StateCircuitAccepted,
			}},
			want: "* state circuit_requested -> circuit_accepted", ok: true,
		},
		{
			name: "chat",
			ev: events.Event{Type: events.EventChat, Payload: events.MessagePayload{
				Message: protocol.ChatFromSimulator{FromName: "Greeter", Message: "hi", ChatType: protocol.ChatNormal},
			}},
			want: "Greeter: hi", ok: true,
		},
		{
			name: "shout",
			ev: events.Event{Type: events.EventChat, Payload: events.MessagePayload{
				Message: protocol.ChatFromSimulator{FromName: "Greeter", Message: "HI", ChatType: protocol.ChatShout},
			}},
			want: "Greeter shouts: HI", ok: true,
		},
		{
			name: "region",
			ev: events.Event{Type: events.EventRegionHandshake, Payload: events.MessagePayload{
				Message: protocol.RegionHandshake{SimName: "Da Boom"},
			}},
			want: "* entered region Da Boom", ok: true,
		},
		{
			name: "error",
			ev: events.Event{Type: events.EventSessionError, Payload: events.SessionErrorPayload{
				State: events.StateCircuitRequested, Err: errors.New("timed out"),
			}},
			want: "! session failed in circuit_requested: timed out", ok: true,
		},
		{
			name: "disconnected",
			ev:   events.Event{Type: events.EventDisconnected, Payload: "agent"},
			want: "* disconnected", ok: true,
		},
		{
			name: "ping ignored",
			ev:   events.Event{Type: events.EventPing, Payload: events.MessagePayload{}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FormatEvent(tt.ev)
			if ok != tt.ok || got != tt.want {
				t.Errorf("FormatEvent = %q, %v; want %q, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestRenderTemplateFilter(t *testing.T) {
	reg, err := template.Default()
	if err != nil {
		t.Fatalf("template.Default: %v", err)
	}

	var out bytes.Buffer
	n := RenderTemplate(&out, reg.Template(), "circuit")
	if n == 0 {
		t.Fatal("no rows for filter \"circuit\"")
	}
	if !strings.Contains(out.String(), "UseCircuitCode") {
		t.Errorf("table missing UseCircuitCode:\n%s", out.String())
	}
	if strings.Contains(out.String(), "RegionHandshake ") {
		t.Errorf("filter let RegionHandshake through:\n%s", out.String())
	}
}
