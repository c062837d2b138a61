package db

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/slproto/slproto/internal/events"
	"github.com/slproto/slproto/internal/protocol"
)

func openHistory(t *testing.T) *History {
	t.Helper()
	h, err := NewHistory(filepath.Join(t.TempDir(), "sub", "history.db"))
	if err != nil {
		t.Fatalf("NewHistory: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestRecordLogin(t *testing.T) {
	h := openHistory(t)

	if _, err := h.RecordLogin(events.LoginPayload{
		FirstName: "Test", LastName: "Resident", LoginURI: "http://localhost:9000/", Reason: "bad password",
	}, false); err != nil {
		t.Fatalf("RecordLogin failed attempt: %v", err)
	}
	if _, err := h.RecordLogin(events.LoginPayload{
		FirstName: "Test", LastName: "Resident", LoginURI: "http://localhost:9000/",
		AgentID: "a2e76fcd-9360-4f6d-a924-000000000003", SimAddr: "127.0.0.1:13005",
	}, true); err != nil {
		t.Fatalf("RecordLogin success: %v", err)
	}

	logins, err := h.RecentLogins(10)
	if err != nil {
		t.Fatalf("RecentLogins: %v", err)
	}
	if len(logins) != 2 {
		t.Fatalf("got %d logins, want 2", len(logins))
	}
	if !logins[0].Success || logins[0].SimAddr != "127.0.0.1:13005" {
		t.Errorf("newest login = %+v, want the successful one", logins[0])
	}
	if logins[1].Success || logins[1].Reason != "bad password" {
		t.Errorf("oldest login = %+v, want the failed one", logins[1])
	}
}

func TestRecordSessionEvents(t *testing.T) {
	h := openHistory(t)

	id, err := h.StartSession("agent", "127.0.0.1:13005")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	stream := []events.Event{
		{Type: events.EventStateChanged, Payload: events.StateChangedPayload{
			From: events.StateDisconnected, To: events.StateCircuitRequested, At: time.Now(),
		}},
		{Type: events.EventStateChanged, Payload: events.StateChangedPayload{
			From: events.StateCircuitRequested, To: events.StateCircuitAccepted, At: time.Now(),
		}},
		{Type: events.EventChat, Payload: events.MessagePayload{
			Message: protocol.ChatFromSimulator{FromName: "Greeter", Message: "hello"},
		}},
		{Type: events.EventPing, Payload: events.MessagePayload{}},
		{Type: events.EventSessionError, Payload: events.SessionErrorPayload{
			State: events.StateCircuitAccepted, Err: errors.New("step timed out"),
		}},
		{Type: events.EventDisconnected, Payload: "agent"},
	}
	for _, ev := range stream {
		if err := h.Record(id, ev); err != nil {
			t.Fatalf("Record(%s): %v", ev.Type, err)
		}
	}

	transitions, err := h.Transitions(id)
	if err != nil {
		t.Fatalf("Transitions: %v", err)
	}
	if len(transitions) != 2 || transitions[1].ToState != "circuit_accepted" {
		t.Errorf("transitions = %+v", transitions)
	}

	chat, err := h.Chat(id)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(chat) != 1 || chat[0].FromName != "Greeter" || chat[0].Message != "hello" {
		t.Errorf("chat = %+v", chat)
	}

	sessions, err := h.RecentSessions(0)
	if err != nil {
		t.Fatalf("RecentSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	s := sessions[0]
	if s.EndedAt == nil {
		t.Error("session not marked ended")
	}
	if s.FinalState != "circuit_accepted" || s.Error != "step timed out" {
		t.Errorf("session end = %q/%q, want the error state to be kept", s.FinalState, s.Error)
	}
}

func TestPruneKeepsRecent(t *testing.T) {
	h := openHistory(t)

	if _, err := h.RecordLogin(events.LoginPayload{FirstName: "a", LastName: "b", LoginURI: "u"}, true); err != nil {
		t.Fatalf("RecordLogin: %v", err)
	}
	if err := h.Prune(30); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	logins, err := h.RecentLogins(5)
	if err != nil {
		t.Fatalf("RecentLogins: %v", err)
	}
	if len(logins) != 1 {
		t.Errorf("got %d logins after prune, want 1", len(logins))
	}
}
