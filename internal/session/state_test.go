package session

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/slproto/slproto/internal/events"
	"github.com/slproto/slproto/internal/protocol"
)

type applyStep struct {
	dir  Direction
	msg  protocol.Message
	want events.SessionState
}

func handshakeScript() []applyStep {
	return []applyStep{
		{DirOutbound, protocol.UseCircuitCode{}, events.StateCircuitRequested},
		{DirInbound, protocol.UseCircuitCodeReply{Success: true}, events.StateCircuitAccepted},
		{DirOutbound, protocol.CompleteAgentMovement{}, events.StateMovementRequested},
		{DirInbound, protocol.AgentMovementComplete{}, events.StateMovementComplete},
		{DirInbound, protocol.RegionHandshake{}, events.StateRegionHandshakeReceived},
		{DirOutbound, protocol.RegionHandshakeReply{}, events.StateRegionAcknowledged},
		{DirOutbound, protocol.AgentThrottle{}, events.StateThrottleNegotiated},
		{DirOutbound, protocol.AgentUpdate{}, events.StateSteadyState},
	}
}

func TestMachineOrderedWalk(t *testing.T) {
	m := NewMachine()
	for _, st := range handshakeScript() {
		tr, err := m.Apply(st.dir, st.msg)
		if err != nil {
			t.Fatalf("%s: %v", st.msg.Name(), err)
		}
		if tr == nil || tr.To != st.want {
			t.Fatalf("%s: transition %+v, want to %s", st.msg.Name(), tr, st.want)
		}
	}
	if got := len(m.History()); got != 8 {
		t.Fatalf("history has %d entries, want 8", got)
	}
}

func TestMachineRejectsRegionHandshakeBeforeCircuitReply(t *testing.T) {
	m := NewMachine()
	if _, err := m.Apply(DirOutbound, protocol.UseCircuitCode{}); err != nil {
		t.Fatalf("UseCircuitCode: %v", err)
	}

	tr, err := m.Apply(DirInbound, protocol.RegionHandshake{SimName: "Early"})
	if !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("err = %v, want ErrOutOfOrder", err)
	}
	if tr != nil {
		t.Fatalf("unexpected transition %+v", tr)
	}
	var order *OrderError
	if !errors.As(err, &order) || order.Stale {
		t.Fatalf("order error = %+v, want non-stale", order)
	}
	if got := m.State(); got != events.StateCircuitRequested {
		t.Fatalf("state = %s, want circuit_requested", got)
	}
}

func TestMachineOutboundOutOfOrder(t *testing.T) {
	m := NewMachine()
	_, err := m.Apply(DirOutbound, protocol.CompleteAgentMovement{})
	if !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("err = %v, want ErrOutOfOrder", err)
	}
	if m.State() != events.StateDisconnected {
		t.Fatalf("state = %s", m.State())
	}
}

func TestMachineStaleMessage(t *testing.T) {
	m := NewMachine()
	script := handshakeScript()
	for _, st := range script[:3] {
		if _, err := m.Apply(st.dir, st.msg); err != nil {
			t.Fatalf("%s: %v", st.msg.Name(), err)
		}
	}

	_, err := m.Apply(DirInbound, protocol.UseCircuitCodeReply{Success: true})
	var order *OrderError
	if !errors.As(err, &order) || !order.Stale {
		t.Fatalf("err = %v, want stale order error", err)
	}
	if m.State() != events.StateMovementRequested {
		t.Fatalf("state = %s", m.State())
	}
}

func TestMachineCircuitRejected(t *testing.T) {
	m := NewMachine()
	m.Apply(DirOutbound, protocol.UseCircuitCode{})

	_, err := m.Apply(DirInbound, protocol.UseCircuitCodeReply{Success: false})
	if !errors.Is(err, ErrCircuitRejected) {
		t.Fatalf("err = %v, want ErrCircuitRejected", err)
	}
	if m.State() != events.StateCircuitRequested {
		t.Fatalf("state = %s", m.State())
	}
}

func TestMachinePassThrough(t *testing.T) {
	m := NewMachine()
	m.Apply(DirOutbound, protocol.UseCircuitCode{})

	for _, msg := range []protocol.Message{
		protocol.ChatFromSimulator{},
		protocol.StartPingCheck{},
		protocol.OnlineNotification{},
		protocol.PacketAck{},
	} {
		tr, err := m.Apply(DirInbound, msg)
		if err != nil || tr != nil {
			t.Fatalf("%s: transition %+v err %v", msg.Name(), tr, err)
		}
	}
	if m.State() != events.StateCircuitRequested {
		t.Fatalf("state = %s", m.State())
	}
}

func TestMachineSteadyStateRepeats(t *testing.T) {
	m := NewMachine()
	for _, st := range handshakeScript() {
		m.Apply(st.dir, st.msg)
	}
	for _, msg := range []protocol.Message{protocol.AgentUpdate{}, protocol.AgentThrottle{}, protocol.ChatFromViewer{}} {
		tr, err := m.Apply(DirOutbound, msg)
		if err != nil || tr != nil {
			t.Fatalf("%s: transition %+v err %v", msg.Name(), tr, err)
		}
	}
	if m.State() != events.StateSteadyState {
		t.Fatalf("state = %s", m.State())
	}
}

func TestMachineLogoutFromAnyState(t *testing.T) {
	script := handshakeScript()
	for n := 1; n <= len(script); n++ {
		m := NewMachine()
		for _, st := range script[:n] {
			m.Apply(st.dir, st.msg)
		}
		tr, err := m.Apply(DirOutbound, protocol.LogoutRequest{AgentID: uuid.New()})
		if err != nil {
			t.Fatalf("after %d steps: %v", n, err)
		}
		if tr == nil || tr.To != events.StateDisconnected {
			t.Fatalf("after %d steps: transition %+v", n, tr)
		}
	}
}

func TestMachineExpects(t *testing.T) {
	m := NewMachine()
	if !m.Expects(DirOutbound, protocol.UseCircuitCode{}) {
		t.Fatal("expected UseCircuitCode in disconnected state")
	}
	if m.Expects(DirInbound, protocol.RegionHandshake{}) {
		t.Fatal("RegionHandshake not expected yet")
	}
	if m.Expects(DirInbound, protocol.ChatFromSimulator{}) {
		t.Fatal("chat is not a handshake step")
	}
}

func TestSessionStateJSON(t *testing.T) {
	out, err := events.StateRegionHandshakeReceived.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `"region_handshake_received"` {
		t.Fatalf("json = %s", out)
	}
}

func TestMachinePlanLeavesStateUntilCommit(t *testing.T) {
	m := NewMachine()

	st, err := m.Plan(DirOutbound, protocol.UseCircuitCode{})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if st == nil || st.From != events.StateDisconnected || st.To != events.StateCircuitRequested {
		t.Fatalf("step = %+v", st)
	}
	if got := m.State(); got != events.StateDisconnected {
		t.Fatalf("state after Plan = %s, want Disconnected", got)
	}

	tr := m.Commit(*st)
	if tr == nil || tr.To != events.StateCircuitRequested {
		t.Fatalf("Commit transition = %+v", tr)
	}
	if again := m.Commit(*st); again != nil {
		t.Fatalf("stale commit moved the machine: %+v", again)
	}

	if _, err := m.Plan(DirOutbound, protocol.RegionHandshakeReply{}); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("err = %v, want ErrOutOfOrder", err)
	}
	if st, err := m.Plan(DirInbound, protocol.ChatFromSimulator{}); st != nil || err != nil {
		t.Fatalf("non-handshake message planned %+v, %v", st, err)
	}
}
