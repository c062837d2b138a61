package session

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/slproto/slproto/internal/protocol"
)

func runCircuit(t *testing.T, c *Circuit) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel, done
}

func TestCircuitSequenceNumbersUnique(t *testing.T) {
	client, sim := udpPair(t)
	c := NewCircuit(client, sim.LocalAddr(), CircuitOptions{})

	const workers, perWorker = 8, 25
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if _, err := c.Send(protocol.CompletePingCheck{PingID: 1}, false); err != nil {
					t.Errorf("send: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	seen := make(map[uint32]bool)
	for len(seen) < workers*perWorker {
		p := readPacket(t, sim, 2*time.Second)
		if seen[p.Sequence] {
			t.Fatalf("sequence %d sent twice", p.Sequence)
		}
		seen[p.Sequence] = true
	}
	if st := c.Stats(); st.LastSequence != workers*perWorker {
		t.Fatalf("last sequence = %d, want %d", st.LastSequence, workers*perWorker)
	}
}

func TestCircuitReliableAcknowledged(t *testing.T) {
	client, sim := udpPair(t)
	c := NewCircuit(client, sim.LocalAddr(), CircuitOptions{AckInterval: 10 * time.Millisecond})
	runCircuit(t, c)

	seq, err := c.Send(protocol.UseCircuitCode{Code: 5}, true)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if c.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", c.Pending())
	}

	p := readPacket(t, sim, time.Second)
	if !p.Reliable() || p.Sequence != seq {
		t.Fatalf("unexpected packet: %+v", p)
	}

	ack, err := protocol.Marshal(protocol.PacketAck{Packets: []uint32{seq}}, 1, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	sim.WriteTo(ack, client.LocalAddr())

	waitUntil(t, 2*time.Second, func() bool { return c.Pending() == 0 })
	if st := c.Stats(); st.AckSamples != 1 {
		t.Fatalf("ack samples = %d, want 1", st.AckSamples)
	}
}

func TestCircuitAppendedAckClearsPending(t *testing.T) {
	client, sim := udpPair(t)
	c := NewCircuit(client, sim.LocalAddr(), CircuitOptions{AckInterval: 10 * time.Millisecond})
	runCircuit(t, c)

	seq, err := c.Send(protocol.CompleteAgentMovement{}, true)
	if err != nil {
		t.Fatal(err)
	}
	readPacket(t, sim, time.Second)

	carrier := &protocol.Packet{
		Sequence:  1,
		Frequency: protocol.FrequencyHigh,
		ID:        protocol.IDCompletePingCheck,
		Payload:   []byte{3},
		Acks:      []uint32{seq},
	}
	data, err := protocol.EncodePacket(carrier)
	if err != nil {
		t.Fatal(err)
	}
	sim.WriteTo(data, client.LocalAddr())

	waitUntil(t, 2*time.Second, func() bool { return c.Pending() == 0 })

	select {
	case in := <-c.Incoming():
		if _, ok := in.Message.(protocol.CompletePingCheck); !ok {
			t.Fatalf("delivered %s", in.Message.Name())
		}
	case <-time.After(time.Second):
		t.Fatal("carrier message not delivered")
	}
}

func TestCircuitAcksInboundAndDropsDuplicates(t *testing.T) {
	client, sim := udpPair(t)
	c := NewCircuit(client, sim.LocalAddr(), CircuitOptions{AckInterval: 10 * time.Millisecond})
	runCircuit(t, c)

	data, err := protocol.Marshal(protocol.ChatFromSimulator{FromName: "Bot", Message: "hi"}, 7, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	sim.WriteTo(data, client.LocalAddr())
	sim.WriteTo(data, client.LocalAddr())

	select {
	case in := <-c.Incoming():
		chat, ok := in.Message.(protocol.ChatFromSimulator)
		if !ok || chat.Message != "hi" || in.Packet.Sequence != 7 {
			t.Fatalf("unexpected delivery: %+v", in)
		}
	case <-time.After(time.Second):
		t.Fatal("chat not delivered")
	}

	acked := false
	for !acked {
		p := readPacket(t, sim, 2*time.Second)
		if p.Key() != (protocol.Key{Frequency: protocol.FrequencyFixed, ID: protocol.IDPacketAck}) {
			continue
		}
		m, err := protocol.DecodeMessage(p)
		if err != nil {
			t.Fatal(err)
		}
		for _, seq := range m.(protocol.PacketAck).Packets {
			if seq == 7 {
				acked = true
			}
		}
	}

	waitUntil(t, time.Second, func() bool { return c.Stats().Dropped >= 1 })
	select {
	case in := <-c.Incoming():
		t.Fatalf("duplicate delivered: %+v", in)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCircuitDropsMalformedAndForeign(t *testing.T) {
	client, sim := udpPair(t)
	c := NewCircuit(client, sim.LocalAddr(), CircuitOptions{})
	runCircuit(t, c)

	stranger, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer stranger.Close()

	good, err := protocol.Marshal(protocol.StartPingCheck{PingID: 9}, 1, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	stranger.WriteTo(good, client.LocalAddr())
	sim.WriteTo([]byte{0x00, 0x01}, client.LocalAddr())
	sim.WriteTo([]byte{0x00, 0, 0, 0, 2, 0, 0xFF, 0xFF, 0x0F, 0xA0}, client.LocalAddr())
	waitUntil(t, time.Second, func() bool { return c.Stats().Dropped >= 3 })

	sim.WriteTo(good, client.LocalAddr())
	select {
	case in := <-c.Incoming():
		ping, ok := in.Message.(protocol.StartPingCheck)
		if !ok || ping.PingID != 9 {
			t.Fatalf("unexpected delivery: %+v", in)
		}
	case <-time.After(time.Second):
		t.Fatal("valid packet not delivered after malformed ones")
	}
}

func TestCircuitResendsThenFails(t *testing.T) {
	client, sim := udpPair(t)
	c := NewCircuit(client, sim.LocalAddr(), CircuitOptions{
		ResendTimeout: 20 * time.Millisecond,
		MaxResends:    2,
		AckInterval:   5 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	seq, err := c.Send(protocol.AgentThrottle{}, true)
	if err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, ErrResendsExhausted) {
			t.Fatalf("err = %v, want ErrResendsExhausted", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("circuit did not give up")
	}

	first := readPacket(t, sim, time.Second)
	if first.Sequence != seq || first.Resent() {
		t.Fatalf("first copy: %+v", first)
	}
	for i := 0; i < 2; i++ {
		p := readPacket(t, sim, time.Second)
		if p.Sequence != seq || !p.Resent() {
			t.Fatalf("resend %d: %+v", i+1, p)
		}
	}
	if st := c.Stats(); st.Resent != 2 {
		t.Fatalf("resent = %d, want 2", st.Resent)
	}
}

// brokenConn fails every read with a non-temporary error.
type brokenConn struct {
	net.PacketConn
	mu    sync.Mutex
	reads int
}

var errSocketGone = errors.New("socket gone")

func (b *brokenConn) ReadFrom([]byte) (int, net.Addr, error) {
	b.mu.Lock()
	b.reads++
	b.mu.Unlock()
	return 0, nil, errSocketGone
}

func (b *brokenConn) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reads
}

func TestCircuitStopsAfterRepeatedReadErrors(t *testing.T) {
	client, sim := udpPair(t)
	conn := &brokenConn{PacketConn: client}
	c := NewCircuit(conn, sim.LocalAddr(), CircuitOptions{})

	start := time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case err := <-done:
		if !errors.Is(err, errSocketGone) {
			t.Fatalf("Run error = %v, want %v", err, errSocketGone)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("circuit kept reading a failing socket")
	}

	if got := conn.count(); got != maxReadErrors {
		t.Fatalf("reads = %d, want %d", got, maxReadErrors)
	}
	if elapsed := time.Since(start); elapsed < readBackoffMin*(maxReadErrors-1) {
		t.Fatalf("read errors retried without backoff (%s)", elapsed)
	}
}
