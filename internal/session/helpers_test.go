package session

import (
	"net"
	"testing"
	"time"

	"github.com/slproto/slproto/internal/protocol"
)

// udpPair returns a client socket and a simulator socket on loopback.
func udpPair(t *testing.T) (net.PacketConn, net.PacketConn) {
	t.Helper()
	client, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen client: %v", err)
	}
	sim, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		client.Close()
		t.Fatalf("listen sim: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
		sim.Close()
	})
	return client, sim
}

// readPacket reads one datagram from conn and decodes its envelope.
func readPacket(t *testing.T, conn net.PacketConn, timeout time.Duration) *protocol.Packet {
	t.Helper()
	buf := make([]byte, protocol.MaxPacketSize)
	conn.SetReadDeadline(time.Now().Add(timeout))
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	p, err := protocol.DecodePacket(buf[:n])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return p
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// fakeSim answers a client from a loopback socket. The handler runs on the
// serve goroutine, which is also the only sender.
type fakeSim struct {
	conn   net.PacketConn
	client net.Addr
	seq    uint32
	got    chan protocol.Message
}

func newFakeSim(conn net.PacketConn) *fakeSim {
	return &fakeSim{conn: conn, got: make(chan protocol.Message, 1024)}
}

func (f *fakeSim) send(m protocol.Message, reliable bool) {
	f.seq++
	data, err := protocol.Marshal(m, f.seq, reliable, nil)
	if err != nil {
		return
	}
	f.conn.WriteTo(data, f.client)
}

func (f *fakeSim) serve(handler func(f *fakeSim, m protocol.Message)) {
	go func() {
		buf := make([]byte, protocol.MaxPacketSize)
		for {
			n, from, err := f.conn.ReadFrom(buf)
			if err != nil {
				return
			}
			f.client = from
			_, m, err := protocol.Unmarshal(buf[:n])
			if err != nil {
				continue
			}
			select {
			case f.got <- m:
			default:
			}
			if handler != nil {
				handler(f, m)
			}
		}
	}()
}

// waitFor returns the first received message with the given name.
func (f *fakeSim) waitFor(t *testing.T, name string, timeout time.Duration) protocol.Message {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case m := <-f.got:
			if m.Name() == name {
				return m
			}
		case <-deadline:
			t.Fatalf("simulator never received %s", name)
			return nil
		}
	}
}
