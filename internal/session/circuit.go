package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/rs/zerolog"

	"github.com/slproto/slproto/internal/metrics"
	"github.com/slproto/slproto/internal/protocol"
	"github.com/slproto/slproto/internal/util"
)

// Circuit defaults.
const (
	DefaultResendTimeout = 3 * time.Second
	DefaultMaxResends    = 3
	DefaultAckInterval   = 250 * time.Millisecond

	// seenWindow is how long received sequence numbers are remembered
	// for duplicate suppression.
	seenWindow = 60 * time.Second

	incomingBuffer = 256

	// Consecutive socket read failures back off from readBackoffMin up to
	// readBackoffMax; maxReadErrors in a row end the circuit.
	readBackoffMin = 5 * time.Millisecond
	readBackoffMax = 250 * time.Millisecond
	maxReadErrors  = 8
)

// CircuitOptions tunes reliable delivery.
type CircuitOptions struct {
	ResendTimeout time.Duration
	MaxResends    int
	AckInterval   time.Duration
	Metrics       *metrics.Metrics
}

func (o *CircuitOptions) applyDefaults() {
	if o.ResendTimeout <= 0 {
		o.ResendTimeout = DefaultResendTimeout
	}
	if o.MaxResends <= 0 {
		o.MaxResends = DefaultMaxResends
	}
	if o.AckInterval <= 0 {
		o.AckInterval = DefaultAckInterval
	}
}

// Received is a decoded packet delivered by the circuit.
type Received struct {
	Packet  *protocol.Packet
	Message protocol.Message
}

type pendingPacket struct {
	name    string
	data    []byte
	firstAt time.Time
	sentAt  time.Time
	resends int
}

// CircuitStats is a point-in-time view of the circuit counters.
type CircuitStats struct {
	Sent         uint64        `json:"sent"`
	Received     uint64        `json:"received"`
	Resent       uint64        `json:"resent"`
	Dropped      uint64        `json:"dropped"`
	Pending      int           `json:"pending"`
	LastSequence uint32        `json:"last_sequence"`
	AckSamples   int64         `json:"ack_samples"`
	AckRTTP50    time.Duration `json:"ack_rtt_p50"`
	AckRTTP99    time.Duration `json:"ack_rtt_p99"`
	AckRTTMax    time.Duration `json:"ack_rtt_max"`
}

// Circuit is the reliable-delivery layer over one UDP socket talking to one
// simulator. Sequence numbers come from a single atomic counter so no two
// packets share one.
type Circuit struct {
	conn   net.PacketConn
	remote net.Addr
	opts   CircuitOptions
	logger zerolog.Logger

	seq atomic.Uint32

	mu       sync.Mutex
	pending  map[uint32]*pendingPacket
	ackQueue []uint32
	seen     map[uint32]time.Time
	rtt      *hdrhistogram.Histogram

	sent     atomic.Uint64
	received atomic.Uint64
	resent   atomic.Uint64
	dropped  atomic.Uint64

	incoming  chan Received
	closeOnce sync.Once
}

// NewCircuit wraps an open packet socket. remote is the simulator address;
// datagrams from any other source are dropped.
func NewCircuit(conn net.PacketConn, remote net.Addr, opts CircuitOptions) *Circuit {
	opts.applyDefaults()
	return &Circuit{
		conn:     conn,
		remote:   remote,
		opts:     opts,
		logger:   util.ComponentLogger("circuit"),
		pending:  make(map[uint32]*pendingPacket),
		seen:     make(map[uint32]time.Time),
		rtt:      hdrhistogram.New(1, int64(time.Minute/time.Microsecond), 3),
		incoming: make(chan Received, incomingBuffer),
	}
}

// Incoming delivers decoded packets in receipt order.
func (c *Circuit) Incoming() <-chan Received {
	return c.incoming
}

// LocalAddr returns the bound socket address.
func (c *Circuit) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the simulator address.
func (c *Circuit) RemoteAddr() net.Addr {
	return c.remote
}

// Send encodes and transmits a message with the next sequence number.
// Reliable packets are kept until acknowledged and resent on timeout.
func (c *Circuit) Send(msg protocol.Message, reliable bool) (uint32, error) {
	seq := c.seq.Add(1)
	data, err := protocol.Marshal(msg, seq, reliable, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to encode %s: %w", msg.Name(), err)
	}

	if reliable {
		now := time.Now()
		c.mu.Lock()
		c.pending[seq] = &pendingPacket{name: msg.Name(), data: data, firstAt: now, sentAt: now}
		n := len(c.pending)
		c.mu.Unlock()
		c.opts.Metrics.SetPending(n)
	}

	if _, err := c.conn.WriteTo(data, c.remote); err != nil {
		return seq, fmt.Errorf("failed to send %s: %w", msg.Name(), err)
	}
	c.sent.Add(1)
	c.opts.Metrics.PacketSent(msg.Name())

	c.logger.Trace().
		Str("message", msg.Name()).
		Uint32("seq", seq).
		Bool("reliable", reliable).
		Int("bytes", len(data)).
		Msg("packet sent")
	return seq, nil
}

// Run reads datagrams and services acks and resends until ctx is done or
// a reliable packet exhausts its resend budget.
func (c *Circuit) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	readDone := make(chan error, 1)
	go func() {
		readDone <- c.readLoop(ctx)
	}()

	stopReader := func() {
		cancel()
		c.conn.SetReadDeadline(time.Now())
		<-readDone
	}

	ticker := time.NewTicker(c.opts.AckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			stopReader()
			return ctx.Err()

		case err := <-readDone:
			return err

		case <-ticker.C:
			if err := c.FlushAcks(); err != nil {
				c.logger.Warn().Err(err).Msg("failed to flush acks")
			}
			if err := c.resendExpired(); err != nil {
				stopReader()
				return err
			}
			c.pruneSeen()
		}
	}
}

func (c *Circuit) readLoop(ctx context.Context) error {
	buf := make([]byte, protocol.MaxPacketSize)
	failures := 0
	backoff := readBackoffMin
	for {
		n, from, err := c.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			failures++
			c.logger.Error().Err(err).Int("consecutive", failures).Msg("UDP read error")
			if failures >= maxReadErrors {
				return fmt.Errorf("failed to read from circuit socket: %w", err)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, readBackoffMax)
			continue
		}
		failures = 0
		backoff = readBackoffMin

		if from.String() != c.remote.String() {
			c.drop("foreign_source")
			c.logger.Debug().Str("remote", from.String()).Msg("dropped datagram from unknown source")
			continue
		}

		in, ok := c.handleDatagram(buf[:n])
		if !ok {
			continue
		}

		select {
		case c.incoming <- in:
		case <-ctx.Done():
			return nil
		}
	}
}

// handleDatagram decodes one datagram and processes its acknowledgements.
// Malformed, duplicate and unsupported packets are logged and dropped.
func (c *Circuit) handleDatagram(data []byte) (Received, bool) {
	p, err := protocol.DecodePacket(data)
	if err != nil {
		c.drop("framing")
		c.logger.Debug().Err(err).Int("bytes", len(data)).Msg("dropped malformed packet")
		return Received{}, false
	}
	c.received.Add(1)

	if len(p.Acks) > 0 {
		c.acknowledge(p.Acks)
	}
	if p.Reliable() {
		c.queueAck(p.Sequence)
	}
	if c.duplicate(p.Sequence) {
		c.drop("duplicate")
		c.logger.Trace().Uint32("seq", p.Sequence).Bool("resent", p.Resent()).Msg("dropped duplicate packet")
		return Received{}, false
	}

	msg, err := protocol.DecodeMessage(p)
	if err != nil {
		var unsupported *protocol.UnsupportedMessageError
		if errors.As(err, &unsupported) {
			c.drop("unsupported")
			c.logger.Trace().Str("key", unsupported.Key.String()).Msg("dropped unsupported message")
		} else {
			c.drop("malformed")
			c.logger.Warn().Err(err).Uint32("seq", p.Sequence).Msg("dropped undecodable message")
		}
		return Received{}, false
	}

	if ack, ok := msg.(protocol.PacketAck); ok {
		c.acknowledge(ack.Packets)
		return Received{}, false
	}

	c.opts.Metrics.PacketReceived(msg.Name())
	return Received{Packet: p, Message: msg}, true
}

func (c *Circuit) drop(reason string) {
	c.dropped.Add(1)
	c.opts.Metrics.PacketDropped(reason)
}

func (c *Circuit) queueAck(seq uint32) {
	c.mu.Lock()
	c.ackQueue = append(c.ackQueue, seq)
	c.mu.Unlock()
}

// duplicate records seq and reports whether it was already seen.
func (c *Circuit) duplicate(seq uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seen[seq]; ok {
		return true
	}
	c.seen[seq] = time.Now()
	return false
}

func (c *Circuit) pruneSeen() {
	cutoff := time.Now().Add(-seenWindow)
	c.mu.Lock()
	for seq, at := range c.seen {
		if at.Before(cutoff) {
			delete(c.seen, seq)
		}
	}
	c.mu.Unlock()
}

// acknowledge clears pending reliable packets. Round trips are sampled
// only for packets that were never resent.
func (c *Circuit) acknowledge(seqs []uint32) {
	now := time.Now()
	var samples []time.Duration

	c.mu.Lock()
	for _, seq := range seqs {
		p, ok := c.pending[seq]
		if !ok {
			continue
		}
		delete(c.pending, seq)
		if p.resends == 0 {
			d := now.Sub(p.firstAt)
			c.rtt.RecordValue(int64(d / time.Microsecond))
			samples = append(samples, d)
		}
	}
	n := len(c.pending)
	c.mu.Unlock()

	c.opts.Metrics.SetPending(n)
	for _, d := range samples {
		c.opts.Metrics.ObserveAckRTT(d.Seconds())
	}
}

// FlushAcks sends queued acknowledgements as PacketAck messages of at most
// 255 entries each.
func (c *Circuit) FlushAcks() error {
	c.mu.Lock()
	queue := c.ackQueue
	c.ackQueue = nil
	c.mu.Unlock()

	for len(queue) > 0 {
		n := len(queue)
		if n > protocol.MaxAppendedAcks {
			n = protocol.MaxAppendedAcks
		}
		if _, err := c.Send(protocol.PacketAck{Packets: queue[:n]}, false); err != nil {
			return err
		}
		c.opts.Metrics.AcksSent(n)
		queue = queue[n:]
	}
	return nil
}

// resendExpired retransmits timed-out reliable packets with the resent
// flag set. A packet past its budget fails the circuit.
func (c *Circuit) resendExpired() error {
	now := time.Now()
	var due [][]byte

	c.mu.Lock()
	for seq, p := range c.pending {
		if now.Sub(p.sentAt) < c.opts.ResendTimeout {
			continue
		}
		if p.resends >= c.opts.MaxResends {
			c.mu.Unlock()
			return fmt.Errorf("%w: %s seq %d after %d resends", ErrResendsExhausted, p.name, seq, p.resends)
		}
		p.resends++
		p.sentAt = now
		p.data[0] |= protocol.FlagResent
		due = append(due, p.data)

		c.logger.Debug().
			Str("message", p.name).
			Uint32("seq", seq).
			Int("attempt", p.resends).
			Msg("resending reliable packet")
	}
	c.mu.Unlock()

	for _, data := range due {
		if _, err := c.conn.WriteTo(data, c.remote); err != nil {
			c.logger.Warn().Err(err).Msg("failed to resend packet")
			continue
		}
		c.resent.Add(1)
		c.opts.Metrics.Resent()
	}
	return nil
}

// Pending returns the number of unacknowledged reliable packets.
func (c *Circuit) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Stats returns the circuit counters and ack round-trip percentiles.
func (c *Circuit) Stats() CircuitStats {
	c.mu.Lock()
	st := CircuitStats{
		Pending:    len(c.pending),
		AckSamples: c.rtt.TotalCount(),
		AckRTTP50:  time.Duration(c.rtt.ValueAtQuantile(50)) * time.Microsecond,
		AckRTTP99:  time.Duration(c.rtt.ValueAtQuantile(99)) * time.Microsecond,
		AckRTTMax:  time.Duration(c.rtt.Max()) * time.Microsecond,
	}
	c.mu.Unlock()

	st.Sent = c.sent.Load()
	st.Received = c.received.Load()
	st.Resent = c.resent.Load()
	st.Dropped = c.dropped.Load()
	st.LastSequence = c.seq.Load()
	return st
}

// Close releases the socket.
func (c *Circuit) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}
