package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/slproto/slproto/internal/events"
	"github.com/slproto/slproto/internal/metrics"
	"github.com/slproto/slproto/internal/network"
	"github.com/slproto/slproto/internal/protocol"
	"github.com/slproto/slproto/internal/util"
)

// Session defaults.
const (
	DefaultStepTimeout    = 15 * time.Second
	DefaultUpdateInterval = time.Second

	// maxDeferred bounds how many early handshake messages are held back.
	maxDeferred = 32

	// closeTimeout bounds event delivery while tearing down.
	closeTimeout = time.Second
)

// ErrNotEstablished is returned by Submit before the session reaches SteadyState.
var ErrNotEstablished = errors.New("session not established")

// ErrClosed is returned by Submit after the session ended.
var ErrClosed = errors.New("session closed")

// errLogout ends Run without an error.
var errLogout = errors.New("logout requested")

// Options configures a Session.
type Options struct {
	// LocalAddr is the UDP bind address. Empty binds an ephemeral port.
	LocalAddr string
	// Conn, when set, is used instead of binding LocalAddr.
	Conn net.PacketConn

	Circuit        CircuitOptions
	StepTimeout    time.Duration
	UpdateInterval time.Duration
	Throttle       [7]float32

	Bus     *events.EventBus
	Metrics *metrics.Metrics
	// Events, when set, receives every delivered event in receipt order.
	Events chan<- events.Event
}

// Session runs the handshake and steady-state loop for one login.
type Session struct {
	info    Info
	opts    Options
	machine *Machine
	logger  zerolog.Logger

	commands    chan Command
	done        chan struct{}
	circuitErr  chan error
	circuitDone chan struct{}

	// deferred holds early handshake messages; owned by the Run goroutine.
	deferred []Received

	mu         sync.RWMutex
	circuit    *Circuit
	region     *protocol.RegionHandshake
	lastUpdate protocol.AgentUpdate
	err        error
}

// New validates the login result and prepares a session. Nothing is sent
// until Run.
func New(info Info, opts Options) (*Session, error) {
	if err := info.Validate(); err != nil {
		return nil, &SessionError{State: events.StateDisconnected, Op: "validate login", Err: err}
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = DefaultStepTimeout
	}
	if opts.UpdateInterval <= 0 {
		opts.UpdateInterval = DefaultUpdateInterval
	}
	if opts.Throttle == ([7]float32{}) {
		opts.Throttle = protocol.DefaultThrottle
	}
	if opts.Circuit.Metrics == nil {
		opts.Circuit.Metrics = opts.Metrics
	}

	return &Session{
		info:    info,
		opts:    opts,
		machine: NewMachine(),
		logger: util.ComponentLogger("session").With().
			Str("agent_id", info.AgentID.String()).
			Str("sim", info.SimAddr.String()).
			Logger(),
		commands:    make(chan Command, 16),
		done:        make(chan struct{}),
		circuitErr:  make(chan error, 1),
		circuitDone: make(chan struct{}),
		lastUpdate: protocol.AgentUpdate{
			AgentID:   info.AgentID,
			SessionID: info.SessionID,
			CameraAt:  info.LookAt,
		},
	}, nil
}

// Info returns the login data the session runs on.
func (s *Session) Info() Info {
	return s.info
}

// State returns the current handshake state.
func (s *Session) State() events.SessionState {
	return s.machine.State()
}

// Machine exposes the state machine for inspection.
func (s *Session) Machine() *Machine {
	return s.machine
}

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the error Run ended with, if any.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Region returns the last region handshake, or nil before one arrived.
func (s *Session) Region() *protocol.RegionHandshake {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.region == nil {
		return nil
	}
	r := *s.region
	return &r
}

// Submit queues a command for the steady-state loop. Logout is accepted
// in any state.
func (s *Session) Submit(ctx context.Context, cmd Command) error {
	if _, ok := cmd.(Logout); !ok && s.machine.State() != events.StateSteadyState {
		return ErrNotEstablished
	}
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.commands <- cmd:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run opens the circuit, walks the handshake and then serves commands and
// inbound traffic until logout, cancellation or a session-fatal error.
// A Logout command ends Run with a nil error.
func (s *Session) Run(ctx context.Context) error {
	conn := s.opts.Conn
	if conn == nil {
		udp, err := network.ListenUDP(ctx, s.opts.LocalAddr)
		if err != nil {
			return s.finish(&SessionError{State: s.machine.State(), Op: "open circuit", Err: err})
		}
		conn = udp
	}

	circuit := NewCircuit(conn, s.info.SimAddr, s.opts.Circuit)
	s.mu.Lock()
	s.circuit = circuit
	s.mu.Unlock()

	circuitCtx, stopCircuit := context.WithCancel(context.Background())
	go func() {
		defer close(s.circuitDone)
		s.circuitErr <- circuit.Run(circuitCtx)
	}()

	s.logger.Info().
		Str("local", circuit.LocalAddr().String()).
		Uint32("circuit_code", s.info.CircuitCode).
		Msg("opening circuit")

	err := s.handshake(ctx)
	if err == nil {
		s.logger.Info().Msg("session established")
		err = s.steady(ctx)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	s.teardown(closeCtx, circuit, stopCircuit)

	if errors.Is(err, errLogout) {
		err = nil
	}
	return s.finish(err)
}

func (s *Session) finish(err error) error {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error().Err(err).Msg("session ended")
		s.emit(ctx, events.EventSessionError, events.SessionErrorPayload{
			State: s.machine.State(),
			Err:   err,
		})
	}
	s.emit(ctx, events.EventDisconnected, s.info.AgentID.String())
	close(s.done)
	return err
}

// handshake performs the ordered establishment exchange. Each await is
// bounded by StepTimeout.
func (s *Session) handshake(ctx context.Context) error {
	steps := []struct {
		op      string
		send    protocol.Message
		awaitTo events.SessionState
	}{
		{
			op: "use circuit code",
			send: protocol.UseCircuitCode{
				Code:      s.info.CircuitCode,
				SessionID: s.info.SessionID,
				AgentID:   s.info.AgentID,
			},
			awaitTo: events.StateCircuitAccepted,
		},
		{
			op: "complete agent movement",
			send: protocol.CompleteAgentMovement{
				AgentID:     s.info.AgentID,
				SessionID:   s.info.SessionID,
				CircuitCode: s.info.CircuitCode,
			},
			awaitTo: events.StateRegionHandshakeReceived,
		},
		{
			op: "region handshake reply",
			send: protocol.RegionHandshakeReply{
				AgentID:   s.info.AgentID,
				SessionID: s.info.SessionID,
			},
		},
		{
			op: "agent throttle",
			send: protocol.AgentThrottle{
				AgentID:     s.info.AgentID,
				SessionID:   s.info.SessionID,
				CircuitCode: s.info.CircuitCode,
				Throttles:   s.opts.Throttle,
			},
		},
	}

	for _, st := range steps {
		if err := s.send(ctx, st.send, true); err != nil {
			return &SessionError{State: s.machine.State(), Op: st.op, Err: err}
		}
		if st.awaitTo != events.StateDisconnected {
			if err := s.await(ctx, st.op, st.awaitTo); err != nil {
				return err
			}
		}
	}

	// The first AgentUpdate completes the handshake.
	return s.sendUpdate(ctx)
}

// await consumes inbound traffic until the machine reaches target.
func (s *Session) await(ctx context.Context, op string, target events.SessionState) error {
	timer := time.NewTimer(s.opts.StepTimeout)
	defer timer.Stop()

	for s.machine.State() < target {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-timer.C:
			return &SessionError{State: s.machine.State(), Op: op, Err: ErrStepTimeout}

		case err := <-s.circuitErr:
			return s.circuitFailure(err)

		case in := <-s.circuit.Incoming():
			if err := s.handleReceived(ctx, in); err != nil {
				return err
			}

		case cmd := <-s.commands:
			if _, ok := cmd.(Logout); ok {
				return errLogout
			}
			s.logger.Warn().Str("command", cmd.CommandName()).Msg("dropping command received during handshake")
		}
	}
	return nil
}

// steady serves commands, inbound traffic and periodic agent updates.
func (s *Session) steady(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-s.circuitErr:
			return s.circuitFailure(err)

		case in := <-s.circuit.Incoming():
			if err := s.handleReceived(ctx, in); err != nil {
				return err
			}

		case cmd := <-s.commands:
			if err := s.execute(ctx, cmd); err != nil {
				if errors.Is(err, errLogout) {
					return err
				}
				s.logger.Warn().Err(err).Str("command", cmd.CommandName()).Msg("command failed")
			}

		case <-ticker.C:
			if err := s.sendUpdate(ctx); err != nil {
				s.logger.Debug().Err(err).Msg("failed to send agent update")
			}
		}
	}
}

func (s *Session) execute(ctx context.Context, cmd Command) error {
	if _, ok := cmd.(Logout); ok {
		return errLogout
	}
	if u, ok := cmd.(SendAgentUpdate); ok {
		s.mu.Lock()
		s.lastUpdate.Position = u.Position
		s.lastUpdate.CameraAt = u.CameraAt
		s.lastUpdate.CameraEye = u.CameraEye
		s.lastUpdate.ControlFlags = u.ControlFlags
		s.mu.Unlock()
		return s.sendUpdate(ctx)
	}

	msg, reliable := s.outbound(cmd)
	if msg == nil {
		return fmt.Errorf("unknown command %T", cmd)
	}
	return s.send(ctx, msg, reliable)
}

func (s *Session) sendUpdate(ctx context.Context) error {
	s.mu.RLock()
	update := s.lastUpdate
	s.mu.RUnlock()
	return s.send(ctx, update, false)
}

// send checks the message against the machine, transmits it, and only
// then moves the machine on.
func (s *Session) send(ctx context.Context, msg protocol.Message, reliable bool) error {
	st, err := s.machine.Plan(DirOutbound, msg)
	if err != nil {
		return err
	}
	if _, err := s.circuit.Send(msg, reliable); err != nil {
		return err
	}
	if st == nil {
		return nil
	}
	if t := s.machine.Commit(*st); t != nil {
		s.onTransition(ctx, *t)
	}
	return nil
}

// handleReceived applies one inbound message and then replays any held
// back handshake messages the new state accepts.
func (s *Session) handleReceived(ctx context.Context, in Received) error {
	moved, err := s.process(ctx, in)
	if err != nil || !moved {
		return err
	}

	for {
		idx := -1
		for i, d := range s.deferred {
			if s.machine.Expects(DirInbound, d.Message) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil
		}
		next := s.deferred[idx]
		s.deferred = append(s.deferred[:idx], s.deferred[idx+1:]...)
		if _, err := s.process(ctx, next); err != nil {
			return err
		}
	}
}

// process reports whether the message moved the state.
func (s *Session) process(ctx context.Context, in Received) (bool, error) {
	if ping, ok := in.Message.(protocol.StartPingCheck); ok {
		if _, err := s.circuit.Send(protocol.CompletePingCheck{PingID: ping.PingID}, false); err != nil {
			s.logger.Debug().Err(err).Msg("failed to answer ping")
		}
	}

	t, err := s.machine.Apply(DirInbound, in.Message)
	if err != nil {
		if errors.Is(err, ErrCircuitRejected) {
			return false, &SessionError{State: s.machine.State(), Op: "use circuit code", Err: err}
		}

		var order *OrderError
		if errors.As(err, &order) {
			if order.Stale {
				s.logger.Debug().
					Str("message", order.Message).
					Str("state", order.State.String()).
					Msg("ignoring stale handshake message")
				return false, nil
			}
			if len(s.deferred) < maxDeferred {
				s.deferred = append(s.deferred, in)
			}
			s.logger.Debug().
				Str("message", order.Message).
				Str("state", order.State.String()).
				Msg("deferring early handshake message")
			return false, nil
		}
		return false, err
	}

	if rh, ok := in.Message.(protocol.RegionHandshake); ok {
		s.mu.Lock()
		s.region = &rh
		s.mu.Unlock()
		s.logger.Info().
			Str("region", rh.SimName).
			Str("region_id", rh.RegionID.String()).
			Float32("water_height", rh.WaterHeight).
			Msg("region handshake received")
	}

	if t != nil {
		s.onTransition(ctx, *t)
	}
	s.deliver(ctx, in)
	return t != nil, nil
}

func (s *Session) onTransition(ctx context.Context, t Transition) {
	s.logger.Info().
		Str("from", t.From.String()).
		Str("to", t.To.String()).
		Msg("session state changed")
	s.opts.Metrics.SetState(int(t.To))
	s.emit(ctx, events.EventStateChanged, events.StateChangedPayload{From: t.From, To: t.To, At: t.At})
}

// eventTypes maps inbound messages to the event they are published as.
var eventTypes = map[string]events.EventType{
	"RegionHandshake":       events.EventRegionHandshake,
	"AgentMovementComplete": events.EventMovementComplete,
	"ChatFromSimulator":     events.EventChat,
	"OnlineNotification":    events.EventOnlineNotification,
	"StartPingCheck":        events.EventPing,
}

func (s *Session) deliver(ctx context.Context, in Received) {
	typ, ok := eventTypes[in.Message.Name()]
	if !ok {
		typ = events.EventMessage
	}
	s.emit(ctx, typ, events.MessagePayload{
		Sequence: in.Packet.Sequence,
		Reliable: in.Packet.Reliable(),
		Message:  in.Message,
	})
}

func (s *Session) emit(ctx context.Context, typ events.EventType, payload interface{}) {
	ev := events.Event{Type: typ, Source: "session", Payload: payload}
	if s.opts.Bus != nil {
		s.opts.Bus.Emit(ctx, ev)
	}
	if s.opts.Events != nil {
		select {
		case s.opts.Events <- ev:
		case <-ctx.Done():
		}
	}
}

func (s *Session) circuitFailure(err error) error {
	if err == nil {
		err = errors.New("circuit stopped")
	}
	return &SessionError{State: s.machine.State(), Op: "circuit", Err: err}
}

// teardown sends a best-effort LogoutRequest once the circuit was accepted
// and releases the socket whatever the send outcome.
func (s *Session) teardown(ctx context.Context, circuit *Circuit, stopCircuit context.CancelFunc) {
	state := s.machine.State()
	if state >= events.StateCircuitAccepted {
		if err := circuit.FlushAcks(); err != nil {
			s.logger.Debug().Err(err).Msg("failed to flush acks on logout")
		}
		logout := protocol.LogoutRequest{AgentID: s.info.AgentID, SessionID: s.info.SessionID}
		if err := s.send(ctx, logout, true); err != nil {
			s.logger.Warn().Err(err).Msg("failed to send logout request")
		} else {
			s.logger.Info().Msg("logout request sent")
		}
	}

	stopCircuit()
	<-s.circuitDone
	circuit.Close()

	if t := s.machine.Disconnect(); t != nil {
		s.onTransition(ctx, *t)
	}
}

// Snapshot is a read-only view of a session for status surfaces.
type Snapshot struct {
	State      events.SessionState `json:"state"`
	Since      time.Time           `json:"since"`
	AgentID    string              `json:"agent_id"`
	SessionID  string              `json:"session_id"`
	Name       string              `json:"name"`
	SimAddr    string              `json:"sim_addr"`
	Region     string              `json:"region,omitempty"`
	Circuit    *CircuitStats       `json:"circuit,omitempty"`
	LastUpdate protocol.Vector3    `json:"position"`
}

// Snapshot returns the current session status.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		State:     s.machine.State(),
		Since:     s.machine.Since(),
		AgentID:   s.info.AgentID.String(),
		SessionID: s.info.SessionID.String(),
		Name:      s.info.FirstName + " " + s.info.LastName,
		SimAddr:   s.info.SimAddr.String(),
	}

	s.mu.RLock()
	if s.region != nil {
		snap.Region = s.region.SimName
	}
	snap.LastUpdate = s.lastUpdate.Position
	circuit := s.circuit
	s.mu.RUnlock()

	if circuit != nil {
		st := circuit.Stats()
		snap.Circuit = &st
	}
	return snap
}
