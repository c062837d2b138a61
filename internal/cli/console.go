// Package cli implements the interactive session console and the table
// output of the slproto command.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/slproto/slproto/internal/events"
	"github.com/slproto/slproto/internal/protocol"
	"github.com/slproto/slproto/internal/session"
)

// Commander is the part of a session the console drives.
type Commander interface {
	Snapshot() session.Snapshot
	Submit(ctx context.Context, cmd session.Command) error
}

// errQuit ends the console loop.
var errQuit = errors.New("quit")

const submitTimeout = 5 * time.Second

// Console reads commands line by line and turns them into session commands.
type Console struct {
	sess Commander
	in   io.Reader

	mu  sync.Mutex
	out io.Writer
}

// NewConsole creates a console over sess.
func NewConsole(sess Commander, in io.Reader, out io.Writer) *Console {
	return &Console{sess: sess, in: in, out: out}
}

// Run reads commands until EOF, "quit" or ctx is done. A quit sends a
// logout first.
func (c *Console) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.printf("\nslproto console ready. Type 'help' for available commands.\n")

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("failed to read console input: %w", err)
			}
			return nil
		case line := <-lines:
			err := c.Execute(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				c.printf("Error: %v\n", err)
			}
		}
	}
}

// Execute runs a single console line.
func (c *Console) Execute(ctx context.Context, line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]
	rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), parts[0]))

	switch cmd {
	case "help", "h", "?":
		c.printHelp()
		return nil
	case "status", "s":
		c.mu.Lock()
		defer c.mu.Unlock()
		return RenderSnapshot(c.out, c.sess.Snapshot())
	case "say":
		return c.chat(ctx, rest, 0, protocol.ChatNormal)
	case "shout":
		return c.chat(ctx, rest, 0, protocol.ChatShout)
	case "whisper":
		return c.chat(ctx, rest, 0, protocol.ChatWhisper)
	case "channel", "ch":
		if len(args) < 2 {
			return fmt.Errorf("usage: channel <n> <message>")
		}
		n, err := strconv.ParseInt(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid channel: %s", args[0])
		}
		msg := strings.TrimSpace(strings.TrimPrefix(rest, args[0]))
		return c.chat(ctx, msg, int32(n), protocol.ChatNormal)
	case "move":
		return c.move(ctx, args)
	case "throttle":
		return c.throttle(ctx, args)
	case "object":
		if len(args) != 1 {
			return fmt.Errorf("usage: object <local id>")
		}
		id, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid local id: %s", args[0])
		}
		return c.submit(ctx, session.RequestObject{LocalID: uint32(id)})
	case "texture":
		if len(args) != 1 {
			return fmt.Errorf("usage: texture <uuid>")
		}
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid texture id: %s", args[0])
		}
		return c.submit(ctx, session.RequestTexture{TextureID: id, Priority: 1})
	case "logout", "quit", "exit", "q":
		if err := c.submit(ctx, session.Logout{}); err != nil && !errors.Is(err, session.ErrClosed) {
			log.Warn().Err(err).Msg("logout failed")
		}
		return errQuit
	default:
		c.printf("Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
		return nil
	}
}

func (c *Console) chat(ctx context.Context, msg string, channel int32, typ protocol.ChatType) error {
	if msg == "" {
		return fmt.Errorf("nothing to say")
	}
	return c.submit(ctx, session.SendChat{Message: msg, Channel: channel, Type: typ})
}

func (c *Console) move(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: move <x> <y> <z>")
	}
	var v [3]float32
	for i, a := range args {
		f, err := strconv.ParseFloat(a, 32)
		if err != nil {
			return fmt.Errorf("invalid coordinate: %s", a)
		}
		v[i] = float32(f)
	}
	return c.submit(ctx, session.SendAgentUpdate{
		Position: protocol.Vector3{X: v[0], Y: v[1], Z: v[2]},
	})
}

func (c *Console) throttle(ctx context.Context, args []string) error {
	if len(args) != 7 {
		return fmt.Errorf("usage: throttle <resend> <land> <wind> <cloud> <task> <texture> <asset>")
	}
	var cmd session.SetThrottle
	for i, a := range args {
		f, err := strconv.ParseFloat(a, 32)
		if err != nil || f < 0 {
			return fmt.Errorf("invalid throttle value: %s", a)
		}
		cmd.Values[i] = float32(f)
	}
	return c.submit(ctx, cmd)
}

func (c *Console) submit(ctx context.Context, cmd session.Command) error {
	ctx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()
	return c.sess.Submit(ctx, cmd)
}

// PrintEvent writes a one-line rendering of the events a user cares
// about. Other events are ignored.
func (c *Console) PrintEvent(ev events.Event) {
	if line, ok := FormatEvent(ev); ok {
		c.printf("%s\n", line)
	}
}

// FormatEvent renders an event for the console.
func FormatEvent(ev events.Event) (string, bool) {
	switch p := ev.Payload.(type) {
	case events.StateChangedPayload:
		return fmt.Sprintf("* state %s -> %s", p.From, p.To), true
	case events.SessionErrorPayload:
		return fmt.Sprintf("! session failed in %s: %v", p.State, p.Err), true
	case events.MessagePayload:
		switch m := p.Message.(type) {
		case protocol.ChatFromSimulator:
			return formatChat(m), true
		case protocol.RegionHandshake:
			return fmt.Sprintf("* entered region %s", m.SimName), true
		}
	}
	if ev.Type == events.EventDisconnected {
		return "* disconnected", true
	}
	return "", false
}

func formatChat(m protocol.ChatFromSimulator) string {
	switch m.ChatType {
	case protocol.ChatShout:
		return fmt.Sprintf("%s shouts: %s", m.FromName, m.Message)
	case protocol.ChatWhisper:
		return fmt.Sprintf("%s whispers: %s", m.FromName, m.Message)
	}
	return fmt.Sprintf("%s: %s", m.FromName, m.Message)
}

func (c *Console) printHelp() {
	c.printf(`
  status               Show session status
  say <message>        Chat on the public channel
  shout <message>      Shout on the public channel
  whisper <message>    Whisper on the public channel
  channel <n> <msg>    Chat on channel n
  move <x> <y> <z>     Move the agent to a region position
  throttle <7 values>  Renegotiate bandwidth (bits per second)
  object <local id>    Request a full object update
  texture <uuid>       Request texture data
  quit                 Log out and exit
  help                 Show this help message

`)
}

func (c *Console) printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}
