// Package login performs the XML-RPC login_to_simulator exchange that
// hands out session identifiers and the simulator endpoint.
package login

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/slproto/slproto/internal/events"
	"github.com/slproto/slproto/internal/metrics"
	"github.com/slproto/slproto/internal/util"
)

const (
	loginMethod      = "login_to_simulator"
	defaultChannel   = "slproto"
	defaultVersion   = "0.1.0"
	defaultStart     = "last"
	nullDigest       = "00000000-0000-0000-0000-000000000000"
	maxResponseBytes = 8 << 20

	// DefaultLoginURI is the main grid login endpoint.
	DefaultLoginURI = "https://login.agni.lindenlab.com/cgi-bin/login.cgi"
)

// DefaultOptions asks the grid for the auxiliary data this client reads.
var DefaultOptions = []string{
	"inventory-root",
	"inventory-skeleton",
	"buddy-list",
	"login-flags",
}

// Request is the parameter struct of a login call.
type Request struct {
	FirstName    string
	LastName     string
	Password     string // plaintext; hashed when the call is built
	Start        string
	Channel      string
	Version      string
	Platform     string
	MAC          string
	ID0          string
	AgreeToTOS   bool
	ReadCritical bool
	ViewerDigest string
	Options      []string
	MFAToken     string
	MFAHash      string
}

// NewRequest fills a request with host identifiers and defaults. MFA values
// are taken from SL_MFA_TOKEN and SL_MFA_HASH when set.
func NewRequest(first, last, password string) Request {
	return Request{
		FirstName:    first,
		LastName:     last,
		Password:     password,
		Start:        defaultStart,
		Channel:      defaultChannel,
		Version:      defaultVersion,
		Platform:     string(util.GetPlatform()),
		MAC:          util.MACAddress(),
		ID0:          util.MachineID(),
		AgreeToTOS:   true,
		ReadCritical: true,
		ViewerDigest: nullDigest,
		Options:      DefaultOptions,
		MFAToken:     os.Getenv("SL_MFA_TOKEN"),
		MFAHash:      os.Getenv("SL_MFA_HASH"),
	}
}

// SplitName turns "first last", "first.last" or "first" into a name pair.
// A missing last name becomes "Resident".
func SplitName(username string) (string, string) {
	username = strings.TrimSpace(username)
	sep := " "
	if !strings.Contains(username, " ") && strings.Contains(username, ".") {
		sep = "."
	}
	first, last, found := strings.Cut(username, sep)
	last = strings.TrimSpace(last)
	if !found || last == "" {
		last = "Resident"
	}
	return strings.TrimSpace(first), last
}

// Validate checks the request before anything is sent.
func (r *Request) Validate() error {
	if strings.TrimSpace(r.FirstName) == "" {
		return errors.New("first name cannot be empty")
	}
	if strings.TrimSpace(r.LastName) == "" {
		return errors.New("last name cannot be empty")
	}
	if r.Password == "" {
		return errors.New("password cannot be empty")
	}
	return nil
}

// value builds the XML-RPC struct. Optional MFA members are only present
// when set.
func (r *Request) value() Value {
	start := r.Start
	if start == "" {
		start = defaultStart
	}
	options := r.Options
	if options == nil {
		options = DefaultOptions
	}
	members := []Member{
		{"first", String(r.FirstName)},
		{"last", String(r.LastName)},
		{"passwd", String(HashPassword(r.Password))},
		{"start", String(start)},
		{"channel", String(r.Channel)},
		{"version", String(r.Version)},
		{"platform", String(r.Platform)},
		{"mac", String(r.MAC)},
		{"id0", String(r.ID0)},
		{"agree_to_tos", Bool(r.AgreeToTOS)},
		{"read_critical", Bool(r.ReadCritical)},
		{"viewer_digest", String(r.ViewerDigest)},
	}
	if r.MFAToken != "" {
		members = append(members, Member{"token", String(r.MFAToken)})
	}
	if r.MFAHash != "" {
		members = append(members, Member{"mfa_hash", String(r.MFAHash)})
	}
	members = append(members, Member{"options", Strings(options)})
	return Struct(members...)
}

// AuthError is the single failure type of a login attempt.
type AuthError struct {
	Reason string
	// Message is the server's human-readable text, when it sent one.
	Message string
	Status  int // HTTP status when the server answered non-2xx
	Err     error
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("login failed (status %d): %s", e.Status, e.Reason)
	}
	if e.Message != "" && e.Message != e.Reason {
		return fmt.Sprintf("login failed: %s: %s", e.Reason, e.Message)
	}
	return "login failed: " + e.Reason
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Options configures a Client.
type Options struct {
	LoginURI string
	Timeout  time.Duration
	HTTP     *http.Client
	Bus      *events.EventBus
	Metrics  *metrics.Metrics
}

// Client talks to one login endpoint.
type Client struct {
	uri     string
	http    *http.Client
	bus     *events.EventBus
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewClient creates a login client.
func NewClient(opts Options) *Client {
	if opts.LoginURI == "" {
		opts.LoginURI = DefaultLoginURI
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	httpClient := opts.HTTP
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 90 * time.Second,
			},
		}
	}
	return &Client{
		uri:     opts.LoginURI,
		http:    httpClient,
		bus:     opts.Bus,
		metrics: opts.Metrics,
		log:     util.ComponentLogger("login"),
	}
}

// URI returns the login endpoint.
func (c *Client) URI() string {
	return c.uri
}

type loginResult struct {
	resp *Response
	err  error
}

// Login performs one exchange. The HTTP round trip runs on its own
// goroutine and Login returns as soon as ctx is done. A rejection, a non-2xx
// status or an unparseable body is reported as *AuthError.
func (c *Client) Login(ctx context.Context, req Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, &AuthError{Reason: err.Error(), Err: err}
	}

	done := make(chan loginResult, 1)
	go func() {
		resp, err := c.exchange(ctx, req)
		done <- loginResult{resp, err}
	}()

	var res loginResult
	select {
	case <-ctx.Done():
		c.metrics.LoginAttempt("error")
		return nil, ctx.Err()
	case res = <-done:
	}

	if res.err != nil {
		var authErr *AuthError
		if errors.As(res.err, &authErr) {
			c.metrics.LoginAttempt("auth_failed")
		} else {
			c.metrics.LoginAttempt("error")
		}
		c.log.Warn().Err(res.err).
			Str("first_name", req.FirstName).
			Str("last_name", req.LastName).
			Msg("login failed")
		c.emit(ctx, events.EventLoginFailed, events.LoginPayload{
			FirstName: req.FirstName,
			LastName:  req.LastName,
			LoginURI:  c.uri,
			Reason:    res.err.Error(),
		})
		return nil, res.err
	}

	resp := res.resp
	c.metrics.LoginAttempt("success")
	c.log.Info().
		Str("agent_id", resp.AgentID.String()).
		Str("sim", fmt.Sprintf("%s:%d", resp.SimIP, resp.SimPort)).
		Uint32("circuit_code", resp.CircuitCode).
		Msg("login succeeded")
	c.emit(ctx, events.EventLoginSucceeded, events.LoginPayload{
		FirstName: resp.FirstName,
		LastName:  resp.LastName,
		LoginURI:  c.uri,
		AgentID:   resp.AgentID.String(),
		SimAddr:   fmt.Sprintf("%s:%d", resp.SimIP, resp.SimPort),
	})
	return resp, nil
}

func (c *Client) exchange(ctx context.Context, req Request) (*Response, error) {
	body, err := EncodeCall(loginMethod, req.value())
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uri, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create login request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "text/xml")
	httpReq.Header.Set("User-Agent", fmt.Sprintf("%s/%s", req.Channel, req.Version))

	c.log.Debug().Str("uri", c.uri).Str("start", req.Start).Msg("sending login request")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("login request failed: %w", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read login response: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, &AuthError{
			Reason: strings.TrimSpace(http.StatusText(httpResp.StatusCode)),
			Status: httpResp.StatusCode,
		}
	}

	value, err := DecodeResponse(data)
	if err != nil {
		var fault *FaultError
		if errors.As(err, &fault) {
			return nil, &AuthError{Reason: fault.String, Err: err}
		}
		return nil, &AuthError{Reason: "malformed login response", Err: err}
	}

	resp, err := ParseResponse(value)
	if resp == nil {
		return nil, &AuthError{Reason: "malformed login response", Err: err}
	}
	if !resp.Success {
		return nil, &AuthError{Reason: resp.FailureReason(), Message: resp.Message, Err: err}
	}
	if err != nil {
		return nil, &AuthError{Reason: "malformed login response", Err: err}
	}

	if resp.AgentID == uuid.Nil || resp.SessionID == uuid.Nil {
		c.log.Error().
			Str("agent_id", resp.AgentID.String()).
			Str("session_id", resp.SessionID.String()).
			Msg("login succeeded without agent or session id")
	}
	return resp, nil
}

func (c *Client) emit(ctx context.Context, t events.EventType, payload events.LoginPayload) {
	if c.bus == nil {
		return
	}
	c.bus.Emit(ctx, events.Event{Type: t, Source: "login", Payload: payload})
}
