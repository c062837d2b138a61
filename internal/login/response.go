package login

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/slproto/slproto/internal/network"
	"github.com/slproto/slproto/internal/protocol"
	"github.com/slproto/slproto/internal/session"
)

// Response is a decoded login_to_simulator reply.
type Response struct {
	Success         bool             `json:"login"`
	Reason          string           `json:"reason,omitempty"`
	Message         string           `json:"message,omitempty"`
	AgentID         uuid.UUID        `json:"agent_id"`
	SessionID       uuid.UUID        `json:"session_id"`
	SecureSessionID uuid.UUID        `json:"secure_session_id"`
	FirstName       string           `json:"first_name"`
	LastName        string           `json:"last_name"`
	CircuitCode     uint32           `json:"circuit_code"`
	SimIP           string           `json:"sim_ip"`
	SimPort         int              `json:"sim_port"`
	LookAt          protocol.Vector3 `json:"look_at"`
	StartLocation   string           `json:"start_location,omitempty"`
	SeedCapability  string           `json:"seed_capability,omitempty"`
	RegionX         int64            `json:"region_x,omitempty"`
	RegionY         int64            `json:"region_y,omitempty"`

	AgentAccess            string   `json:"agent_access,omitempty"`
	AgentAccessMax         string   `json:"agent_access_max,omitempty"`
	AgentRegionAccess      string   `json:"agent_region_access,omitempty"`
	AgentAppearanceService string   `json:"agent_appearance_service,omitempty"`
	AgentFlags             uint32   `json:"agent_flags,omitempty"`
	MaxAgentGroups         uint32   `json:"max_agent_groups,omitempty"`
	GodLevel               uint32   `json:"god_level,omitempty"`
	MaxGodLevel            uint32   `json:"max_god_level,omitempty"`
	COFVersion             uint32   `json:"cof_version,omitempty"`
	AccountType            string   `json:"account_type,omitempty"`
	LindenStatusCode       string   `json:"linden_status_code,omitempty"`
	OpenIDURL              string   `json:"openid_url,omitempty"`
	OpenIDToken            string   `json:"openid_token,omitempty"`
	MapServerURL           string   `json:"map_server_url,omitempty"`
	SecondsSinceEpoch      int64    `json:"seconds_since_epoch,omitempty"`
	Home                   string   `json:"home,omitempty"`
	UDPBlacklist           []string `json:"udp_blacklist,omitempty"`

	InventoryRoot uuid.UUID         `json:"inventory_root,omitempty"`
	Buddies       []Buddy           `json:"buddy_list,omitempty"`
	Flags         map[string]string `json:"login_flags,omitempty"`

	// Nested holds the flattened text of structured fields, keyed by the
	// field name with dashes turned into underscores.
	Nested map[string]string `json:"nested,omitempty"`
	// Extra holds fields this client does not interpret.
	Extra map[string]string `json:"extra,omitempty"`
}

// Buddy is one buddy-list entry.
type Buddy struct {
	ID          uuid.UUID `json:"buddy_id"`
	RightsHas   int64     `json:"buddy_rights_has"`
	RightsGiven int64     `json:"buddy_rights_given"`
}

// FieldError reports a response field whose text could not be coerced.
type FieldError struct {
	Field string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid login field %s=%q: %v", e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// nested lists the members that carry structure instead of a leaf value.
var nested = map[string]bool{
	"home_info":              true,
	"inventory_root":         true,
	"inventory_skeleton":     true,
	"buddy_list":             true,
	"login_flags":            true,
	"premium_packages":       true,
	"account_level_benefits": true,
}

// statusFields are read before anything else so a rejected login keeps its
// reason even when the rest of the reply does not coerce.
var statusFields = map[string]bool{"login": true, "reason": true, "message": true}

// ParseResponse coerces the top-level struct of a login reply. The returned
// Response is non-nil whenever v is a struct; field conversion failures are
// joined into the error so callers can still inspect the login status.
func ParseResponse(v Value) (*Response, error) {
	if v.Kind != KindStruct {
		return nil, fmt.Errorf("login response is not a struct")
	}
	r := &Response{}
	var errs []error
	for _, m := range v.Struct {
		if statusFields[m.Name] {
			if err := r.set(m.Name, m.Value.Text()); err != nil {
				errs = append(errs, &FieldError{Field: m.Name, Value: m.Value.Text(), Err: err})
			}
		}
	}
	for _, m := range v.Struct {
		if statusFields[m.Name] {
			continue
		}
		name := strings.ReplaceAll(m.Name, "-", "_")
		if nested[name] {
			if err := r.setNested(name, m.Value); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if err := r.set(name, m.Value.Text()); err != nil {
			errs = append(errs, &FieldError{Field: m.Name, Value: m.Value.Text(), Err: err})
		}
	}
	return r, errors.Join(errs...)
}

func (r *Response) set(name, text string) error {
	var err error
	switch name {
	case "login":
		r.Success, err = parseBool(text)
	case "reason":
		r.Reason = text
	case "message":
		r.Message = text
	case "agent_id":
		r.AgentID, err = uuid.Parse(text)
	case "session_id":
		r.SessionID, err = uuid.Parse(text)
	case "secure_session_id":
		r.SecureSessionID, err = uuid.Parse(text)
	case "first_name":
		r.FirstName = strings.Trim(text, `"`)
	case "last_name":
		r.LastName = strings.Trim(text, `"`)
	case "circuit_code":
		var n uint64
		n, err = strconv.ParseUint(text, 10, 32)
		r.CircuitCode = uint32(n)
	case "sim_ip":
		r.SimIP = text
	case "sim_port":
		var n int64
		n, err = strconv.ParseInt(text, 10, 32)
		r.SimPort = int(n)
	case "look_at":
		r.LookAt, err = ParseVector(text)
	case "start_location":
		r.StartLocation = text
	case "seed_capability":
		r.SeedCapability = text
	case "region_x":
		r.RegionX, err = strconv.ParseInt(text, 10, 64)
	case "region_y":
		r.RegionY, err = strconv.ParseInt(text, 10, 64)
	case "seconds_since_epoch":
		r.SecondsSinceEpoch, err = strconv.ParseInt(text, 10, 64)
	case "agent_access":
		r.AgentAccess = text
	case "agent_access_max":
		r.AgentAccessMax = text
	case "agent_region_access":
		r.AgentRegionAccess = text
	case "agent_appearance_service":
		r.AgentAppearanceService = text
	case "agent_flags":
		r.AgentFlags, err = parseUint32(text)
	case "max_agent_groups":
		r.MaxAgentGroups, err = parseUint32(text)
	case "god_level":
		r.GodLevel, err = parseUint32(text)
	case "max_god_level":
		r.MaxGodLevel, err = parseUint32(text)
	case "cof_version":
		r.COFVersion, err = parseUint32(text)
	case "account_type":
		r.AccountType = text
	case "linden_status_code":
		r.LindenStatusCode = text
	case "openid_url":
		r.OpenIDURL = text
	case "openid_token":
		r.OpenIDToken = text
	case "map_server_url":
		r.MapServerURL = text
	case "home":
		r.Home = text
	case "udp_blacklist":
		r.UDPBlacklist = ParseList(text)
	default:
		if r.Extra == nil {
			r.Extra = make(map[string]string)
		}
		r.Extra[name] = text
	}
	return err
}

// setNested runs the second pass over a structured field and keeps its
// flattened text.
func (r *Response) setNested(name string, v Value) error {
	if r.Nested == nil {
		r.Nested = make(map[string]string)
	}
	r.Nested[name] = v.Text()

	switch name {
	case "inventory_root":
		for _, item := range v.Array {
			folder, ok := item.Get("folder_id")
			if !ok {
				continue
			}
			id, err := uuid.Parse(folder.Text())
			if err != nil {
				return &FieldError{Field: name + ".folder_id", Value: folder.Text(), Err: err}
			}
			r.InventoryRoot = id
		}
	case "buddy_list":
		for _, item := range v.Array {
			b, err := parseBuddy(item)
			if err != nil {
				return err
			}
			r.Buddies = append(r.Buddies, b)
		}
	case "login_flags":
		r.Flags = make(map[string]string)
		for _, item := range v.Array {
			for _, m := range item.Struct {
				r.Flags[m.Name] = m.Value.Text()
			}
		}
	}
	return nil
}

func parseBuddy(v Value) (Buddy, error) {
	var b Buddy
	for _, m := range v.Struct {
		text := m.Value.Text()
		var err error
		switch m.Name {
		case "buddy_id":
			b.ID, err = uuid.Parse(text)
		case "buddy_rights_has":
			b.RightsHas, err = strconv.ParseInt(text, 10, 64)
		case "buddy_rights_given":
			b.RightsGiven, err = strconv.ParseInt(text, 10, 64)
		}
		if err != nil {
			return b, &FieldError{Field: "buddy_list." + m.Name, Value: text, Err: err}
		}
	}
	return b, nil
}

// ParseVector reads the grid's vector literal, "[r1.5, r2, r-3]". Angle
// brackets and bare numbers are accepted as well.
func ParseVector(s string) (protocol.Vector3, error) {
	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimPrefix(strings.TrimPrefix(trimmed, "["), "<")
	trimmed = strings.TrimSuffix(strings.TrimSuffix(trimmed, "]"), ">")
	parts := strings.Split(trimmed, ",")
	if len(parts) != 3 {
		return protocol.Vector3{}, fmt.Errorf("vector %q needs 3 components", s)
	}
	var out [3]float32
	for i, p := range parts {
		p = strings.TrimPrefix(strings.TrimSpace(p), "r")
		f, err := strconv.ParseFloat(p, 32)
		if err != nil {
			return protocol.Vector3{}, fmt.Errorf("vector %q component %d: %w", s, i, err)
		}
		out[i] = float32(f)
	}
	return protocol.Vector3{X: out[0], Y: out[1], Z: out[2]}, nil
}

// ParseList splits a comma-joined list, dropping empty entries.
func ParseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseUint32(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	return uint32(n), err
}

// FailureReason picks the text to show for a failed login.
func (r *Response) FailureReason() string {
	switch {
	case r.Reason != "":
		return r.Reason
	case r.Message != "":
		return r.Message
	default:
		return "login failed"
	}
}

// SessionInfo converts a successful response into what the circuit needs.
func (r *Response) SessionInfo() (session.Info, error) {
	addr, err := network.ResolveSim(r.SimIP, r.SimPort)
	if err != nil {
		return session.Info{}, err
	}
	info := session.Info{
		AgentID:         r.AgentID,
		SessionID:       r.SessionID,
		SecureSessionID: r.SecureSessionID,
		CircuitCode:     r.CircuitCode,
		SimAddr:         addr,
		LookAt:          r.LookAt,
		StartLocation:   r.StartLocation,
		FirstName:       r.FirstName,
		LastName:        r.LastName,
	}
	if err := info.Validate(); err != nil {
		return session.Info{}, err
	}
	return info, nil
}
