package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/slproto/slproto/internal/db"
	"github.com/slproto/slproto/internal/login"
	"github.com/slproto/slproto/internal/session"
	"github.com/slproto/slproto/internal/template"
)

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

// RenderSnapshot prints the session status as a two-column table.
func RenderSnapshot(w io.Writer, snap session.Snapshot) error {
	tw := newTable(w, "Field", "Value")
	tw.Append([]string{"Agent", snap.Name})
	tw.Append([]string{"Agent ID", snap.AgentID})
	tw.Append([]string{"State", snap.State.String()})
	tw.Append([]string{"Since", snap.Since.Format(time.RFC3339)})
	tw.Append([]string{"Simulator", snap.SimAddr})
	region := snap.Region
	if region == "" {
		region = "-"
	}
	tw.Append([]string{"Region", region})
	tw.Append([]string{"Position", fmt.Sprintf("<%.1f, %.1f, %.1f>",
		snap.LastUpdate.X, snap.LastUpdate.Y, snap.LastUpdate.Z)})

	if st := snap.Circuit; st != nil {
		tw.Append([]string{"Packets sent", strconv.FormatUint(st.Sent, 10)})
		tw.Append([]string{"Packets received", strconv.FormatUint(st.Received, 10)})
		tw.Append([]string{"Resent / dropped", fmt.Sprintf("%d / %d", st.Resent, st.Dropped)})
		tw.Append([]string{"Pending reliable", strconv.Itoa(st.Pending)})
		if st.AckSamples > 0 {
			tw.Append([]string{"Ack RTT p50 / p99", fmt.Sprintf("%s / %s", st.AckRTTP50, st.AckRTTP99)})
		}
	}
	tw.Render()
	return nil
}

// RenderTemplate prints one row per message definition. A non-empty
// filter keeps names containing it, case-insensitively.
func RenderTemplate(w io.Writer, t *template.MessageTemplate, filter string) int {
	tw := newTable(w, "Name", "Frequency", "ID", "Trust", "Encoding", "Blocks", "Fields")
	filter = strings.ToLower(filter)

	n := 0
	for _, m := range t.Messages {
		if filter != "" && !strings.Contains(strings.ToLower(m.Name), filter) {
			continue
		}
		fields := 0
		for _, b := range m.Blocks {
			fields += len(b.Fields)
		}
		tw.Append([]string{
			m.Name,
			m.Frequency.String(),
			strconv.FormatUint(uint64(m.ID), 10),
			m.Trust.String(),
			m.Encoding.String(),
			strconv.Itoa(len(m.Blocks)),
			strconv.Itoa(fields),
		})
		n++
	}
	tw.Render()
	return n
}

// RenderMessage prints the blocks and fields of one definition.
func RenderMessage(w io.Writer, m *template.MessageDefinition) {
	fmt.Fprintf(w, "%s %s %d %s %s\n", m.Name, m.Frequency, m.ID, m.Trust, m.Encoding)
	tw := newTable(w, "Block", "Cardinality", "Field", "Type", "Go type")
	for _, b := range m.Blocks {
		card := b.Cardinality.String()
		if b.Count != nil {
			card = fmt.Sprintf("%s %d", card, *b.Count)
		}
		for _, f := range b.Fields {
			tw.Append([]string{b.Name, card, f.Name, f.Type, f.Mapped().GoType})
		}
	}
	tw.Render()
}

// RenderLogin prints the interesting parts of a login response.
func RenderLogin(w io.Writer, resp *login.Response) {
	tw := newTable(w, "Field", "Value")
	tw.Append([]string{"Name", resp.FirstName + " " + resp.LastName})
	tw.Append([]string{"Agent ID", resp.AgentID.String()})
	tw.Append([]string{"Session ID", resp.SessionID.String()})
	tw.Append([]string{"Circuit code", strconv.FormatUint(uint64(resp.CircuitCode), 10)})
	tw.Append([]string{"Simulator", fmt.Sprintf("%s:%d", resp.SimIP, resp.SimPort)})
	tw.Append([]string{"Region", fmt.Sprintf("%d, %d", resp.RegionX, resp.RegionY)})
	tw.Append([]string{"Start", resp.StartLocation})
	if resp.SeedCapability != "" {
		tw.Append([]string{"Seed capability", resp.SeedCapability})
	}
	if resp.Message != "" {
		tw.Append([]string{"Message", resp.Message})
	}
	tw.Render()
}

// RenderLogins prints login history rows.
func RenderLogins(w io.Writer, logins []db.LoginRecord) {
	tw := newTable(w, "ID", "Time", "Name", "Result", "Simulator / reason")
	for _, l := range logins {
		result, detail := "ok", l.SimAddr
		if !l.Success {
			result, detail = "failed", l.Reason
		}
		tw.Append([]string{
			strconv.FormatInt(l.ID, 10),
			l.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			l.FirstName + " " + l.LastName,
			result,
			detail,
		})
	}
	tw.Render()
}

// RenderSessions prints session history rows.
func RenderSessions(w io.Writer, sessions []db.SessionRecord) {
	tw := newTable(w, "ID", "Started", "Duration", "Simulator", "Final state", "Error")
	for _, s := range sessions {
		duration := "running"
		if s.EndedAt != nil {
			duration = s.EndedAt.Sub(s.StartedAt).Round(time.Second).String()
		}
		tw.Append([]string{
			strconv.FormatInt(s.ID, 10),
			s.StartedAt.Local().Format("2006-01-02 15:04:05"),
			duration,
			s.SimAddr,
			s.FinalState,
			s.Error,
		})
	}
	tw.Render()
}
