package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadCreatesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Path() != filepath.Join(dir, DefaultConfigFile) {
		t.Fatalf("path = %s", cfg.Path())
	}
	if _, err := os.Stat(cfg.Path()); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if got := cfg.GetGrid().LoginURI; got != KnownGrids[DefaultGrid] {
		t.Fatalf("login uri = %s", got)
	}
	if !cfg.IsFirstRun() {
		t.Fatal("fresh config should be a first run")
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	dir := t.TempDir()
	body := `{"grid":{"name":"aditi","login_uri":""},"account":{"first_name":"Test"},"circuit":{"max_resends":5}}`
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.GetGrid().LoginURI; got != KnownGrids["aditi"] {
		t.Fatalf("login uri = %s, want the aditi endpoint", got)
	}
	circuit := cfg.GetCircuit()
	if circuit.MaxResends != 5 {
		t.Fatalf("max resends = %d", circuit.MaxResends)
	}
	if circuit.ResendTimeoutMS != 3000 {
		t.Fatalf("default resend timeout lost: %d", circuit.ResendTimeoutMS)
	}
	if cfg.IsFirstRun() {
		t.Fatal("configured account reported as first run")
	}

	data, err := os.ReadFile(cfg.Path())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "agent_update_interval_ms") {
		t.Fatal("re-saved config is missing default fields")
	}
}

func TestLoadRejectsBadJSON(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte("{"), 0600)
	if _, err := Load(dir); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestUpdateField(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		name    string
		section string
		key     string
		value   interface{}
		wantErr bool
	}{
		{"circuit int", "circuit", "max_resends", 7, false},
		{"grid string", "grid", "start_location", "home", false},
		{"account password", "account", "password", "hunter2", false},
		{"unknown section", "nope", "x", 1, true},
		{"unknown field", "circuit", "warp_speed", 9, true},
		{"wrong type", "circuit", "max_resends", "many", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := cfg.UpdateField(tt.section, tt.key, tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
	if cfg.GetCircuit().MaxResends != 7 || cfg.GetGrid().StartLocation != "home" || cfg.GetAccount().Password != "hunter2" {
		t.Fatalf("updates not applied: %+v %+v", cfg.GetCircuit(), cfg.GetGrid())
	}
}

func TestCircuitDurations(t *testing.T) {
	c := DefaultConfig().Circuit
	if c.ResendTimeout().Seconds() != 3 || c.AckInterval().Milliseconds() != 250 || c.StepTimeout().Seconds() != 15 {
		t.Fatalf("durations = %s %s %s", c.ResendTimeout(), c.AckInterval(), c.StepTimeout())
	}
	values, ok := c.ThrottleValues()
	if !ok || values[0] != 207360 || values[6] != 269312 {
		t.Fatalf("throttle = %v %v", values, ok)
	}
	c.Throttle = c.Throttle[:3]
	if _, ok := c.ThrottleValues(); ok {
		t.Fatal("short throttle list accepted")
	}
}

func hasField(list []ValidationError, field string) bool {
	for _, e := range list {
		if e.Field == field {
			return true
		}
	}
	return false
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantError string
		wantWarn  string
	}{
		{"missing first name", func(c *Config) {}, "account.first_name", ""},
		{"bad login uri", func(c *Config) { c.Grid.LoginURI = "::nope" }, "grid.login_uri", ""},
		{"plain http", func(c *Config) { c.Grid.LoginURI = "http://grid.example.com/login" }, "", "grid.login_uri"},
		{"bad start", func(c *Config) { c.Grid.StartLocation = "somewhere" }, "grid.start_location", ""},
		{"short throttle", func(c *Config) { c.Circuit.Throttle = []float32{1} }, "circuit.throttle", ""},
		{"ack slower than resend", func(c *Config) { c.Circuit.AckIntervalMS = 5000 }, "circuit.ack_interval_ms", ""},
		{"no resends", func(c *Config) { c.Circuit.MaxResends = 0 }, "circuit.max_resends", ""},
		{"mqtt without broker", func(c *Config) { c.ApplicationData.MQTT.Enabled = true }, "application_data.mqtt.broker_url", ""},
		{"stored password", func(c *Config) { c.Account.Password = "x" }, "", "account.password"},
		{"negative retention", func(c *Config) { c.ApplicationData.Database.RetentionDays = -1 }, "application_data.database.retention_days", ""},
		{"bad prune time", func(c *Config) { c.ApplicationData.Database.PruneTime = "4am" }, "application_data.database.prune_time", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			if tt.name != "missing first name" {
				cfg.Account.FirstName = "Test"
				cfg.Account.LastName = "Resident"
			}
			tt.mutate(cfg)
			result := Validate(cfg)
			if tt.wantError != "" && !hasField(result.Errors, tt.wantError) {
				t.Fatalf("errors = %v, want %s", result.Errors, tt.wantError)
			}
			if tt.wantWarn != "" && !hasField(result.Warnings, tt.wantWarn) {
				t.Fatalf("warnings = %v, want %s", result.Warnings, tt.wantWarn)
			}
		})
	}

	cfg := DefaultConfig()
	cfg.Account.FirstName = "Test"
	cfg.Account.LastName = "Resident"
	if result := Validate(cfg); !result.IsValid() {
		t.Fatalf("defaults with an account should be valid: %v", result.Errors)
	}
}
