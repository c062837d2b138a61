// Package config loads, validates and persists the client configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir   = "config"
	DefaultConfigFile  = "config.json"
	DefaultAPIPort     = 5080
	DefaultGrid        = "agni"
	DefaultTemplateURL = "https://raw.githubusercontent.com/secondlife/master-message-template/master/message_template.msg"
)

// KnownGrids maps short grid names to their login endpoints.
var KnownGrids = map[string]string{
	"agni":  "https://login.agni.lindenlab.com/cgi-bin/login.cgi",
	"aditi": "https://login.aditi.lindenlab.com/cgi-bin/login.cgi",
	"local": "http://localhost:9000/",
}

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	Grid            GridConfig      `json:"grid"`
	Account         AccountConfig   `json:"account"`
	Circuit         CircuitConfig   `json:"circuit"`
	ApplicationData ApplicationData `json:"application_data"`
}

// GridConfig describes the login endpoint and what is asked of it.
type GridConfig struct {
	Name            string   `json:"name"`
	LoginURI        string   `json:"login_uri"`
	Channel         string   `json:"channel"`
	Version         string   `json:"version"`
	StartLocation   string   `json:"start_location"`
	Options         []string `json:"options"`
	LoginTimeoutSec int      `json:"login_timeout_sec"`
}

// AccountConfig holds the avatar credentials. An empty password is
// prompted for at login time.
type AccountConfig struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Password  string `json:"password,omitempty"`
}

// CircuitConfig tunes the UDP circuit and the handshake driver.
type CircuitConfig struct {
	BindAddress           string    `json:"bind_address"`
	BindPort              int       `json:"bind_port"`
	ResendTimeoutMS       int       `json:"resend_timeout_ms"`
	MaxResends            int       `json:"max_resends"`
	StepTimeoutSec        int       `json:"step_timeout_sec"`
	AckIntervalMS         int       `json:"ack_interval_ms"`
	AgentUpdateIntervalMS int       `json:"agent_update_interval_ms"`
	Throttle              []float32 `json:"throttle"`
}

// ResendTimeout is the wait before an unacknowledged reliable packet is resent.
func (c CircuitConfig) ResendTimeout() time.Duration {
	return time.Duration(c.ResendTimeoutMS) * time.Millisecond
}

// StepTimeout bounds each handshake step.
func (c CircuitConfig) StepTimeout() time.Duration {
	return time.Duration(c.StepTimeoutSec) * time.Second
}

// AckInterval is how often queued acknowledgements are flushed.
func (c CircuitConfig) AckInterval() time.Duration {
	return time.Duration(c.AckIntervalMS) * time.Millisecond
}

// UpdateInterval is the steady-state AgentUpdate period.
func (c CircuitConfig) UpdateInterval() time.Duration {
	return time.Duration(c.AgentUpdateIntervalMS) * time.Millisecond
}

// ThrottleValues returns the seven throttle categories, or ok=false when
// the configured list has the wrong length.
func (c CircuitConfig) ThrottleValues() ([7]float32, bool) {
	var out [7]float32
	if len(c.Throttle) != len(out) {
		return out, false
	}
	copy(out[:], c.Throttle)
	return out, true
}

// ApplicationData contains the settings of the surfaces around the client.
type ApplicationData struct {
	API       APIConfig       `json:"api"`
	MQTT      MQTTConfig      `json:"mqtt"`
	Database  DatabaseConfig  `json:"database"`
	Templates TemplatesConfig `json:"templates"`
	Security  SecurityConfig  `json:"security"`
	Logging   LoggingConfig   `json:"logging"`
}

// APIConfig holds the local control API settings.
type APIConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	TLS      bool   `json:"tls"`
	CertFile string `json:"cert_file"`
	KeyFile  string `json:"key_file"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	CAFile      string `json:"ca_file"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

// DatabaseConfig points at the sqlite history file.
type DatabaseConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
	// RetentionDays of 0 keeps history forever.
	RetentionDays int    `json:"retention_days"`
	PruneTime     string `json:"prune_time"`
}

// TemplatesConfig locates the message template source.
type TemplatesConfig struct {
	Path      string `json:"path"`
	SourceURL string `json:"source_url"`
}

// SecurityConfig holds API access settings.
type SecurityConfig struct {
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	APIToken       string   `json:"api_token,omitempty"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Grid: GridConfig{
			Name:            DefaultGrid,
			LoginURI:        KnownGrids[DefaultGrid],
			Channel:         "slproto",
			Version:         "0.1.0",
			StartLocation:   "last",
			Options:         []string{"inventory-root", "inventory-skeleton", "buddy-list", "login-flags"},
			LoginTimeoutSec: 30,
		},
		Circuit: CircuitConfig{
			BindAddress:           "0.0.0.0",
			ResendTimeoutMS:       3000,
			MaxResends:            3,
			StepTimeoutSec:        15,
			AckIntervalMS:         250,
			AgentUpdateIntervalMS: 1000,
			Throttle:              []float32{207360, 165376, 33075.2, 33075.2, 682700.75, 682700.75, 269312},
		},
		ApplicationData: ApplicationData{
			API: APIConfig{
				Enabled:  true,
				Host:     "127.0.0.1",
				Port:     DefaultAPIPort,
				CertFile: filepath.Join(DefaultConfigDir, "api.crt"),
				KeyFile:  filepath.Join(DefaultConfigDir, "api.key"),
			},
			MQTT: MQTTConfig{
				Port:        1883,
				ClientID:    "slproto",
				TopicPrefix: "slproto",
			},
			Database: DatabaseConfig{
				Enabled:       true,
				Path:          filepath.Join("data", "slproto.db"),
				RetentionDays: 90,
				PruneTime:     "04:00",
			},
			Templates: TemplatesConfig{
				SourceURL: DefaultTemplateURL,
			},
			Security: SecurityConfig{
				AllowedOrigins: []string{"http://localhost:3000"},
				RateLimitRPS:   50,
			},
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxBackups: 5,
				Console:    true,
			},
		},
	}
}

// Load reads configuration from a JSON file, creating it with defaults
// when missing.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}
	cfg.path = configPath
	if uri, ok := KnownGrids[cfg.Grid.Name]; ok && cfg.Grid.LoginURI == "" {
		cfg.Grid.LoginURI = uri
	}
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Persist fields added since the file was written.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// The file may hold a password.
	if err := os.WriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetGrid returns a copy of the grid configuration.
func (c *Config) GetGrid() GridConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g := c.Grid
	g.Options = append([]string(nil), c.Grid.Options...)
	return g
}

// SetGrid updates the grid configuration.
func (c *Config) SetGrid(g GridConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Grid = g
}

// GetAccount returns a copy of the account configuration.
func (c *Config) GetAccount() AccountConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Account
}

// SetAccount updates the account configuration.
func (c *Config) SetAccount(a AccountConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Account = a
}

// GetCircuit returns a copy of the circuit configuration.
func (c *Config) GetCircuit() CircuitConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cc := c.Circuit
	cc.Throttle = append([]float32(nil), c.Circuit.Throttle...)
	return cc
}

// SetCircuit updates the circuit configuration.
func (c *Config) SetCircuit(cc CircuitConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Circuit = cc
}

// GetApplicationData returns a copy of the application data configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}

// SetApplicationData updates the application data configuration.
func (c *Config) SetApplicationData(data ApplicationData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ApplicationData = data
}

// UpdateField sets one JSON key inside a top-level section ("grid",
// "account", "circuit" or "application_data").
func (c *Config) UpdateField(section, key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var target interface{}
	switch section {
	case "grid":
		target = &c.Grid
	case "account":
		target = &c.Account
	case "circuit":
		target = &c.Circuit
	case "application_data":
		target = &c.ApplicationData
	default:
		return fmt.Errorf("unknown config section %q", section)
	}

	data, err := json.Marshal(target)
	if err != nil {
		return fmt.Errorf("failed to marshal section %s: %w", section, err)
	}
	m := make(map[string]interface{})
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("failed to read section %s: %w", section, err)
	}
	if _, ok := m[key]; !ok && section != "account" {
		return fmt.Errorf("unknown field %s.%s", section, key)
	}
	m[key] = value

	updated, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to update field %s.%s: %w", section, key, err)
	}
	if err := json.Unmarshal(updated, target); err != nil {
		return fmt.Errorf("failed to update field %s.%s: %w", section, key, err)
	}
	return nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// IsFirstRun returns true if no avatar has been configured yet.
func (c *Config) IsFirstRun() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Account.FirstName == ""
}
