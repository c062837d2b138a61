package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateGrid(&cfg.Grid, result)
	validateAccount(&cfg.Account, result)
	validateCircuit(&cfg.Circuit, result)
	validateApplicationData(&cfg.ApplicationData, result)

	return result
}

func validateGrid(grid *GridConfig, result *ValidationResult) {
	if strings.TrimSpace(grid.LoginURI) == "" {
		result.AddError("grid.login_uri", "login URI is required")
	} else if u, err := url.Parse(grid.LoginURI); err != nil || u.Host == "" {
		result.AddError("grid.login_uri", fmt.Sprintf("invalid login URI: %s", grid.LoginURI))
	} else if u.Scheme != "https" && u.Hostname() != "localhost" && u.Hostname() != "127.0.0.1" {
		result.AddWarning("grid.login_uri", "login URI is not https, the password hash travels in clear text")
	}

	if strings.TrimSpace(grid.Channel) == "" {
		result.AddWarning("grid.channel", "empty channel, some grids reject unnamed viewers")
	}

	switch grid.StartLocation {
	case "last", "home":
	default:
		if !strings.HasPrefix(grid.StartLocation, "uri:") {
			result.AddError("grid.start_location",
				fmt.Sprintf("start location %q must be last, home or uri:Region&x&y&z", grid.StartLocation))
		}
	}

	if grid.LoginTimeoutSec < 1 {
		result.AddError("grid.login_timeout_sec", "login timeout must be at least 1 second")
	}
}

func validateAccount(account *AccountConfig, result *ValidationResult) {
	if strings.TrimSpace(account.FirstName) == "" {
		result.AddError("account.first_name", "first name is required")
	}
	if strings.TrimSpace(account.LastName) == "" {
		result.AddWarning("account.last_name", "last name is empty, Resident will be used")
	}
	if account.Password != "" {
		result.AddWarning("account.password", "password is stored in the config file")
	}
}

func validateCircuit(c *CircuitConfig, result *ValidationResult) {
	if c.BindPort != 0 {
		validatePort(c.BindPort, "circuit.bind_port", result)
	}
	if c.BindAddress != "" && net.ParseIP(c.BindAddress) == nil {
		result.AddError("circuit.bind_address", fmt.Sprintf("invalid bind address: %s", c.BindAddress))
	}

	if c.ResendTimeoutMS < 100 {
		result.AddError("circuit.resend_timeout_ms", "resend timeout must be at least 100ms")
	}
	if c.MaxResends < 1 {
		result.AddError("circuit.max_resends", "at least one resend is required")
	} else if c.MaxResends > 10 {
		result.AddWarning("circuit.max_resends",
			fmt.Sprintf("high resend count (%d) delays detection of a dead circuit", c.MaxResends))
	}
	if c.StepTimeoutSec < 1 {
		result.AddError("circuit.step_timeout_sec", "handshake step timeout must be at least 1 second")
	}
	if c.AckIntervalMS < 10 || c.AckIntervalMS >= c.ResendTimeoutMS {
		result.AddError("circuit.ack_interval_ms", "ack interval must be at least 10ms and below the resend timeout")
	}
	if c.AgentUpdateIntervalMS < 50 {
		result.AddWarning("circuit.agent_update_interval_ms",
			"agent updates faster than every 50ms may cause excessive traffic")
	}

	if _, ok := c.ThrottleValues(); !ok {
		result.AddError("circuit.throttle", fmt.Sprintf("throttle needs 7 values, got %d", len(c.Throttle)))
	} else {
		for i, v := range c.Throttle {
			if v < 0 {
				result.AddError("circuit.throttle", fmt.Sprintf("throttle value %d is negative", i))
			}
		}
	}
}

func validateApplicationData(data *ApplicationData, result *ValidationResult) {
	if data.API.Enabled {
		validatePort(data.API.Port, "application_data.api.port", result)
		if data.API.Host != "127.0.0.1" && data.API.Host != "localhost" && data.Security.APIToken == "" {
			result.AddWarning("application_data.security.api_token",
				"API listens beyond loopback without a token")
		}
		if data.API.TLS && (data.API.CertFile == "" || data.API.KeyFile == "") {
			result.AddError("application_data.api.cert_file", "TLS needs both a certificate and a key path")
		}
	}

	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application_data.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application_data.mqtt.port", "invalid MQTT port")
		}
		if data.MQTT.UseTLS && (data.MQTT.CertFile == "") != (data.MQTT.KeyFile == "") {
			result.AddError("application_data.mqtt.cert_file", "client certificate and key must be set together")
		}
	}

	if data.Database.Enabled && strings.TrimSpace(data.Database.Path) == "" {
		result.AddError("application_data.database.path", "database path is required when enabled")
	}
	if data.Database.RetentionDays < 0 {
		result.AddError("application_data.database.retention_days", "retention must not be negative")
	}
	if data.Database.PruneTime != "" {
		if _, err := time.Parse("15:04", data.Database.PruneTime); err != nil {
			result.AddError("application_data.database.prune_time", "prune time must be HH:MM")
		}
	}

	if data.Templates.Path != "" {
		if _, err := os.Stat(data.Templates.Path); os.IsNotExist(err) {
			result.AddWarning("application_data.templates.path",
				fmt.Sprintf("template file does not exist, the built-in copy is used: %s", data.Templates.Path))
		}
	}

	if data.Security.RateLimitRPS < 1 {
		result.AddWarning("application_data.security.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}

	switch strings.ToLower(data.Logging.Level) {
	case "trace", "debug", "info", "warn", "error":
	default:
		result.AddWarning("application_data.logging.level",
			fmt.Sprintf("unknown log level %q, info is used", data.Logging.Level))
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsUDPPortAvailable checks if a UDP port can be bound.
func IsUDPPortAvailable(port int) bool {
	pc, err := net.ListenPacket("udp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	pc.Close()
	return true
}
