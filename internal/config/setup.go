package config

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/slproto/slproto/internal/util"
)

// RunSetupWizard guides the user through first-time configuration.
func RunSetupWizard(cfg *Config) error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("slproto first run setup")
	fmt.Println()

	fmt.Println("-- Grid --")
	names := make([]string, 0, len(KnownGrids))
	for name := range KnownGrids {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Printf("  Known grids: %s\n", strings.Join(names, ", "))

	cfg.Grid.Name = promptString(reader, "Grid name (or custom)", cfg.Grid.Name)
	if uri, ok := KnownGrids[cfg.Grid.Name]; ok {
		cfg.Grid.LoginURI = uri
	} else {
		cfg.Grid.LoginURI = promptString(reader, "Login URI", cfg.Grid.LoginURI)
	}
	cfg.Grid.StartLocation = promptString(reader, "Start location (last, home, uri:Region&x&y&z)", cfg.Grid.StartLocation)

	fmt.Println()
	fmt.Println("-- Avatar --")

	cfg.Account.FirstName = promptString(reader, "First name", cfg.Account.FirstName)
	cfg.Account.LastName = promptString(reader, "Last name", defaultString(cfg.Account.LastName, "Resident"))
	if promptBool(reader, "Store the password in the config file", false) {
		if util.IsInteractive() {
			password, err := util.ReadPassword("  Password: ")
			if err != nil {
				return err
			}
			cfg.Account.Password = password
		} else {
			cfg.Account.Password = promptString(reader, "Password", "")
		}
	}

	fmt.Println()
	fmt.Println("-- Circuit --")

	cfg.Circuit.BindPort = promptInt(reader, "Local UDP port (0 for any)", cfg.Circuit.BindPort)
	cfg.Circuit.StepTimeoutSec = promptInt(reader, "Handshake step timeout (seconds)", cfg.Circuit.StepTimeoutSec)

	fmt.Println()
	fmt.Println("-- Local API --")

	cfg.ApplicationData.API.Enabled = promptBool(reader, "Enable local control API", cfg.ApplicationData.API.Enabled)
	if cfg.ApplicationData.API.Enabled {
		cfg.ApplicationData.API.Port = promptInt(reader, "API port", cfg.ApplicationData.API.Port)
	}

	fmt.Println()
	fmt.Println("-- MQTT Telemetry --")

	cfg.ApplicationData.MQTT.Enabled = promptBool(reader, "Enable MQTT telemetry", cfg.ApplicationData.MQTT.Enabled)
	if cfg.ApplicationData.MQTT.Enabled {
		cfg.ApplicationData.MQTT.BrokerURL = promptString(reader, "Broker host", cfg.ApplicationData.MQTT.BrokerURL)
		cfg.ApplicationData.MQTT.Port = promptInt(reader, "Broker port", cfg.ApplicationData.MQTT.Port)
	}

	result := Validate(cfg)
	if !result.IsValid() {
		fmt.Println("\nConfiguration has errors:")
		for _, e := range result.Errors {
			fmt.Printf("  - [%s] %s\n", e.Field, e.Message)
		}
		retry := promptString(reader, "Would you like to try again? (yes/no)", "yes")
		if strings.ToLower(retry) == "yes" {
			return RunSetupWizard(cfg)
		}
		return fmt.Errorf("configuration validation failed")
	}

	for _, w := range result.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Println()
	fmt.Printf("Configuration saved to %s\n", cfg.Path())
	fmt.Println()

	return nil
}

func promptString(reader *bufio.Reader, prompt string, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Printf("  %s: ", prompt)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func promptInt(reader *bufio.Reader, prompt string, defaultVal int) int {
	fmt.Printf("  %s [%d]: ", prompt, defaultVal)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Printf("    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func promptBool(reader *bufio.Reader, prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}

	fmt.Printf("  %s [%s]: ", prompt, defaultStr)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(strings.ToLower(input))

	if input == "" {
		return defaultVal
	}

	return input == "yes" || input == "y" || input == "true" || input == "1"
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
