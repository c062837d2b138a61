package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/slproto/slproto/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(configSetupCmd(), configShowCmd(), configSetCmd())
	return cmd
}

func configSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Run the interactive setup wizard",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return config.RunSetupWizard(cfg)
		},
	}
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the configuration and its validation result",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			account := cfg.GetAccount()
			if account.Password != "" {
				account.Password = "********"
			}
			appData := cfg.GetApplicationData()
			if appData.Security.APIToken != "" {
				appData.Security.APIToken = "********"
			}
			out, err := json.MarshalIndent(map[string]interface{}{
				"grid":             cfg.GetGrid(),
				"account":          account,
				"circuit":          cfg.GetCircuit(),
				"application_data": appData,
			}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Printf("# %s\n%s\n", cfg.Path(), out)

			result := config.Validate(cfg)
			for _, w := range result.Warnings {
				fmt.Fprintf(os.Stderr, "warning: %s: %s\n", w.Field, w.Message)
			}
			for _, e := range result.Errors {
				fmt.Fprintf(os.Stderr, "error: %s: %s\n", e.Field, e.Message)
			}
			return nil
		},
	}
}

func configSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <section> <key> <value>",
		Short: "Set one configuration field",
		Long: `Set one field of a configuration section (grid, account, circuit or
application_data). Values are read as JSON when they parse, so numbers,
booleans, arrays and objects keep their type; anything else is a string.`,
		Example: `  slproto config set grid name aditi
  slproto config set circuit max_resends 5
  slproto config set circuit throttle "[150000,170000,34000,34000,446000,446000,220000]"`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			section, key := args[0], args[1]
			value := parseValue(args[2])

			if err := cfg.UpdateField(section, key, value); err != nil {
				return err
			}
			if section == "grid" && key == "name" {
				// A known grid name brings its login URI along.
				if uri, ok := config.KnownGrids[strings.ToLower(args[2])]; ok {
					grid := cfg.GetGrid()
					grid.LoginURI = uri
					cfg.SetGrid(grid)
				}
			}
			if err := validateConfig(cfg); err != nil {
				return err
			}
			if err := cfg.Save(); err != nil {
				return err
			}
			fmt.Printf("Config updated: %s.%s = %s\n", section, key, args[2])
			return nil
		},
	}
}

// parseValue reads raw as JSON when possible, otherwise as a string.
func parseValue(raw string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}
