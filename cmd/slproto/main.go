// slproto is a headless virtual-world client: it logs an avatar in over
// XML-RPC, runs the UDP circuit handshake with the simulator and keeps the
// session alive, with a local API, MQTT telemetry and a history database
// around it. It also compiles message templates into Go declarations.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/slproto/slproto/internal/config"
	"github.com/slproto/slproto/internal/util"
)

const (
	AppName    = "slproto"
	AppVersion = "0.1.0"
	Banner     = `
      _                 _
  ___| |_ __  _ __ ___ | |_ ___
 / __| | '_ \| '__/ _ \| __/ _ \
 \__ \ | |_) | | | (_) | || (_) |
 |___/_| .__/|_|  \___/ \__\___/
       |_|  v%s
`
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configDir string
	logLevel  string
	quiet     bool
}

var flags globalFlags

func main() {
	rootCmd := &cobra.Command{
		Use:   AppName,
		Short: "Virtual-world protocol client",
		Long: `slproto logs an avatar in, negotiates the UDP circuit with the
simulator and keeps the session alive.

It also parses message templates, generates Go declarations from them
and keeps a local history of logins and sessions.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&flags.configDir, "config-dir", config.DefaultConfigDir, "Configuration directory")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override the configured log level")
	rootCmd.PersistentFlags().BoolVarP(&flags.quiet, "quiet", "q", false, "Only log to file")

	rootCmd.AddCommand(
		connectCmd(),
		loginCmd(),
		templateCmd(),
		configCmd(),
		historyCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and reconfigures logging from it.
func loadConfig() (*config.Config, error) {
	// Console-only logging until the configured directory is known.
	if err := util.InitLogger(util.LogConfig{Level: levelOr("warn"), Console: true}); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := config.Load(flags.configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logging := cfg.GetApplicationData().Logging
	if err := util.InitLogger(util.LogConfig{
		Level:      levelOr(logging.Level),
		Directory:  logging.Directory,
		MaxBackups: logging.MaxBackups,
		Console:    logging.Console && !flags.quiet,
	}); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}
	return cfg, nil
}

func levelOr(level string) string {
	if flags.logLevel != "" {
		return flags.logLevel
	}
	return level
}

// validateConfig logs warnings and fails on errors.
func validateConfig(cfg *config.Config) error {
	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if validation.IsValid() {
		return nil
	}
	for _, e := range validation.Errors {
		log.Error().Str("field", e.Field).Msg(e.Message)
	}
	return fmt.Errorf("configuration has %d error(s), run '%s config setup' or edit %s",
		len(validation.Errors), AppName, cfg.Path())
}

// startWithRetry retries startFn while it fails, which covers a listener
// port still held by a previous process.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err = startFn(ctx); err == nil || ctx.Err() != nil {
			return nil
		}
		log.Warn().
			Err(err).
			Str("component", name).
			Int("attempt", attempt).
			Int("max", maxRetries).
			Msg("start failed, retrying")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(2 * time.Second):
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", name, maxRetries, err)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			sys := util.GetSystemInfo()
			fmt.Printf(Banner, AppVersion)
			fmt.Printf("\n  platform: %s (%s)\n", sys.Platform, sys.OS)
		},
	}
}
