package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/slproto/slproto/internal/cli"
	"github.com/slproto/slproto/internal/config"
	"github.com/slproto/slproto/internal/db"
)

func openHistory(cfg *config.Config) (*db.History, error) {
	dbCfg := cfg.GetApplicationData().Database
	if !dbCfg.Enabled {
		return nil, fmt.Errorf("history database is disabled (application_data.database.enabled)")
	}
	return db.NewHistory(dbCfg.Path)
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded logins and sessions",
	}
	cmd.PersistentFlags().IntVarP(&limit, "limit", "n", 20, "Number of rows")

	logins := &cobra.Command{
		Use:   "logins",
		Short: "Show recent login attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			h, err := openHistory(cfg)
			if err != nil {
				return err
			}
			defer h.Close()

			rows, err := h.RecentLogins(limit)
			if err != nil {
				return err
			}
			cli.RenderLogins(os.Stdout, rows)
			return nil
		},
	}

	sessions := &cobra.Command{
		Use:   "sessions",
		Short: "Show recent sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			h, err := openHistory(cfg)
			if err != nil {
				return err
			}
			defer h.Close()

			rows, err := h.RecentSessions(limit)
			if err != nil {
				return err
			}
			cli.RenderSessions(os.Stdout, rows)
			return nil
		},
	}

	var days int
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete history older than a number of days",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if days == 0 {
				days = cfg.GetApplicationData().Database.RetentionDays
			}
			if days < 1 {
				return fmt.Errorf("--days must be at least 1")
			}
			h, err := openHistory(cfg)
			if err != nil {
				return err
			}
			defer h.Close()
			return h.Prune(days)
		},
	}
	prune.Flags().IntVar(&days, "days", 0, "Keep this many days (default: configured retention)")

	cmd.AddCommand(logins, sessions, prune)
	return cmd
}
