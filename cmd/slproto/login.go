package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/slproto/slproto/internal/cli"
	"github.com/slproto/slproto/internal/config"
	"github.com/slproto/slproto/internal/db"
	"github.com/slproto/slproto/internal/events"
	"github.com/slproto/slproto/internal/login"
	"github.com/slproto/slproto/internal/metrics"
	"github.com/slproto/slproto/internal/util"
)

// loginFlags select the avatar and the grid for one login.
type loginFlags struct {
	user     string
	loginURI string
	start    string
}

func (f *loginFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.user, "user", "u", "", `Avatar name, "First Last" (default from config)`)
	cmd.Flags().StringVar(&f.loginURI, "login-uri", "", "Login endpoint (default from config)")
	cmd.Flags().StringVar(&f.start, "start", "", `Start location: "last", "home" or "uri:Region&x&y&z"`)
}

// buildRequest resolves the avatar name and password. The password comes
// from SL_PASSWORD, then the config file, then a prompt.
func (f *loginFlags) buildRequest(cfg *config.Config) (login.Request, error) {
	account := cfg.GetAccount()
	first, last := account.FirstName, account.LastName
	if f.user != "" {
		first, last = login.SplitName(f.user)
	}
	if first == "" {
		return login.Request{}, fmt.Errorf("no avatar name: pass --user or run '%s config setup'", AppName)
	}
	if last == "" {
		last = "Resident"
	}

	password := os.Getenv("SL_PASSWORD")
	if password == "" {
		password = account.Password
	}
	if password == "" {
		var err error
		password, err = util.ReadPassword(fmt.Sprintf("Password for %s %s: ", first, last))
		if err != nil {
			return login.Request{}, fmt.Errorf("failed to read password: %w", err)
		}
	}

	grid := cfg.GetGrid()
	req := login.NewRequest(first, last, password)
	if grid.Channel != "" {
		req.Channel = grid.Channel
	}
	if grid.Version != "" {
		req.Version = grid.Version
	}
	if len(grid.Options) > 0 {
		req.Options = grid.Options
	}
	req.Start = grid.StartLocation
	if f.start != "" {
		req.Start = f.start
	}
	return req, nil
}

func (f *loginFlags) client(cfg *config.Config, bus *events.EventBus, m *metrics.Metrics) *login.Client {
	grid := cfg.GetGrid()
	uri := grid.LoginURI
	if f.loginURI != "" {
		uri = f.loginURI
	}
	return login.NewClient(login.Options{
		LoginURI: uri,
		Timeout:  time.Duration(grid.LoginTimeoutSec) * time.Second,
		Bus:      bus,
		Metrics:  m,
	})
}

// recordLogin stores a login outcome when a history database is open.
func recordLogin(h *db.History, c *login.Client, req login.Request, resp *login.Response, loginErr error) {
	if h == nil {
		return
	}
	p := events.LoginPayload{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		LoginURI:  c.URI(),
	}
	if loginErr != nil {
		p.Reason = loginErr.Error()
	} else {
		p.AgentID = resp.AgentID.String()
		p.SimAddr = fmt.Sprintf("%s:%d", resp.SimIP, resp.SimPort)
	}
	if _, err := h.RecordLogin(p, loginErr == nil); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
}

func loginCmd() *cobra.Command {
	var lf loginFlags
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and print the session details without connecting",
		Long: `Perform the XML-RPC login exchange only. This checks credentials
and shows which simulator the grid hands out; the circuit is not opened,
so the grid will time the session out on its own.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := validateConfig(cfg); err != nil {
				return err
			}
			req, err := lf.buildRequest(cfg)
			if err != nil {
				return err
			}

			var history *db.History
			if cfg.GetApplicationData().Database.Enabled {
				if history, err = openHistory(cfg); err != nil {
					fmt.Fprintf(os.Stderr, "warning: %v\n", err)
				} else {
					defer history.Close()
				}
			}

			client := lf.client(cfg, nil, nil)
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			resp, err := client.Login(ctx, req)
			recordLogin(history, client, req, resp, err)
			if err != nil {
				return err
			}
			cli.RenderLogin(os.Stdout, resp)
			return nil
		},
	}
	lf.register(cmd)
	return cmd
}
