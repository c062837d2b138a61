package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/slproto/slproto/internal/api"
	"github.com/slproto/slproto/internal/cli"
	"github.com/slproto/slproto/internal/db"
	"github.com/slproto/slproto/internal/events"
	"github.com/slproto/slproto/internal/metrics"
	"github.com/slproto/slproto/internal/network"
	"github.com/slproto/slproto/internal/scheduler"
	"github.com/slproto/slproto/internal/session"
	"github.com/slproto/slproto/internal/telemetry"
	"github.com/slproto/slproto/internal/util"
)

// sessionHolder publishes the running session to the API.
type sessionHolder struct {
	current atomic.Pointer[session.Session]
}

func (h *sessionHolder) Current() (api.SessionView, bool) {
	s := h.current.Load()
	if s == nil {
		return nil, false
	}
	return s, true
}

func connectCmd() *cobra.Command {
	var (
		lf        loginFlags
		noConsole bool
		noAPI     bool
	)
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Log in and keep a session with the simulator",
		Long: `Log in, run the circuit handshake and stay connected until logout,
a fatal session error or SIGINT/SIGTERM.

While connected, the local API (if enabled) serves status and accepts
commands, MQTT telemetry (if enabled) publishes session events and the
history database (if enabled) records the session.`,
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

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			appData := cfg.GetApplicationData()
			circuitCfg := cfg.GetCircuit()

			sysInfo := util.GetSystemInfo()
			log.Info().
				Str("version", AppVersion).
				Str("platform", string(sysInfo.Platform)).
				Str("os", sysInfo.OS).
				Msg("starting slproto")

			eventBus := events.NewEventBus()
			defer eventBus.Stop()

			promReg := prometheus.NewRegistry()
			promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			m := metrics.New(promReg)

			var history *db.History
			if appData.Database.Enabled {
				if history, err = openHistory(cfg); err != nil {
					log.Warn().Err(err).Msg("failed to open history database, history disabled")
				} else {
					defer history.Close()
					go scheduler.NewScheduler(cfg, history).Start(ctx)
				}
			}

			reg, source, err := loadRegistry(cfg, "")
			if err != nil {
				log.Warn().Err(err).Msg("failed to load message template, template endpoints disabled")
			} else {
				log.Debug().Str("source", source).Int("messages", reg.Len()).Msg("message template loaded")
			}

			var wg sync.WaitGroup
			holder := &sessionHolder{}

			if appData.API.Enabled && !noAPI {
				apiServer := api.NewServer(api.Options{
					Config:   cfg,
					Bus:      eventBus,
					Sessions: holder,
					Registry: reg,
					History:  history,
					Gatherer: promReg,
				})
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := startWithRetry(ctx, "API server", apiServer.Start, 5); err != nil {
						log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
					}
				}()
			}

			if appData.MQTT.Enabled {
				mqttHandler, err := telemetry.NewMQTTHandler(appData.MQTT, eventBus)
				if err != nil {
					log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
				} else {
					wg.Add(1)
					go func() {
						defer wg.Done()
						if err := mqttHandler.Start(ctx); err != nil {
							log.Warn().Err(err).Msg("MQTT telemetry failed")
						}
					}()
				}
			}

			client := lf.client(cfg, eventBus, m)
			resp, err := client.Login(ctx, req)
			recordLogin(history, client, req, resp, err)
			if err != nil {
				cancel()
				wg.Wait()
				return err
			}

			info, err := resp.SessionInfo()
			if err != nil {
				cancel()
				wg.Wait()
				return err
			}

			throttle, _ := circuitCfg.ThrottleValues()
			sessionEvents := make(chan events.Event, 256)
			sess, err := session.New(info, session.Options{
				LocalAddr: network.JoinHostPort(circuitCfg.BindAddress, circuitCfg.BindPort),
				Circuit: session.CircuitOptions{
					ResendTimeout: circuitCfg.ResendTimeout(),
					MaxResends:    circuitCfg.MaxResends,
					AckInterval:   circuitCfg.AckInterval(),
				},
				StepTimeout:    circuitCfg.StepTimeout(),
				UpdateInterval: circuitCfg.UpdateInterval(),
				Throttle:       throttle,
				Bus:            eventBus,
				Metrics:        m,
				Events:         sessionEvents,
			})
			if err != nil {
				cancel()
				wg.Wait()
				return err
			}
			holder.current.Store(sess)

			var sessionRow int64
			if history != nil {
				if sessionRow, err = history.StartSession(info.AgentID.String(), info.SimAddr.String()); err != nil {
					log.Warn().Err(err).Msg("failed to record session start")
				}
			}

			var console *cli.Console
			if !noConsole && util.IsInteractive() {
				console = cli.NewConsole(sess, os.Stdin, os.Stdout)
			}

			eventsDone := make(chan struct{})
			go func() {
				defer close(eventsDone)
				for ev := range sessionEvents {
					if history != nil && sessionRow != 0 {
						if err := history.Record(sessionRow, ev); err != nil {
							log.Warn().Err(err).Msg("failed to record session event")
						}
					}
					if console != nil {
						console.PrintEvent(ev)
					} else if line, ok := cli.FormatEvent(ev); ok {
						fmt.Println(line)
					}
					if ev.Type == events.EventDisconnected {
						return
					}
				}
			}()

			if console != nil {
				go func() {
					// Wait for steady state so commands are accepted.
					select {
					case <-sess.Done():
						return
					case <-waitEstablished(ctx, sess):
					}
					if err := console.Run(ctx); err != nil {
						log.Warn().Err(err).Msg("console stopped")
					}
				}()
			}

			runErr := sess.Run(ctx)

			select {
			case <-eventsDone:
			case <-time.After(2 * time.Second):
			}
			holder.current.Store(nil)
			cancel()
			wg.Wait()

			if runErr != nil && !errors.Is(runErr, context.Canceled) {
				return runErr
			}
			log.Info().Msg("slproto stopped")
			return nil
		},
	}
	lf.register(cmd)
	cmd.Flags().BoolVar(&noConsole, "no-console", false, "Do not read commands from stdin")
	cmd.Flags().BoolVar(&noAPI, "no-api", false, "Do not start the local API")
	return cmd
}

// waitEstablished closes the returned channel once sess reaches steady state.
func waitEstablished(ctx context.Context, sess *session.Session) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			if sess.State() == events.StateSteadyState {
				close(ch)
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-sess.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return ch
}
