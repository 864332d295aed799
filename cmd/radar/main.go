// Command radar monitors QDII fund premiums and purchase limits and emails alerts.
//
// Usage:
//
//	radar serve [--force]
//	radar check
//	radar test-triggers [--send]
//	radar calendar [YYYY-MM-DD]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"QDIIRadar/internal/api"
	"QDIIRadar/internal/metrics"
	"QDIIRadar/internal/scheduler"
)

func main() {
	_ = godotenv.Load(".env")

	var cfgPath string
	root := &cobra.Command{
		Use:           "radar",
		Short:         "QDII fund premium and purchase-limit radar",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default $CONFIG_PATH or configs/config.yaml)")

	root.AddCommand(serveCmd(&cfgPath))
	root.AddCommand(checkCmd(&cfgPath))
	root.AddCommand(testTriggersCmd(&cfgPath))
	root.AddCommand(calendarCmd(&cfgPath))

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// withApp loads config, wires the app and closes it after fn returns.
func withApp(cfgPath string, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return fn(ctx, a)
}

func serveCmd(cfgPath *string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin API, the monitoring loop and housekeeping jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*cfgPath, func(ctx context.Context, a *app) error {
				return serve(ctx, a, force)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "start monitoring even when email notifications are disabled")
	return cmd
}

func serve(ctx context.Context, a *app, force bool) error {
	metrics.Init()

	sched := scheduler.NewScheduler(ctx, a.monitor, a.store, a.calendar, a.cfg.Retention.FundStateDays)
	if err := sched.RegisterAll(a.cfg.Schedule.PruneCron, a.cfg.Schedule.CalendarCron); err != nil {
		return fmt.Errorf("register cron tasks: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	if a.telegram != nil {
		go a.telegram.StartPolling(ctx, sched.HandleCommand)
		log.Info().Msg("telegram polling started")
	}

	start := a.monitor.Start
	if force {
		start = a.monitor.StartForce
	}
	switch err := start(ctx); {
	case err == nil:
	case errors.Is(err, scheduler.ErrEmailDisabled):
		log.Warn().Msg("email notifications disabled, monitor not started (enable smtp_enabled or use --force)")
	default:
		return fmt.Errorf("start monitor: %w", err)
	}

	router := api.NewRouter(api.Deps{
		Store:       a.store,
		Monitor:     a.monitor,
		Mailer:      a.email,
		Calendar:    a.calendar,
		CORSOrigins: a.cfg.HTTP.CORSOrigins,
	})
	srv := api.NewServer(a.cfg.HTTP.Addr, router)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received, stopping")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	if a.monitor.IsRunning() {
		a.monitor.Stop()
	}
	log.Info().Msg("radar stopped")
	return nil
}

func checkCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run a single monitoring cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*cfgPath, func(ctx context.Context, a *app) error {
				res, err := a.monitor.RunCycle(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func testTriggersCmd(cfgPath *string) *cobra.Command {
	var send bool
	cmd := &cobra.Command{
		Use:   "test-triggers",
		Short: "Evaluate every enabled trigger against live data",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*cfgPath, func(ctx context.Context, a *app) error {
				report, err := a.monitor.TestTriggers(ctx, send)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
	cmd.Flags().BoolVar(&send, "send", false, "dispatch alerts for triggers that would fire")
	return cmd
}

func calendarCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "calendar [YYYY-MM-DD]",
		Short: "Report whether a date (default today, Beijing time) is a trading day",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*cfgPath, func(ctx context.Context, a *app) error {
				var (
					date string
					open bool
					err  error
				)
				if len(args) == 1 {
					date = args[0]
					open, err = a.calendar.Check(ctx, date)
				} else {
					date = "today"
					open, err = a.calendar.Today(ctx)
				}
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"date": date, "is_trading_day": open})
			})
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
