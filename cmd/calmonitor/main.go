package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"calmonitor/internal/auth"
	"calmonitor/internal/compliance"
	"calmonitor/internal/config"
	"calmonitor/internal/gcal"
	"calmonitor/internal/ics"
	appLog "calmonitor/internal/log"
	"calmonitor/internal/model"
	"calmonitor/internal/roster"
	"calmonitor/internal/scheduler"
	"calmonitor/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	date       string
	report     int
	out        string
	debug      bool
}

// backend is the provider-specific wiring: how to connect, which session
// to connect with, and the consent flow if there is one.
type backend struct {
	connector compliance.Connector
	session   auth.Session
	oauth     web.OAuthFlow
}

func main() {
	flags := parseFlags()
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}
	appLog.Info("calmonitor starting", "version", "0.1.0")

	if err := run(flags); err != nil {
		appLog.Error("calmonitor failed", err)
		os.Exit(1)
	}
	appLog.Info("calmonitor exiting")
}

func run(flags flagConfig) error {
	conf, err := config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := conf.ApplyEnv(os.Getenv); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"provider", conf.Provider,
		"policy", conf.Policy,
		"threshold", conf.Threshold,
		"secondary_threshold", conf.SecondaryThreshold,
		"report_days", conf.ReportDays,
		"schedule", conf.Schedule,
		"roster", conf.RosterPath,
	)

	if err := checkOneShot(conf.Provider, flags); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	team, err := roster.Open(conf.RosterPath)
	if err != nil {
		return fmt.Errorf("roster: %w", err)
	}

	be, err := newBackend(conf)
	if err != nil {
		return err
	}

	checker, err := compliance.NewChecker(be.connector, team, conf.Settings(),
		compliance.WithFetchPolicy(compliance.NewFetchPolicy(conf.FetchInterval)),
	)
	if err != nil {
		return err
	}

	switch {
	case flags.once:
		return runOnce(ctx, checker, be.session, flags.date, os.Stdout)
	case flags.report >= 0:
		return runReport(ctx, checker, be.session, flags.report, flags.out)
	}

	go func() {
		if err := team.Watch(ctx, nil); err != nil && !errors.Is(err, context.Canceled) {
			appLog.Error("roster watch stopped", err, "path", team.Path())
		}
	}()

	var nextCheck func() time.Time
	if conf.Schedule != "" {
		daily, err := scheduler.NewDaily(checker, be.session, conf.Schedule, conf.Location(), 0)
		if err != nil {
			return err
		}
		daily.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			daily.Stop(stopCtx)
		}()
		nextCheck = daily.Next
	} else {
		appLog.Info("scheduler disabled")
	}

	srv := web.NewServer(web.Options{
		Runner:     checker,
		Session:    be.session,
		Roster:     team,
		OAuth:      be.oauth,
		ReportDays: conf.ReportDays,
		NextCheck:  nextCheck,
	})
	return srv.Serve(ctx, conf.Listen)
}

// errOneShotNeedsICS rejects -once and -report for the google provider:
// its token only arrives through the web OAuth callback, which these modes
// never serve.
var errOneShotNeedsICS = errors.New("-once and -report need provider \"ics\"; the google provider is authorized through the web OAuth flow")

func checkOneShot(provider string, flags flagConfig) error {
	if (flags.once || flags.report >= 0) && provider == config.ProviderGoogle {
		return errOneShotNeedsICS
	}
	return nil
}

func newBackend(conf *config.Config) (backend, error) {
	switch conf.Provider {
	case config.ProviderICS:
		return backend{
			connector: ics.NewConnector(nil, conf.ICS.CacheDir, conf.ICS.Feeds, conf.Location()),
			session:   auth.Anonymous{},
		}, nil
	case config.ProviderGoogle:
		store := auth.NewTokenStore(auth.GoogleConfig(
			conf.Google.ClientID(),
			conf.Google.ClientSecret(),
			conf.Google.RedirectURL,
		))
		return backend{
			connector: &gcal.Connector{},
			session:   store,
			oauth:     store,
		}, nil
	default:
		return backend{}, fmt.Errorf("unknown provider %q", conf.Provider)
	}
}

// runOnce checks one day and prints the snapshot as JSON. date is
// YYYY-MM-DD; empty means today.
func runOnce(ctx context.Context, checker *compliance.Checker, sess auth.Session, date string, w io.Writer) error {
	d := checker.Today()
	if date != "" {
		parsed, err := model.ParseDate(date)
		if err != nil {
			return err
		}
		d = parsed
	}

	res, err := checker.CheckDay(ctx, sess, d)
	if res != nil {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(res); encErr != nil {
			return encErr
		}
	}
	return err
}

// runReport writes the days-long CSV to out, or stdout when out is empty.
func runReport(ctx context.Context, checker *compliance.Checker, sess auth.Session, days int, out string) error {
	m, err := checker.BuildReport(ctx, sess, days)
	if err != nil {
		return err
	}
	if out == "" {
		return m.WriteCSV(os.Stdout)
	}

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := m.WriteCSV(f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	appLog.Info("report written", "path", out, "days", days)
	return nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/calmonitor/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one compliance check, print it as JSON and exit (ics provider only)")
	flag.StringVar(&cfg.date, "date", "", "Date for -once as YYYY-MM-DD (default today)")
	flag.IntVar(&cfg.report, "report", -1, "Write an N working day CSV report and exit (ics provider only)")
	flag.StringVar(&cfg.out, "out", "", "Output file for -report (default stdout)")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
