package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"signage/internal/backend"
	"signage/internal/capture"
	"signage/internal/config"
	"signage/internal/device"
	"signage/internal/display"
	"signage/internal/ics"
	appLog "signage/internal/log"
	"signage/internal/media"
	"signage/internal/store"
	"signage/internal/web"
)

const (
	version        = "0.1.0"
	powerCacheTTL  = 30 * time.Second
	shutdownBudget = 5 * time.Second
)

type flagConfig struct {
	configPath string
	listen     string
	location   int
	debug      bool
}

func main() {
	flags := parseFlags()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		appLog.Warn("could not load .env", "err", err)
	}

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	cfg.ApplyEnv()
	if flags.listen != "" {
		cfg.Listen = flags.listen
	}

	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}

	if err := run(cfg, flags); err != nil {
		appLog.Error("signage stopped with error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, flags flagConfig) error {
	appLog.Info("signage starting", "version", version)

	tz, err := cfg.DisplayLocation()
	if err != nil {
		appLog.Warn("invalid timezone, using local time", "timezone", cfg.Timezone, "err", err)
	}

	appLog.Info("effective config",
		"listen", cfg.Listen,
		"api_base_url", cfg.APIBaseURL,
		"timezone", tz.String(),
		"poll_interval", cfg.PollInterval.Std(),
		"on_poll_error", cfg.OnPollError,
		"calendars", len(cfg.Calendars),
		"state_path", cfg.StatePath,
		"capture", cfg.Capture.Cron != "",
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var st display.Store
	if cfg.StatePath != "" {
		s, err := store.Open(cfg.StatePath)
		if err != nil {
			return err
		}
		defer s.Close()
		st = s
	}

	sched := cron.New(
		cron.WithLocation(tz),
		cron.WithLogger(appLog.CronLogger{}),
		cron.WithChain(cron.SkipIfStillRunning(appLog.CronLogger{})),
	)

	client := backend.NewClient(cfg.APIBaseURL, cfg.RequestTimeout.Std(), tz)
	events := web.NewBroadcaster()

	var overlay display.Overlay
	var calendars *ics.Overlay
	if len(cfg.Calendars) > 0 {
		calendars = ics.NewOverlay(
			ics.NewFetcher(cfg.CalendarCache, cfg.RequestTimeout.Std()),
			ics.FeedsFromConfig(cfg.Calendars),
			tz,
		)
		overlay = calendars
	}

	opts := display.OptionsFromConfig(cfg, tz)
	opts.Cron = sched
	ctrl := display.New(client, media.NewClassifier(client), st, overlay, events, opts)

	if calendars != nil {
		refresh := func() {
			_ = calendars.Refresh(ctx)
			ctrl.Refresh()
		}
		if _, err := sched.AddFunc(cfg.CalendarRefresh, refresh); err != nil {
			return err
		}
		go refresh()
	}

	if cfg.Capture.Cron != "" {
		shot := capture.Options{
			URL:    pageURL(cfg),
			Output: cfg.Capture.Output,
			Width:  cfg.Capture.Width,
			Height: cfg.Capture.Height,
		}
		_, err := sched.AddFunc(cfg.Capture.Cron, func() {
			if err := capture.PNG(ctx, shot); err != nil {
				appLog.Error("preview capture failed", err)
			}
		})
		if err != nil {
			return err
		}
	}

	power := device.NewCachedReader(device.FromConfig(cfg.Device), powerCacheTTL)
	server, err := web.NewServer(cfg, ctrl, events, power, flags.debug)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sched.Start()
	go ctrl.Start(ctx, flags.location)

	select {
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	case err := <-serveErr:
		if err != nil {
			ctrl.Stop()
			sched.Stop()
			return err
		}
	}

	ctrl.Stop()
	cronDone := sched.Stop()
	// Streams hold their connections open; close them so Shutdown can finish.
	events.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownBudget)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP shutdown failed", err)
	}
	select {
	case <-cronDone.Done():
	case <-shutdownCtx.Done():
		appLog.Warn("scheduled jobs still running at exit")
	}

	appLog.Info("signage exiting")
	return nil
}

// pageURL is the address the preview capture loads the page from.
func pageURL(cfg *config.Config) string {
	host, port, err := net.SplitHostPort(cfg.Listen)
	if err != nil {
		host, port = "", "8080"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	u := url.URL{Scheme: "http", Host: net.JoinHostPort(host, port), Path: "/"}
	if cfg.BasicAuth != nil && cfg.BasicAuth.Username != "" {
		u.User = url.UserPassword(cfg.BasicAuth.Username, cfg.BasicAuth.Password)
	}
	return u.String()
}

func parseFlags() flagConfig {
	var fc flagConfig

	flag.StringVar(&fc.configPath, "config", "/etc/signage/config.yaml", "Path to config file")
	flag.StringVar(&fc.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.IntVar(&fc.location, "location", 0, "Location id to show (overrides the stored selection)")
	flag.BoolVar(&fc.debug, "debug", false, "Enable debug logging")

	flag.Parse()
	return fc
}
