package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"yomtov/internal/calendar"
	"yomtov/internal/config"
	"yomtov/internal/feed"
	appLog "yomtov/internal/log"
	"yomtov/internal/model"
	"yomtov/internal/scheduler"
	"yomtov/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
}

func main() {
	// A missing .env is fine.
	_ = godotenv.Load()
	if lvl := os.Getenv("YOMTOV_LOG_LEVEL"); lvl != "" {
		appLog.SetLevel(appLog.ParseLevel(lvl))
	}

	appLog.Info("yomtov starting", "version", "0.1.0")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// fileConf mirrors what is on disk; the watcher and API saves compare
	// against it, so CLI overrides never get written back.
	fileConf := conf.Clone()

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if conf.Calendar.URL == "" {
		appLog.Warn("no calendar url configured; the feed stays empty until one is set", "config_path", flags.configPath)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"calendar", conf.Calendar.URL != "",
		"minor_fasts", conf.Settings.MinorFasts,
		"rosh_chodesh", conf.Settings.RoshChodesh,
		"modern_holidays", conf.Settings.ModernHolidays,
		"date_display", conf.Settings.DateDisplay,
		"once", flags.once,
	)

	loc := conf.Location()
	cal := calendar.NewICS(conf.Calendar.URL, loc, calendar.NewFetcher(conf.Calendar.CacheDir))
	builder := feed.NewBuilder(cal, conf.Calendar.LabelLocale)
	svc := feed.NewService(builder, conf.Settings, conf.PageSize)

	if flags.once {
		os.Exit(runOnce(svc, loc))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	timers := scheduler.NewRealTimers(loc)
	sched := scheduler.New(svc.Rebuild, timers, scheduler.WithClock(func() time.Time {
		return time.Now().In(loc)
	}))
	svc.SetRefresher(sched)

	d := &daemon{path: flags.configPath, cfg: fileConf, svc: svc, sched: sched}

	watcher, err := config.NewWatcher(flags.configPath, fileConf, func(old, cur *config.Config) {
		d.apply(ctx, old, cur)
	})
	if err != nil {
		// Toggles can still be changed over the API.
		appLog.Error("config watcher disabled", err, "config_path", flags.configPath)
	} else {
		d.watcher = watcher
		go watcher.Run(ctx)
	}

	sched.Start(ctx)

	server := web.NewServer(conf, svc, sched, d)
	if err := web.ListenAndServe(ctx, conf.Listen, server.Handler()); err != nil {
		appLog.Error("http server failed", err, "listen", conf.Listen)
		stop()
	}

	sched.Stop()
	timers.Close()
	if watcher != nil {
		_ = watcher.Close()
	}
	appLog.Info("yomtov exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	defPath := config.DefaultPath
	if p := os.Getenv("YOMTOV_CONFIG"); p != "" {
		defPath = p
	}

	flag.StringVar(&cfg.configPath, "config", defPath, "Path to config file (env YOMTOV_CONFIG)")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Build the feed once, print it as JSON and exit")

	flag.Parse()

	return cfg
}

// runOnce builds a single feed and writes the view to stdout.
func runOnce(svc *feed.Service, loc *time.Location) int {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := svc.Rebuild(ctx, time.Now().In(loc)); err != nil {
		return 1
	}
	v := svc.Snapshot()
	out := struct {
		feed.View
		Feed []model.Observance `json:"feed"`
	}{View: v, Feed: svc.Feed()}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		appLog.Error("failed to write result", err)
		return 1
	}
	return 0
}

// daemon applies settings changes from the config file and from the API.
type daemon struct {
	path    string
	svc     *feed.Service
	sched   *scheduler.Scheduler
	watcher *config.Watcher

	mu  sync.Mutex
	cfg *config.Config
}

func (d *daemon) Settings() model.Settings {
	return d.svc.Settings()
}

// UpdateSettings persists s and applies it the same way a file edit would.
func (d *daemon) UpdateSettings(ctx context.Context, s model.Settings) error {
	d.mu.Lock()
	old := d.cfg
	next := old.Clone()
	next.Settings = s
	if err := config.Save(d.path, next); err != nil {
		d.mu.Unlock()
		return err
	}
	if d.watcher != nil {
		d.watcher.SetCurrent(next)
	}
	d.mu.Unlock()

	d.apply(ctx, old, next)
	return nil
}

func (d *daemon) apply(ctx context.Context, old, cur *config.Config) {
	d.mu.Lock()
	d.cfg = cur.Clone()
	d.mu.Unlock()

	if old.Calendar != cur.Calendar || old.Timezone != cur.Timezone || old.Listen != cur.Listen {
		appLog.Warn("some config changes only take effect after a process restart")
	}
	if d.svc.SetSettings(cur.Settings) {
		appLog.Info("feed toggles changed; restarting refresh schedule",
			"minor_fasts", cur.Settings.MinorFasts,
			"rosh_chodesh", cur.Settings.RoshChodesh,
			"modern_holidays", cur.Settings.ModernHolidays,
		)
		d.sched.Restart(ctx)
		return
	}
	if old.Settings.DateDisplay != cur.Settings.DateDisplay {
		appLog.Info("date display changed", "date_display", cur.Settings.DateDisplay)
	}
}
