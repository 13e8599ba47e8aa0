package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"calnote/internal/caldav"
	"calnote/internal/category"
	"calnote/internal/config"
	"calnote/internal/ics"
	appLog "calnote/internal/log"
	"calnote/internal/model"
	"calnote/internal/note"
	"calnote/internal/rest"
	"calnote/internal/stats"
	syncer "calnote/internal/sync"
	"calnote/internal/tokenstore"
)

type flagConfig struct {
	configPath string
	once       bool
	from       string
	days       int
	source     string
	authURL    bool
	authCode   string
	stats      bool
	week       bool
	debug      bool
}

func main() {
	appLog.Info("calnote starting", "version", "0.1.0-dev")

	flags := parseFlags()
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.source != "" {
		conf.Source = flags.source
		conf.Normalize()
	}
	if flags.days > 0 {
		conf.HorizonDays = flags.days
	}

	appLog.Info("effective config",
		"source", conf.Source,
		"notes_dir", conf.NotesDir,
		"horizon_days", conf.HorizonDays,
		"sync_cron", conf.SyncCron,
		"once", flags.once,
	)

	if flags.stats || flags.week {
		printStats(conf, flags)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	classifier := category.New(conf.Keywords, conf.Policy.DefaultEventCategory, conf.Policy.DefaultTaskCategory)
	policy := ics.Policy{
		AllDayStartHour: conf.Policy.AllDayStartHour,
		DefaultDuration: time.Duration(conf.Policy.DefaultDurationMinutes) * time.Minute,
	}

	var source syncer.Source
	switch conf.Source {
	case "rest":
		client := rest.New(rest.Options{
			BaseURL:      conf.REST.BaseURL,
			ClientID:     conf.REST.ClientID,
			ClientSecret: conf.REST.ClientSecret,
			RedirectURL:  conf.REST.RedirectURL,
			AuthURL:      conf.REST.AuthURL,
			TokenURL:     conf.REST.TokenURL,
			Policy:       policy,
			Classify:     classifier.ClassifyEvent,
			Store:        tokenstore.New(conf.REST.TokenPath),
		})
		if flags.authURL {
			fmt.Println(client.AuthCodeURL("calnote"))
			return
		}
		if flags.authCode != "" {
			if err := client.Authorize(ctx, flags.authCode); err != nil {
				appLog.Error("authorization failed", err)
				os.Exit(1)
			}
			appLog.Info("authorization complete")
			return
		}
		source = client
	default:
		dec := &ics.Decoder{Policy: policy, Classify: classifier.ClassifyEvent}
		source = caldav.New(conf.CalDAV.ServerURL, conf.CalDAV.Username, conf.CalDAV.Password, dec)
	}

	notes := note.NewStore(&note.FSVault{Root: conf.NotesDir}, conf.NotePathTemplate)
	engine := syncer.NewEngine(source, notes)

	qStart := startOfToday()
	if flags.from != "" {
		qStart, err = time.ParseInLocation("2006-01-02", flags.from, time.Local)
		if err != nil {
			appLog.Error("invalid -from date", err, "from", flags.from)
			os.Exit(1)
		}
	}

	runSync := func() {
		end := qStart.AddDate(0, 0, conf.HorizonDays)
		res, err := engine.Sync(ctx, qStart, end)
		switch {
		case errors.Is(err, syncer.ErrSyncInProgress):
			appLog.Info("sync already running, trigger skipped")
		case err != nil:
			appLog.Error("sync failed", err)
		default:
			appLog.Info("sync ok", "events", res.Events, "days", res.Days)
		}
	}

	if flags.once || conf.SyncCron == "" {
		end := qStart.AddDate(0, 0, conf.HorizonDays)
		res, err := engine.Sync(ctx, qStart, end)
		if err != nil {
			appLog.Error("sync failed", err)
			os.Exit(1)
		}
		appLog.Info("sync ok", "events", res.Events, "days", res.Days)
		return
	}

	sched := cron.New()
	if _, err := sched.AddFunc(conf.SyncCron, runSync); err != nil {
		appLog.Error("invalid sync_cron expression", err, "sync_cron", conf.SyncCron)
		os.Exit(1)
	}
	sched.Start()
	runSync()

	<-ctx.Done()
	stop := sched.Stop()
	<-stop.Done()
	appLog.Info("calnote exiting")
}

// printStats reads the notes back and prints day or week aggregates.
// Stats are always recomputed from the documents, so no sync is needed
// first.
func printStats(conf *config.Config, flags flagConfig) {
	date := startOfToday()
	if flags.from != "" {
		parsed, err := time.ParseInLocation("2006-01-02", flags.from, time.Local)
		if err != nil {
			appLog.Error("invalid -from date", err, "from", flags.from)
			os.Exit(1)
		}
		date = parsed
	}

	notes := note.NewStore(&note.FSVault{Root: conf.NotesDir}, conf.NotePathTemplate)
	agg := stats.New(notes)

	if flags.week {
		week, err := agg.Week(date)
		if err != nil {
			appLog.Error("week stats failed", err, "week_start", date.Format("2006-01-02"))
			os.Exit(1)
		}
		fmt.Printf("week of %s: %d min total, %d/%d pomodoros done\n",
			week.WeekStart.Format("2006-01-02"), week.TotalMinutes,
			week.CompletedUnits, week.PlannedUnits)
		for _, day := range week.Days {
			fmt.Printf("  %s: %d min, %d/%d pomodoros\n",
				day.Date.Format("2006-01-02"), day.TotalMinutes,
				day.CompletedUnits, day.PlannedUnits)
		}
		return
	}

	day, err := agg.Day(date)
	if err != nil {
		appLog.Error("day stats failed", err, "date", date.Format("2006-01-02"))
		os.Exit(1)
	}
	fmt.Printf("%s: %d min total, %d/%d pomodoros done\n",
		day.Date.Format("2006-01-02"), day.TotalMinutes, day.CompletedUnits, day.PlannedUnits)
	for _, cat := range model.AllCategories {
		if m := day.MinutesByCat[cat]; m > 0 {
			fmt.Printf("  %s: %d min\n", cat, m)
		}
	}
}

func startOfToday() time.Time {
	now := time.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./calnote.yaml", "Path to config file")
	flag.BoolVar(&cfg.once, "once", false, "Run one sync pass and exit")
	flag.StringVar(&cfg.from, "from", "", "Window start date (YYYY-MM-DD, default today)")
	flag.IntVar(&cfg.days, "days", 0, "Window length in days (overrides config if set)")
	flag.StringVar(&cfg.source, "source", "", "Remote source: caldav or rest (overrides config if set)")
	flag.BoolVar(&cfg.authURL, "auth-url", false, "Print the OAuth authorization URL and exit (rest source)")
	flag.StringVar(&cfg.authCode, "auth-code", "", "Exchange an OAuth authorization code and exit (rest source)")
	flag.BoolVar(&cfg.stats, "stats", false, "Print day aggregates for -from (default today) and exit")
	flag.BoolVar(&cfg.week, "week", false, "Print week aggregates starting at -from (default today) and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
