package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"growcal/internal/config"
	"growcal/internal/ics"
	appLog "growcal/internal/log"
	"growcal/internal/model"
	"growcal/internal/service"
	"growcal/internal/store"
	"growcal/internal/web"
)

const version = "0.1.0"

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	list       bool
	from       string
	to         string
	importSrc  string
	exportPath string
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	appLog.Info("growcal starting", "version", version)

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	loc := conf.Location()
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", loc.String(),
		"db_path", conf.DBPath,
		"horizon_days", conf.HorizonDays,
		"export_cron", conf.Export.Cron,
		"export_path", conf.Export.Path,
		"export_mode", conf.Export.Mode,
		"export_horizon_days", conf.Export.HorizonDays,
		"max_occurrences", conf.MaxOccurrences,
		"sync_sources", len(conf.Sync.Sources),
	)

	st, err := store.New(conf.DBPath)
	if err != nil {
		appLog.Error("failed to open store", err, "db_path", conf.DBPath)
		os.Exit(1)
	}
	defer st.Close()

	cal := service.NewCalendar(st, service.Options{
		Location:          loc,
		HorizonDays:       conf.HorizonDays,
		ExportHorizonDays: conf.Export.HorizonDays,
		UpcomingLimit:     conf.UpcomingLimit,
		MaxOccurrences:    conf.MaxOccurrences,
		Name:              conf.Export.Name,
		Fetcher:           ics.NewFetcher(nil),
	})

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case flags.importSrc != "":
		err = runImport(ctx, cal, flags.importSrc)
	case flags.exportPath != "":
		job := &service.ExportJob{Calendar: cal, Path: flags.exportPath, Mode: conf.Export.Mode}
		err = job.Run(ctx)
	case flags.list:
		err = runList(ctx, cal, flags.from, flags.to)
	default:
		err = runServe(ctx, conf, cal)
	}
	if err != nil {
		appLog.Error("growcal failed", err)
		st.Close()
		os.Exit(1)
	}
	appLog.Info("growcal exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./growcal.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.list, "list", false, "Print occurrences between -from and -to and exit")
	flag.StringVar(&cfg.from, "from", "", "First date for -list (yyyy-mm-dd, default: start of this month)")
	flag.StringVar(&cfg.to, "to", "", "Last date for -list (yyyy-mm-dd, default: end of this month)")
	flag.StringVar(&cfg.importSrc, "import", "", "Import an ICS file or http(s) URL and exit")
	flag.StringVar(&cfg.exportPath, "export", "", "Write the ICS feed to this path and exit")

	flag.Parse()

	return cfg
}

// runServe serves the HTTP API and, when configured, the export and feed
// sync jobs until ctx is cancelled.
func runServe(ctx context.Context, conf *config.Config, cal *service.Calendar) error {
	sched := service.NewScheduler(cal.Location())
	if conf.Export.Cron != "" && conf.Export.Path != "" {
		job := &service.ExportJob{Calendar: cal, Path: conf.Export.Path, Mode: conf.Export.Mode}
		if _, err := sched.Schedule(conf.Export.Cron, job.Func(ctx)); err != nil {
			return err
		}
		appLog.Info("export job scheduled", "cron", conf.Export.Cron, "path", conf.Export.Path)
	}
	if len(conf.Sync.Sources) > 0 {
		job := &service.SyncJob{Calendar: cal, Sources: conf.Sync.Sources}
		interval := time.Duration(conf.Sync.RefreshMinutes) * time.Minute
		if _, err := sched.ScheduleInterval(interval, job.Func(ctx)); err != nil {
			return err
		}
		// First pass now; the interval only fires after a full period.
		go job.Func(ctx)()
		appLog.Info("feed sync scheduled", "sources", len(conf.Sync.Sources), "every", interval.String())
	}
	if n := sched.Entries(); n > 0 {
		sched.Start()
		defer sched.Stop()
		appLog.Info("scheduler started", "jobs", n)
	}
	return web.Serve(ctx, conf, cal)
}

func runImport(ctx context.Context, cal *service.Calendar, src string) error {
	var (
		added, replaced int
		err             error
	)
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		added, replaced, err = cal.ImportURL(ctx, src)
	} else {
		var body []byte
		body, err = os.ReadFile(src)
		if err == nil {
			added, replaced, err = cal.ImportICS(ctx, body)
		}
	}
	if err != nil {
		return err
	}
	fmt.Printf("imported %d new, %d replaced\n", added, replaced)
	return nil
}

func runList(ctx context.Context, cal *service.Calendar, fromStr, toStr string) error {
	today := cal.Today()
	from, err := parseDateFlag(fromStr, model.StartOfMonth(today))
	if err != nil {
		return fmt.Errorf("-from: %w", err)
	}
	to, err := parseDateFlag(toStr, model.EndOfMonth(today))
	if err != nil {
		return fmt.Errorf("-to: %w", err)
	}
	res, err := cal.Occurrences(ctx, from, to)
	if err != nil {
		return err
	}
	for _, o := range res.Occurrences {
		clock := o.Time
		if clock == "" {
			clock = "--:--"
		}
		fmt.Printf("%s %s %-10s %s\n", model.DateKey(o.Date), clock, o.Type, o.Title)
	}
	if len(res.TruncatedEvents) > 0 {
		fmt.Printf("truncated at cap: %s\n", strings.Join(res.TruncatedEvents, ", "))
	}
	return nil
}

func parseDateFlag(s string, def time.Time) (time.Time, error) {
	if s == "" {
		return def, nil
	}
	return model.ParseDateKey(s)
}
