package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/alecthomas/kong"

	"github.com/nowail/bookwatch/internal/alerting"
	"github.com/nowail/bookwatch/internal/config"
	"github.com/nowail/bookwatch/internal/crawler"
	"github.com/nowail/bookwatch/internal/fetcher"
	"github.com/nowail/bookwatch/internal/httpstatus"
	"github.com/nowail/bookwatch/internal/logging"
	"github.com/nowail/bookwatch/internal/metrics"
	"github.com/nowail/bookwatch/internal/model"
	"github.com/nowail/bookwatch/internal/reconciler"
	"github.com/nowail/bookwatch/internal/reporter"
	"github.com/nowail/bookwatch/internal/scheduler"
	"github.com/nowail/bookwatch/internal/store"
)

// cli is the process's command-line surface, mirroring the teacher
// binary's subcommand-with-embedded-config shape (its server/bust
// commands each embedding pgconfig/logconfig).
type cli struct {
	Run   runCmd   `cmd:"" default:"1" help:"Run the scheduler daemon (reconcile/report/cleanup jobs on a cadence)."`
	Once  onceCmd  `cmd:"" help:"Run reconcile and, if enabled, report generation once, then exit."`
	Crawl crawlCmd `cmd:"" help:"Run a resumable full-catalog crawl, then exit."`
}

type runCmd struct {
	config.Config
}

func (c *runCmd) Run() error { return runDaemon(c.Config, false) }

type onceCmd struct {
	config.Config
}

func (c *onceCmd) Run() error { return runDaemon(c.Config, true) }

type crawlCmd struct {
	config.Config
	Resume bool `help:"Resume from the checkpoint file if one exists." default:"true"`
}

func (c *crawlCmd) Run() error { return runCrawl(c.Config, c.Resume && c.Crawl.ResumeOnFailure) }

func main() {
	kctx := kong.Parse(&cli{})
	if err := kctx.Run(); err != nil {
		logging.FromContext(context.Background()).Error("fatal", "err", err)
		os.Exit(1)
	}
}

func init() {
	// Limit our memory to 90% of what's free. This affects cache sizes.
	_, err := memlimit.SetGoMemLimitWithOpts(
		memlimit.WithRatio(0.9),
		memlimit.WithLogger(slog.Default()),
		memlimit.WithProvider(
			memlimit.ApplyFallback(
				memlimit.FromCgroup,
				memlimit.FromSystem,
			),
		),
	)
	if err != nil {
		panic(err)
	}
}

// app bundles every wired component a run needs.
type app struct {
	store      *store.PostgresStore
	fetcher    *fetcher.Fetcher
	reconciler *reconciler.Reconciler
	crawler    *crawler.Crawler
	reporter   *reporter.Reporter
	alerting   *alerting.Manager
	metrics    *metrics.Collector
	status     *httpstatus.Server
}

// build wires every component from cfg, grounded on the teacher's
// server.Run: connect the store, build the rate-limited upstream client,
// then layer the engine's components on top.
func build(ctx context.Context, cfg config.Config) (*app, error) {
	s, err := store.Open(ctx, cfg.DB.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	m := metrics.New()
	m.RegisterDBPool(s.Pool())
	s.SetMetrics(m)

	u, err := url.Parse(cfg.Fetch.BaseURL)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	client := fetcher.NewUpstreamClient(u.Host, cfg.Fetch.RateLimitPerSecond, "bookwatch/1.0")
	client.Timeout = cfg.Fetch.RequestTimeout

	f := fetcher.New(client, cfg.Fetch.BaseURL, cfg.Fetch.RetryAttempts, cfg.Fetch.RetryDelay)
	f.SetMetrics(m)

	rec := reconciler.New(s, f, reconciler.Config{
		ExpectedCatalogSize:      cfg.Reconcile.ExpectedCatalogSize,
		MaxRestorePages:          cfg.Reconcile.MaxRestorePages,
		MaxDiscoveryPages:        cfg.Reconcile.MaxDiscoveryPages,
		MaxConsecutivePageErrors: cfg.Reconcile.MaxConsecutivePageErrors,
		BatchSize:                cfg.Reconcile.BatchSize,
		MaxConcurrentBooks:       cfg.Reconcile.MaxConcurrentBooks,
	})
	rec.SetMetrics(m)

	cr := crawler.New(f, s, crawler.Config{
		StateFile:               cfg.Crawl.StateFile,
		CheckpointInterval:      cfg.Crawl.CheckpointInterval,
		MaxConsecutiveErrors:    cfg.Crawl.MaxConsecutiveErrors,
		ConnectionErrorCooldown: cfg.Crawl.ConnectionErrorCooldown,
	})

	rep := reporter.New(s, reporter.Config{
		ReportsDir:    cfg.Report.ReportsDir,
		Format:        cfg.Report.ReportFormat,
		RetentionDays: cfg.Report.ReportRetentionDays,
	})

	am := alerting.New(alerting.Config{
		Enabled:           cfg.Alert.Enabled,
		MinSeverityForLog: model.Severity(cfg.Alert.MinSeverityForLog),
		MaxAlertsPerHour:  cfg.Alert.MaxAlertsPerHour,
		CooldownMinutes:   cfg.Alert.CooldownMinutes,
	})

	return &app{
		store:      s,
		fetcher:    f,
		reconciler: rec,
		crawler:    cr,
		reporter:   rep,
		alerting:   am,
		metrics:    m,
		status:     httpstatus.New(s, m),
	}, nil
}

// runDaemon wires the app and runs it either once (reconcile + report, for
// the `once` subcommand) or on the Scheduler's daemon cadence.
func runDaemon(cfg config.Config, once bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.Setup(cfg.Log.Level, cfg.Log.Debug)
	ctx = logging.WithContext(ctx, logger)

	a, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.store.Close()

	go func() {
		if err := a.status.ListenAndServe(ctx, cfg.StatusAddr); err != nil {
			logger.Error("status server stopped", "err", err)
		}
	}()

	sched := scheduler.New(scheduler.Jobs{
		Reconcile:                 a.reconcileJob(),
		GenerateDailyReport:       a.reportJob(cfg.Sched.GenerateDailyReports),
		CleanupOldReports:         a.cleanupReportsJob(),
		CleanupOrphanFingerprints: a.reconciler.CleanupOrphanFingerprints,
	}, scheduler.Config{
		Hour:     cfg.Sched.ScheduleHour,
		Minute:   cfg.Sched.ScheduleMinute,
		TestMode: cfg.Test,
	})

	if once {
		return sched.RunOnce(ctx)
	}
	if !cfg.Sched.EnableChangeDetection {
		logger.Info("change detection disabled; idling until shutdown")
		<-ctx.Done()
		return nil
	}
	return sched.Run(ctx)
}

// reconcileJob wraps Reconciler.Reconcile with post-run alerting, grounded
// on the original scheduler's reconcile-then-alert job ordering.
func (a *app) reconcileJob() func(ctx context.Context) error {
	return func(ctx context.Context) error {
		run, err := a.reconciler.Reconcile(ctx)
		if err != nil {
			return err
		}
		if run.ChangesDetected == 0 {
			return nil
		}
		changes, cerr := a.store.ChangeRecordsForDate(ctx, run.StartTime)
		if cerr != nil {
			return nil //nolint:nilerr // alerting is best-effort; a lookup failure shouldn't fail the reconcile job
		}
		a.alerting.ProcessChanges(ctx, changes)
		return nil
	}
}

func (a *app) reportJob(enabled bool) func(ctx context.Context) error {
	if !enabled {
		return nil
	}
	return func(ctx context.Context) error {
		report, err := a.reporter.Generate(ctx, time.Now())
		if err != nil {
			return err
		}
		a.alerting.SendDailySummary(ctx, report)
		return nil
	}
}

func (a *app) cleanupReportsJob() func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := a.reporter.CleanupOldReports(ctx)
		return err
	}
}

// runCrawl runs a one-off full-catalog crawl and exits.
func runCrawl(cfg config.Config, resume bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.Setup(cfg.Log.Level, cfg.Log.Debug)
	ctx = logging.WithContext(ctx, logger)

	a, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.store.Close()

	result := a.crawler.CrawlAll(ctx, resume)
	logger.Info("crawl finished",
		"success", result.Success,
		"books_crawled", result.BooksCrawled,
		"errors", len(result.Errors),
		"duration", result.DurationSecs,
	)
	if !result.Success {
		return fmt.Errorf("crawl did not complete successfully (%d errors)", len(result.Errors))
	}
	return nil
}
