// Package app assembles the delivery engine: config, logging, storage, the
// job queue, the Telegram transport, the per-provider jobs, run history and
// the ops surface.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Zeffuro/fakegaming-bot-sub003/internal/config"
	"github.com/Zeffuro/fakegaming-bot-sub003/internal/jobqueue"
	"github.com/Zeffuro/fakegaming-bot-sub003/internal/jobs"
	"github.com/Zeffuro/fakegaming-bot-sub003/internal/ops"
	"github.com/Zeffuro/fakegaming-bot-sub003/internal/providers"
	"github.com/Zeffuro/fakegaming-bot-sub003/internal/runlog"
	"github.com/Zeffuro/fakegaming-bot-sub003/internal/storage"
	"github.com/Zeffuro/fakegaming-bot-sub003/internal/transport"
	"github.com/Zeffuro/fakegaming-bot-sub003/internal/transport/telegram"
	"github.com/Zeffuro/fakegaming-bot-sub003/pkg/logx"
)

// Sources holds the candidate producers the host process injects. Fields may
// stay nil; the matching jobs then refuse to start even when enabled.
type Sources struct {
	Birthdays    jobs.BirthdaySource
	Reminders    jobs.ReminderSource
	TokenRefresh jobs.TokenRefresher
}

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	store     storage.Store
	queue     jobqueue.Queue
	messenger transport.Messenger
	recorder  *runlog.Recorder
	registry  *providers.Registry
	opsSrv    *ops.Server
	cronSrv   *cron.Cron

	sources Sources

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewApp builds the whole dependency graph from the config file. Nothing is
// running yet; Start arms the jobs and background loops.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath, logx.NewConsole("info"))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	busy, err := config.Duration("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	poll, err := config.Duration("queue.redis.poll_interval", cfg.Queue.Redis.PollInterval, 0)
	if err != nil {
		return nil, err
	}
	queue, err := jobqueue.Open(jobqueue.Config{
		Driver: cfg.Queue.Driver,
		Redis: jobqueue.RedisConfig{
			Addr:         cfg.Queue.Redis.Addr,
			DB:           cfg.Queue.Redis.DB,
			KeyPrefix:    cfg.Queue.Redis.KeyPrefix,
			PollInterval: poll,
		},
	}, log.With(logx.String("comp", "queue")))
	if err != nil {
		return nil, fmt.Errorf("open job queue: %w", err)
	}

	sender, err := telegram.New(telegram.Config{
		Token:      cfg.Telegram.Token,
		RatePerSec: cfg.Telegram.RatePerSec,
		RetryMax:   cfg.Telegram.RetryMax,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	var sink runlog.Persister
	if store != nil {
		sink = store
	}
	recorder := runlog.New(sink, log.With(logx.String("comp", "runlog")))

	return &App{
		cfgm:      cfgm,
		logs:      logs,
		log:       log,
		store:     store,
		queue:     queue,
		messenger: sender,
		recorder:  recorder,
		registry:  providers.NewRegistry(),
		opsSrv:    ops.NewServer(recorder, store, log),
	}, nil
}

// RegisterFetchers adds provider fetchers before Start. Poll jobs only arm
// for providers with a registered fetcher.
func (a *App) RegisterFetchers(fetchers ...providers.Fetcher) {
	a.registry = providers.NewRegistry(append(a.registry.All(), fetchers...)...)
}

// SetSources injects the birthday, reminder and token-refresh producers.
func (a *App) SetSources(s Sources) { a.sources = s }

// Start arms everything: queue dispatch, enabled jobs, housekeeping, the ops
// listener, config watch and hot reload.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.queue.Start(runCtx); err != nil {
		return fmt.Errorf("start job queue: %w", err)
	}

	cfg := a.cfgm.Get()
	if err := a.registerJobs(runCtx, cfg); err != nil {
		return err
	}

	if err := a.opsSrv.Start(ops.Config{Enabled: cfg.Ops.Enabled, Addr: cfg.Ops.Addr}); err != nil {
		// The ops surface is a convenience, not a dependency.
		a.log.Warn("ops server failed to start", logx.Err(err))
	}

	a.startHousekeeping(cfg)

	sub := a.cfgm.Subscribe(8)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(runCtx, sub)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cfgm.Watch(runCtx)
	}()

	a.log.Info("app started")
	return nil
}

func (a *App) registerJobs(ctx context.Context, cfg *config.Config) error {
	// With storage disabled there is no dedup store or subscription list to
	// read, and a handler panic on the nil interface would end the job's
	// re-schedule chain after one tick. Refuse to arm instead. Token refresh
	// never reads the store and stays allowed.
	if a.store == nil {
		var blocked []string
		for _, j := range []struct {
			name    string
			enabled bool
		}{
			{jobs.JobTwitch, cfg.Jobs.Twitch.Enabled},
			{jobs.JobYouTube, cfg.Jobs.YouTube.Enabled},
			{jobs.JobTikTok, cfg.Jobs.TikTok.Enabled},
			{jobs.JobPatchNotes, cfg.Jobs.PatchNotes.Enabled},
			{jobs.JobBirthdays, cfg.Jobs.Birthdays.Enabled},
			{jobs.JobReminders, cfg.Jobs.Reminders.Enabled},
		} {
			if j.enabled {
				blocked = append(blocked, j.name)
			}
		}
		if len(blocked) > 0 {
			return fmt.Errorf("storage is disabled but %s require the dedup store; enable storage or disable the jobs", strings.Join(blocked, ", "))
		}
	}

	deps := jobs.Deps{
		Queue:     a.queue,
		Store:     a.store,
		Messenger: a.messenger,
		Recorder:  a.recorder,
		Log:       a.log.With(logx.String("comp", "jobs")),
	}

	pollJobs := []struct {
		name     string
		provider string
		cfg      config.PollJobConfig
	}{
		{jobs.JobTwitch, providers.Twitch, cfg.Jobs.Twitch},
		{jobs.JobYouTube, providers.YouTube, cfg.Jobs.YouTube},
		{jobs.JobTikTok, providers.TikTok, cfg.Jobs.TikTok},
		{jobs.JobPatchNotes, providers.PatchNotes, cfg.Jobs.PatchNotes},
	}
	for _, pj := range pollJobs {
		if !pj.cfg.Enabled {
			continue
		}
		fetcher := a.registry.Get(pj.provider)
		if fetcher == nil {
			a.log.Warn("job enabled but no fetcher registered",
				logx.String("job", pj.name), logx.String("provider", pj.provider))
			continue
		}
		interval, err := config.Duration(pj.name+".interval", pj.cfg.Interval, 0)
		if err != nil {
			return err
		}
		jitter, err := config.Duration(pj.name+".jitter", pj.cfg.Jitter, 0)
		if err != nil {
			return err
		}
		jobs.RegisterPoll(ctx, deps, jobs.PollConfig{
			Name:     pj.name,
			Provider: pj.provider,
			Interval: interval,
			Jitter:   jitter,
		}, fetcher)
		a.log.Info("job armed", logx.String("job", pj.name))
	}

	if cfg.Jobs.Birthdays.Enabled {
		if a.sources.Birthdays == nil {
			a.log.Warn("job enabled but no source injected", logx.String("job", jobs.JobBirthdays))
		} else {
			jobs.RegisterBirthdays(ctx, deps, a.sources.Birthdays)
			a.log.Info("job armed", logx.String("job", jobs.JobBirthdays))
		}
	}

	if cfg.Jobs.Reminders.Enabled {
		if a.sources.Reminders == nil {
			a.log.Warn("job enabled but no source injected", logx.String("job", jobs.JobReminders))
		} else {
			base, err := config.Duration("jobs.reminders.retry_base", cfg.Jobs.Reminders.RetryBase, 0)
			if err != nil {
				return err
			}
			ceil, err := config.Duration("jobs.reminders.retry_cap", cfg.Jobs.Reminders.RetryCap, 0)
			if err != nil {
				return err
			}
			jobs.RegisterReminders(ctx, deps, jobs.ReminderConfig{RetryBase: base, RetryCap: ceil}, a.sources.Reminders)
			a.log.Info("job armed", logx.String("job", jobs.JobReminders))
		}
	}

	if cfg.Jobs.TokenRefresh.Enabled {
		if a.sources.TokenRefresh == nil {
			a.log.Warn("job enabled but no refresher injected", logx.String("job", jobs.JobTokenRefresh))
		} else {
			jobs.RegisterTokenRefresh(ctx, deps, jobs.JobTokenRefresh, a.sources.TokenRefresh)
			a.log.Info("job armed", logx.String("job", jobs.JobTokenRefresh))
		}
	}

	return nil
}

// startHousekeeping schedules the nightly job-run prune when retention and
// persistence are both configured.
func (a *App) startHousekeeping(cfg *config.Config) {
	days := cfg.Maintenance.JobRunRetentionDays
	if days <= 0 || a.store == nil {
		return
	}
	spec := cfg.Maintenance.Cron
	if spec == "" {
		spec = "0 4 * * *"
	}

	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		cutoff := time.Now().AddDate(0, 0, -days)
		n, err := a.store.DeleteJobRunsBefore(ctx, cutoff)
		if err != nil {
			a.log.Warn("job run prune failed", logx.Err(err))
			return
		}
		if n > 0 {
			a.log.Info("job runs pruned", logx.Int64("deleted", n), logx.Time("cutoff", cutoff))
		}
	})
	if err != nil {
		a.log.Warn("invalid maintenance cron, prune disabled",
			logx.String("spec", spec), logx.Err(err))
		return
	}
	c.Start()
	a.cronSrv = c
	a.log.Info("housekeeping armed", logx.String("cron", spec), logx.Int("retention_days", days))
}

// reloadLoop applies hot-reloaded config. Only logging settings and the ops
// listener follow a reload; job cadence and queue/storage drivers need a
// restart, which the log line calls out.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts so only the newest snapshot is applied.
			for {
				select {
				case newer, ok := <-sub:
					if !ok {
						return
					}
					cfg = newer
				default:
					goto apply
				}
			}
		apply:
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.ConsoleEnabled(),
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})

			// Start reconciles enable/disable and address moves on its own.
			if err := a.opsSrv.Start(ops.Config{Enabled: cfg.Ops.Enabled, Addr: cfg.Ops.Addr}); err != nil {
				a.log.Warn("ops server failed to start", logx.Err(err))
			}

			a.log.Info("config reloaded; job, queue and storage settings apply on restart")
		}
	}
}

// Stop unwinds in reverse dependency order. Each step gets a bounded slice
// of the caller's deadline so one component cannot stall the whole stop.
func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}

	step := func(name string, max time.Duration, fn func(context.Context)) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		done := make(chan struct{})
		go func() {
			defer close(done)
			fn(stepCtx)
		}()
		select {
		case <-done:
		case <-stepCtx.Done():
			a.log.Warn("stop step timed out", logx.String("step", name))
		}
	}

	if a.cronSrv != nil {
		step("cron", 5*time.Second, func(context.Context) {
			<-a.cronSrv.Stop().Done()
		})
	}
	step("ops", 3*time.Second, func(c context.Context) { a.opsSrv.Stop(c) })
	step("queue", 5*time.Second, func(c context.Context) { _ = a.queue.Stop(c) })
	step("runlog", 5*time.Second, func(context.Context) { a.recorder.Close() })

	a.wg.Wait()

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close error", logx.Err(err))
		}
	}
	a.log.Info("app stopped")
	return a.logs.Close()
}
