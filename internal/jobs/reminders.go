package jobs

import (
	"context"
	"time"

	"github.com/Zeffuro/fakegaming-bot-sub003/internal/jobqueue"
	"github.com/Zeffuro/fakegaming-bot-sub003/internal/schedule"
	"github.com/Zeffuro/fakegaming-bot-sub003/pkg/logx"
)

// ReminderSource lists reminders due at or before now, each carrying its due
// timestamp in Event.DueAt.
type ReminderSource interface {
	DueReminders(ctx context.Context, now time.Time) ([]Candidate, error)
}

// ReminderConfig unifies the retry base/cap that older call sites used to
// hardcode inconsistently.
type ReminderConfig struct {
	RetryBase time.Duration
	RetryCap  time.Duration
}

func (c ReminderConfig) withDefaults() ReminderConfig {
	if c.RetryBase <= 0 {
		c.RetryBase = schedule.RetryBase
	}
	if c.RetryCap <= 0 {
		c.RetryCap = schedule.RetryCap
	}
	return c
}

// ReminderJob ticks on minute boundaries and delivers due reminders. When a
// send fails, the retry delay scales with how far in the future the failed
// reminder's due time still is.
type ReminderJob struct {
	deps   Deps
	cfg    ReminderConfig
	source ReminderSource
}

func RegisterReminders(ctx context.Context, deps Deps, cfg ReminderConfig, source ReminderSource) *ReminderJob {
	r := &ReminderJob{deps: deps, cfg: cfg.withDefaults(), source: source}
	deps.Queue.On(JobReminders, r.run)
	deps.reschedule(ctx, JobReminders, schedule.NextMinuteDelay(deps.now()))
	return r
}

func (r *ReminderJob) run(ctx context.Context, _ jobqueue.Job) error {
	d := r.deps
	started := d.now()
	log := d.log().With(logx.String("job", JobReminders))

	var cnt counters
	var runErr string
	var retryDelay time.Duration

	cands, err := r.source.DueReminders(ctx, started)
	if err != nil {
		log.Warn("due reminder lookup failed", logx.Err(err))
		runErr = err.Error()
	}
	for _, c := range cands {
		outcome := d.announce(ctx, c)
		cnt.add(outcome)
		if outcome == OutcomeFailed {
			backoff := schedule.DueTimeBackoff(d.now(), c.Event.DueAt, r.cfg.RetryBase, r.cfg.RetryCap)
			if retryDelay == 0 || backoff < retryDelay {
				retryDelay = backoff
			}
		}
	}

	ok := runErr == "" && cnt.Failed == 0
	d.recordRun(JobReminders, started, ok, cnt.meta(), runErr)

	// Failures switch the cadence from the minute tick to the due-relative
	// backoff so a broken delivery target is not hammered every minute.
	delay := schedule.NextMinuteDelay(d.now())
	if retryDelay > 0 {
		delay = retryDelay
	}
	d.reschedule(ctx, JobReminders, delay)
	return nil
}
