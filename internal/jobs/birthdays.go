package jobs

import (
	"context"
	"time"

	"github.com/Zeffuro/fakegaming-bot-sub003/internal/jobqueue"
	"github.com/Zeffuro/fakegaming-bot-sub003/internal/schedule"
	"github.com/Zeffuro/fakegaming-bot-sub003/pkg/logx"
)

// BirthdaySource lists the birthdays to announce on a given day, each paired
// with its delivery subscription. Event ids must be unique per person per
// day so the dedup store blocks re-announcements after a restart.
type BirthdaySource interface {
	TodaysBirthdays(ctx context.Context, on time.Time) ([]Candidate, error)
}

// BirthdayJob announces birthdays once a day at the 09:00 local anchor.
// Send failures push the job onto capped exponential backoff; the anchor
// cadence resumes after a clean run.
type BirthdayJob struct {
	deps    Deps
	source  BirthdaySource
	attempt int
}

func RegisterBirthdays(ctx context.Context, deps Deps, source BirthdaySource) *BirthdayJob {
	b := &BirthdayJob{deps: deps, source: source}
	deps.Queue.On(JobBirthdays, b.run)
	deps.reschedule(ctx, JobBirthdays, schedule.DailyAnchorDelay(deps.now(), schedule.BirthdayAnchorHour, schedule.BirthdayAnchorMinute))
	return b
}

func (b *BirthdayJob) run(ctx context.Context, _ jobqueue.Job) error {
	d := b.deps
	started := d.now()
	log := d.log().With(logx.String("job", JobBirthdays))

	var cnt counters
	var runErr string

	cands, err := b.source.TodaysBirthdays(ctx, started)
	if err != nil {
		log.Warn("birthday lookup failed", logx.Err(err))
		runErr = err.Error()
	}
	for _, c := range cands {
		cnt.add(d.announce(ctx, c))
	}

	ok := runErr == "" && cnt.Failed == 0
	d.recordRun(JobBirthdays, started, ok, cnt.meta(), runErr)

	var delay time.Duration
	if ok {
		b.attempt = 0
		delay = schedule.DailyAnchorDelay(d.now(), schedule.BirthdayAnchorHour, schedule.BirthdayAnchorMinute)
	} else {
		b.attempt++
		delay = schedule.ExpBackoff(b.attempt, schedule.RetryBase, schedule.RetryCap)
		log.Debug("retrying after failures", logx.Int("attempt", b.attempt), logx.Duration("delay", delay))
	}
	d.reschedule(ctx, JobBirthdays, delay)
	return nil
}
