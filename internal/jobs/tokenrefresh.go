package jobs

import (
	"context"
	"time"

	"github.com/Zeffuro/fakegaming-bot-sub003/internal/jobqueue"
	"github.com/Zeffuro/fakegaming-bot-sub003/internal/schedule"
	"github.com/Zeffuro/fakegaming-bot-sub003/pkg/logx"
)

// TokenRefresher renews a provider credential and reports its new expiry.
type TokenRefresher interface {
	Refresh(ctx context.Context) (expiry time.Time, err error)
}

// TokenRefreshJob keeps a provider credential fresh by refreshing it shortly
// before expiry. Refresh failures retry on capped exponential backoff.
type TokenRefreshJob struct {
	deps      Deps
	name      string
	refresher TokenRefresher
	attempt   int
}

func RegisterTokenRefresh(ctx context.Context, deps Deps, name string, refresher TokenRefresher) *TokenRefreshJob {
	if name == "" {
		name = JobTokenRefresh
	}
	t := &TokenRefreshJob{deps: deps, name: name, refresher: refresher}
	deps.Queue.On(name, t.run)
	deps.reschedule(ctx, name, 0)
	return t
}

func (t *TokenRefreshJob) run(ctx context.Context, _ jobqueue.Job) error {
	d := t.deps
	started := d.now()
	log := d.log().With(logx.String("job", t.name))

	expiry, err := t.refresher.Refresh(ctx)

	var delay time.Duration
	if err != nil {
		t.attempt++
		delay = schedule.ExpBackoff(t.attempt, schedule.RetryBase, schedule.RetryCap)
		log.Warn("credential refresh failed", logx.Int("attempt", t.attempt), logx.Duration("retry_in", delay), logx.Err(err))
		d.recordRun(t.name, started, false, nil, err.Error())
	} else {
		t.attempt = 0
		delay = schedule.RefreshDelay(d.now(), expiry, schedule.RefreshSkew)
		log.Debug("credential refreshed", logx.Time("expiry", expiry), logx.Duration("next_in", delay))
		d.recordRun(t.name, started, true, map[string]any{"expiry": expiry.Format(time.RFC3339)}, "")
	}

	d.reschedule(ctx, t.name, delay)
	return nil
}
