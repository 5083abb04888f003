package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/Zeffuro/fakegaming-bot-sub003/internal/jobqueue"
	"github.com/Zeffuro/fakegaming-bot-sub003/internal/providers"
	"github.com/Zeffuro/fakegaming-bot-sub003/internal/schedule"
	"github.com/Zeffuro/fakegaming-bot-sub003/pkg/logx"
)

// PollConfig shapes one subscription-polling job.
type PollConfig struct {
	Name     string
	Provider string
	Interval time.Duration // base re-poll interval
	Jitter   time.Duration // symmetric spread around Interval
}

// PollJob polls every subscription of one provider for fresh events:
// stream-live checks, new-video feeds and patch-note scans all share this
// shape and differ only in their fetcher and cadence.
type PollJob struct {
	deps    Deps
	cfg     PollConfig
	fetcher providers.Fetcher

	mu       sync.Mutex
	lastSeen map[string]string // externalID -> newest event id this process saw
}

func (c PollConfig) withDefaults() PollConfig {
	if c.Interval <= 0 {
		c.Interval = liveInterval
		c.Jitter = liveJitter
	}
	return c
}

// RegisterPoll subscribes the job on the queue and arms the first trigger.
func RegisterPoll(ctx context.Context, deps Deps, cfg PollConfig, fetcher providers.Fetcher) *PollJob {
	cfg = cfg.withDefaults()
	p := &PollJob{
		deps:     deps,
		cfg:      cfg,
		fetcher:  fetcher,
		lastSeen: map[string]string{},
	}
	deps.Queue.On(cfg.Name, p.run)
	deps.reschedule(ctx, cfg.Name, 0)
	return p
}

func (p *PollJob) run(ctx context.Context, _ jobqueue.Job) error {
	d := p.deps
	started := d.now()
	log := d.log().With(logx.String("job", p.cfg.Name))

	var cnt counters
	var runErr string

	subs, err := d.Store.ListSubscriptions(ctx, p.cfg.Provider)
	if err != nil {
		log.Warn("subscription list failed", logx.Err(err))
		runErr = err.Error()
	}

	for _, sub := range subs {
		ev, err := p.fetcher.FetchLatest(ctx, sub.ExternalID, p.seen(sub.ExternalID))
		if err != nil {
			log.Warn("fetch failed", logx.String("external_id", sub.ExternalID), logx.Err(err))
			cnt.add(OutcomeFailed)
			continue
		}
		if ev == nil {
			continue
		}

		outcome := d.announce(ctx, Candidate{Event: *ev, Sub: sub})
		cnt.add(outcome)
		if outcome == OutcomeDelivered || outcome == OutcomeDuplicate {
			p.remember(sub.ExternalID, ev.ID)
		}
	}

	d.recordRun(p.cfg.Name, started, runErr == "", cnt.meta(), runErr)

	delay := schedule.JitteredInterval(p.cfg.Interval, p.cfg.Jitter, d.uniform())
	d.reschedule(ctx, p.cfg.Name, delay)
	return nil
}

func (p *PollJob) seen(externalID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeen[externalID]
}

func (p *PollJob) remember(externalID, eventID string) {
	p.mu.Lock()
	p.lastSeen[externalID] = eventID
	p.mu.Unlock()
}

// Default cadences for the polling jobs. Live checks poll tighter than the
// patch-note scan, which uses the jittered 20 minute policy.
const (
	liveInterval = 3 * time.Minute
	liveJitter   = 30 * time.Second
)

func RegisterTwitch(ctx context.Context, deps Deps, f providers.Fetcher) *PollJob {
	return RegisterPoll(ctx, deps, PollConfig{
		Name: JobTwitch, Provider: providers.Twitch,
		Interval: liveInterval, Jitter: liveJitter,
	}, f)
}

func RegisterYouTube(ctx context.Context, deps Deps, f providers.Fetcher) *PollJob {
	return RegisterPoll(ctx, deps, PollConfig{
		Name: JobYouTube, Provider: providers.YouTube,
		Interval: liveInterval, Jitter: liveJitter,
	}, f)
}

func RegisterTikTok(ctx context.Context, deps Deps, f providers.Fetcher) *PollJob {
	return RegisterPoll(ctx, deps, PollConfig{
		Name: JobTikTok, Provider: providers.TikTok,
		Interval: liveInterval, Jitter: liveJitter,
	}, f)
}

func RegisterPatchNotes(ctx context.Context, deps Deps, f providers.Fetcher) *PollJob {
	return RegisterPoll(ctx, deps, PollConfig{
		Name: JobPatchNotes, Provider: providers.PatchNotes,
		Interval: schedule.ScanBase, Jitter: schedule.ScanSpread,
	}, f)
}
