// Package jobs wires the per-provider notification jobs onto the job queue.
//
// Every job follows the same invocation shape: fetch candidate events, run
// each through the dedup store and the cooldown/quiet-hours gate, deliver
// what is allowed, record the run outcome, then compute the next delay and
// re-schedule itself. A failure on one candidate never aborts the batch.
//
// All collaborators arrive through Deps; nothing here reads ambient globals.
package jobs

import (
	"context"
	"math/rand"
	"time"

	"github.com/Zeffuro/fakegaming-bot-sub003/internal/gate"
	"github.com/Zeffuro/fakegaming-bot-sub003/internal/jobqueue"
	"github.com/Zeffuro/fakegaming-bot-sub003/internal/providers"
	"github.com/Zeffuro/fakegaming-bot-sub003/internal/runlog"
	"github.com/Zeffuro/fakegaming-bot-sub003/internal/storage"
	"github.com/Zeffuro/fakegaming-bot-sub003/internal/transport"
	"github.com/Zeffuro/fakegaming-bot-sub003/pkg/logx"
)

// Job names as registered on the queue.
const (
	JobTwitch       = "twitch.poll"
	JobYouTube      = "youtube.poll"
	JobTikTok       = "tiktok.poll"
	JobPatchNotes   = "patchnotes.scan"
	JobBirthdays    = "birthdays.announce"
	JobReminders    = "reminders.tick"
	JobTokenRefresh = "twitch.token-refresh"
)

// Deps bundles the collaborators shared by all jobs.
type Deps struct {
	Queue     jobqueue.Queue
	Store     storage.Store
	Messenger transport.Messenger
	Recorder  *runlog.Recorder
	Log       logx.Logger

	// Now and Uniform exist so tests control time and jitter.
	// Nil means time.Now / rand.Float64.
	Now     func() time.Time
	Uniform func() float64
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Deps) uniform() float64 {
	if d.Uniform != nil {
		return d.Uniform()
	}
	return rand.Float64()
}

func (d Deps) log() logx.Logger {
	if d.Log.IsZero() {
		return logx.Nop()
	}
	return d.Log
}

// Candidate pairs a raw provider event with the subscription it belongs to.
type Candidate struct {
	Event providers.Event
	Sub   storage.Subscription
}

// Outcome classifies what happened to one candidate.
type Outcome int

const (
	OutcomeDelivered Outcome = iota
	OutcomeDuplicate
	OutcomeSuppressed
	OutcomeFailed
)

// counters accumulate per-run metadata for the run recorder.
type counters struct {
	Candidates int
	Delivered  int
	Duplicates int
	Suppressed int
	Failed     int
}

func (c *counters) add(o Outcome) {
	c.Candidates++
	switch o {
	case OutcomeDelivered:
		c.Delivered++
	case OutcomeDuplicate:
		c.Duplicates++
	case OutcomeSuppressed:
		c.Suppressed++
	case OutcomeFailed:
		c.Failed++
	}
}

func (c counters) meta() map[string]any {
	return map[string]any{
		"candidates": c.Candidates,
		"delivered":  c.Delivered,
		"duplicates": c.Duplicates,
		"suppressed": c.Suppressed,
		"failed":     c.Failed,
	}
}

// announce runs the per-candidate state machine: dedup pre-check, gate,
// deliver, authoritative record, lastNotifiedAt update.
//
// The dedup insert happening after delivery means a true poller race can
// still double-send; the uniqueness constraint then reports created=false
// and the loser stops treating the event as new. Exactly-once under real
// multi-process concurrency is explicitly out of scope.
func (d Deps) announce(ctx context.Context, c Candidate) Outcome {
	log := d.log().With(
		logx.String("provider", c.Event.Provider),
		logx.String("event", c.Event.ID),
	)

	known, err := d.Store.HasNotification(ctx, c.Event.Provider, c.Event.ID)
	if err != nil {
		log.Warn("dedup pre-check failed", logx.Err(err))
		return OutcomeFailed
	}
	if known {
		return OutcomeDuplicate
	}

	now := d.now()
	if gate.Suppressed(c.Sub, now) {
		log.Debug("delivery suppressed", logx.Int64("sub", c.Sub.ID))
		return OutcomeSuppressed
	}

	ref, err := d.Messenger.SendText(ctx, transport.Target{ChatID: c.Sub.ChatID, ThreadID: c.Sub.ThreadID}, c.Event.Text, nil)
	if err != nil {
		log.Warn("delivery failed", logx.Int64("chat_id", c.Sub.ChatID), logx.Err(err))
		return OutcomeFailed
	}

	created, err := d.Store.RecordNotification(ctx, storage.Notification{
		Provider:  c.Event.Provider,
		EventID:   c.Event.ID,
		GuildID:   c.Sub.GuildID,
		ChatID:    ref.ChatID,
		MessageID: ref.MessageID,
		CreatedAt: now,
	})
	if err != nil {
		// Delivered but unrecorded: surface loudly, a restart may re-send.
		log.Error("dedup record failed after delivery", logx.Err(err))
		return OutcomeFailed
	}
	if !created {
		log.Debug("lost dedup race after delivery")
		return OutcomeDuplicate
	}

	if c.Sub.ID != 0 {
		if err := d.Store.UpdateLastNotified(ctx, c.Sub.ID, now); err != nil {
			log.Warn("lastNotifiedAt update failed", logx.Int64("sub", c.Sub.ID), logx.Err(err))
		}
	}
	log.Info("notification delivered", logx.Int64("chat_id", c.Sub.ChatID), logx.String("title", c.Event.Title))
	return OutcomeDelivered
}

// recordRun hands the invocation outcome to the run recorder.
func (d Deps) recordRun(name string, started time.Time, ok bool, meta map[string]any, errStr string) {
	if d.Recorder == nil {
		return
	}
	d.Recorder.Record(runlog.Entry{
		Name:       name,
		StartedAt:  started,
		FinishedAt: d.now(),
		OK:         ok,
		Meta:       meta,
		Error:      errStr,
	})
}
