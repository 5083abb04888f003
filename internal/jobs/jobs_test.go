package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/Zeffuro/fakegaming-bot-sub003/internal/jobqueue"
	"github.com/Zeffuro/fakegaming-bot-sub003/internal/providers"
	"github.com/Zeffuro/fakegaming-bot-sub003/internal/runlog"
	"github.com/Zeffuro/fakegaming-bot-sub003/internal/schedule"
	"github.com/Zeffuro/fakegaming-bot-sub003/internal/storage"
	"github.com/Zeffuro/fakegaming-bot-sub003/pkg/logx"
)

type testEnv struct {
	queue     *fakeQueue
	store     *fakeStore
	messenger *fakeMessenger
	deps      Deps
	now       time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		queue:     newFakeQueue(),
		store:     newFakeStore(),
		messenger: newFakeMessenger(),
		now:       time.Date(2024, 3, 10, 12, 0, 30, 0, time.UTC),
	}
	env.deps = Deps{
		Queue:     env.queue,
		Store:     env.store,
		Messenger: env.messenger,
		Log:       logx.Nop(),
		Now:       func() time.Time { return env.now },
		Uniform:   func() float64 { return 0.5 },
	}
	return env
}

func (e *testEnv) addSub(t *testing.T, sub storage.Subscription) storage.Subscription {
	t.Helper()
	id, err := e.store.InsertSubscription(context.Background(), sub)
	if err != nil {
		t.Fatalf("insert subscription: %v", err)
	}
	sub.ID = id
	return sub
}

func TestPollDeliversOnceAcrossRuns(t *testing.T) {
	env := newTestEnv(t)
	env.addSub(t, storage.Subscription{Provider: providers.Twitch, ExternalID: "streamer_a", ChatID: 100})

	fetcher := &fakeFetcher{provider: providers.Twitch, events: map[string]*providers.Event{
		"streamer_a": {Provider: providers.Twitch, ID: "live-1", ExternalID: "streamer_a", Text: "streamer_a is live!"},
	}}

	p := RegisterTwitch(context.Background(), env.deps, fetcher)
	if err := p.run(context.Background(), jobqueue.Job{}); err != nil {
		t.Fatalf("first run: %v", err)
	}

	if env.messenger.sentCount() != 1 {
		t.Fatalf("sent %d messages, want 1", env.messenger.sentCount())
	}
	if env.store.notificationCount() != 1 {
		t.Fatalf("recorded %d notifications, want 1", env.store.notificationCount())
	}

	// Re-running the same poll with the same candidate delivers nothing new.
	if err := p.run(context.Background(), jobqueue.Job{}); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if env.messenger.sentCount() != 1 {
		t.Fatalf("duplicate event was re-delivered (%d sends)", env.messenger.sentCount())
	}
	if env.store.notificationCount() != 1 {
		t.Fatalf("duplicate dedup row created (%d rows)", env.store.notificationCount())
	}
}

func TestPollUpdatesLastNotified(t *testing.T) {
	env := newTestEnv(t)
	env.addSub(t, storage.Subscription{Provider: providers.Twitch, ExternalID: "streamer_a", ChatID: 100})

	fetcher := &fakeFetcher{provider: providers.Twitch, events: map[string]*providers.Event{
		"streamer_a": {Provider: providers.Twitch, ID: "live-1", ExternalID: "streamer_a", Text: "live"},
	}}
	p := RegisterTwitch(context.Background(), env.deps, fetcher)
	if err := p.run(context.Background(), jobqueue.Job{}); err != nil {
		t.Fatalf("run: %v", err)
	}

	subs, _ := env.store.ListSubscriptions(context.Background(), providers.Twitch)
	if !subs[0].LastNotifiedAt.Equal(env.now) {
		t.Fatalf("LastNotifiedAt = %v, want %v", subs[0].LastNotifiedAt, env.now)
	}
}

func TestPollCooldownSuppresses(t *testing.T) {
	env := newTestEnv(t)
	env.addSub(t, storage.Subscription{
		Provider: providers.Twitch, ExternalID: "streamer_a", ChatID: 100,
		CooldownMinutes: 15, LastNotifiedAt: env.now.Add(-10 * time.Minute),
	})

	fetcher := &fakeFetcher{provider: providers.Twitch, events: map[string]*providers.Event{
		"streamer_a": {Provider: providers.Twitch, ID: "live-2", ExternalID: "streamer_a", Text: "live"},
	}}
	p := RegisterTwitch(context.Background(), env.deps, fetcher)
	if err := p.run(context.Background(), jobqueue.Job{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if env.messenger.sentCount() != 0 {
		t.Fatal("cooldown-suppressed event was delivered")
	}

	// 16 minutes after the last notification the same candidate goes out.
	env.now = env.now.Add(6 * time.Minute)
	if err := p.run(context.Background(), jobqueue.Job{}); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if env.messenger.sentCount() != 1 {
		t.Fatalf("expected delivery after cooldown expiry, got %d sends", env.messenger.sentCount())
	}
}

func TestPollFailureDoesNotAbortBatch(t *testing.T) {
	env := newTestEnv(t)
	env.addSub(t, storage.Subscription{Provider: providers.Twitch, ExternalID: "streamer_a", ChatID: 100})
	env.addSub(t, storage.Subscription{Provider: providers.Twitch, ExternalID: "streamer_b", ChatID: 200})
	env.messenger.failChats[100] = true

	fetcher := &fakeFetcher{provider: providers.Twitch, events: map[string]*providers.Event{
		"streamer_a": {Provider: providers.Twitch, ID: "live-a", ExternalID: "streamer_a", Text: "a live"},
		"streamer_b": {Provider: providers.Twitch, ID: "live-b", ExternalID: "streamer_b", Text: "b live"},
	}}
	p := RegisterTwitch(context.Background(), env.deps, fetcher)
	if err := p.run(context.Background(), jobqueue.Job{}); err != nil {
		t.Fatalf("run: %v", err)
	}

	if env.messenger.sentCount() != 1 {
		t.Fatalf("sibling candidate not delivered (%d sends)", env.messenger.sentCount())
	}
	if env.store.notificationCount() != 1 {
		t.Fatal("failed delivery must not create a dedup row")
	}
}

func TestPollReschedulesWithJitter(t *testing.T) {
	env := newTestEnv(t)
	fetcher := &fakeFetcher{provider: providers.PatchNotes}
	p := RegisterPatchNotes(context.Background(), env.deps, fetcher)

	if err := p.run(context.Background(), jobqueue.Job{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	last := env.queue.lastScheduled()
	if last.Name != JobPatchNotes {
		t.Fatalf("rescheduled job = %q", last.Name)
	}
	// Midpoint jitter source yields exactly the base interval.
	if last.Opt.Delay != schedule.ScanBase {
		t.Fatalf("delay = %v, want %v", last.Opt.Delay, schedule.ScanBase)
	}
	if last.Opt.IdempotencyKey == "" {
		t.Fatal("re-schedule should carry a singleton idempotency key")
	}
}

func TestBirthdayBackoffThenAnchor(t *testing.T) {
	env := newTestEnv(t)
	sub := env.addSub(t, storage.Subscription{Provider: providers.Birthday, ChatID: 100})
	env.messenger.failChats[100] = true

	src := &fakeBirthdaySource{cands: []Candidate{{
		Event: providers.Event{Provider: providers.Birthday, ID: "bday:u1:2024-03-10", Text: "happy birthday!"},
		Sub:   sub,
	}}}
	b := RegisterBirthdays(context.Background(), env.deps, src)

	// First failed run backs off by the base, second doubles it.
	if err := b.run(context.Background(), jobqueue.Job{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if d := env.queue.lastScheduled().Opt.Delay; d != 60*time.Second {
		t.Fatalf("first backoff = %v, want 60s", d)
	}
	if err := b.run(context.Background(), jobqueue.Job{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if d := env.queue.lastScheduled().Opt.Delay; d != 120*time.Second {
		t.Fatalf("second backoff = %v, want 120s", d)
	}

	// A clean run resumes the 09:00 anchor cadence.
	env.messenger.failChats = map[int64]bool{}
	if err := b.run(context.Background(), jobqueue.Job{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := schedule.DailyAnchorDelay(env.now, schedule.BirthdayAnchorHour, schedule.BirthdayAnchorMinute)
	if d := env.queue.lastScheduled().Opt.Delay; d != want {
		t.Fatalf("anchor delay = %v, want %v", d, want)
	}
}

func TestReminderDueBackoffOnFailure(t *testing.T) {
	env := newTestEnv(t)
	sub := env.addSub(t, storage.Subscription{Provider: providers.Reminder, ChatID: 100})
	env.messenger.failChats[100] = true

	due := env.now.Add(2 * time.Minute)
	src := &fakeReminderSource{cands: []Candidate{{
		Event: providers.Event{Provider: providers.Reminder, ID: "rem-1", Text: "do the thing", DueAt: due},
		Sub:   sub,
	}}}
	r := RegisterReminders(context.Background(), env.deps, ReminderConfig{}, src)

	if err := r.run(context.Background(), jobqueue.Job{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	// Due in 2 minutes: retry delay doubles the remaining time-to-due.
	if d := env.queue.lastScheduled().Opt.Delay; d != 4*time.Minute {
		t.Fatalf("retry delay = %v, want 4m", d)
	}

	// Clean runs tick on minute boundaries.
	env.messenger.failChats = map[int64]bool{}
	if err := r.run(context.Background(), jobqueue.Job{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if d := env.queue.lastScheduled().Opt.Delay; d != schedule.NextMinuteDelay(env.now) {
		t.Fatalf("tick delay = %v, want %v", d, schedule.NextMinuteDelay(env.now))
	}
}

func TestTokenRefreshScheduling(t *testing.T) {
	env := newTestEnv(t)
	ref := &fakeRefresher{expiry: env.now.Add(time.Hour)}
	j := RegisterTokenRefresh(context.Background(), env.deps, "", ref)

	if err := j.run(context.Background(), jobqueue.Job{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if d := env.queue.lastScheduled().Opt.Delay; d != 58*time.Minute {
		t.Fatalf("refresh delay = %v, want 58m", d)
	}

	ref.err = context.DeadlineExceeded
	if err := j.run(context.Background(), jobqueue.Job{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if d := env.queue.lastScheduled().Opt.Delay; d != 60*time.Second {
		t.Fatalf("failure retry delay = %v, want 60s", d)
	}
}

func TestSingletonKeyBuckets(t *testing.T) {
	t.Parallel()
	base := time.Date(2024, 3, 10, 12, 0, 10, 0, time.UTC)
	a := SingletonKey("twitch.poll", base)
	b := SingletonKey("twitch.poll", base.Add(30*time.Second))
	c := SingletonKey("twitch.poll", base.Add(60*time.Second))
	if a != b {
		t.Fatalf("same-minute triggers should share a key: %q vs %q", a, b)
	}
	if a == c {
		t.Fatalf("different minutes must not share a key: %q", a)
	}
	if a == SingletonKey("youtube.poll", base) {
		t.Fatal("different jobs must not share a key")
	}
}

func TestRunOutcomeRecorded(t *testing.T) {
	env := newTestEnv(t)
	rec := runlog.New(nil, logx.Nop())
	env.deps.Recorder = rec

	env.addSub(t, storage.Subscription{Provider: providers.Twitch, ExternalID: "streamer_a", ChatID: 100})
	fetcher := &fakeFetcher{provider: providers.Twitch, events: map[string]*providers.Event{
		"streamer_a": {Provider: providers.Twitch, ID: "live-1", ExternalID: "streamer_a", Text: "live"},
	}}
	p := RegisterTwitch(context.Background(), env.deps, fetcher)
	if err := p.run(context.Background(), jobqueue.Job{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	rec.Close()

	entries := rec.Recent(JobTwitch)
	if len(entries) != 1 {
		t.Fatalf("expected 1 recorded run, got %d", len(entries))
	}
	e := entries[0]
	if !e.OK {
		t.Fatalf("run should be ok: %+v", e)
	}
	if e.Meta["delivered"] != 1 || e.Meta["candidates"] != 1 {
		t.Fatalf("unexpected meta: %+v", e.Meta)
	}
}
