package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Zeffuro/fakegaming-bot-sub003/internal/jobqueue"
	"github.com/Zeffuro/fakegaming-bot-sub003/internal/providers"
	"github.com/Zeffuro/fakegaming-bot-sub003/internal/storage"
	"github.com/Zeffuro/fakegaming-bot-sub003/internal/transport"
)

// fakeQueue records registrations and schedule calls without running anything,
// so tests invoke handlers directly and assert on re-schedule delays.
type fakeQueue struct {
	mu        sync.Mutex
	handlers  map[string][]jobqueue.Handler
	scheduled []scheduledCall
}

type scheduledCall struct {
	Name string
	Opt  jobqueue.Options
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{handlers: map[string][]jobqueue.Handler{}}
}

func (q *fakeQueue) Start(context.Context) error { return nil }
func (q *fakeQueue) Stop(context.Context) error  { return nil }

func (q *fakeQueue) On(name string, h jobqueue.Handler) {
	q.mu.Lock()
	q.handlers[name] = append(q.handlers[name], h)
	q.mu.Unlock()
}

func (q *fakeQueue) Schedule(_ context.Context, name string, _ []byte, opt jobqueue.Options) (string, error) {
	q.mu.Lock()
	q.scheduled = append(q.scheduled, scheduledCall{Name: name, Opt: opt})
	q.mu.Unlock()
	return "fake-id", nil
}

func (q *fakeQueue) lastScheduled() scheduledCall {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.scheduled[len(q.scheduled)-1]
}

// fakeStore is an in-memory storage.Store.
type fakeStore struct {
	mu            sync.Mutex
	notifications map[string]storage.Notification
	subs          []storage.Subscription
	runs          []storage.JobRun
	nextSubID     int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{notifications: map[string]storage.Notification{}}
}

func dedupKey(provider, eventID string) string { return provider + "\x00" + eventID }

func (f *fakeStore) HasNotification(_ context.Context, provider, eventID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.notifications[dedupKey(provider, eventID)]
	return ok, nil
}

func (f *fakeStore) RecordNotification(_ context.Context, n storage.Notification) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := dedupKey(n.Provider, n.EventID)
	if _, ok := f.notifications[key]; ok {
		return false, nil
	}
	f.notifications[key] = n
	return true, nil
}

func (f *fakeStore) InsertSubscription(_ context.Context, sub storage.Subscription) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSubID++
	sub.ID = f.nextSubID
	f.subs = append(f.subs, sub)
	return sub.ID, nil
}

func (f *fakeStore) ListSubscriptions(_ context.Context, provider string) ([]storage.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.Subscription
	for _, s := range f.subs {
		if s.Provider == provider {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateLastNotified(_ context.Context, subID int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.subs {
		if f.subs[i].ID == subID {
			f.subs[i].LastNotifiedAt = at
			return nil
		}
	}
	return errors.New("subscription not found")
}

func (f *fakeStore) AppendJobRun(_ context.Context, r storage.JobRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, r)
	return nil
}

func (f *fakeStore) ListJobRuns(_ context.Context, name string, limit int) ([]storage.JobRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.JobRun
	for _, r := range f.runs {
		if name == "" || r.Name == name {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteJobRunsBefore(context.Context, time.Time) (int64, error) { return 0, nil }
func (f *fakeStore) Close() error                                                  { return nil }

func (f *fakeStore) notificationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.notifications)
}

// fakeMessenger records deliveries; chats in failChats reject sends.
type fakeMessenger struct {
	mu        sync.Mutex
	sent      []sentMessage
	failChats map[int64]bool
}

type sentMessage struct {
	To   transport.Target
	Text string
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{failChats: map[int64]bool{}}
}

func (m *fakeMessenger) SendText(_ context.Context, to transport.Target, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failChats[to.ChatID] {
		return transport.MessageRef{}, errors.New("send rejected")
	}
	m.sent = append(m.sent, sentMessage{To: to, Text: text})
	return transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: len(m.sent)}, nil
}

func (m *fakeMessenger) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// fakeFetcher returns a fixed event per external id, ignoring since.
type fakeFetcher struct {
	provider string
	events   map[string]*providers.Event
	err      error
}

func (f *fakeFetcher) Provider() string { return f.provider }

func (f *fakeFetcher) FetchLatest(_ context.Context, externalID, _ string) (*providers.Event, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.events[externalID], nil
}

type fakeBirthdaySource struct {
	cands []Candidate
	err   error
}

func (f *fakeBirthdaySource) TodaysBirthdays(context.Context, time.Time) ([]Candidate, error) {
	return f.cands, f.err
}

type fakeReminderSource struct {
	cands []Candidate
	err   error
}

func (f *fakeReminderSource) DueReminders(context.Context, time.Time) ([]Candidate, error) {
	return f.cands, f.err
}

type fakeRefresher struct {
	expiry time.Time
	err    error
}

func (f *fakeRefresher) Refresh(context.Context) (time.Time, error) { return f.expiry, f.err }
