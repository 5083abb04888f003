package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (the normal mode)
//   - "memory": sqlite in-memory database (tests, throwaway runs)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Subscription is one configured alert target for a provider, e.g. "announce
// Twitch stream X in chat Y". Configuration writes happen elsewhere; the
// delivery engine reads these rows and only ever updates LastNotifiedAt.
//
// Nullable columns map onto zero values: CooldownMinutes 0 means no cooldown,
// empty quiet-hours strings disable the quiet window, a zero LastNotifiedAt
// means never notified.
type Subscription struct {
	ID              int64
	Provider        string
	ExternalID      string // stream/channel/game/user key at the provider
	GuildID         string
	ChatID          int64 // delivery chat (group or user)
	ThreadID        int   // forum topic thread id (0 if none)
	CooldownMinutes int
	QuietHoursStart string // local "HH:mm"
	QuietHoursEnd   string // local "HH:mm"
	LastNotifiedAt  time.Time
}

// Notification is the durable dedup record for one real-world event.
// Rows are created exactly once, never updated, never deleted in normal
// operation; the UNIQUE(provider, event_id) constraint is the last line of
// defense against double delivery when two pollers race.
type Notification struct {
	Provider  string
	EventID   string
	GuildID   string
	ChatID    int64
	MessageID int
	CreatedAt time.Time
}

// JobRun records one handler invocation for admin inspection.
type JobRun struct {
	ID         int64
	Name       string
	StartedAt  time.Time
	FinishedAt time.Time
	OK         bool
	MetaJSON   string
	Error      string
}
