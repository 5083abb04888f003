// Package gate decides whether a detected event may actually reach a user.
//
// Two independent checks, either of which suppresses delivery: a per
// subscription cooldown, and a local quiet-hours window. Evaluation never
// mutates state; it is pure given now and the subscription snapshot.
package gate

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Zeffuro/fakegaming-bot-sub003/internal/storage"
)

// Suppressed reports whether the subscription's cooldown or quiet-hours
// window blocks delivery at now.
func Suppressed(sub storage.Subscription, now time.Time) bool {
	return OnCooldown(sub, now) || InQuietHours(sub.QuietHoursStart, sub.QuietHoursEnd, now)
}

// OnCooldown reports whether the subscription was notified less than
// CooldownMinutes ago. A zero CooldownMinutes or zero LastNotifiedAt
// disables the check.
func OnCooldown(sub storage.Subscription, now time.Time) bool {
	if sub.CooldownMinutes <= 0 || sub.LastNotifiedAt.IsZero() {
		return false
	}
	return now.Sub(sub.LastNotifiedAt) < time.Duration(sub.CooldownMinutes)*time.Minute
}

// InQuietHours reports whether now's local time-of-day falls inside the
// [start, end) window. When start > end the window wraps midnight
// (e.g. 22:00-07:30 suppresses from 22:00 through 07:29).
//
// Missing or malformed HH:mm strings disable the check entirely: a
// misconfiguration must not silently stop all future notifications.
func InQuietHours(start, end string, now time.Time) bool {
	if strings.TrimSpace(start) == "" || strings.TrimSpace(end) == "" {
		return false
	}
	sh, sm, err := parseHHMM(start)
	if err != nil {
		return false
	}
	eh, em, err := parseHHMM(end)
	if err != nil {
		return false
	}

	cur := now.Hour()*60 + now.Minute()
	s := sh*60 + sm
	e := eh*60 + em

	if s <= e {
		return cur >= s && cur < e
	}
	// wraparound past midnight
	return cur >= s || cur < e
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
