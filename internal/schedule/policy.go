package schedule

import "time"

const (
	// Birthday announcements anchor to 09:00 local time.
	BirthdayAnchorHour   = 9
	BirthdayAnchorMinute = 0

	// Patch-note scans: 20 minutes base with ±5 minutes jitter so restarts
	// don't re-align every subscription onto the same poll tick.
	ScanBase   = 20 * time.Minute
	ScanSpread = 5 * time.Minute

	// Failure retry defaults shared by the birthday and reminder jobs.
	RetryBase = 60 * time.Second
	RetryCap  = 15 * time.Minute

	// Reminders fire on minute boundaries; never re-schedule closer than this.
	MinReminderDelay = 5 * time.Second

	// Credential refreshes run this far ahead of expiry.
	RefreshSkew = 120 * time.Second
)

// DailyAnchorDelay returns the delay until the next occurrence of hh:mm in
// now's location. If now is strictly before today's anchor the delay targets
// today; otherwise it targets tomorrow.
func DailyAnchorDelay(now time.Time, hour, minute int) time.Duration {
	anchor := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !now.Before(anchor) {
		anchor = anchor.AddDate(0, 0, 1)
	}
	return anchor.Sub(now)
}

// JitteredInterval maps a uniform sample u in [0,1) onto base ± spread.
// u=0.5 yields exactly base.
func JitteredInterval(base, spread time.Duration, u float64) time.Duration {
	jitter := time.Duration((u - 0.5) * 2 * float64(spread))
	return base + jitter
}

// NextMinuteDelay returns the delay until the start of the next minute,
// floored at MinReminderDelay. The floor handles the case where the boundary
// is only milliseconds away, which would otherwise busy-loop the job.
func NextMinuteDelay(now time.Time) time.Duration {
	next := now.Truncate(time.Minute).Add(time.Minute)
	d := next.Sub(now)
	if d < MinReminderDelay {
		d = MinReminderDelay
	}
	return d
}

// ExpBackoff returns base * 2^(attempt-1) capped at max. Attempts at or
// below zero clamp to the first attempt.
func ExpBackoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// DueTimeBackoff computes the retry delay for a reminder that failed to send.
// A reminder due within base of now retries after base; otherwise the delay
// is twice the remaining time-to-due, capped at max. This keeps retry cadence
// proportional to how far in the future the reminder still is.
func DueTimeBackoff(now, due time.Time, base, max time.Duration) time.Duration {
	if !due.After(now.Add(base)) {
		return base
	}
	d := 2 * due.Sub(now)
	if d > max {
		d = max
	}
	return d
}

// RefreshDelay schedules a credential refresh skew ahead of expiry, or
// immediately when already inside the skew window.
func RefreshDelay(now, expiry time.Time, skew time.Duration) time.Duration {
	d := expiry.Sub(now) - skew
	if d < 0 {
		return 0
	}
	return d
}
