package schedule

import (
	"testing"
	"time"
)

func TestDailyAnchorDelay(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("test", 7*3600)
	tests := []struct {
		name string
		now  time.Time
		want time.Duration
	}{
		{name: "before anchor", now: time.Date(2024, 3, 10, 8, 30, 0, 0, loc), want: 30 * time.Minute},
		{name: "exactly at anchor rolls to tomorrow", now: time.Date(2024, 3, 10, 9, 0, 0, 0, loc), want: 24 * time.Hour},
		{name: "after anchor", now: time.Date(2024, 3, 10, 9, 1, 0, 0, loc), want: 23*time.Hour + 59*time.Minute},
		{name: "just before midnight", now: time.Date(2024, 3, 10, 23, 59, 0, 0, loc), want: 9*time.Hour + 1*time.Minute},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := DailyAnchorDelay(tt.now, BirthdayAnchorHour, BirthdayAnchorMinute)
			if got != tt.want {
				t.Fatalf("DailyAnchorDelay = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJitteredIntervalBounds(t *testing.T) {
	t.Parallel()
	lo := ScanBase - ScanSpread
	hi := ScanBase + ScanSpread
	for _, u := range []float64{0, 0.1, 0.25, 0.5, 0.75, 0.9, 0.999} {
		got := JitteredInterval(ScanBase, ScanSpread, u)
		if got < lo || got > hi {
			t.Fatalf("JitteredInterval(u=%v) = %v, outside [%v, %v]", u, got, lo, hi)
		}
	}
}

func TestJitteredIntervalMidpoint(t *testing.T) {
	t.Parallel()
	if got := JitteredInterval(ScanBase, ScanSpread, 0.5); got != ScanBase {
		t.Fatalf("midpoint jitter = %v, want %v", got, ScanBase)
	}
}

func TestNextMinuteDelay(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		now  time.Time
		want time.Duration
	}{
		{name: "mid minute", now: time.Date(2024, 3, 10, 10, 15, 30, 0, time.UTC), want: 30 * time.Second},
		{name: "near boundary clamps to minimum", now: time.Date(2024, 3, 10, 10, 15, 59, 800_000_000, time.UTC), want: MinReminderDelay},
		{name: "exact boundary", now: time.Date(2024, 3, 10, 10, 15, 0, 0, time.UTC), want: time.Minute},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := NextMinuteDelay(tt.now); got != tt.want {
				t.Fatalf("NextMinuteDelay = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExpBackoff(t *testing.T) {
	t.Parallel()
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: -3, want: 60 * time.Second},
		{attempt: 0, want: 60 * time.Second},
		{attempt: 1, want: 60 * time.Second},
		{attempt: 2, want: 120 * time.Second},
		{attempt: 3, want: 240 * time.Second},
		{attempt: 5, want: 900 * time.Second}, // capped from 960s
		{attempt: 50, want: 900 * time.Second},
	}
	for _, tt := range tests {
		if got := ExpBackoff(tt.attempt, RetryBase, RetryCap); got != tt.want {
			t.Fatalf("ExpBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestDueTimeBackoff(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		due  time.Time
		want time.Duration
	}{
		{name: "overdue", due: now.Add(-time.Hour), want: RetryBase},
		{name: "due within base", due: now.Add(30 * time.Second), want: RetryBase},
		{name: "due exactly at base", due: now.Add(RetryBase), want: RetryBase},
		{name: "due soon doubles remaining", due: now.Add(2 * time.Minute), want: 4 * time.Minute},
		{name: "far future caps", due: now.Add(2 * time.Hour), want: RetryCap},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := DueTimeBackoff(now, tt.due, RetryBase, RetryCap); got != tt.want {
				t.Fatalf("DueTimeBackoff = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRefreshDelay(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	if got := RefreshDelay(now, now.Add(time.Hour), RefreshSkew); got != 58*time.Minute {
		t.Fatalf("RefreshDelay = %v, want 58m", got)
	}
	if got := RefreshDelay(now, now.Add(time.Minute), RefreshSkew); got != 0 {
		t.Fatalf("RefreshDelay inside skew = %v, want 0", got)
	}
	if got := RefreshDelay(now, now.Add(-time.Hour), RefreshSkew); got != 0 {
		t.Fatalf("RefreshDelay past expiry = %v, want 0", got)
	}
}
