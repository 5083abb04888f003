package config

// Config is the full hosting-process configuration.
//
// All durations are Go duration strings (e.g. "30s", "5m").
type Config struct {
	Telegram    TelegramConfig    `json:"telegram"`
	Logging     LoggingConfig     `json:"logging"`
	Storage     StorageConfig     `json:"storage"`
	Queue       QueueConfig       `json:"queue"`
	Jobs        JobsConfig        `json:"jobs"`
	Ops         OpsConfig         `json:"ops,omitempty"`
	Maintenance MaintenanceConfig `json:"maintenance,omitempty"`
}

type TelegramConfig struct {
	Token      string `json:"token"`
	RatePerSec int    `json:"rate_per_sec,omitempty"` // default 20
	RetryMax   int    `json:"retry_max,omitempty"`    // default 2
}

type LoggingConfig struct {
	Level   string `json:"level,omitempty"` // default "info"
	Console *bool  `json:"console,omitempty"`
	File    struct {
		Enabled bool   `json:"enabled"`
		Path    string `json:"path,omitempty"`
	} `json:"file,omitempty"`
}

// ConsoleEnabled defaults to true when the field is omitted.
func (l LoggingConfig) ConsoleEnabled() bool {
	return l.Console == nil || *l.Console
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./bot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// QueueConfig selects the job-queue adapter.
type QueueConfig struct {
	Driver string           `json:"driver,omitempty"` // "memory" (default) or "redis"
	Redis  QueueRedisConfig `json:"redis,omitempty"`
}

type QueueRedisConfig struct {
	Addr         string `json:"addr"`
	DB           int    `json:"db,omitempty"`
	KeyPrefix    string `json:"key_prefix,omitempty"`
	PollInterval string `json:"poll_interval,omitempty"`
}

// JobsConfig enables and tunes the notification jobs.
type JobsConfig struct {
	Twitch       PollJobConfig     `json:"twitch,omitempty"`
	YouTube      PollJobConfig     `json:"youtube,omitempty"`
	TikTok       PollJobConfig     `json:"tiktok,omitempty"`
	PatchNotes   PollJobConfig     `json:"patch_notes,omitempty"`
	Birthdays    ToggleConfig      `json:"birthdays,omitempty"`
	Reminders    ReminderJobConfig `json:"reminders,omitempty"`
	TokenRefresh ToggleConfig      `json:"token_refresh,omitempty"`
}

type PollJobConfig struct {
	Enabled  bool   `json:"enabled"`
	Interval string `json:"interval,omitempty"`
	Jitter   string `json:"jitter,omitempty"`
}

type ToggleConfig struct {
	Enabled bool `json:"enabled"`
}

type ReminderJobConfig struct {
	Enabled   bool   `json:"enabled"`
	RetryBase string `json:"retry_base,omitempty"`
	RetryCap  string `json:"retry_cap,omitempty"`
}

// OpsConfig controls the read-only admin HTTP surface.
//
// Prefer binding to localhost; the endpoints expose run history and pprof.
type OpsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:8090"
}

// MaintenanceConfig controls background housekeeping.
type MaintenanceConfig struct {
	// JobRunRetentionDays deletes persisted job runs older than this.
	// 0 keeps history forever.
	JobRunRetentionDays int `json:"job_run_retention_days,omitempty"`
	// Cron is the housekeeping schedule; default "0 4 * * *".
	Cron string `json:"cron,omitempty"`
}
