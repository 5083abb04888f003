package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Zeffuro/fakegaming-bot-sub003/pkg/logx"
)

// Store is the persistence API used by the delivery engine.
type Store interface {
	// HasNotification is the advisory fast pre-check; RecordNotification is
	// authoritative and backed by the uniqueness constraint.
	HasNotification(ctx context.Context, provider, eventID string) (bool, error)
	RecordNotification(ctx context.Context, n Notification) (created bool, err error)

	// InsertSubscription exists for seeding and tests; the configuration
	// surface that normally writes these rows lives outside this process.
	InsertSubscription(ctx context.Context, sub Subscription) (int64, error)
	ListSubscriptions(ctx context.Context, provider string) ([]Subscription, error)
	UpdateLastNotified(ctx context.Context, subID int64, at time.Time) error

	AppendJobRun(ctx context.Context, r JobRun) error
	ListJobRuns(ctx context.Context, name string, limit int) ([]JobRun, error)
	DeleteJobRunsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		mem := cfg
		mem.Path = ":memory:"
		return openSQLite(mem, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
