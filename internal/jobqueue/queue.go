// Package jobqueue provides the scheduling abstraction the notification jobs
// run on: named handlers plus delayed one-shot triggers.
//
// Two adapters exist. The in-process adapter is the development/testing shim:
// timers only, nothing survives a restart, idempotency keys are ignored. The
// redis adapter persists scheduled triggers in a sorted set and honors
// idempotency keys, so duplicate logical triggers collapse across processes.
//
// Neither adapter retries: handler errors are caught and swallowed, and
// retry is implemented by the jobs themselves via explicit re-scheduling.
package jobqueue

import (
	"context"
	"errors"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/Zeffuro/fakegaming-bot-sub003/pkg/logx"
)

var (
	ErrStopped = errors.New("job queue stopped")
)

// Job is one unit of work handed to a handler. It is owned transiently by
// the handler invocation and discarded afterwards.
type Job struct {
	ID      string
	Name    string
	Payload []byte
	Attempt int
}

// Handler processes one job invocation.
type Handler func(ctx context.Context, job Job) error

// Options control a single Schedule call.
type Options struct {
	// Delay before the trigger fires. Zero means "next tick".
	Delay time.Duration
	// IdempotencyKey collapses schedule requests that represent the same
	// logical trigger. The in-process adapter ignores it.
	IdempotencyKey string
	// Priority is reserved for adapters that support it.
	Priority int
}

// Queue coordinates named handlers and future invocations.
type Queue interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// On registers a handler. Multiple registrations per name are permitted;
	// handlers for one job run sequentially in registration order.
	On(name string, h Handler)

	// Schedule enqueues a future invocation and returns an opaque id.
	// Scheduling on a stopped queue is adapter-specific; the in-process
	// adapter silently drops the trigger.
	Schedule(ctx context.Context, name string, payload []byte, opt Options) (string, error)
}

// Config selects and configures the queue adapter.
type Config struct {
	Driver string // "memory" (default) or "redis"
	Redis  RedisConfig
}

type RedisConfig struct {
	Addr         string
	DB           int
	KeyPrefix    string
	PollInterval time.Duration
}

// Open returns the configured queue adapter.
func Open(cfg Config, log logx.Logger) (Queue, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemory(log), nil
	case "redis":
		return NewRedis(cfg.Redis, log)
	default:
		return nil, errors.New("unknown job queue driver: " + cfg.Driver)
	}
}

// registry holds named handlers and runs them with fault isolation.
type registry struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

func newRegistry() *registry {
	return &registry{handlers: map[string][]Handler{}}
}

func (r *registry) add(name string, h Handler) {
	if h == nil {
		return
	}
	r.mu.Lock()
	r.handlers[name] = append(r.handlers[name], h)
	r.mu.Unlock()
}

// dispatch runs every handler registered for the job's name, sequentially.
// Panics and errors are contained per handler so a single bad invocation
// cannot crash the queue or starve sibling handlers.
func (r *registry) dispatch(ctx context.Context, job Job, log logx.Logger) {
	r.mu.RLock()
	hs := append([]Handler(nil), r.handlers[job.Name]...)
	r.mu.RUnlock()

	if len(hs) == 0 {
		log.Warn("no handler registered for job", logx.String("job", job.Name))
		return
	}
	for _, h := range hs {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("panic in job handler",
						logx.String("job", job.Name),
						logx.Any("panic", rec),
						logx.String("stack", string(debug.Stack())))
				}
			}()
			if err := h(ctx, job); err != nil {
				log.Warn("job handler failed", logx.String("job", job.Name), logx.String("id", job.ID), logx.Err(err))
			}
		}()
	}
}
