package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Zeffuro/fakegaming-bot-sub003/pkg/logx"
)

// MemoryQueue is the in-process reference adapter: timers plus a single
// dispatch goroutine. Executing all handlers on one goroutine upholds the
// at-most-one-active-invocation-per-job assumption the rest of the engine
// relies on. IdempotencyKey and Priority are ignored; nothing survives a
// restart.
type MemoryQueue struct {
	log logx.Logger
	reg *registry

	mu     sync.Mutex
	timers map[string]*time.Timer
	runQ   chan Job
	stopCh chan struct{}
	// stopDone is non-nil while a Stop() is in progress.
	stopDone chan struct{}
	runCtx   context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewMemory(log logx.Logger) *MemoryQueue {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &MemoryQueue{
		log:    log.With(logx.String("comp", "jobqueue.memory")),
		reg:    newRegistry(),
		timers: map[string]*time.Timer{},
	}
}

func (q *MemoryQueue) On(name string, h Handler) { q.reg.add(name, h) }

func (q *MemoryQueue) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopCh != nil {
		return nil
	}
	q.stopCh = make(chan struct{})
	q.runCtx, q.cancel = context.WithCancel(ctx)
	// Fresh queue per run to avoid executing stale triggers after a
	// stop/start toggle.
	q.runQ = make(chan Job, 256)

	runCtx := q.runCtx
	stopCh := q.stopCh
	runQ := q.runQ

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.dispatchLoop(runCtx, stopCh, runQ)
	}()
	q.log.Debug("started")
	return nil
}

func (q *MemoryQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.stopCh == nil {
		q.mu.Unlock()
		return nil
	}
	if q.stopDone != nil {
		done := q.stopDone
		q.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return nil
	}
	done := make(chan struct{})
	q.stopDone = done
	stopCh := q.stopCh
	cancel := q.cancel
	q.cancel = nil

	// Clear pending timers; in-flight handler invocations run to completion.
	for id, t := range q.timers {
		_ = t.Stop()
		delete(q.timers, id)
	}
	q.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}

	go func() {
		q.wg.Wait()
		q.mu.Lock()
		q.stopCh = nil
		q.runQ = nil
		q.runCtx = nil
		q.stopDone = nil
		q.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// stop continues in background
	}
	return nil
}

// Schedule arms a timer for the trigger. On a stopped queue this is a no-op
// that drops the timer; the id is still returned.
func (q *MemoryQueue) Schedule(_ context.Context, name string, payload []byte, opt Options) (string, error) {
	id := uuid.NewString()
	job := Job{ID: id, Name: name, Payload: payload, Attempt: 1}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopCh == nil {
		return id, nil
	}

	if opt.Delay <= 0 {
		q.enqueueLocked(job)
		return id, nil
	}

	t := time.AfterFunc(opt.Delay, func() {
		q.mu.Lock()
		delete(q.timers, id)
		stopped := q.stopCh == nil
		if !stopped {
			q.enqueueLocked(job)
		}
		q.mu.Unlock()
	})
	q.timers[id] = t
	return id, nil
}

func (q *MemoryQueue) enqueueLocked(job Job) {
	select {
	case q.runQ <- job:
	default:
		q.log.Warn("run queue full, dropping trigger", logx.String("job", job.Name))
	}
}

func (q *MemoryQueue) dispatchLoop(ctx context.Context, stopCh <-chan struct{}, runQ <-chan Job) {
	for {
		// fast-exit so stop wins over queued work
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case job := <-runQ:
			q.reg.dispatch(ctx, job, q.log)
		}
	}
}
