package jobs

import (
	"context"
	"time"

	"github.com/Zeffuro/fakegaming-bot-sub003/internal/jobqueue"
	"github.com/Zeffuro/fakegaming-bot-sub003/pkg/logx"
)

// singletonBucket is the coarse time bucket used to derive idempotency keys.
// Two re-schedules of the same job targeting the same minute collapse into
// one pending trigger on adapters that honor idempotency keys.
const singletonBucket = time.Minute

// SingletonKey derives the idempotency key for a trigger of name firing
// around at.
func SingletonKey(name string, at time.Time) string {
	return name + "@" + at.UTC().Truncate(singletonBucket).Format("200601021504")
}

// reschedule arms the next trigger for a job using a singleton key.
// Scheduling failures are logged and swallowed: the queue adapter owns
// durability, and the next successful run re-arms the chain.
func (d Deps) reschedule(ctx context.Context, name string, delay time.Duration) {
	fireAt := d.now().Add(delay)
	_, err := d.Queue.Schedule(ctx, name, nil, jobqueue.Options{
		Delay:          delay,
		IdempotencyKey: SingletonKey(name, fireAt),
	})
	if err != nil {
		d.log().Warn("re-schedule failed", logx.String("job", name), logx.Duration("delay", delay), logx.Err(err))
		return
	}
	d.log().Debug("re-scheduled", logx.String("job", name), logx.Duration("delay", delay))
}
