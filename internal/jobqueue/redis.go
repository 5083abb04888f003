package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Zeffuro/fakegaming-bot-sub003/pkg/logx"
)

// RedisQueue persists scheduled triggers in a sorted set keyed by ready time,
// so timers survive restarts and several processes can share one queue.
// Claiming a due member with ZREM makes dispatch at-most-once across workers,
// and idempotency keys are honored with SET NX.
type RedisQueue struct {
	log  logx.Logger
	reg  *registry
	rdb  *redis.Client
	cfg  RedisConfig
	keys redisKeys

	mu     sync.Mutex
	stopCh chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type redisKeys struct {
	scheduled string // ZSET: envelope -> ready-at unix seconds
	idemp     string // prefix for SET NX idempotency markers
}

func (k redisKeys) idempFor(name, key string) string {
	return k.idemp + name + ":" + key
}

// idempotencyTTL keeps the marker a bit past the trigger so late duplicates
// of the same logical trigger still collapse.
func idempotencyTTL(delay time.Duration) time.Duration {
	return delay + 2*time.Minute
}

type envelope struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Payload []byte `json:"payload,omitempty"`
	Attempt int    `json:"attempt"`
	ReadyAt int64  `json:"ready_at"`
	// Priority is carried for future consumers; dispatch order among jobs
	// due in the same poll is by ready time only.
	Priority int `json:"priority,omitempty"`
}

func (e envelope) encode() (string, error) {
	b, err := json.Marshal(e)
	return string(b), err
}

func decodeEnvelope(raw string) (envelope, error) {
	var e envelope
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return envelope{}, err
	}
	return e, nil
}

func NewRedis(cfg RedisConfig, log logx.Logger) (*RedisQueue, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("redis addr is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = "jobs"
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, DB: cfg.DB})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	return &RedisQueue{
		log: log.With(logx.String("comp", "jobqueue.redis")),
		reg: newRegistry(),
		rdb: rdb,
		cfg: cfg,
		keys: redisKeys{
			scheduled: prefix + ":scheduled",
			idemp:     prefix + ":idemp:",
		},
	}, nil
}

func (q *RedisQueue) On(name string, h Handler) { q.reg.add(name, h) }

func (q *RedisQueue) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopCh != nil {
		return nil
	}
	q.stopCh = make(chan struct{})
	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	stopCh := q.stopCh
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.pollLoop(runCtx, stopCh)
	}()
	q.log.Debug("started", logx.String("addr", q.cfg.Addr))
	return nil
}

func (q *RedisQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.stopCh == nil {
		q.mu.Unlock()
		return nil
	}
	stopCh := q.stopCh
	cancel := q.cancel
	q.stopCh = nil
	q.cancel = nil
	q.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	return q.rdb.Close()
}

// Schedule adds the trigger to the scheduled set. When an idempotency key is
// given, a duplicate schedule within the key's lifetime is collapsed: the
// call succeeds but nothing new is enqueued.
func (q *RedisQueue) Schedule(ctx context.Context, name string, payload []byte, opt Options) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	id := uuid.NewString()
	readyAt := time.Now().Add(opt.Delay)

	if key := strings.TrimSpace(opt.IdempotencyKey); key != "" {
		set, err := q.rdb.SetNX(ctx, q.keys.idempFor(name, key), id, idempotencyTTL(opt.Delay)).Result()
		if err != nil {
			return "", err
		}
		if !set {
			q.log.Debug("duplicate trigger collapsed", logx.String("job", name), logx.String("key", key))
			return id, nil
		}
	}

	env := envelope{ID: id, Name: name, Payload: payload, Attempt: 1, ReadyAt: readyAt.Unix(), Priority: opt.Priority}
	raw, err := env.encode()
	if err != nil {
		return "", err
	}
	err = q.rdb.ZAdd(ctx, q.keys.scheduled, redis.Z{
		Score:  float64(readyAt.Unix()),
		Member: raw,
	}).Err()
	if err != nil {
		return "", err
	}
	return id, nil
}

func (q *RedisQueue) pollLoop(ctx context.Context, stopCh <-chan struct{}) {
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			q.releaseDue(ctx)
		}
	}
}

func (q *RedisQueue) releaseDue(ctx context.Context) {
	now := time.Now().Unix()
	members, err := q.rdb.ZRangeByScore(ctx, q.keys.scheduled, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now, 10),
		Count: 10,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		q.log.Warn("scheduled set read failed", logx.Err(err))
		return
	}

	for _, raw := range members {
		// ZRem is the claim: only the worker that removed the member runs it.
		removed, err := q.rdb.ZRem(ctx, q.keys.scheduled, raw).Result()
		if err != nil {
			q.log.Warn("scheduled set claim failed", logx.Err(err))
			continue
		}
		if removed == 0 {
			continue
		}

		env, err := decodeEnvelope(raw)
		if err != nil {
			q.log.Warn("dropping malformed scheduled job", logx.Err(err))
			continue
		}
		q.reg.dispatch(ctx, Job{ID: env.ID, Name: env.Name, Payload: env.Payload, Attempt: env.Attempt}, q.log)
	}
}
