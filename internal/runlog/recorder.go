// Package runlog keeps per-job run history: a small in-memory ring for fast
// inspection, plus asynchronous best-effort persistence for longer-term
// history. Persistence failures are logged and swallowed; observability must
// never destabilize the scheduling loop.
package runlog

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Zeffuro/fakegaming-bot-sub003/internal/storage"
	"github.com/Zeffuro/fakegaming-bot-sub003/pkg/logx"
)

// keepPerName bounds the in-memory ring to the most recent runs per job name.
const keepPerName = 10

// Entry describes one handler invocation.
type Entry struct {
	Name       string
	StartedAt  time.Time
	FinishedAt time.Time
	OK         bool
	Meta       map[string]any
	Error      string
}

// Persister is the durable sink; satisfied by storage.Store.
type Persister interface {
	AppendJobRun(ctx context.Context, r storage.JobRun) error
}

type Recorder struct {
	log     logx.Logger
	sink    Persister
	timeout time.Duration

	mu     sync.Mutex
	byName map[string][]Entry

	queue  chan storage.JobRun
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// New creates a recorder. sink may be nil, in which case entries live only in
// the in-memory ring.
func New(sink Persister, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Recorder{
		log:     log,
		sink:    sink,
		timeout: 5 * time.Second,
		byName:  map[string][]Entry{},
		queue:   make(chan storage.JobRun, 128),
		stopCh:  make(chan struct{}),
	}
	r.wg.Add(1)
	go r.persistLoop()
	return r
}

// Record updates the ring synchronously, then hands the entry to the persist
// worker. It never blocks: if the persist queue is full the entry is dropped.
func (r *Recorder) Record(e Entry) {
	if e.FinishedAt.IsZero() {
		e.FinishedAt = time.Now()
	}

	r.mu.Lock()
	ring := append(r.byName[e.Name], e)
	if len(ring) > keepPerName {
		ring = ring[len(ring)-keepPerName:]
	}
	r.byName[e.Name] = ring
	r.mu.Unlock()

	if r.sink == nil {
		return
	}
	row := storage.JobRun{
		Name:       e.Name,
		StartedAt:  e.StartedAt,
		FinishedAt: e.FinishedAt,
		OK:         e.OK,
		Error:      e.Error,
	}
	if len(e.Meta) > 0 {
		if b, err := json.Marshal(e.Meta); err == nil {
			row.MetaJSON = string(b)
		}
	}
	select {
	case r.queue <- row:
	default:
		r.log.Debug("run history persist queue full, dropping entry", logx.String("job", e.Name))
	}
}

// Recent returns a copy of the ring for one job name, oldest first.
func (r *Recorder) Recent(name string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	ring := r.byName[name]
	out := make([]Entry, len(ring))
	copy(out, ring)
	return out
}

// Names returns the job names with recorded runs.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	return out
}

// Close stops the persist worker after draining what it can.
func (r *Recorder) Close() {
	r.once.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

func (r *Recorder) persistLoop() {
	defer r.wg.Done()
	for {
		select {
		case row := <-r.queue:
			r.persistOne(row)
		case <-r.stopCh:
			// drain without blocking
			for {
				select {
				case row := <-r.queue:
					r.persistOne(row)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) persistOne(row storage.JobRun) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.sink.AppendJobRun(ctx, row); err != nil {
		r.log.Warn("run history persist failed", logx.String("job", row.Name), logx.Err(err))
	}
}
