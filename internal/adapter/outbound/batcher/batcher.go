// Package batcher coalesces individual rule/version requests into bounded
// batch calls against a caller-supplied executor, trading a little latency
// (up to MaxWaitTime) for fewer round trips to the registry.
package batcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/decisiongrid/rulecore/internal/rerr"
)

// Executor runs one batch of ids and returns a value or error per id. It is
// never required to populate every id: a missing id is reported to its
// caller as rule-not-found.
type Executor func(ctx context.Context, ids []string) (values map[string]any, errs map[string]error)

// Config tunes batch formation.
type Config struct {
	MaxBatchSize         int
	MaxWaitTime          time.Duration
	MaxConcurrentBatches int
	EnableAutoBatching   bool
}

func (c Config) withDefaults() Config {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 1
	}
	if c.MaxWaitTime <= 0 {
		c.MaxWaitTime = 50 * time.Millisecond
	}
	if c.MaxConcurrentBatches <= 0 {
		c.MaxConcurrentBatches = 4
	}
	return c
}

type result struct {
	value any
	err   error
}

type pendingRequest struct {
	id   string
	done chan result
}

// Batcher coalesces Submit calls into batches dispatched through Executor.
type Batcher struct {
	cfg      Config
	executor Executor
	sem      chan struct{}

	mu      sync.Mutex
	pending []*pendingRequest
	timer   *time.Timer
	closed  bool

	dispatched atomic.Uint64
	requests   atomic.Uint64
}

// New creates a Batcher. executor must not be nil.
func New(cfg Config, executor Executor) *Batcher {
	cfg = cfg.withDefaults()
	return &Batcher{
		cfg:      cfg,
		executor: executor,
		sem:      make(chan struct{}, cfg.MaxConcurrentBatches),
	}
}

// Submit enqueues id for the next batch and blocks until that batch's
// result for id is available, ctx is cancelled, or the Batcher is closed.
// When EnableAutoBatching is false, Submit runs id through the executor
// immediately as a batch of one.
func (b *Batcher) Submit(ctx context.Context, id string) (any, error) {
	b.requests.Add(1)

	if !b.cfg.EnableAutoBatching {
		values, errs := b.executor(ctx, []string{id})
		return resolveOne(id, values, errs)
	}

	req := &pendingRequest{id: id, done: make(chan result, 1)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, rerr.ErrBatcherClosed
	}
	b.pending = append(b.pending, req)
	first := len(b.pending) == 1
	trigger := len(b.pending) >= b.cfg.MaxBatchSize
	if first {
		b.timer = time.AfterFunc(b.cfg.MaxWaitTime, b.flush)
	}
	b.mu.Unlock()

	if trigger {
		b.flush()
	}

	select {
	case r := <-req.done:
		return r.value, r.err
	case <-ctx.Done():
		return nil, rerr.New(rerr.KindTimeout, ctx.Err())
	}
}

// flush dispatches at most cfg.MaxBatchSize of whatever is currently
// pending as one batch, leaving any excess queued for the next flush. Safe
// to call concurrently (from the size trigger and the wait timer); a
// caller that loses the race to an earlier flush simply takes whatever is
// left, including nothing.
func (b *Batcher) flush() {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}

	n := len(b.pending)
	if n > b.cfg.MaxBatchSize {
		n = b.cfg.MaxBatchSize
	}
	batch := b.pending[:n]
	rest := b.pending[n:]
	b.pending = rest

	// If enough requests already queued up behind this batch to fill
	// another one, re-flush immediately instead of waiting for the timer.
	reflush := len(rest) >= b.cfg.MaxBatchSize
	if len(rest) > 0 && !reflush {
		b.timer = time.AfterFunc(b.cfg.MaxWaitTime, b.flush)
	}
	b.mu.Unlock()

	go b.run(batch)
	if reflush {
		go b.flush()
	}
}

// run executes one batch, holding a concurrency slot for its duration so
// that excess batches queue behind MaxConcurrentBatches.
func (b *Batcher) run(batch []*pendingRequest) {
	b.sem <- struct{}{}
	defer func() { <-b.sem }()

	ids := make([]string, len(batch))
	for i, r := range batch {
		ids[i] = r.id
	}

	values, errs := b.executor(context.Background(), ids)
	b.dispatched.Add(1)

	for _, r := range batch {
		v, err := resolveOne(r.id, values, errs)
		r.done <- result{value: v, err: err}
	}
}

func resolveOne(id string, values map[string]any, errs map[string]error) (any, error) {
	if err, ok := errs[id]; ok {
		return nil, err
	}
	if v, ok := values[id]; ok {
		return v, nil
	}
	return nil, rerr.New(rerr.KindRuleNotFound, fmt.Errorf("no result for id %q in batch response", id))
}

// Close rejects every currently pending request and prevents new ones from
// being queued. Batches already dispatched still run to completion.
func (b *Batcher) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	for _, r := range pending {
		r.done <- result{err: rerr.ErrBatcherClosed}
	}
}

// Stats reports cumulative batcher activity.
type Stats struct {
	RequestsSubmitted uint64
	BatchesDispatched uint64
}

func (b *Batcher) Stats() Stats {
	return Stats{
		RequestsSubmitted: b.requests.Load(),
		BatchesDispatched: b.dispatched.Load(),
	}
}
