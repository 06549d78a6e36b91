// Package batchdata implements the Batch Data Provider: a single-flight,
// per-batch memoized data fetcher. Every item in a batch execution that
// asks for the same fetch key gets the same value, computed exactly once,
// no matter how many goroutines ask for it concurrently.
//
// The process holds one BatchCoordinator (Provider) at a time, matching
// the "singleton batch cache manager" lifecycle: reset on InitializeBatch,
// cleared implicitly when the next batch begins.
package batchdata

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// Fetcher produces the value for one fetch key, given the batch context.
type Fetcher func(ctx context.Context) (any, error)

type slot struct {
	done  chan struct{}
	value any
	err   error
}

// Provider memoizes fetchData calls within the scope of one batch, keyed
// by (batchID, fetchKey).
type Provider struct {
	mu      sync.Mutex
	batchID string
	slots   map[uint64]*slot
}

// New creates an uninitialized Provider; call InitializeBatch before the
// first FetchData.
func New() *Provider {
	return &Provider{slots: make(map[uint64]*slot)}
}

// InitializeBatch discards all memoized state from the previous batch and
// assigns a fresh batch id. An empty id argument generates one.
func (p *Provider) InitializeBatch(batchID string) string {
	if batchID == "" {
		batchID = uuid.NewString()
	}
	p.mu.Lock()
	p.batchID = batchID
	p.slots = make(map[uint64]*slot)
	p.mu.Unlock()
	return batchID
}

// BatchID returns the id of the batch currently in progress.
func (p *Provider) BatchID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.batchID
}

// FetchData returns the memoized value for key within the current batch,
// invoking fetch at most once per (batchID, key) regardless of how many
// goroutines call concurrently. Callers racing on a miss all block on the
// same in-flight fetch and receive its result.
func (p *Provider) FetchData(ctx context.Context, key string, fetch Fetcher) (any, error) {
	p.mu.Lock()
	k := computeKey(p.batchID, key)
	s, exists := p.slots[k]
	if !exists {
		s = &slot{done: make(chan struct{})}
		p.slots[k] = s
		p.mu.Unlock()

		s.value, s.err = fetch(ctx)
		close(s.done)
		return s.value, s.err
	}
	p.mu.Unlock()

	select {
	case <-s.done:
		return s.value, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// computeKey hashes (batchID, key) with xxhash, writing a zero byte between
// the two fields.
func computeKey(batchID, key string) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(batchID)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(key)
	return h.Sum64()
}

// Stats reports how many distinct keys have been memoized in the current
// batch, primarily for test assertions and diagnostics.
type Stats struct {
	BatchID  string
	Memoized int
}

func (p *Provider) StatsSnapshot() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{BatchID: p.batchID, Memoized: len(p.slots)}
}
