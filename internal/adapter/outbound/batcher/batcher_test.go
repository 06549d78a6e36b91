package batcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func echoExecutor(calls *atomic.Int32) Executor {
	return func(ctx context.Context, ids []string) (map[string]any, map[string]error) {
		calls.Add(1)
		values := make(map[string]any, len(ids))
		for _, id := range ids {
			values[id] = "r-" + id
		}
		return values, nil
	}
}

func TestBatchCoalescing(t *testing.T) {
	var calls atomic.Int32
	b := New(Config{MaxBatchSize: 3, MaxWaitTime: 100 * time.Millisecond, EnableAutoBatching: true}, echoExecutor(&calls))

	var wg sync.WaitGroup
	results := make(map[string]any)
	var mu sync.Mutex
	for _, id := range []string{"a", "b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			v, err := b.Submit(context.Background(), id)
			if err != nil {
				t.Errorf("Submit(%s) error: %v", id, err)
				return
			}
			mu.Lock()
			results[id] = v
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	if results["a"] != "r-a" || results["b"] != "r-b" {
		t.Errorf("results = %v, want r-a/r-b", results)
	}
	if calls.Load() != 1 {
		t.Errorf("executor called %d times, want exactly 1", calls.Load())
	}
}

func TestBatchSizeOfOneStillBatches(t *testing.T) {
	var calls atomic.Int32
	b := New(Config{MaxBatchSize: 1, MaxWaitTime: time.Second, EnableAutoBatching: true}, echoExecutor(&calls))

	v, err := b.Submit(context.Background(), "solo")
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if v != "r-solo" {
		t.Errorf("v = %v, want r-solo", v)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestDispatchOnSizeTrigger(t *testing.T) {
	var calls atomic.Int32
	b := New(Config{MaxBatchSize: 2, MaxWaitTime: time.Hour, EnableAutoBatching: true}, echoExecutor(&calls))

	var wg sync.WaitGroup
	wg.Add(2)
	for _, id := range []string{"x", "y"} {
		go func(id string) {
			defer wg.Done()
			if _, err := b.Submit(context.Background(), id); err != nil {
				t.Errorf("Submit(%s): %v", id, err)
			}
		}(id)
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("size-triggered dispatch never completed; MaxWaitTime is 1h so only the size trigger should fire")
	}
}

func TestMissingIDBecomesRuleNotFound(t *testing.T) {
	executor := func(ctx context.Context, ids []string) (map[string]any, map[string]error) {
		return map[string]any{}, nil
	}
	b := New(Config{MaxBatchSize: 1, EnableAutoBatching: true}, executor)

	_, err := b.Submit(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error for id absent from executor response")
	}
}

func TestCloseRejectsPending(t *testing.T) {
	executor := func(ctx context.Context, ids []string) (map[string]any, map[string]error) {
		return nil, nil
	}
	b := New(Config{MaxBatchSize: 10, MaxWaitTime: time.Hour, EnableAutoBatching: true}, executor)

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Submit(context.Background(), "stuck")
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	b.Close()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected batcher-closed error")
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock pending Submit")
	}
}

func TestAutoBatchingDisabledRunsImmediately(t *testing.T) {
	var calls atomic.Int32
	b := New(Config{EnableAutoBatching: false}, echoExecutor(&calls))

	v, err := b.Submit(context.Background(), "solo")
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if v != "r-solo" {
		t.Errorf("v = %v, want r-solo", v)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestStatsCountRequestsAcrossBatches(t *testing.T) {
	var calls atomic.Int32
	executor := func(ctx context.Context, ids []string) (map[string]any, map[string]error) {
		calls.Add(1)
		values := make(map[string]any, len(ids))
		for _, id := range ids {
			values[id] = fmt.Sprintf("r-%s", id)
		}
		return values, nil
	}
	b := New(Config{MaxBatchSize: 5, MaxWaitTime: 30 * time.Millisecond, MaxConcurrentBatches: 1, EnableAutoBatching: true}, executor)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = b.Submit(context.Background(), fmt.Sprintf("id%d", i))
		}(i)
	}
	wg.Wait()

	stats := b.Stats()
	if stats.RequestsSubmitted != 5 {
		t.Errorf("RequestsSubmitted = %d, want 5", stats.RequestsSubmitted)
	}
	if stats.BatchesDispatched == 0 {
		t.Error("expected at least one batch dispatched")
	}
}

func TestConcurrentSubmitsNeverExceedMaxBatchSize(t *testing.T) {
	const maxBatchSize = 3
	const submitters = 20

	var mu sync.Mutex
	var oversized []int
	executor := func(ctx context.Context, ids []string) (map[string]any, map[string]error) {
		if len(ids) > maxBatchSize {
			mu.Lock()
			oversized = append(oversized, len(ids))
			mu.Unlock()
		}
		values := make(map[string]any, len(ids))
		for _, id := range ids {
			values[id] = "r-" + id
		}
		return values, nil
	}
	b := New(Config{MaxBatchSize: maxBatchSize, MaxWaitTime: time.Hour, MaxConcurrentBatches: 4, EnableAutoBatching: true}, executor)

	var wg sync.WaitGroup
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := b.Submit(context.Background(), fmt.Sprintf("id%d", i)); err != nil {
				t.Errorf("Submit(id%d): %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if len(oversized) > 0 {
		t.Errorf("executor received oversized batches (len > %d): %v", maxBatchSize, oversized)
	}
	if stats := b.Stats(); stats.RequestsSubmitted != submitters {
		t.Errorf("RequestsSubmitted = %d, want %d", stats.RequestsSubmitted, submitters)
	}
}
