package versionmgr

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/decisiongrid/rulecore/internal/domain/artifact"
	"github.com/decisiongrid/rulecore/internal/domain/rulecache"
	"github.com/decisiongrid/rulecore/internal/domain/version"
	"github.com/decisiongrid/rulecore/internal/port/outbound"
	"github.com/decisiongrid/rulecore/internal/rerr"
)

// fakeLoader is a minimal outbound.Loader double driven entirely by test
// fixtures, in the teacher's style of hand-rolled fakes over mocking
// frameworks.
type fakeLoader struct {
	mu    sync.Mutex
	rules map[string]*outbound.LoadedRule
	calls map[string]int
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{rules: make(map[string]*outbound.LoadedRule), calls: make(map[string]int)}
}

func (f *fakeLoader) put(id, ver string, lastModified int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules[id] = &outbound.LoadedRule{
		Artifact: artifact.Artifact(`{"nodes":[{"id":"` + id + `"}]}`),
		Metadata: artifact.Metadata{ID: id, Version: ver, LastModified: lastModified},
	}
}

func (f *fakeLoader) LoadAllRules(ctx context.Context) (map[string]*outbound.LoadedRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]*outbound.LoadedRule, len(f.rules))
	for k, v := range f.rules {
		out[k] = v
	}
	return out, nil
}

func (f *fakeLoader) LoadRule(ctx context.Context, id string) (*outbound.LoadedRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id]++
	r, ok := f.rules[id]
	if !ok {
		return nil, rerr.ErrRuleNotFound
	}
	return r, nil
}

func (f *fakeLoader) CheckVersions(ctx context.Context, current map[string]string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]bool, len(current))
	for id, v := range current {
		r, ok := f.rules[id]
		out[id] = !ok || r.Metadata.Version != v
	}
	return out, nil
}

func seedCache(t *testing.T, id, ver string, lastModified int64) *rulecache.Cache {
	t.Helper()
	c := rulecache.New(0)
	c.Set(id, artifact.Artifact(`{"nodes":[{"id":"`+id+`"}]}`), artifact.Metadata{ID: id, Version: ver, LastModified: lastModified})
	return c
}

func TestAutoRefreshCacheCloudWins(t *testing.T) {
	cache := seedCache(t, "r1", "1.0.0", 100)
	loader := newFakeLoader()
	loader.put("r1", "2.0.0", 200)

	m := New(cache, loader)
	result := m.AutoRefreshCache(context.Background(), nil, RefreshOptions{Strategy: version.StrategyCloudWins})

	if len(result.Updated) != 1 || result.Updated[0] != "r1" {
		t.Fatalf("Updated = %v, want [r1]", result.Updated)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("Errors = %v, want none", result.Errors)
	}
	meta, ok := cache.GetMetadata("r1")
	if !ok || meta.Version != "2.0.0" {
		t.Fatalf("cache metadata = %+v, want version 2.0.0", meta)
	}
}

func TestAutoRefreshCacheNewerWinsNoOp(t *testing.T) {
	cache := seedCache(t, "r1", "1.0.0", 500)
	loader := newFakeLoader()
	// cloud version differs but its lastModified is older than local.
	loader.put("r1", "2.0.0", 100)

	m := New(cache, loader)
	result := m.AutoRefreshCache(context.Background(), nil, RefreshOptions{Strategy: version.StrategyNewerWins})

	if len(result.Updated) != 0 {
		t.Fatalf("Updated = %v, want none since cloud is not newer", result.Updated)
	}
	meta, _ := cache.GetMetadata("r1")
	if meta.Version != "1.0.0" {
		t.Fatalf("local version mutated to %q, want unchanged 1.0.0", meta.Version)
	}
}

func TestAutoRefreshCacheNewerWinsAppliesNewerCloud(t *testing.T) {
	cache := seedCache(t, "r1", "1.0.0", 100)
	loader := newFakeLoader()
	loader.put("r1", "2.0.0", 500)

	m := New(cache, loader)
	result := m.AutoRefreshCache(context.Background(), nil, RefreshOptions{Strategy: version.StrategyNewerWins})

	if len(result.Updated) != 1 {
		t.Fatalf("Updated = %v, want [r1]", result.Updated)
	}
}

func TestRollbackRuleRestoresByteIdenticalSnapshot(t *testing.T) {
	cache := seedCache(t, "r1", "1.0.0", 100)
	loader := newFakeLoader()

	m := New(cache, loader)
	if err := m.CreateRollbackSnapshot("r1", "manual"); err != nil {
		t.Fatalf("CreateRollbackSnapshot: %v", err)
	}

	original, _ := cache.Get("r1")
	originalCopy := append(artifact.Artifact(nil), original...)

	cache.Set("r1", artifact.Artifact(`{"nodes":[{"id":"r1","changed":true}]}`), artifact.Metadata{ID: "r1", Version: "9.9.9"})

	if err := m.RollbackRule("r1", 0); err != nil {
		t.Fatalf("RollbackRule: %v", err)
	}

	restored, ok := cache.Get("r1")
	if !ok {
		t.Fatal("rule missing after rollback")
	}
	if string(restored) != string(originalCopy) {
		t.Fatalf("restored artifact = %s, want byte-identical to snapshot %s", restored, originalCopy)
	}
	meta, _ := cache.GetMetadata("r1")
	if meta.Version != "1.0.0" {
		t.Fatalf("restored version = %q, want 1.0.0", meta.Version)
	}
}

func TestRollbackRuleOutOfRangeReturnsErrRollback(t *testing.T) {
	cache := seedCache(t, "r1", "1.0.0", 100)
	m := New(cache, newFakeLoader())

	err := m.RollbackRule("r1", 3)
	if kind, ok := rerr.Of(err); !ok || kind != rerr.KindRollbackError {
		t.Fatalf("RollbackRule error = %v, want KindRollbackError", err)
	}
}

func TestCreateRollbackSnapshotBoundedRing(t *testing.T) {
	cache := seedCache(t, "r1", "1.0.0", 100)
	m := New(cache, newFakeLoader())

	for i := 0; i < maxSnapshotsPerRule+3; i++ {
		if err := m.CreateRollbackSnapshot("r1", "iteration"); err != nil {
			t.Fatalf("CreateRollbackSnapshot: %v", err)
		}
	}

	stats := m.GetVersionStats()
	if stats.SnapshotCount != maxSnapshotsPerRule {
		t.Fatalf("SnapshotCount = %d, want %d", stats.SnapshotCount, maxSnapshotsPerRule)
	}
	if stats.RuleCount != 1 {
		t.Fatalf("RuleCount = %d, want 1", stats.RuleCount)
	}
}

func TestDetectVersionConflictsClassifiesRuleDeleted(t *testing.T) {
	cache := seedCache(t, "r1", "1.0.0", 100)
	loader := newFakeLoader() // r1 absent upstream

	m := New(cache, loader)
	conflicts, err := m.DetectVersionConflicts(context.Background(), nil)
	if err != nil {
		t.Fatalf("DetectVersionConflicts: %v", err)
	}
	if len(conflicts) != 1 || conflicts[0].ConflictType != version.ConflictRuleDeleted {
		t.Fatalf("conflicts = %+v, want one rule-deleted conflict", conflicts)
	}
}

func TestInvalidateRulesReloadsFromLoader(t *testing.T) {
	cache := seedCache(t, "r1", "1.0.0", 100)
	loader := newFakeLoader()
	loader.put("r1", "3.0.0", 999)

	m := New(cache, loader)
	result := m.InvalidateRules(context.Background(), []string{"r1"}, RefreshOptions{})

	if len(result.Updated) != 1 {
		t.Fatalf("Updated = %v, want [r1]", result.Updated)
	}
	meta, _ := cache.GetMetadata("r1")
	if meta.Version != "3.0.0" {
		t.Fatalf("version after invalidate = %q, want 3.0.0", meta.Version)
	}
}

func TestDownloadAndStoreRetriesRecoverableFailures(t *testing.T) {
	cache := seedCache(t, "r1", "1.0.0", 100)
	loader := newFakeLoader()

	attempts := 0
	m := New(cache, flakyLoader(loader, &attempts, 2))

	updated, err := m.downloadAndStore(context.Background(), "r1", RefreshOptions{MaxRetries: 3, RetryDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("downloadAndStore: %v", err)
	}
	if !updated {
		t.Fatal("expected update after recoverable retries")
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3 (2 failures + 1 success)", attempts)
	}
}

// flakyLoader wraps a fakeLoader so the first failBefore LoadRule calls
// return a recoverable network error before succeeding.
type flakyWrap struct {
	*fakeLoader
	attempts   *int
	failBefore int
}

func flakyLoader(base *fakeLoader, attempts *int, failBefore int) outbound.Loader {
	base.put("r1", "2.0.0", 200)
	return &flakyWrap{fakeLoader: base, attempts: attempts, failBefore: failBefore}
}

func (f *flakyWrap) LoadRule(ctx context.Context, id string) (*outbound.LoadedRule, error) {
	*f.attempts++
	if *f.attempts <= f.failBefore {
		return nil, rerr.New(rerr.KindNetwork, context.DeadlineExceeded)
	}
	return f.fakeLoader.LoadRule(ctx, id)
}
