// Package versionmgr implements the Version Manager: it reconciles the
// Cache's local view of rule metadata against an upstream Loader,
// classifies conflicts, resolves them under a pluggable strategy, and
// maintains a bounded rollback history per rule.
package versionmgr

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/decisiongrid/rulecore/internal/domain/artifact"
	"github.com/decisiongrid/rulecore/internal/domain/rulecache"
	"github.com/decisiongrid/rulecore/internal/domain/version"
	"github.com/decisiongrid/rulecore/internal/port/outbound"
	"github.com/decisiongrid/rulecore/internal/rerr"
)

// maxSnapshotsPerRule bounds the rollback ring buffer per spec §4.8.
const maxSnapshotsPerRule = 5

const defaultConcurrency = 4

// RefreshOptions tunes one autoRefreshCache / invalidateRules run.
type RefreshOptions struct {
	Strategy            version.Strategy
	BatchSize           int
	MaxRetries          int
	RetryDelay          time.Duration
	CreateSnapshot      bool
	ValidateAfterUpdate bool
}

func (o RefreshOptions) concurrency() int {
	if o.BatchSize <= 0 {
		return defaultConcurrency
	}
	return o.BatchSize
}

// Manager is the Version Manager.
type Manager struct {
	cache  *rulecache.Cache
	loader outbound.Loader

	mu        sync.Mutex
	snapshots map[string][]version.Snapshot // ruleId -> newest-first ring, bounded to maxSnapshotsPerRule
}

// New creates a Manager over the given Cache and Loader.
func New(cache *rulecache.Cache, loader outbound.Loader) *Manager {
	return &Manager{
		cache:     cache,
		loader:    loader,
		snapshots: make(map[string][]version.Snapshot),
	}
}

// CompareVersions compares local cache metadata against the upstream view
// for ids (or every cached id if ids is empty).
func (m *Manager) CompareVersions(ctx context.Context, ids []string) ([]version.ComparisonResult, error) {
	if len(ids) == 0 {
		ids = m.cache.Keys()
	}

	localVersions := make(map[string]string, len(ids))
	for _, id := range ids {
		if meta, ok := m.cache.GetMetadata(id); ok {
			localVersions[id] = meta.Version
		}
	}

	needsUpdate, err := m.loader.CheckVersions(ctx, localVersions)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	var results []version.ComparisonResult
	grp := pool.New().WithMaxGoroutines(defaultConcurrency)
	for _, id := range ids {
		id := id
		meta, ok := m.cache.GetMetadata(id)
		if !ok {
			continue
		}
		grp.Go(func() {
			cr := version.ComparisonResult{
				RuleID:        id,
				LocalVersion:  meta.Version,
				CloudVersion:  meta.Version,
				LocalModified: meta.LastModified,
				CloudModified: meta.LastModified,
				VersionDiff:   version.DiffSame,
			}
			if needsUpdate[id] {
				if lr, err := m.loader.LoadRule(ctx, id); err == nil {
					cr.CloudVersion = lr.Metadata.Version
					cr.CloudModified = lr.Metadata.LastModified
					cr.NeedsUpdate = true
					cr.VersionDiff = version.Compare(meta.Version, lr.Metadata.Version)
				}
			}
			mu.Lock()
			results = append(results, cr)
			mu.Unlock()
		})
	}
	grp.Wait()
	return results, nil
}

// DetectVersionConflicts classifies every id whose upstream state diverges
// from the cached one.
func (m *Manager) DetectVersionConflicts(ctx context.Context, ids []string) ([]version.Conflict, error) {
	if len(ids) == 0 {
		ids = m.cache.Keys()
	}

	localVersions := make(map[string]string, len(ids))
	for _, id := range ids {
		if meta, ok := m.cache.GetMetadata(id); ok {
			localVersions[id] = meta.Version
		}
	}

	needsUpdate, err := m.loader.CheckVersions(ctx, localVersions)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	var conflicts []version.Conflict
	grp := pool.New().WithMaxGoroutines(defaultConcurrency)
	for _, id := range ids {
		if !needsUpdate[id] {
			continue
		}
		id := id
		localMeta, _ := m.cache.GetMetadata(id)
		grp.Go(func() {
			c := version.Conflict{
				RuleID:        id,
				LocalVersion:  localMeta.Version,
				LocalModified: localMeta.LastModified,
			}

			lr, err := m.loader.LoadRule(ctx, id)
			if err != nil {
				if kind, ok := rerr.Of(err); ok && kind == rerr.KindRuleNotFound {
					c.ConflictType = version.ConflictRuleDeleted
					mu.Lock()
					conflicts = append(conflicts, c)
					mu.Unlock()
				}
				return
			}

			c.CloudVersion = lr.Metadata.Version
			c.CloudModified = lr.Metadata.LastModified
			switch {
			case localMeta.Version != lr.Metadata.Version:
				c.ConflictType = version.ConflictVersionMismatch
			case localMeta.LastModified != lr.Metadata.LastModified:
				c.ConflictType = version.ConflictTimestampOnly
			default:
				return
			}
			mu.Lock()
			conflicts = append(conflicts, c)
			mu.Unlock()
		})
	}
	grp.Wait()
	return conflicts, nil
}

// AutoRefreshCache detects conflicts among ids and resolves each under
// opts.Strategy. A failure on one rule accumulates in the result's Errors
// map rather than aborting the refresh of the rest.
func (m *Manager) AutoRefreshCache(ctx context.Context, ids []string, opts RefreshOptions) *version.Result {
	start := time.Now()
	result := version.NewResult()

	conflicts, err := m.DetectVersionConflicts(ctx, ids)
	if err != nil {
		result.Errors["*"] = err
		result.ProcessingTime = time.Since(start)
		return result
	}

	var mu sync.Mutex
	grp := pool.New().WithMaxGoroutines(opts.concurrency())
	for _, c := range conflicts {
		c := c
		grp.Go(func() {
			updated, rolledBack, err := m.resolveConflict(ctx, c, opts)
			mu.Lock()
			defer mu.Unlock()
			result.Processed = append(result.Processed, c.RuleID)
			result.Conflicts = append(result.Conflicts, c)
			if err != nil {
				result.Errors[c.RuleID] = err
				return
			}
			if updated {
				result.Updated = append(result.Updated, c.RuleID)
			}
			if rolledBack {
				result.Rollbacks = append(result.Rollbacks, c.RuleID)
			}
		})
	}
	grp.Wait()

	result.ProcessingTime = time.Since(start)
	return result
}

func (m *Manager) resolveConflict(ctx context.Context, c version.Conflict, opts RefreshOptions) (updated, rolledBack bool, err error) {
	switch opts.Strategy {
	case version.StrategyLocalWins, version.StrategyManual, "":
		return false, false, nil
	case version.StrategyCloudWins:
		updated, err = m.downloadAndStore(ctx, c.RuleID, opts)
		return updated, false, err
	case version.StrategyNewerWins:
		if c.CloudModified <= c.LocalModified {
			return false, false, nil
		}
		updated, err = m.downloadAndStore(ctx, c.RuleID, opts)
		return updated, false, err
	case version.StrategyRollback:
		if err := m.RollbackRule(c.RuleID, 0); err != nil {
			return false, false, err
		}
		return false, true, nil
	default:
		return false, false, rerr.New(rerr.KindConfigError, fmt.Errorf("unknown refresh strategy %q", opts.Strategy))
	}
}

// downloadAndStore fetches ruleId from the loader and writes it to the
// cache, retrying recoverable failures up to opts.MaxRetries times.
func (m *Manager) downloadAndStore(ctx context.Context, ruleID string, opts RefreshOptions) (bool, error) {
	if opts.CreateSnapshot {
		_ = m.CreateRollbackSnapshot(ruleID, "auto-refresh")
	}

	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(opts.RetryDelay):
			case <-ctx.Done():
				return false, rerr.New(rerr.KindTimeout, ctx.Err())
			}
		}

		lr, err := m.loader.LoadRule(ctx, ruleID)
		if err == nil {
			m.cache.Set(ruleID, lr.Artifact, lr.Metadata)
			if opts.ValidateAfterUpdate {
				got, ok := m.cache.Get(ruleID)
				if !ok || !bytes.Equal(got, lr.Artifact) {
					return false, rerr.New(rerr.KindValidationErr, fmt.Errorf("post-write validation failed for rule %q", ruleID))
				}
			}
			return true, nil
		}

		lastErr = err
		kind, isCore := rerr.Of(err)
		if !(isCore && kind.Recoverable()) {
			break
		}
	}
	return false, lastErr
}

// InvalidateRules unconditionally drops and reloads each id, with the same
// retry/backoff and optional post-write validation as a refresh.
func (m *Manager) InvalidateRules(ctx context.Context, ids []string, opts RefreshOptions) *version.Result {
	start := time.Now()
	result := version.NewResult()

	for _, id := range ids {
		result.Processed = append(result.Processed, id)
		m.cache.Invalidate(id)

		updated, err := m.downloadAndStore(ctx, id, opts)
		if err != nil {
			result.Errors[id] = err
			continue
		}
		if updated {
			result.Updated = append(result.Updated, id)
		}
	}

	result.ProcessingTime = time.Since(start)
	return result
}

// CreateRollbackSnapshot copies ruleId's current cache state into its
// rollback ring, discarding the oldest snapshot once the ring exceeds
// maxSnapshotsPerRule.
func (m *Manager) CreateRollbackSnapshot(ruleID, reason string) error {
	data, ok := m.cache.Get(ruleID)
	if !ok {
		return rerr.ErrRuleNotFound
	}
	meta, _ := m.cache.GetMetadata(ruleID)

	snap := version.Snapshot{
		Timestamp: time.Now(),
		RuleID:    ruleID,
		Version:   meta.Version,
		Artifact:  append(artifact.Artifact(nil), data...),
		Metadata:  meta.Clone(),
		Reason:    reason,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	ring := append([]version.Snapshot{snap}, m.snapshots[ruleID]...)
	if len(ring) > maxSnapshotsPerRule {
		ring = ring[:maxSnapshotsPerRule]
	}
	m.snapshots[ruleID] = ring
	return nil
}

// RollbackRule restores ruleId's cache entry from the snapshot at
// snapshotIndex (0 = most recent), first capturing the pre-rollback state
// as a new snapshot so a rollback is itself reversible.
func (m *Manager) RollbackRule(ruleID string, snapshotIndex int) error {
	m.mu.Lock()
	ring := m.snapshots[ruleID]
	if snapshotIndex < 0 || snapshotIndex >= len(ring) {
		m.mu.Unlock()
		return rerr.ErrRollback
	}
	snap := ring[snapshotIndex]
	m.mu.Unlock()

	_ = m.CreateRollbackSnapshot(ruleID, "pre-rollback")
	m.cache.Set(ruleID, append(artifact.Artifact(nil), snap.Artifact...), snap.Metadata.Clone())
	return nil
}

// GetVersionStats summarizes the rollback history across all rules.
func (m *Manager) GetVersionStats() version.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := version.Stats{RuleCount: len(m.snapshots)}
	for _, ring := range m.snapshots {
		stats.SnapshotCount += len(ring)
		for _, s := range ring {
			if stats.OldestSnapshot.IsZero() || s.Timestamp.Before(stats.OldestSnapshot) {
				stats.OldestSnapshot = s.Timestamp
			}
			if stats.NewestSnapshot.IsZero() || s.Timestamp.After(stats.NewestSnapshot) {
				stats.NewestSnapshot = s.Timestamp
			}
		}
	}
	return stats
}
