// Package version holds the data model for version reconciliation: what a
// comparison between local and upstream metadata looks like, how a
// conflict is classified, and the shape of a rollback snapshot. The
// orchestration that produces these lives in
// internal/service/versionmgr.
package version

import (
	"time"

	"github.com/decisiongrid/rulecore/internal/domain/artifact"
)

// Diff classifies how two version strings relate.
type Diff string

const (
	DiffMajor   Diff = "major"
	DiffMinor   Diff = "minor"
	DiffPatch   Diff = "patch"
	DiffSame    Diff = "same"
	DiffUnknown Diff = "unknown"
)

// ConflictType classifies a VersionConflict.
type ConflictType string

const (
	ConflictVersionMismatch  ConflictType = "version-mismatch"
	ConflictTimestampOnly    ConflictType = "timestamp-conflict"
	ConflictRuleDeleted      ConflictType = "rule-deleted"
)

// Strategy is the policy autoRefreshCache applies to each detected conflict.
type Strategy string

const (
	StrategyCloudWins  Strategy = "cloud-wins"
	StrategyLocalWins  Strategy = "local-wins"
	StrategyNewerWins  Strategy = "newer-wins"
	StrategyRollback   Strategy = "rollback"
	StrategyManual     Strategy = "manual"
)

// ComparisonResult is the outcome of comparing one rule's local metadata
// against its upstream counterpart.
type ComparisonResult struct {
	RuleID        string
	LocalVersion  string
	CloudVersion  string
	NeedsUpdate   bool
	VersionDiff   Diff
	LocalModified int64
	CloudModified int64
}

// Conflict describes a discrepancy between local and upstream metadata
// requiring policy-directed resolution.
type Conflict struct {
	RuleID        string
	LocalVersion  string
	CloudVersion  string
	ConflictType  ConflictType
	LocalModified int64
	CloudModified int64
}

// Snapshot is a point-in-time copy of an entry, retrievable by rollback.
// Metadata and Artifact are deep copies so a later live mutation cannot
// reach back into a captured snapshot (I5).
type Snapshot struct {
	Timestamp time.Time
	RuleID    string
	Version   string
	Artifact  artifact.Artifact
	Metadata  artifact.Metadata
	Reason    string
}

// Result is the complete per-id outcome table returned by an
// autoRefreshCache / invalidateRules run. Errors accumulate per id rather
// than aborting the whole operation (§4.8 failure semantics).
type Result struct {
	Processed      []string
	Updated        []string
	Conflicts      []Conflict
	Errors         map[string]error
	Rollbacks      []string
	ProcessingTime time.Duration
}

// NewResult creates an empty Result with an initialized Errors map.
func NewResult() *Result {
	return &Result{Errors: make(map[string]error)}
}

// Stats is the summary returned by getVersionStats.
type Stats struct {
	RuleCount      int
	SnapshotCount  int
	OldestSnapshot time.Time
	NewestSnapshot time.Time
}
