package localfs

import (
	"context"

	"github.com/decisiongrid/rulecore/internal/port/outbound"
)

var _ outbound.Loader = (*Loader)(nil)

// LoadAllRules scans the configured directory and returns every valid rule
// found, keyed by id. A file that fails to parse is dropped rather than
// failing the whole call, matching ScanDirectory's partial-failure
// contract; the scan only errors out when nothing at all could be loaded.
func (l *Loader) LoadAllRules(ctx context.Context) (map[string]*outbound.LoadedRule, error) {
	rules, _, err := l.ScanDirectory()
	if err != nil {
		return nil, err
	}
	out := make(map[string]*outbound.LoadedRule, len(rules))
	for _, r := range rules {
		out[r.ID] = &outbound.LoadedRule{Artifact: r.Artifact, Metadata: r.Metadata}
	}
	return out, nil
}

// LoadRule loads the single rule file whose id matches. Unlike the Remote
// Loader there is no per-id endpoint; id is resolved back to a path under
// the configured root.
func (l *Loader) LoadRule(ctx context.Context, id string) (*outbound.LoadedRule, error) {
	r, err := l.LoadRuleFile(id + l.cfg.Extension)
	if err != nil {
		return nil, err
	}
	return &outbound.LoadedRule{Artifact: r.Artifact, Metadata: r.Metadata}, nil
}

// CheckVersions compares each id's on-disk version (derived from mtime, or
// the sidecar's explicit version) against current. There is no cheaper
// batch endpoint to fall back to here, so this always re-scans.
func (l *Loader) CheckVersions(ctx context.Context, current map[string]string) (map[string]bool, error) {
	all, err := l.LoadAllRules(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(current))
	for id, currentVersion := range current {
		lr, ok := all[id]
		if !ok {
			out[id] = false
			continue
		}
		out[id] = lr.Metadata.Version != currentVersion
	}
	return out, nil
}
