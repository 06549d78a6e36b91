// Package artifact defines the opaque rule artifact byte blob and its
// metadata — the unit the Cache stores, a Loader produces, and the
// Execution Engine's decision evaluator consumes.
package artifact

import (
	"encoding/json"
	"fmt"

	"github.com/decisiongrid/rulecore/internal/rerr"
)

// Artifact is the encoded decision graph. Treated as immutable; a refresh
// replaces the slice wholesale, it never mutates in place.
type Artifact []byte

// Tags is a set of tag strings, kept small enough that a map is the natural
// representation (mirrors upstream.DiscoveredTool's tag handling in the
// teacher's tool cache, generalized from a single-valued field to a set).
type Tags map[string]struct{}

// NewTags builds a Tags set from a slice, deduplicating.
func NewTags(values ...string) Tags {
	t := make(Tags, len(values))
	for _, v := range values {
		t[v] = struct{}{}
	}
	return t
}

// Slice returns the tags as a sorted-free slice (order not guaranteed).
func (t Tags) Slice() []string {
	out := make([]string, 0, len(t))
	for v := range t {
		out = append(out, v)
	}
	return out
}

// Has reports whether the set contains tag.
func (t Tags) Has(tag string) bool {
	_, ok := t[tag]
	return ok
}

// Metadata describes an Artifact. One metadata record per artifact; they
// share a lifecycle — a cache entry is never partially updated.
type Metadata struct {
	ID           string
	Version      string
	Tags         Tags
	LastModified int64 // milliseconds since epoch
}

// Clone deep-copies metadata so a rollback snapshot is insulated from later
// mutation of the live record (I5: a snapshot reflects exact bytes at t).
func (m Metadata) Clone() Metadata {
	tags := make(Tags, len(m.Tags))
	for k := range m.Tags {
		tags[k] = struct{}{}
	}
	return Metadata{ID: m.ID, Version: m.Version, Tags: tags, LastModified: m.LastModified}
}

// decisionGraph is the structural shape every artifact must parse as. The
// evaluator treats the artifact as opaque, but the Loader still owes the
// Cache a sanity check that what it stored is not garbage: valid JSON,
// non-empty, carrying a "nodes" array (the decision graph's entry points).
// This is the CORE's one committed interpretation of "required top-level
// members" left unspecified by the source (see DESIGN.md).
type decisionGraph struct {
	Nodes []json.RawMessage `json:"nodes"`
}

// Validate checks that data is structurally a decision graph: non-empty,
// valid JSON, with at least one node. Returns a parse-error otherwise.
func Validate(data []byte) error {
	if len(data) == 0 {
		return rerr.New(rerr.KindParseError, fmt.Errorf("artifact is empty"))
	}
	var g decisionGraph
	if err := json.Unmarshal(data, &g); err != nil {
		return rerr.New(rerr.KindParseError, fmt.Errorf("artifact is not valid JSON: %w", err))
	}
	if len(g.Nodes) == 0 {
		return rerr.New(rerr.KindParseError, fmt.Errorf("artifact has no top-level \"nodes\" member"))
	}
	return nil
}
