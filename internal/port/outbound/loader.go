// Package outbound defines the outbound port interfaces CORE services
// depend on; adapters (registry, localfs) implement them so services stay
// decoupled from transport and filesystem specifics.
package outbound

import (
	"context"

	"github.com/decisiongrid/rulecore/internal/domain/artifact"
)

// LoadedRule pairs decoded artifact bytes with their metadata, the common
// shape every Loader implementation produces.
type LoadedRule struct {
	Artifact artifact.Artifact
	Metadata artifact.Metadata
}

// Loader is the port the Version Manager and the CLI runtime depend on
// to pull rule artifacts from whichever source is configured (remote
// registry or local directory).
type Loader interface {
	LoadAllRules(ctx context.Context) (map[string]*LoadedRule, error)
	LoadRule(ctx context.Context, id string) (*LoadedRule, error)
	CheckVersions(ctx context.Context, current map[string]string) (map[string]bool, error)
}
