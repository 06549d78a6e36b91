// Package localfs implements the Local Loader: it materializes a directory
// tree of JSON artifact files (with optional sidecar metadata) into a rule
// set, the filesystem counterpart to the Remote Loader.
package localfs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/decisiongrid/rulecore/internal/domain/artifact"
	"github.com/decisiongrid/rulecore/internal/rerr"
)

// Config controls directory scanning.
type Config struct {
	Root      string
	Extension string // default ".json"
	MetaSuffix string // default ".meta.json"
	Recursive bool
}

func (c Config) withDefaults() Config {
	if c.Extension == "" {
		c.Extension = ".json"
	}
	if c.MetaSuffix == "" {
		c.MetaSuffix = ".meta.json"
	}
	return c
}

// Rule is one artifact discovered on disk, id-keyed as the caller expects
// of any loader result.
type Rule struct {
	ID       string
	Artifact artifact.Artifact
	Metadata artifact.Metadata
	Path     string
}

// ScanError records a single file that failed to load without aborting
// the rest of the scan.
type ScanError struct {
	Path string
	Err  error
}

func (e ScanError) Error() string { return fmt.Sprintf("%s: %v", e.Path, e.Err) }

// Loader is the Local Loader.
type Loader struct {
	cfg Config
}

// New creates a Loader rooted at cfg.Root.
func New(cfg Config) *Loader {
	return &Loader{cfg: cfg.withDefaults()}
}

// ScanDirectory walks the root (recursively if configured) and loads every
// matching artifact file. A file that fails to parse or validate is
// recorded as a ScanError and skipped rather than aborting the scan; the
// scan itself fails only if no valid rule was found and at least one error
// occurred.
func (l *Loader) ScanDirectory() ([]Rule, []ScanError, error) {
	root, err := filepath.Abs(l.cfg.Root)
	if err != nil {
		return nil, nil, rerr.New(rerr.KindConfigError, err)
	}

	var candidates []string
	walkErr := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && !l.cfg.Recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, l.cfg.Extension) || strings.HasSuffix(path, l.cfg.MetaSuffix) {
			return nil
		}
		candidates = append(candidates, path)
		return nil
	})
	if walkErr != nil {
		return nil, nil, rerr.New(rerr.KindConfigError, walkErr)
	}
	sort.Strings(candidates)

	var rules []Rule
	var scanErrs []ScanError
	for _, path := range candidates {
		r, err := l.loadRuleFileAbs(root, path)
		if err != nil {
			scanErrs = append(scanErrs, ScanError{Path: path, Err: err})
			continue
		}
		rules = append(rules, r)
	}

	if len(rules) == 0 && len(scanErrs) > 0 {
		return nil, scanErrs, rerr.New(rerr.KindParseError, fmt.Errorf("scan of %s found no valid rules (%d errors)", root, len(scanErrs)))
	}
	return rules, scanErrs, nil
}

// LoadRuleFile loads one file given a path relative to, or within, the root.
func (l *Loader) LoadRuleFile(path string) (Rule, error) {
	root, err := filepath.Abs(l.cfg.Root)
	if err != nil {
		return Rule{}, rerr.New(rerr.KindConfigError, err)
	}
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, path)
	}
	return l.loadRuleFileAbs(root, abs)
}

func (l *Loader) loadRuleFileAbs(root, abs string) (Rule, error) {
	abs = filepath.Clean(abs)
	if err := containedIn(root, abs); err != nil {
		return Rule{}, rerr.New(rerr.KindConfigError, err)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return Rule{}, rerr.New(rerr.KindParseError, err)
	}
	if err := artifact.Validate(data); err != nil {
		return Rule{}, err
	}

	id := idFromPath(root, abs, l.cfg.Extension)
	if err := validateRuleID(id); err != nil {
		return Rule{}, rerr.New(rerr.KindConfigError, err)
	}

	meta, err := l.loadMetadata(abs, id)
	if err != nil {
		return Rule{}, err
	}

	return Rule{ID: id, Artifact: artifact.Artifact(data), Metadata: meta, Path: abs}, nil
}

// sidecar is the optional {basename}.meta.json payload.
type sidecar struct {
	Version      string   `json:"version"`
	Tags         []string `json:"tags"`
	LastModified string   `json:"lastModified"`
}

func (l *Loader) loadMetadata(artifactPath, id string) (artifact.Metadata, error) {
	info, err := os.Stat(artifactPath)
	if err != nil {
		return artifact.Metadata{}, rerr.New(rerr.KindParseError, err)
	}

	meta := artifact.Metadata{
		ID:           id,
		Version:      strconv.FormatInt(info.ModTime().UnixMilli(), 10),
		Tags:         artifact.NewTags(),
		LastModified: info.ModTime().UnixMilli(),
	}

	sidecarPath := strings.TrimSuffix(artifactPath, l.cfg.Extension) + l.cfg.MetaSuffix
	raw, err := os.ReadFile(sidecarPath)
	if err != nil {
		if os.IsNotExist(err) {
			return meta, nil
		}
		return artifact.Metadata{}, rerr.New(rerr.KindParseError, err)
	}

	var sc sidecar
	if err := json.Unmarshal(raw, &sc); err != nil {
		return artifact.Metadata{}, rerr.New(rerr.KindParseError, fmt.Errorf("parse sidecar %s: %w", sidecarPath, err))
	}

	if sc.Version != "" {
		meta.Version = sc.Version
	}
	if len(sc.Tags) > 0 {
		meta.Tags = artifact.NewTags(sc.Tags...)
	}
	if sc.LastModified != "" {
		if t, err := time.Parse(time.RFC3339, sc.LastModified); err == nil {
			meta.LastModified = t.UnixMilli()
		}
	}
	return meta, nil
}

// idFromPath derives the forward-slash, extension-stripped rule id from an
// absolute path within root.
func idFromPath(root, abs, ext string) string {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		rel = abs
	}
	rel = strings.TrimSuffix(rel, ext)
	return filepath.ToSlash(rel)
}
