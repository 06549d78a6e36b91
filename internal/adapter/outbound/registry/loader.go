// Package registry implements the Remote Loader: it populates the Cache
// from an upstream rule registry over HTTP, using the Connection Pool for
// transport, the Request Batcher to coalesce per-id fetches, and the
// Compression codec for both per-artifact payload framing and the
// transport-level Content-Encoding, which are deliberately independent
// knobs.
package registry

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/decisiongrid/rulecore/internal/adapter/outbound/batcher"
	"github.com/decisiongrid/rulecore/internal/adapter/outbound/compression"
	"github.com/decisiongrid/rulecore/internal/adapter/outbound/pool"
	"github.com/decisiongrid/rulecore/internal/domain/artifact"
	"github.com/decisiongrid/rulecore/internal/port/outbound"
	"github.com/decisiongrid/rulecore/internal/rerr"
)

// Config scopes the loader to one project and tunes its optional features.
type Config struct {
	ProjectID string
	APIKey    string

	EnableCompression    bool
	CompressionAlgorithm compression.Algorithm

	EnableRequestBatching bool
	BatcherConfig         batcher.Config

	// FallbackVersionCheckToListAll controls whether CheckVersions falls
	// back to LoadAllRules + local comparison when explicitly enabled; the
	// batch version-check endpoint is otherwise treated as authoritative.
	FallbackVersionCheckToListAll bool
}

// LoadedRule is the registry's result shape, aliased from the outbound
// port so Loader satisfies outbound.Loader without a conversion layer.
type LoadedRule = outbound.LoadedRule

// Loader is the Remote Loader.
type Loader struct {
	cfg     Config
	pool    *pool.Pool
	codec   *compression.Codec
	batcher *batcher.Batcher
}

var _ outbound.Loader = (*Loader)(nil)

// New wires a Loader to an existing Pool and Codec. If cfg.EnableRequestBatching
// is set, loadRule calls are coalesced through an internal Batcher whose
// executor issues the registry's batch endpoint.
func New(cfg Config, p *pool.Pool, codec *compression.Codec) *Loader {
	l := &Loader{cfg: cfg, pool: p, codec: codec}
	if cfg.EnableRequestBatching {
		l.batcher = batcher.New(cfg.BatcherConfig, l.batchExecutor)
	}
	return l
}

func (l *Loader) authHeaders() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+l.cfg.APIKey)
	h.Set("Accept", "application/json")
	if l.cfg.EnableCompression {
		switch l.cfg.CompressionAlgorithm {
		case compression.Deflate:
			h.Set("Accept-Encoding", "deflate")
		default:
			h.Set("Accept-Encoding", "gzip")
		}
	}
	return h
}

// LoadAllRules fetches every rule artifact for the project in one request.
func (l *Loader) LoadAllRules(ctx context.Context) (map[string]*LoadedRule, error) {
	resp, err := l.pool.Request(ctx, pool.Request{
		Method:  http.MethodGet,
		Path:    fmt.Sprintf("/api/v1/projects/%s/rules", l.cfg.ProjectID),
		Headers: l.authHeaders(),
	})
	if err != nil {
		return nil, err
	}

	body, err := transportDecode(resp)
	if err != nil {
		return nil, rerr.New(rerr.KindNetwork, err)
	}

	var parsed listRulesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, rerr.New(rerr.KindParseError, err)
	}

	out := make(map[string]*LoadedRule, len(parsed.Rules))
	for _, wr := range parsed.Rules {
		lr, err := l.decodeRule(wr)
		if err != nil {
			return nil, err
		}
		out[wr.ID] = lr
	}
	return out, nil
}

// LoadRule fetches one rule, either directly or through the batcher when
// request batching is enabled.
func (l *Loader) LoadRule(ctx context.Context, id string) (*LoadedRule, error) {
	if l.batcher != nil {
		v, err := l.batcher.Submit(ctx, id)
		if err != nil {
			return nil, err
		}
		lr, ok := v.(*LoadedRule)
		if !ok {
			return nil, rerr.New(rerr.KindParseError, fmt.Errorf("unexpected batch result type for rule %q", id))
		}
		return lr, nil
	}

	resp, err := l.pool.Request(ctx, pool.Request{
		Method:  http.MethodGet,
		Path:    fmt.Sprintf("/api/v1/projects/%s/rules/%s", l.cfg.ProjectID, id),
		Headers: l.authHeaders(),
	})
	if err != nil {
		return nil, err
	}

	body, err := transportDecode(resp)
	if err != nil {
		return nil, rerr.New(rerr.KindNetwork, err)
	}

	var wr wireRule
	if err := json.Unmarshal(body, &wr); err != nil {
		return nil, rerr.New(rerr.KindParseError, err)
	}
	return l.decodeRule(wr)
}

// batchExecutor is the Batcher's Executor: one POST carrying every pending id.
func (l *Loader) batchExecutor(ctx context.Context, ids []string) (map[string]any, map[string]error) {
	body, err := json.Marshal(batchRequestBody{RuleIDs: ids})
	if err != nil {
		return nil, allIDsFail(ids, err)
	}

	headers := l.authHeaders()
	headers.Set("Content-Type", "application/json")

	resp, err := l.pool.Request(ctx, pool.Request{
		Method:  http.MethodPost,
		Path:    fmt.Sprintf("/api/v1/projects/%s/rules/batch", l.cfg.ProjectID),
		Headers: headers,
		Body:    body,
	})
	if err != nil {
		return nil, allIDsFail(ids, err)
	}

	decoded, err := transportDecode(resp)
	if err != nil {
		return nil, allIDsFail(ids, err)
	}

	var parsed batchRulesResponse
	if err := json.Unmarshal(decoded, &parsed); err != nil {
		return nil, allIDsFail(ids, err)
	}

	values := make(map[string]any, len(parsed.Rules))
	errs := make(map[string]error, len(parsed.Errors))
	for _, wr := range parsed.Rules {
		lr, err := l.decodeRule(wr)
		if err != nil {
			errs[wr.ID] = err
			continue
		}
		values[wr.ID] = lr
	}
	for _, e := range parsed.Errors {
		errs[e.RuleID] = fmt.Errorf("%s", e.Error)
	}
	return values, errs
}

// CheckVersions asks the registry which of the given (id, currentVersion)
// pairs need an update.
func (l *Loader) CheckVersions(ctx context.Context, current map[string]string) (map[string]bool, error) {
	if l.cfg.FallbackVersionCheckToListAll {
		return l.checkVersionsViaListAll(ctx, current)
	}

	items := make([]versionCheckRequestItem, 0, len(current))
	for id, v := range current {
		items = append(items, versionCheckRequestItem{RuleID: id, CurrentVersion: v})
	}
	body, err := json.Marshal(versionCheckRequest{Rules: items})
	if err != nil {
		return nil, rerr.New(rerr.KindParseError, err)
	}

	headers := l.authHeaders()
	headers.Set("Content-Type", "application/json")

	resp, err := l.pool.Request(ctx, pool.Request{
		Method:  http.MethodPost,
		Path:    fmt.Sprintf("/api/v1/projects/%s/rules/versions/check", l.cfg.ProjectID),
		Headers: headers,
		Body:    body,
	})
	if err != nil {
		return nil, err
	}

	decoded, err := transportDecode(resp)
	if err != nil {
		return nil, rerr.New(rerr.KindNetwork, err)
	}

	var parsed versionCheckResponse
	if err := json.Unmarshal(decoded, &parsed); err != nil {
		return nil, rerr.New(rerr.KindParseError, err)
	}

	out := make(map[string]bool, len(parsed.Rules))
	for _, r := range parsed.Rules {
		out[r.RuleID] = r.NeedsUpdate
	}
	return out, nil
}

func (l *Loader) checkVersionsViaListAll(ctx context.Context, current map[string]string) (map[string]bool, error) {
	all, err := l.LoadAllRules(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(current))
	for id, localVersion := range current {
		lr, ok := all[id]
		if !ok {
			out[id] = false
			continue
		}
		out[id] = lr.Metadata.Version != localVersion
	}
	return out, nil
}

// decodeRule turns one wire rule into a LoadedRule: base64-decode,
// per-artifact decompress (driven strictly by the wire compression tag,
// never inferred), then validate as a decision graph.
func (l *Loader) decodeRule(wr wireRule) (*LoadedRule, error) {
	raw, err := base64.StdEncoding.DecodeString(wr.Content)
	if err != nil {
		return nil, rerr.New(rerr.KindParseError, fmt.Errorf("decode base64 content for rule %q: %w", wr.ID, err))
	}

	algo := compression.None
	if wr.Compression != nil {
		algo = compression.Algorithm(wr.Compression.Algorithm)
	}
	decoded, err := l.codec.Decompress(raw, algo)
	if err != nil {
		return nil, rerr.New(rerr.KindParseError, fmt.Errorf("decompress rule %q: %w", wr.ID, err))
	}

	if err := artifact.Validate(decoded); err != nil {
		return nil, err
	}

	lastModified, err := parseISO8601Millis(wr.LastModified)
	if err != nil {
		return nil, rerr.New(rerr.KindParseError, fmt.Errorf("parse lastModified for rule %q: %w", wr.ID, err))
	}

	return &LoadedRule{
		Artifact: artifact.Artifact(decoded),
		Metadata: artifact.Metadata{
			ID:           wr.ID,
			Version:      wr.Version,
			Tags:         artifact.NewTags(wr.Tags...),
			LastModified: lastModified,
		},
	}, nil
}

func parseISO8601Millis(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}

// transportDecode reverses the transport-level Content-Encoding, which is
// independent of any per-artifact compression tag carried in the JSON body.
func transportDecode(resp *pool.Response) ([]byte, error) {
	switch resp.Headers.Get("Content-Encoding") {
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(resp.Body))
		if err != nil {
			return nil, err
		}
		defer func() { _ = r.Close() }()
		return io.ReadAll(r)
	case "deflate":
		r := flate.NewReader(bytes.NewReader(resp.Body))
		defer func() { _ = r.Close() }()
		return io.ReadAll(r)
	default:
		return resp.Body, nil
	}
}

func allIDsFail(ids []string, cause error) map[string]error {
	errs := make(map[string]error, len(ids))
	wrapped := rerr.New(rerr.KindNetwork, cause)
	for _, id := range ids {
		errs[id] = wrapped
	}
	return errs
}
