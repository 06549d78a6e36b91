package registry

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/decisiongrid/rulecore/internal/adapter/outbound/batcher"
	"github.com/decisiongrid/rulecore/internal/adapter/outbound/compression"
	"github.com/decisiongrid/rulecore/internal/adapter/outbound/pool"
)

const validGraph = `{"nodes":[{"type":"start"}]}`

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func newLoader(t *testing.T, handler http.HandlerFunc, batching bool) *Loader {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p := pool.New(pool.Config{BaseURL: srv.URL, MaxConnections: 4})
	t.Cleanup(func() { _ = p.Close() })

	codec := compression.New(compression.DefaultThreshold, nil)

	cfg := Config{ProjectID: "proj1", APIKey: "secret", EnableRequestBatching: batching}
	if batching {
		cfg.BatcherConfig = batcher.Config{MaxBatchSize: 5, MaxWaitTime: 20 * time.Millisecond, EnableAutoBatching: true}
	}
	return New(cfg, p, codec)
}

func TestLoadAllRules(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/projects/proj1/rules" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		resp := listRulesResponse{Rules: []wireRule{
			{ID: "r1", Version: "1.0.0", Tags: []string{"a"}, LastModified: "2024-01-01T00:00:00Z", Content: b64(validGraph)},
		}}
		_ = json.NewEncoder(w).Encode(resp)
	}
	l := newLoader(t, handler, false)

	rules, err := l.LoadAllRules(t.Context())
	if err != nil {
		t.Fatalf("LoadAllRules error: %v", err)
	}
	r1, ok := rules["r1"]
	if !ok {
		t.Fatal("expected rule r1")
	}
	if r1.Metadata.Version != "1.0.0" || !r1.Metadata.Tags.Has("a") {
		t.Errorf("unexpected metadata: %+v", r1.Metadata)
	}
	if string(r1.Artifact) != validGraph {
		t.Errorf("artifact = %s, want %s", r1.Artifact, validGraph)
	}
}

func TestLoadRuleDirect(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/projects/proj1/rules/r1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(wireRule{ID: "r1", Version: "2.0.0", Content: b64(validGraph)})
	}
	l := newLoader(t, handler, false)

	lr, err := l.LoadRule(t.Context(), "r1")
	if err != nil {
		t.Fatalf("LoadRule error: %v", err)
	}
	if lr.Metadata.Version != "2.0.0" {
		t.Errorf("version = %s, want 2.0.0", lr.Metadata.Version)
	}
}

func TestLoadRuleViaBatcher(t *testing.T) {
	var calls int
	handler := func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/projects/proj1/rules/batch" {
			t.Fatalf("expected batch endpoint, got %s", r.URL.Path)
		}
		calls++
		var req batchRequestBody
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := batchRulesResponse{}
		for _, id := range req.RuleIDs {
			resp.Rules = append(resp.Rules, wireRule{ID: id, Version: "1.0.0", Content: b64(validGraph)})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
	l := newLoader(t, handler, true)

	done := make(chan struct{}, 2)
	go func() {
		_, err := l.LoadRule(t.Context(), "a")
		if err != nil {
			t.Errorf("LoadRule(a) error: %v", err)
		}
		done <- struct{}{}
	}()
	go func() {
		_, err := l.LoadRule(t.Context(), "b")
		if err != nil {
			t.Errorf("LoadRule(b) error: %v", err)
		}
		done <- struct{}{}
	}()
	<-done
	<-done

	if calls != 1 {
		t.Errorf("batch endpoint called %d times, want 1", calls)
	}
}

func TestCheckVersions(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/projects/proj1/rules/versions/check" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var req versionCheckRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := versionCheckResponse{}
		for _, item := range req.Rules {
			resp.Rules = append(resp.Rules, versionCheckResponseItem{
				RuleID: item.RuleID, CurrentVersion: item.CurrentVersion,
				LatestVersion: "2.0.0", NeedsUpdate: item.CurrentVersion != "2.0.0",
			})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
	l := newLoader(t, handler, false)

	out, err := l.CheckVersions(t.Context(), map[string]string{"r1": "1.0.0"})
	if err != nil {
		t.Fatalf("CheckVersions error: %v", err)
	}
	if !out["r1"] {
		t.Error("expected r1 to need an update")
	}
}

func TestDecodeRuleDecompressesPerArtifactTag(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, _ = gw.Write([]byte(validGraph))
	_ = gw.Close()

	handler := func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(wireRule{
			ID: "r1", Version: "1.0.0",
			Content:     base64.StdEncoding.EncodeToString(buf.Bytes()),
			Compression: &wireCompression{Algorithm: "gzip", OriginalSize: len(validGraph)},
		})
	}
	l := newLoader(t, handler, false)

	lr, err := l.LoadRule(t.Context(), "r1")
	if err != nil {
		t.Fatalf("LoadRule error: %v", err)
	}
	if string(lr.Artifact) != validGraph {
		t.Errorf("artifact = %s, want decompressed %s", lr.Artifact, validGraph)
	}
}

func TestTransportContentEncodingIndependentOfArtifactCompression(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		payload := listRulesResponse{Rules: []wireRule{{ID: "r1", Version: "1.0.0", Content: b64(validGraph)}}}
		raw, _ := json.Marshal(payload)

		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		_, _ = gw.Write(raw)
		_ = gw.Close()

		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write(buf.Bytes())
	}
	l := newLoader(t, handler, false)

	rules, err := l.LoadAllRules(t.Context())
	if err != nil {
		t.Fatalf("LoadAllRules error: %v", err)
	}
	if rules["r1"] == nil {
		t.Fatal("expected r1 to be present after transport-level gzip decode")
	}
}

func TestMalformedArtifactRejected(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(wireRule{ID: "r1", Version: "1.0.0", Content: b64("not json")})
	}
	l := newLoader(t, handler, false)

	_, err := l.LoadRule(t.Context(), "r1")
	if err == nil {
		t.Fatal("expected parse error for malformed artifact")
	}
}
