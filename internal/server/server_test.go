package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/GriffinCanCode/sentinel/internal/infrastructure/config"
	"github.com/GriffinCanCode/sentinel/internal/infrastructure/logging"
	"github.com/GriffinCanCode/sentinel/internal/verdict"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Native.Enabled = false
	cfg.RateLimit.Enabled = false
	cfg.Logging.Development = true
	cfg.Quarantine.Dir = filepath.Join(t.TempDir(), "quarantine")
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	s, err := NewServer(context.Background(), cfg, Options{Logger: logging.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func upload(t *testing.T, h http.Handler, name string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/analyze", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestAnalyzeEndToEnd(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	w := upload(t, s.Handler(), "notes.txt", []byte("hello world, nothing to see here"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var res struct {
		ID      string `json:"id"`
		Verdict string `json:"verdict"`
		State   string `json:"state"`
		Cached  bool   `json:"cached"`
		Tier1   struct {
			Fallback bool `json:"fallback"`
		} `json:"tier1"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "benign", res.Verdict)
	assert.Equal(t, "tier1_only", res.State)
	assert.True(t, res.Tier1.Fallback, "no guest module configured")
	assert.NotEmpty(t, res.ID)

	w = upload(t, s.Handler(), "copy.txt", []byte("hello world, nothing to see here"))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, res.Cached)

	stats := s.Orchestrator().Stats()
	assert.Equal(t, uint64(2), stats.TotalAnalyzed)
	assert.Equal(t, uint64(1), stats.CacheHits)
}

func TestOperationalEndpoints(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	upload(t, s.Handler(), "a.txt", []byte("plain text"))

	tests := []struct {
		path     string
		contains string
	}{
		{"/health", `"native_enabled":false`},
		{"/v1/stats", `"total_analyzed":1`},
		{"/v1/quarantine", `"count":0`},
		{"/metrics", "sentinel_analyses_total"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			require.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Body.String(), tt.contains)
		})
	}
}

func TestNewServerErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"missing policy file", func(c *config.Config) { c.Native.PolicyFile = "/nonexistent/policy.yaml" }},
		{"unknown hash", func(c *config.Config) { c.Cache.Hash = "md5" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			_, err := NewServer(context.Background(), cfg, Options{Logger: logging.Nop()})
			assert.Error(t, err)
		})
	}
}

func TestOrchestratorConfigFromEnvironment(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, verdict.DefaultConfig(), orchestratorConfig(cfg).Verdict)

	cfg.Verdict.MaliciousThreshold = 0.8
	cfg.Verdict.Tier2Blend = 0.9
	cfg.Verdict.DisagreementGap = 0.3
	got := orchestratorConfig(cfg)
	assert.InDelta(t, 0.8, got.Verdict.MaliciousThreshold, 1e-6)
	assert.InDelta(t, 0.9, got.Verdict.Weights.Tier2Blend, 1e-6)
	assert.InDelta(t, 0.3, got.Verdict.DisagreementGap, 1e-6)
	assert.Equal(t, cfg.Native.Timeout, got.Tier2Timeout)
	assert.Equal(t, cfg.Orchestrator.MaxFileSizeMB<<20, got.MaxFileSize)
}

func TestMissingGuestModuleDegrades(t *testing.T) {
	cfg := testConfig(t)
	cfg.Guest.ModulePath = filepath.Join(t.TempDir(), "absent.wasm")
	s := newTestServer(t, cfg)
	assert.False(t, s.status().GuestModuleLoaded)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}
