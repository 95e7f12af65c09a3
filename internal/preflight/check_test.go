package preflight

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citeloom/citeloom/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Paths.VarDir = filepath.Join(t.TempDir(), "var")
	cfg.Projects = map[string]config.ProjectConfig{
		"p": {EmbeddingModel: "static"},
	}
	return cfg
}

func TestCheckWritePermissions_CreatesVarDir(t *testing.T) {
	c := New(testConfig(t))

	result := c.CheckWritePermissions()

	assert.Equal(t, StatusPass, result.Status)
	assert.True(t, result.Required)
}

func TestCheckDiskSpace_ReportsFreeSpace(t *testing.T) {
	c := New(testConfig(t))

	result := c.CheckDiskSpace()

	assert.Equal(t, StatusPass, result.Status)
	assert.Contains(t, result.Message, "free")
}

func TestCheckProjects(t *testing.T) {
	cfg := testConfig(t)
	c := New(cfg)
	assert.Equal(t, StatusPass, c.CheckProjects().Status)

	cfg.Projects = nil
	result := c.CheckProjects()
	assert.Equal(t, StatusWarn, result.Status)
	assert.Contains(t, result.Message, "no projects")
}

func TestCheckZoteroLibrary_MissingDatabaseWarns(t *testing.T) {
	cfg := testConfig(t)
	cfg.Zotero.DataDir = t.TempDir()
	c := New(cfg)

	result := c.CheckZoteroLibrary()

	assert.Equal(t, StatusWarn, result.Status)
	assert.False(t, result.Required)
}

func TestCheckZoteroWeb(t *testing.T) {
	cfg := testConfig(t)
	c := New(cfg)

	assert.Equal(t, StatusWarn, c.CheckZoteroWeb().Status)

	cfg.Zotero.LibraryID = "12345"
	result := c.CheckZoteroWeb()
	assert.Equal(t, StatusWarn, result.Status)
	assert.Contains(t, result.Message, "ZOTERO_API_KEY")

	cfg.Zotero.APIKey = "secret"
	result = c.CheckZoteroWeb()
	assert.Equal(t, StatusPass, result.Status)
	assert.Contains(t, result.Message, "12345")
}

func TestCheckQdrant_ReachableEndpoint(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testConfig(t)
	cfg.Qdrant.URL = "http://" + ln.Addr().String()
	c := New(cfg, WithDialTimeout(time.Second))

	result := c.CheckQdrant()

	assert.Equal(t, StatusPass, result.Status)
	assert.True(t, result.Required)
}

func TestCheckQdrant_UnreachableEndpointFails(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := testConfig(t)
	cfg.Qdrant.URL = "http://" + addr
	c := New(cfg, WithDialTimeout(500*time.Millisecond))

	result := c.CheckQdrant()

	assert.Equal(t, StatusFail, result.Status)
	assert.True(t, result.IsCritical())
}

func TestCheckEmbedder_StaticModelsSkipProbe(t *testing.T) {
	c := New(testConfig(t))

	result := c.CheckEmbedder(context.Background())

	assert.Equal(t, StatusPass, result.Status)
	assert.Contains(t, result.Message, "offline")
}

func TestCheckEmbedder_ProbesOllama(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	t.Setenv("OLLAMA_HOST", srv.URL)

	cfg := testConfig(t)
	cfg.Projects["p"] = config.ProjectConfig{EmbeddingModel: "bge-m3"}
	c := New(cfg)

	result := c.CheckEmbedder(context.Background())

	assert.Equal(t, StatusPass, result.Status)
}

func TestCheckEmbedder_DeadOllamaWarns(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	url := srv.URL
	srv.Close()
	t.Setenv("OLLAMA_HOST", url)

	cfg := testConfig(t)
	cfg.Projects["p"] = config.ProjectConfig{EmbeddingModel: "bge-m3"}
	c := New(cfg)

	result := c.CheckEmbedder(context.Background())

	assert.Equal(t, StatusWarn, result.Status)
	assert.False(t, result.IsCritical())
}

func TestSummaryStatus(t *testing.T) {
	assert.Equal(t, "ready", SummaryStatus([]CheckResult{
		{Status: StatusPass, Required: true},
	}))
	assert.Equal(t, "ready_with_warnings", SummaryStatus([]CheckResult{
		{Status: StatusPass, Required: true},
		{Status: StatusWarn},
	}))
	assert.Equal(t, "failed", SummaryStatus([]CheckResult{
		{Status: StatusFail, Required: true},
	}))
	assert.True(t, HasCriticalFailures([]CheckResult{{Status: StatusFail, Required: true}}))
	assert.False(t, HasCriticalFailures([]CheckResult{{Status: StatusFail, Required: false}}))
}

func TestQdrantAddr(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"", "localhost:6334"},
		{"http://localhost:6334", "localhost:6334"},
		{"qdrant.example.com", "qdrant.example.com:6334"},
		{"https://qdrant.example.com:7000", "qdrant.example.com:7000"},
	}
	for _, tt := range tests {
		got, err := qdrantAddr(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}
