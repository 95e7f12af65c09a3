package preflight

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/citeloom/citeloom/internal/zotero"
)

// CheckZoteroLibrary looks for the local Zotero snapshot. Not required:
// web-only setups ingest through the Zotero API instead.
func (c *Checker) CheckZoteroLibrary() CheckResult {
	result := CheckResult{Name: "zotero_library", Required: false}

	dataDir := c.cfg.Zotero.DataDir
	if dataDir == "" {
		discovered, err := zotero.DiscoverDataDir()
		if err != nil {
			result.Status = StatusWarn
			result.Message = "no local Zotero profile found"
			result.Details = "Set zotero.data_dir or configure the web API"
			return result
		}
		dataDir = discovered
	}

	dbPath := filepath.Join(dataDir, "zotero.sqlite")
	if _, err := os.Stat(dbPath); err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("no database at %s", dbPath)
		result.Details = "Set zotero.data_dir or configure the web API"
		return result
	}

	result.Status = StatusPass
	result.Message = dbPath
	return result
}

// CheckZoteroWeb verifies the web API credentials are declared.
func (c *Checker) CheckZoteroWeb() CheckResult {
	result := CheckResult{Name: "zotero_web", Required: false}

	if c.cfg.Zotero.LibraryID == "" {
		result.Status = StatusWarn
		result.Message = "web API not configured"
		result.Details = "Set ZOTERO_LIBRARY_ID and ZOTERO_API_KEY to enable downloads without a local library"
		return result
	}
	if c.cfg.Zotero.APIKey == "" {
		result.Status = StatusWarn
		result.Message = "library id set but ZOTERO_API_KEY is missing"
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s library %s", c.cfg.Zotero.LibraryType, c.cfg.Zotero.LibraryID)
	return result
}

// CheckQdrant probes the vector store endpoint with a TCP dial.
func (c *Checker) CheckQdrant() CheckResult {
	result := CheckResult{Name: "qdrant", Required: true}

	addr, err := qdrantAddr(c.cfg.Qdrant.URL)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("invalid qdrant url %q: %v", c.cfg.Qdrant.URL, err)
		return result
	}

	conn, err := net.DialTimeout("tcp", addr, c.dialTimeout)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot reach %s: %v", addr, err)
		result.Details = "Start Qdrant or point qdrant.url at a running instance"
		return result
	}
	_ = conn.Close()

	result.Status = StatusPass
	result.Message = addr + " is reachable"
	return result
}

func qdrantAddr(raw string) (string, error) {
	if raw == "" {
		return "localhost:6334", nil
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	host := u.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := u.Port()
	if port == "" {
		port = "6334"
	}
	if _, err := strconv.Atoi(port); err != nil {
		return "", err
	}
	return net.JoinHostPort(host, port), nil
}

// CheckEmbedder probes the Ollama endpoint when any project binds a model
// that needs it. Static models run offline, so a dead endpoint is a warning.
func (c *Checker) CheckEmbedder(ctx context.Context) CheckResult {
	result := CheckResult{Name: "embedder", Required: false}

	models := make([]string, 0, len(c.cfg.Projects))
	for _, p := range c.cfg.Projects {
		if p.EmbeddingModel != "" && !strings.HasPrefix(p.EmbeddingModel, "static") {
			models = append(models, p.EmbeddingModel)
		}
	}
	if len(models) == 0 {
		result.Status = StatusPass
		result.Message = "all projects use offline embedding models"
		return result
	}

	host := os.Getenv("OLLAMA_HOST")
	if host == "" {
		host = "http://localhost:11434"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(host, "/")+"/api/tags", nil)
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("invalid OLLAMA_HOST %q: %v", host, err)
		return result
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("cannot reach Ollama at %s: %v", host, err)
		result.Details = "Projects bound to " + strings.Join(models, ", ") + " cannot embed until it is up"
		return result
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("Ollama at %s answered %d", host, resp.StatusCode)
		return result
	}

	result.Status = StatusPass
	result.Message = host + " is reachable"
	return result
}
