package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Better-BibTeX exposes a JSON-RPC endpoint inside the running reference
// manager. Zotero and Juris-M listen on different well-known ports.
var bbtPorts = []int{23119, 24119}

const bbtConnectTimeout = 2 * time.Second

// BBTClient resolves citekeys through the Better-BibTeX add-on RPC. Probing
// happens once; an unreachable add-on turns every lookup into a cheap miss.
type BBTClient struct {
	client  *http.Client
	baseURL string // test override; discovered when empty
	logger  *slog.Logger

	once        sync.Once
	endpoint    string
	unreachable bool
}

var _ CitekeyLookup = (*BBTClient)(nil)

// NewBBTClient creates a Better-BibTeX RPC client. baseURL is normally empty;
// tests inject an httptest server URL.
func NewBBTClient(baseURL string, logger *slog.Logger) *BBTClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &BBTClient{
		client:  &http.Client{Timeout: bbtConnectTimeout},
		baseURL: baseURL,
		logger:  logger,
	}
}

func (b *BBTClient) discover(ctx context.Context) {
	if b.baseURL != "" {
		b.endpoint = b.baseURL + "/better-bibtex/json-rpc"
		return
	}
	for _, port := range bbtPorts {
		url := fmt.Sprintf("http://127.0.0.1:%d/better-bibtex/json-rpc", port)
		if b.ping(ctx, url) {
			b.endpoint = url
			return
		}
	}
	b.unreachable = true
	b.logger.Debug("better-bibtex rpc not reachable, citekeys fall back to the extra field")
}

func (b *BBTClient) ping(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// Citekey resolves one item key to its citekey, or "" on any failure.
func (b *BBTClient) Citekey(ctx context.Context, itemKey string) string {
	b.once.Do(func() { b.discover(ctx) })
	if b.unreachable {
		return ""
	}

	payload, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  "item.citationkey",
		"params":  [][]string{{itemKey}},
		"id":      1,
	})
	if err != nil {
		return ""
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(payload))
	if err != nil {
		return ""
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		b.logger.Debug("better-bibtex rpc call failed", slog.String("error", err.Error()))
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	var out struct {
		Result map[string]string `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ""
	}
	return out.Result[itemKey]
}
