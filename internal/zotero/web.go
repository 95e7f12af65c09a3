package zotero

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	citeerrors "github.com/citeloom/citeloom/internal/errors"
)

const (
	defaultAPIBase = "https://api.zotero.org"

	// minRequestInterval enforces the two-requests-per-second ceiling the
	// Zotero API asks clients to respect.
	minRequestInterval = 500 * time.Millisecond

	collectionCacheSize = 256

	// pageSize is the per-request limit for listing endpoints. The API caps
	// a single response at 100 entries, so larger collections are fetched
	// page by page.
	pageSize = 100
)

// WebClient talks to the Zotero Web API. All requests pass through a shared
// rate limiter and the standard network retry policy.
type WebClient struct {
	client      *http.Client
	baseURL     string
	libraryID   string
	libraryType string // "user" or "group"
	apiKey      string
	logger      *slog.Logger

	// collection key -> name, shared across a batch so N items in the same
	// collection incur one lookup.
	collectionNames *lru.Cache[string, string]

	mu        sync.Mutex
	lastReq   time.Time
	callCount int
	firstCall time.Time
}

var _ ZoteroSource = (*WebClient)(nil)

// WebClientConfig configures a WebClient.
type WebClientConfig struct {
	LibraryID   string
	LibraryType string
	APIKey      string
	BaseURL     string // test override
	HTTPClient  *http.Client
}

// NewWebClient creates a client for one Zotero library.
func NewWebClient(cfg WebClientConfig, logger *slog.Logger) (*WebClient, error) {
	if cfg.LibraryID == "" {
		return nil, citeerrors.New(citeerrors.ErrCodeConfigMissing,
			"ZOTERO_LIBRARY_ID is required for web access").
			WithSuggestion("Set ZOTERO_LIBRARY_ID in the environment or zotero.library_id in the config")
	}
	if cfg.LibraryType == "" {
		cfg.LibraryType = "user"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAPIBase
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}

	cache, err := lru.New[string, string](collectionCacheSize)
	if err != nil {
		return nil, err
	}

	return &WebClient{
		client:          cfg.HTTPClient,
		baseURL:         strings.TrimSuffix(cfg.BaseURL, "/"),
		libraryID:       cfg.LibraryID,
		libraryType:     cfg.LibraryType,
		apiKey:          cfg.APIKey,
		logger:          logger,
		collectionNames: cache,
	}, nil
}

// Name identifies this backend in logs and manifests.
func (w *WebClient) Name() string { return SourceWeb }

func (w *WebClient) libraryPrefix() string {
	if w.libraryType == "group" {
		return "/groups/" + w.libraryID
	}
	return "/users/" + w.libraryID
}

// waitTurn sleeps until the minimum inter-request interval has elapsed. The
// lock is held across the sleep but never across I/O.
func (w *WebClient) waitTurn() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if wait := minRequestInterval - time.Since(w.lastReq); wait > 0 {
		time.Sleep(wait)
	}
	w.lastReq = time.Now()
	if w.firstCall.IsZero() {
		w.firstCall = w.lastReq
	}
	w.callCount++
}

// get performs one rate-limited, retried GET and returns the response body.
func (w *WebClient) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	return citeerrors.RetryWithResult(ctx, citeerrors.WebAPIRetryConfig(), func() ([]byte, error) {
		return w.doGet(ctx, path, query)
	})
}

func (w *WebClient) doGet(ctx context.Context, path string, query url.Values) ([]byte, error) {
	w.waitTurn()

	u := w.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Zotero-API-Version", "3")
	if w.apiKey != "" {
		req.Header.Set("Zotero-API-Key", w.apiKey)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, citeerrors.Wrap(err, citeerrors.ErrCodeNetworkTimeout,
			fmt.Sprintf("zotero api request to %s failed", path))
	}
	defer func() { _ = resp.Body.Close() }()

	body, readErr := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || isRateLimitText(resp.StatusCode, body):
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, citeerrors.New(citeerrors.ErrCodeZoteroRateLimit,
			"zotero api rate limit hit").
			WithDetail("retry_after_sec", retryAfter).
			WithSuggestion("Reduce request rate or wait before retrying")
	case resp.StatusCode == http.StatusNotFound:
		return nil, citeerrors.New(citeerrors.ErrCodeFileNotFound,
			fmt.Sprintf("zotero api: %s not found", path))
	case resp.StatusCode != http.StatusOK:
		return nil, citeerrors.New(citeerrors.ErrCodeZoteroAPI,
			fmt.Sprintf("zotero api returned %d for %s", resp.StatusCode, path)).
			WithDetail("body", truncate(string(body), 200))
	}

	if readErr != nil {
		return nil, citeerrors.Wrap(readErr, citeerrors.ErrCodeZoteroAPI, "failed to read zotero api response")
	}
	return body, nil
}

// getAllPages walks a listing endpoint through the start offset until a page
// comes back short, concatenating the element arrays of every page. The rate
// limiter in doGet paces the extra requests.
func (w *WebClient) getAllPages(ctx context.Context, path string, query url.Values) ([]json.RawMessage, error) {
	var all []json.RawMessage
	for start := 0; ; start += pageSize {
		q := url.Values{}
		for k, v := range query {
			q[k] = v
		}
		q.Set("limit", strconv.Itoa(pageSize))
		if start > 0 {
			q.Set("start", strconv.Itoa(start))
		}

		body, err := w.get(ctx, path, q)
		if err != nil {
			return nil, err
		}
		var page []json.RawMessage
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, citeerrors.Wrap(err, citeerrors.ErrCodeZoteroAPI,
				fmt.Sprintf("failed to decode %s response", path))
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
	}
}

func isRateLimitText(status int, body []byte) bool {
	if status < 400 {
		return false
	}
	text := strings.ToLower(string(body))
	return strings.Contains(text, "rate") && strings.Contains(text, "limit")
}

func parseRetryAfter(header string) int {
	if sec, err := strconv.Atoi(header); err == nil && sec > 0 {
		return sec
	}
	return 60
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// apiCollection mirrors the wire shape of a collection response.
type apiCollection struct {
	Key  string `json:"key"`
	Data struct {
		Name             string `json:"name"`
		ParentCollection any    `json:"parentCollection"` // false or key string
	} `json:"data"`
	Meta struct {
		NumItems int `json:"numItems"`
	} `json:"meta"`
}

// apiItem mirrors the wire shape of an item response.
type apiItem struct {
	Key  string         `json:"key"`
	Data map[string]any `json:"data"`
}

// ListCollections returns every collection in the library.
func (w *WebClient) ListCollections(ctx context.Context) ([]Collection, error) {
	pages, err := w.getAllPages(ctx, w.libraryPrefix()+"/collections", nil)
	if err != nil {
		return nil, err
	}

	raw := make([]apiCollection, 0, len(pages))
	for _, p := range pages {
		var c apiCollection
		if err := json.Unmarshal(p, &c); err != nil {
			return nil, citeerrors.Wrap(err, citeerrors.ErrCodeZoteroAPI, "failed to decode collections response")
		}
		raw = append(raw, c)
	}

	out := make([]Collection, 0, len(raw))
	for _, c := range raw {
		col := Collection{Key: c.Key, Name: c.Data.Name, NumItems: c.Meta.NumItems}
		if parent, ok := c.Data.ParentCollection.(string); ok {
			col.ParentKey = parent
		}
		w.collectionNames.Add(col.Key, col.Name)
		out = append(out, col)
	}
	return out, nil
}

// FindCollectionByName returns the first case-insensitive name match, or nil.
func (w *WebClient) FindCollectionByName(ctx context.Context, name string) (*Collection, error) {
	cols, err := w.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	for i := range cols {
		if strings.EqualFold(cols[i].Name, name) {
			return &cols[i], nil
		}
	}
	return nil, nil
}

// CollectionName resolves a collection key to its name, using the per-batch
// cache before hitting the API.
func (w *WebClient) CollectionName(ctx context.Context, key string) (string, error) {
	if name, ok := w.collectionNames.Get(key); ok {
		return name, nil
	}
	body, err := w.get(ctx, w.libraryPrefix()+"/collections/"+key, nil)
	if err != nil {
		return "", err
	}
	var raw apiCollection
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", citeerrors.Wrap(err, citeerrors.ErrCodeZoteroAPI, "failed to decode collection response")
	}
	w.collectionNames.Add(key, raw.Data.Name)
	return raw.Data.Name, nil
}

// GetCollectionItems lists the top-level items of a collection. The recursive
// walk expands subcollections one level at a time.
func (w *WebClient) GetCollectionItems(ctx context.Context, collectionKey string, recursive bool) ([]Item, error) {
	items, err := w.collectionItems(ctx, collectionKey)
	if err != nil {
		return nil, err
	}
	if !recursive {
		return items, nil
	}

	subs, err := w.subCollections(ctx, collectionKey)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		seen[it.Key] = true
	}
	for _, sub := range subs {
		subItems, err := w.GetCollectionItems(ctx, sub, true)
		if err != nil {
			return nil, err
		}
		for _, it := range subItems {
			if !seen[it.Key] {
				seen[it.Key] = true
				items = append(items, it)
			}
		}
	}
	return items, nil
}

func (w *WebClient) collectionItems(ctx context.Context, collectionKey string) ([]Item, error) {
	pages, err := w.getAllPages(ctx, w.libraryPrefix()+"/collections/"+collectionKey+"/items/top", nil)
	if err != nil {
		return nil, err
	}
	raw, err := decodeRawItems(pages)
	if err != nil {
		return nil, err
	}
	return itemsFromAPI(raw), nil
}

func (w *WebClient) subCollections(ctx context.Context, collectionKey string) ([]string, error) {
	body, err := w.get(ctx, w.libraryPrefix()+"/collections/"+collectionKey+"/collections", nil)
	if err != nil {
		return nil, err
	}
	var raw []apiCollection
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, citeerrors.Wrap(err, citeerrors.ErrCodeZoteroAPI, "failed to decode subcollections response")
	}
	keys := make([]string, 0, len(raw))
	for _, c := range raw {
		w.collectionNames.Add(c.Key, c.Data.Name)
		keys = append(keys, c.Key)
	}
	return keys, nil
}

func decodeItems(body []byte) ([]Item, error) {
	var raw []apiItem
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, citeerrors.Wrap(err, citeerrors.ErrCodeZoteroAPI, "failed to decode items response")
	}
	return itemsFromAPI(raw), nil
}

func decodeRawItems(pages []json.RawMessage) ([]apiItem, error) {
	raw := make([]apiItem, 0, len(pages))
	for _, p := range pages {
		var it apiItem
		if err := json.Unmarshal(p, &it); err != nil {
			return nil, citeerrors.Wrap(err, citeerrors.ErrCodeZoteroAPI, "failed to decode items response")
		}
		raw = append(raw, it)
	}
	return raw, nil
}

func itemsFromAPI(raw []apiItem) []Item {
	var out []Item
	for _, r := range raw {
		itemType, _ := r.Data["itemType"].(string)
		if itemType == "attachment" || itemType == "annotation" {
			continue
		}
		it := Item{Key: r.Key, ItemType: itemType, Extra: r.Data}
		it.Title, _ = r.Data["title"].(string)
		it.DOI, _ = r.Data["DOI"].(string)
		if date, ok := r.Data["date"].(string); ok && len(date) >= 4 {
			if y, err := strconv.Atoi(date[:4]); err == nil {
				it.Year = y
			}
		}
		if tags, ok := r.Data["tags"].([]any); ok {
			for _, t := range tags {
				if tm, ok := t.(map[string]any); ok {
					if name, ok := tm["tag"].(string); ok {
						it.Tags = append(it.Tags, name)
					}
				}
			}
		}
		out = append(out, it)
	}
	return out
}

// GetItemAttachments lists the attachment children of one item.
func (w *WebClient) GetItemAttachments(ctx context.Context, itemKey string) ([]Attachment, error) {
	body, err := w.get(ctx, w.libraryPrefix()+"/items/"+itemKey+"/children", nil)
	if err != nil {
		return nil, err
	}

	var raw []apiItem
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, citeerrors.Wrap(err, citeerrors.ErrCodeZoteroAPI, "failed to decode children response")
	}

	var out []Attachment
	for _, r := range raw {
		if t, _ := r.Data["itemType"].(string); t != "attachment" {
			continue
		}
		att := Attachment{Key: r.Key, ParentKey: itemKey}
		att.Filename, _ = r.Data["filename"].(string)
		att.ContentType, _ = r.Data["contentType"].(string)
		if lm, _ := r.Data["linkMode"].(string); strings.HasPrefix(lm, "linked") {
			att.LinkMode = LinkModeLinked
			att.Path, _ = r.Data["path"].(string)
		}
		if att.Filename == "" {
			att.Filename = filenameFromPath(att.Path)
		}
		out = append(out, att)
	}
	return out, nil
}

// GetItemMetadata returns the raw data map of one item.
func (w *WebClient) GetItemMetadata(ctx context.Context, itemKey string) (map[string]any, error) {
	body, err := w.get(ctx, w.libraryPrefix()+"/items/"+itemKey, nil)
	if err != nil {
		return nil, err
	}
	var raw apiItem
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, citeerrors.Wrap(err, citeerrors.ErrCodeZoteroAPI, "failed to decode item response")
	}
	return raw.Data, nil
}

// DownloadAttachment fetches the attachment file into destDir and returns the
// absolute destination path.
func (w *WebClient) DownloadAttachment(ctx context.Context, att Attachment, destDir string) (string, error) {
	body, err := w.get(ctx, w.libraryPrefix()+"/items/"+att.Key+"/file", nil)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("create download directory: %w", err)
	}
	name := att.Filename
	if name == "" {
		name = att.Key + ".pdf"
	}
	dest, err := filepath.Abs(filepath.Join(destDir, name))
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(dest, body, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", dest, err)
	}
	return dest, nil
}

// ListTags returns the library's tags.
func (w *WebClient) ListTags(ctx context.Context) ([]Tag, error) {
	pages, err := w.getAllPages(ctx, w.libraryPrefix()+"/tags", nil)
	if err != nil {
		return nil, err
	}

	out := make([]Tag, 0, len(pages))
	for _, p := range pages {
		var t struct {
			Tag  string `json:"tag"`
			Meta struct {
				NumItems int `json:"numItems"`
			} `json:"meta"`
		}
		if err := json.Unmarshal(p, &t); err != nil {
			return nil, citeerrors.Wrap(err, citeerrors.ErrCodeZoteroAPI, "failed to decode tags response")
		}
		out = append(out, Tag{Name: t.Tag, Count: t.Meta.NumItems})
	}
	return out, nil
}

// GetRecentItems returns the most recently added items.
func (w *WebClient) GetRecentItems(ctx context.Context, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 10
	}
	body, err := w.get(ctx, w.libraryPrefix()+"/items/top", url.Values{
		"limit":     {strconv.Itoa(limit)},
		"sort":      {"dateAdded"},
		"direction": {"desc"},
	})
	if err != nil {
		return nil, err
	}
	return decodeItems(body)
}

// LogAPICallSummary logs how many requests this client issued and over what
// wall-clock span. The orchestrator calls it at the end of a batch.
func (w *WebClient) LogAPICallSummary() {
	w.mu.Lock()
	count := w.callCount
	span := time.Duration(0)
	if !w.firstCall.IsZero() {
		span = time.Since(w.firstCall)
	}
	w.mu.Unlock()

	w.logger.Info("zotero api call summary",
		slog.Int("calls", count),
		slog.Duration("span", span.Round(time.Millisecond)))
}
