// Package retrieval implements grounded chunk retrieval over the vector
// index, applying the project's retrieval policy to every query.
package retrieval

import (
	"context"
	"strings"
	"unicode"

	"github.com/citeloom/citeloom/internal/embed"
	citeerrors "github.com/citeloom/citeloom/internal/errors"
	"github.com/citeloom/citeloom/internal/vecindex"
)

const (
	minTopK     = 1
	maxTopK     = 20
	defaultTopK = 6
)

// Searcher is the vector index surface retrieval depends on.
type Searcher interface {
	SearchDense(ctx context.Context, projectID string, vector []float32, opts vecindex.SearchOptions) ([]vecindex.SearchHit, error)
	SearchHybrid(ctx context.Context, projectID string, vector []float32, sparse *embed.SparseVector, opts vecindex.SearchOptions) ([]vecindex.SearchHit, error)
}

// Policy shapes results after search.
type Policy struct {
	TopK             int
	MaxCharsPerChunk int
	MinScore         float64
}

// Query is one retrieval request.
type Query struct {
	ProjectID string
	Text      string
	TopK      int

	// Optional filters forwarded to the index.
	Tags          []string
	Year          int
	ItemKey       string
	AttachmentKey string
}

// Result is one retrieved chunk shaped for presentation.
type Result struct {
	Text        string   `json:"text"`
	Score       float32  `json:"score"`
	Citekey     string   `json:"citekey"`
	Section     string   `json:"section"`
	PageSpan    [2]int   `json:"page_span"`
	SectionPath []string `json:"section_path,omitempty"`
	DOI         string   `json:"doi,omitempty"`
	URL         string   `json:"url,omitempty"`
}

// Retriever embeds queries and searches the index.
type Retriever struct {
	index  Searcher
	dense  embed.Embedder
	sparse embed.SparseEmbedder
	policy Policy
}

// New creates a Retriever. The sparse embedder may be nil when hybrid search
// is not configured.
func New(index Searcher, dense embed.Embedder, sparse embed.SparseEmbedder, policy Policy) *Retriever {
	if policy.MaxCharsPerChunk <= 0 {
		policy.MaxCharsPerChunk = 1200
	}
	return &Retriever{index: index, dense: dense, sparse: sparse, policy: policy}
}

// Find runs a dense search.
func (r *Retriever) Find(ctx context.Context, q Query) ([]Result, error) {
	vector, err := r.embedQuery(ctx, q.Text)
	if err != nil {
		return nil, err
	}
	hits, err := r.index.SearchDense(ctx, q.ProjectID, vector, r.searchOptions(q))
	if err != nil {
		return nil, err
	}
	return r.shape(hits), nil
}

// FindHybrid runs a fused dense and sparse search. Index-side refusals
// (unknown project, hybrid not supported) propagate unchanged.
func (r *Retriever) FindHybrid(ctx context.Context, q Query) ([]Result, error) {
	if r.sparse == nil {
		return nil, citeerrors.New(citeerrors.ErrCodeHybridNotSupported,
			"no sparse embedder configured")
	}
	vector, err := r.embedQuery(ctx, q.Text)
	if err != nil {
		return nil, err
	}
	sparseVecs, err := r.sparse.EmbedSparse(ctx, []string{q.Text})
	if err != nil {
		return nil, citeerrors.Wrap(err, citeerrors.ErrCodeEmbeddingFailed, "failed to sparse-embed query")
	}
	hits, err := r.index.SearchHybrid(ctx, q.ProjectID, vector, &sparseVecs[0], r.searchOptions(q))
	if err != nil {
		return nil, err
	}
	return r.shape(hits), nil
}

func (r *Retriever) embedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, citeerrors.New(citeerrors.ErrCodeInvalidInput, "query text must not be empty")
	}
	vectors, err := r.dense.Embed(ctx, []string{text})
	if err != nil {
		return nil, citeerrors.Wrap(err, citeerrors.ErrCodeEmbeddingFailed, "failed to embed query")
	}
	return vectors[0], nil
}

func (r *Retriever) searchOptions(q Query) vecindex.SearchOptions {
	return vecindex.SearchOptions{
		TopK:          ClampTopK(q.TopK, r.policy.TopK),
		Tags:          q.Tags,
		Year:          q.Year,
		ItemKey:       q.ItemKey,
		AttachmentKey: q.AttachmentKey,
	}
}

// shape applies min-score filtering and text trimming.
func (r *Retriever) shape(hits []vecindex.SearchHit) []Result {
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		if float64(h.Score) < r.policy.MinScore {
			continue
		}
		results = append(results, Result{
			Text:        TrimToWordBoundary(payloadString(h.Payload, "chunk_text"), r.policy.MaxCharsPerChunk),
			Score:       h.Score,
			Citekey:     payloadString(h.Payload, "citekey"),
			Section:     payloadString(h.Payload, "heading_chain"),
			PageSpan:    [2]int{payloadInt(h.Payload, "page_start"), payloadInt(h.Payload, "page_end")},
			SectionPath: payloadStrings(h.Payload, "section_path"),
			DOI:         payloadString(h.Payload, "doi"),
			URL:         payloadString(h.Payload, "url"),
		})
	}
	return results
}

// ClampTopK bounds a requested top_k into [1, 20]. Zero falls back to the
// policy default, then 6.
func ClampTopK(requested, policyDefault int) int {
	k := requested
	if k == 0 {
		k = policyDefault
	}
	if k == 0 {
		k = defaultTopK
	}
	if k < minTopK {
		k = minTopK
	}
	if k > maxTopK {
		k = maxTopK
	}
	return k
}

// TrimToWordBoundary cuts text to at most maxChars runes, ellipsis included,
// backing up to the nearest word boundary. Budgets too small to carry an
// ellipsis are hard-cut.
func TrimToWordBoundary(text string, maxChars int) string {
	if maxChars <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}

	const ellipsis = "..."
	budget := maxChars - len(ellipsis)
	if budget <= 0 {
		return string(runes[:maxChars])
	}

	cut := budget
	for cut > 0 && !unicode.IsSpace(runes[cut-1]) {
		cut--
	}
	if cut == 0 {
		cut = budget
	}
	return strings.TrimRightFunc(string(runes[:cut]), unicode.IsSpace) + ellipsis
}

func payloadString(payload map[string]any, key string) string {
	if s, ok := payload[key].(string); ok {
		return s
	}
	return ""
}

func payloadInt(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case int64:
		return int(v)
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func payloadStrings(payload map[string]any, key string) []string {
	items, ok := payload[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
