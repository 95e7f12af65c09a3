package retrieval

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citeloom/citeloom/internal/embed"
	citeerrors "github.com/citeloom/citeloom/internal/errors"
	"github.com/citeloom/citeloom/internal/vecindex"
)

type fakeIndex struct {
	denseHits  []vecindex.SearchHit
	hybridHits []vecindex.SearchHit
	err        error

	lastProject string
	lastOpts    vecindex.SearchOptions
	lastSparse  *embed.SparseVector
}

func (f *fakeIndex) SearchDense(_ context.Context, projectID string, _ []float32, opts vecindex.SearchOptions) ([]vecindex.SearchHit, error) {
	f.lastProject, f.lastOpts = projectID, opts
	return f.denseHits, f.err
}

func (f *fakeIndex) SearchHybrid(_ context.Context, projectID string, _ []float32, sparse *embed.SparseVector, opts vecindex.SearchOptions) ([]vecindex.SearchHit, error) {
	f.lastProject, f.lastOpts, f.lastSparse = projectID, opts, sparse
	return f.hybridHits, f.err
}

func newRetriever(index *fakeIndex, policy Policy) *Retriever {
	return New(index, embed.NewStaticEmbedder("static", 8), embed.NewLexicalEmbedder(""), policy)
}

func hit(score float32, text string, extra map[string]any) vecindex.SearchHit {
	payload := map[string]any{
		"chunk_text":    text,
		"citekey":       "vaswani2017attention",
		"heading_chain": "Methods > Sampling",
		"page_start":    int64(3),
		"page_end":      int64(4),
		"section_path":  []any{"Methods", "Sampling"},
		"doi":           "10.1000/xyz",
	}
	for k, v := range extra {
		payload[k] = v
	}
	return vecindex.SearchHit{ID: "p1", Score: score, Payload: payload}
}

func TestClampTopK(t *testing.T) {
	assert.Equal(t, 6, ClampTopK(0, 0))
	assert.Equal(t, 8, ClampTopK(0, 8))
	assert.Equal(t, 1, ClampTopK(-3, 0))
	assert.Equal(t, 20, ClampTopK(50, 0))
	assert.Equal(t, 12, ClampTopK(12, 6))
}

func TestTrimToWordBoundary(t *testing.T) {
	assert.Equal(t, "short", TrimToWordBoundary("short", 100))
	assert.Equal(t, "alpha...", TrimToWordBoundary("alpha beta gamma", 12))

	// No boundary inside the window falls back to a hard cut; the ellipsis
	// still fits inside the budget.
	long := strings.Repeat("x", 30)
	assert.Equal(t, strings.Repeat("x", 7)+"...", TrimToWordBoundary(long, 10))

	// Budgets too small for an ellipsis are hard-cut.
	assert.Equal(t, "xxx", TrimToWordBoundary(long, 3))
}

func TestTrimToWordBoundary_NeverExceedsBudget(t *testing.T) {
	inputs := []string{
		"aaaa bbbbb",
		"aaaaaaaaaa",
		strings.Repeat("word ", 50),
		"short",
	}
	for _, in := range inputs {
		for _, max := range []int{1, 3, 5, 12, 40} {
			got := TrimToWordBoundary(in, max)
			assert.LessOrEqual(t, len([]rune(got)), max, "input %q max %d got %q", in, max, got)
		}
	}
}

func TestFind_ShapesResults(t *testing.T) {
	index := &fakeIndex{denseHits: []vecindex.SearchHit{hit(0.82, "The attention mechanism weighs tokens.", nil)}}
	r := newRetriever(index, Policy{TopK: 6, MaxCharsPerChunk: 1200})

	results, err := r.Find(context.Background(), Query{ProjectID: "citeloom/clean-arch", Text: "attention"})
	require.NoError(t, err)
	require.Len(t, results, 1)

	got := results[0]
	assert.Equal(t, "The attention mechanism weighs tokens.", got.Text)
	assert.Equal(t, float32(0.82), got.Score)
	assert.Equal(t, "vaswani2017attention", got.Citekey)
	assert.Equal(t, "Methods > Sampling", got.Section)
	assert.Equal(t, [2]int{3, 4}, got.PageSpan)
	assert.Equal(t, []string{"Methods", "Sampling"}, got.SectionPath)
	assert.Equal(t, "10.1000/xyz", got.DOI)

	assert.Equal(t, "citeloom/clean-arch", index.lastProject)
	assert.Equal(t, 6, index.lastOpts.TopK)
}

func TestFind_DropsHitsUnderMinScore(t *testing.T) {
	index := &fakeIndex{denseHits: []vecindex.SearchHit{
		hit(0.9, "keep", nil),
		hit(0.2, "drop", nil),
	}}
	r := newRetriever(index, Policy{MinScore: 0.5})

	results, err := r.Find(context.Background(), Query{ProjectID: "p", Text: "q"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "keep", results[0].Text)
}

func TestFind_TrimsLongChunks(t *testing.T) {
	text := strings.Repeat("word ", 100)
	index := &fakeIndex{denseHits: []vecindex.SearchHit{hit(0.9, text, nil)}}
	r := newRetriever(index, Policy{MaxCharsPerChunk: 50})

	results, err := r.Find(context.Background(), Query{ProjectID: "p", Text: "q"})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(results[0].Text), 53)
	assert.True(t, strings.HasSuffix(results[0].Text, "..."))
}

func TestFind_ForwardsFilters(t *testing.T) {
	index := &fakeIndex{}
	r := newRetriever(index, Policy{})

	_, err := r.Find(context.Background(), Query{
		ProjectID: "p", Text: "q", TopK: 9,
		Tags: []string{"ml"}, Year: 2017, ItemKey: "ITEM1",
	})
	require.NoError(t, err)
	assert.Equal(t, 9, index.lastOpts.TopK)
	assert.Equal(t, []string{"ml"}, index.lastOpts.Tags)
	assert.Equal(t, 2017, index.lastOpts.Year)
	assert.Equal(t, "ITEM1", index.lastOpts.ItemKey)
}

func TestFind_EmptyQueryRejected(t *testing.T) {
	r := newRetriever(&fakeIndex{}, Policy{})
	_, err := r.Find(context.Background(), Query{ProjectID: "p", Text: "  "})
	require.Error(t, err)
	assert.Equal(t, citeerrors.ErrCodeInvalidInput, citeerrors.GetCode(err))
}

func TestFindHybrid_PassesSparseVector(t *testing.T) {
	index := &fakeIndex{hybridHits: []vecindex.SearchHit{hit(0.7, "fused", nil)}}
	r := newRetriever(index, Policy{})

	results, err := r.FindHybrid(context.Background(), Query{ProjectID: "p", Text: "attention heads"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NotNil(t, index.lastSparse)
	assert.NotEmpty(t, index.lastSparse.Indices)
}

func TestFindHybrid_PropagatesIndexRefusal(t *testing.T) {
	index := &fakeIndex{err: citeerrors.New(citeerrors.ErrCodeHybridNotSupported, "no sparse model")}
	r := newRetriever(index, Policy{})

	_, err := r.FindHybrid(context.Background(), Query{ProjectID: "p", Text: "q"})
	require.Error(t, err)
	assert.Equal(t, citeerrors.ErrCodeHybridNotSupported, citeerrors.GetCode(err))
}

func TestFindHybrid_WithoutSparseEmbedder(t *testing.T) {
	r := New(&fakeIndex{}, embed.NewStaticEmbedder("static", 8), nil, Policy{})
	_, err := r.FindHybrid(context.Background(), Query{ProjectID: "p", Text: "q"})
	require.Error(t, err)
	assert.Equal(t, citeerrors.ErrCodeHybridNotSupported, citeerrors.GetCode(err))
}
