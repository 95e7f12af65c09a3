package embed

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_Format(t *testing.T) {
	assert.Equal(t, "embedding_model:bge-m3:default", Key("bge-m3", ""))
	assert.Equal(t, "embedding_model:bge-m3:a1b2", Key("bge-m3", "a1b2"))
}

func TestPool_ReusesEngine(t *testing.T) {
	pool := NewPool()
	var built int32

	factory := func() (Embedder, error) {
		atomic.AddInt32(&built, 1)
		return NewStaticEmbedder("static", 8), nil
	}

	first, err := pool.Dense("static", "", factory)
	require.NoError(t, err)
	second, err := pool.Dense("static", "", factory)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&built))
	assert.Equal(t, 1, pool.Len())
}

func TestPool_DistinctConfigHashesGetDistinctEngines(t *testing.T) {
	pool := NewPool()
	factory := func() (Embedder, error) { return NewStaticEmbedder("static", 8), nil }

	a, err := pool.Dense("static", "cfg1", factory)
	require.NoError(t, err)
	b, err := pool.Dense("static", "cfg2", factory)
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.Equal(t, 2, pool.Len())
}

func TestPool_ConcurrentAccessBuildsOnce(t *testing.T) {
	pool := NewPool()
	var built int32
	factory := func() (Embedder, error) {
		atomic.AddInt32(&built, 1)
		return NewStaticEmbedder("static", 8), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pool.Dense("static", "", factory)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&built))
}

func TestStaticEmbedder_ShapeAndDeterminism(t *testing.T) {
	e := NewStaticEmbedder("static", 16)
	ctx := context.Background()

	vecs, err := e.Embed(ctx, []string{"alpha", "beta", "alpha", ""})
	require.NoError(t, err)
	require.Len(t, vecs, 4)

	for _, v := range vecs {
		assert.Len(t, v, 16)
	}
	assert.Equal(t, vecs[0], vecs[2])
	assert.NotEqual(t, vecs[0], vecs[1])

	// Empty input yields a zero vector.
	for _, x := range vecs[3] {
		assert.Zero(t, x)
	}

	// Non-empty vectors are unit length.
	var sum float64
	for _, x := range vecs[0] {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-4)
}

func TestLexicalEmbedder_Deterministic(t *testing.T) {
	e := NewLexicalEmbedder("")
	ctx := context.Background()

	vecs, err := e.EmbedSparse(ctx, []string{"Attention is all you need", "Attention is all you need"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, vecs[0], vecs[1])
	assert.Equal(t, "lexical-tf", e.ModelName())
}

func TestLexicalEmbedder_IndicesSortedAndWeighted(t *testing.T) {
	e := NewLexicalEmbedder("lex")
	vecs, err := e.EmbedSparse(context.Background(), []string{"graph graph graph node"})
	require.NoError(t, err)

	v := vecs[0]
	require.Len(t, v.Indices, 2)
	assert.True(t, sort.SliceIsSorted(v.Indices, func(a, b int) bool { return v.Indices[a] < v.Indices[b] }))

	// The repeated term carries the heavier weight.
	var maxVal float32
	for _, x := range v.Values {
		if x > maxVal {
			maxVal = x
		}
	}
	assert.InDelta(t, 1+math.Log(3), float64(maxVal), 1e-5)
}

func TestLexicalEmbedder_EmptyTextYieldsEmptyVector(t *testing.T) {
	e := NewLexicalEmbedder("lex")
	vecs, err := e.EmbedSparse(context.Background(), []string{"   "})
	require.NoError(t, err)
	assert.Empty(t, vecs[0].Indices)
	assert.Empty(t, vecs[0].Values)
}

func TestOllamaEmbedder_EmbedNormalizesAndSkipsBlanks(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		require.Equal(t, "/api/embed", r.URL.Path)

		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "bge-m3", req.Model)

		embeddings := make([][]float64, len(req.Input))
		for i := range req.Input {
			embeddings[i] = []float64{3, 4, 0}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": embeddings})
	}))
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:       srv.URL,
		Model:      "bge-m3",
		Dimensions: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, e.Dimensions())
	assert.Equal(t, "bge-m3", e.ModelName())

	vecs, err := e.Embed(context.Background(), []string{"hello", "", "world"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	assert.InDelta(t, 0.6, float64(vecs[0][0]), 1e-5)
	assert.InDelta(t, 0.8, float64(vecs[0][1]), 1e-5)
	assert.Equal(t, []float32{0, 0, 0}, vecs[1])
	assert.InDelta(t, 0.6, float64(vecs[2][0]), 1e-5)

	// Blank inputs never reach the server. One batch covers both texts.
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))
}

func TestOllamaEmbedder_DetectsDimensionsFromProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float64{{0.1, 0.2, 0.3, 0.4}},
		})
	}))
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL, Model: "bge-m3"})
	require.NoError(t, err)
	assert.Equal(t, 4, e.Dimensions())
}

func TestOllamaEmbedder_RequiresModel(t *testing.T) {
	_, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: "http://localhost:1"})
	assert.Error(t, err)
}

func TestOllamaEmbedder_CountMismatchFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float64{{1, 0}}})
	}))
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL, Model: "m", Dimensions: 2})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), []string{"a", "b"})
	assert.Error(t, err)
}
