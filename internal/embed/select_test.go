package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForModel_Static(t *testing.T) {
	pool := NewPool()

	e, err := ForModel(context.Background(), pool, "static")
	require.NoError(t, err)
	assert.Equal(t, 384, e.Dimensions())

	again, err := ForModel(context.Background(), pool, "static")
	require.NoError(t, err)
	assert.Same(t, e, again)
}

func TestForModel_StaticWithDims(t *testing.T) {
	e, err := ForModel(context.Background(), NewPool(), "static:512")
	require.NoError(t, err)
	assert.Equal(t, 512, e.Dimensions())

	_, err = ForModel(context.Background(), NewPool(), "static:banana")
	require.Error(t, err)
}

func TestForModel_EmptyID(t *testing.T) {
	_, err := ForModel(context.Background(), NewPool(), "")
	require.Error(t, err)
}

func TestForModel_OllamaEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		embeddings := make([][]float64, len(req.Input))
		for i := range embeddings {
			embeddings[i] = []float64{1, 0, 0, 0}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": embeddings})
	}))
	defer srv.Close()
	t.Setenv("OLLAMA_HOST", srv.URL)

	e, err := ForModel(context.Background(), NewPool(), "bge-m3")
	require.NoError(t, err)
	assert.Equal(t, 4, e.Dimensions())
	assert.Equal(t, "bge-m3", e.ModelName())
}

func TestSparseForModel(t *testing.T) {
	pool := NewPool()

	sparse, err := SparseForModel(pool, "lexical-tf")
	require.NoError(t, err)
	require.NotNil(t, sparse)

	again, err := SparseForModel(pool, "lexical-tf")
	require.NoError(t, err)
	assert.Same(t, sparse, again)

	none, err := SparseForModel(pool, "")
	require.NoError(t, err)
	assert.Nil(t, none)
}
