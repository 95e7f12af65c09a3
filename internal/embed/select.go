package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strconv"
	"strings"

	citeerrors "github.com/citeloom/citeloom/internal/errors"
)

// ForModel resolves a dense model id to an embedder, shared through the pool.
// "static" and "static:<dims>" select the deterministic offline embedder;
// every other id is served by an Ollama-compatible endpoint, with the host
// taken from OLLAMA_HOST.
func ForModel(ctx context.Context, pool *Pool, modelID string) (Embedder, error) {
	if modelID == "" {
		return nil, citeerrors.New(citeerrors.ErrCodeConfigInvalid, "embedding model id is empty")
	}

	if modelID == "static" || strings.HasPrefix(modelID, "static:") {
		dims := 0
		if rest, ok := strings.CutPrefix(modelID, "static:"); ok {
			n, err := strconv.Atoi(rest)
			if err != nil || n <= 0 {
				return nil, citeerrors.New(citeerrors.ErrCodeConfigInvalid,
					"static embedder dimensions must be a positive integer, got "+rest)
			}
			dims = n
		}
		return pool.Dense(modelID, "", func() (Embedder, error) {
			return NewStaticEmbedder(modelID, dims), nil
		})
	}

	host := os.Getenv("OLLAMA_HOST")
	if host == "" {
		host = defaultOllamaHost
	}
	return pool.Dense(modelID, hostHash(host), func() (Embedder, error) {
		return NewOllamaEmbedder(ctx, OllamaConfig{Host: host, Model: modelID})
	})
}

// SparseForModel resolves a sparse model id, shared through the pool. Only the
// local lexical embedder family is supported.
func SparseForModel(pool *Pool, modelID string) (SparseEmbedder, error) {
	if modelID == "" {
		return nil, nil
	}
	return pool.Sparse(modelID, "", func() (SparseEmbedder, error) {
		return NewLexicalEmbedder(modelID), nil
	})
}

// hostHash keeps pool keys stable per endpoint without leaking the URL.
func hostHash(host string) string {
	if host == defaultOllamaHost {
		return ""
	}
	sum := sha256.Sum256([]byte(host))
	return hex.EncodeToString(sum[:4])
}
