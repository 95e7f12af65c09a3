package embed

import (
	"context"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"unicode"
)

// LexicalEmbedder produces sparse term-frequency vectors locally by hashing
// lowercased tokens into the index space. It needs no external service.
type LexicalEmbedder struct {
	name string
}

var _ SparseEmbedder = (*LexicalEmbedder)(nil)

// NewLexicalEmbedder creates a local sparse embedder under the given name.
func NewLexicalEmbedder(name string) *LexicalEmbedder {
	if name == "" {
		name = "lexical-tf"
	}
	return &LexicalEmbedder{name: name}
}

// EmbedSparse tokenizes each text and returns log-scaled term frequencies
// keyed by token hash. Indices are sorted ascending, as the vector store
// expects.
func (e *LexicalEmbedder) EmbedSparse(ctx context.Context, texts []string) ([]SparseVector, error) {
	vectors := make([]SparseVector, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vectors[i] = sparseVector(text)
	}
	return vectors, nil
}

// ModelName returns the embedder name.
func (e *LexicalEmbedder) ModelName() string { return e.name }

func sparseVector(text string) SparseVector {
	counts := make(map[uint32]float32)
	for _, tok := range lexicalTokens(text) {
		counts[tokenHash(tok)]++
	}

	indices := make([]uint32, 0, len(counts))
	for idx := range counts {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(a, b int) bool { return indices[a] < indices[b] })

	values := make([]float32, len(indices))
	for i, idx := range indices {
		values[i] = 1 + float32(math.Log(float64(counts[idx])))
	}
	return SparseVector{Indices: indices, Values: values}
}

// lexicalTokens lowercases and splits on non-alphanumeric runes, dropping
// single-character tokens.
func lexicalTokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if len(f) > 1 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

func tokenHash(token string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	return h.Sum32()
}
