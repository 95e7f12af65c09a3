// Package embed provides dense and sparse embedding engines behind a
// process-scoped pool keyed by model id.
package embed

import "context"

// Embedder generates dense embeddings for texts.
type Embedder interface {
	// Embed returns one vector per input text, in order. Empty inputs yield
	// zero vectors of the right dimension.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string
}

// SparseVector is a lexical embedding in index/value form, matching the
// vector store's sparse wire format.
type SparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

// SparseEmbedder generates sparse lexical embeddings.
type SparseEmbedder interface {
	EmbedSparse(ctx context.Context, texts []string) ([]SparseVector, error)
	ModelName() string
}
