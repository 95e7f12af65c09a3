package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// StaticEmbedder produces deterministic shape-correct vectors derived from
// the text hash. It stands in for a real model when none is reachable and in
// tests; vectors from equal texts are equal, so identity properties still
// hold downstream.
type StaticEmbedder struct {
	name string
	dims int
}

var _ Embedder = (*StaticEmbedder)(nil)

// NewStaticEmbedder creates the embedder with the given dimension.
func NewStaticEmbedder(name string, dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = 384
	}
	if name == "" {
		name = "static"
	}
	return &StaticEmbedder{name: name, dims: dims}
}

// Embed returns one unit vector per text, seeded from its SHA-256 hash.
// Empty texts yield zero vectors.
func (e *StaticEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v := make([]float32, e.dims)
		if text != "" {
			seed := sha256.Sum256([]byte(text))
			state := binary.BigEndian.Uint64(seed[:8])
			for j := range v {
				state = state*6364136223846793005 + 1442695040888963407
				v[j] = float32(uint32(state>>32))/float32(math.MaxUint32)*2 - 1
			}
			v = normalize(v)
		}
		vectors[i] = v
	}
	return vectors, nil
}

// Dimensions returns the embedding dimension.
func (e *StaticEmbedder) Dimensions() int { return e.dims }

// ModelName returns the model identifier.
func (e *StaticEmbedder) ModelName() string { return e.name }
