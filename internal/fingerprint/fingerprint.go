// Package fingerprint computes composite content fingerprints used for
// dedup and cache invalidation across ingestion runs.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"
)

// PreviewSize is how much of the file participates in the hash.
const PreviewSize = 1 << 20 // 1 MiB

// Fingerprint is the composite record for one source file. The policy
// versions and the embedding model participate in the hash, so any policy
// change invalidates the fingerprint.
type Fingerprint struct {
	ContentHash            string    `json:"content_hash"`
	FileMtime              time.Time `json:"file_mtime"`
	FileSize               int64     `json:"file_size"`
	EmbeddingModel         string    `json:"embedding_model"`
	ChunkingPolicyVersion  string    `json:"chunking_policy_version"`
	EmbeddingPolicyVersion string    `json:"embedding_policy_version"`
}

// Compute reads at most PreviewSize bytes from the start of the file, stats
// it for size and mtime, and hashes preview, size, model id, and both policy
// versions together.
func Compute(path, embeddingModel, chunkingPolicyVersion, embeddingPolicyVersion string) (*Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.CopyN(h, f, PreviewSize); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read preview of %s: %w", path, err)
	}
	fmt.Fprintf(h, "|%d|%s|%s|%s", info.Size(), embeddingModel, chunkingPolicyVersion, embeddingPolicyVersion)

	return &Fingerprint{
		ContentHash:            hex.EncodeToString(h.Sum(nil)),
		FileMtime:              info.ModTime().UTC(),
		FileSize:               info.Size(),
		EmbeddingModel:         embeddingModel,
		ChunkingPolicyVersion:  chunkingPolicyVersion,
		EmbeddingPolicyVersion: embeddingPolicyVersion,
	}, nil
}

// Matches reports whether two fingerprints describe the same content.
// With checkMetadata, mtime and size must also agree; this is collision
// protection on top of the hash.
func (fp *Fingerprint) Matches(other *Fingerprint, checkMetadata bool) bool {
	if other == nil {
		return false
	}
	if fp.ContentHash != other.ContentHash {
		return false
	}
	if !checkMetadata {
		return true
	}
	return fp.FileMtime.Equal(other.FileMtime) && fp.FileSize == other.FileSize
}

// IsUnchanged reports whether the stored fingerprint still describes the file
// the computed fingerprint was taken from. A nil stored fingerprint means the
// document has never been processed.
func IsUnchanged(stored, computed *Fingerprint) bool {
	if stored == nil || computed == nil {
		return false
	}
	return computed.Matches(stored, true)
}
