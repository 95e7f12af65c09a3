// Package vecindex is the gateway to the Qdrant vector store. It owns
// per-project collections with named dense and sparse vectors, their payload
// indexes, and the local binding metadata that pins each collection to an
// embedding model.
package vecindex

import (
	"strings"

	"github.com/google/uuid"

	"github.com/citeloom/citeloom/internal/embed"
)

// Named vectors on every collection. Sparse exists only when hybrid is
// enabled.
const (
	DenseVectorName  = "dense"
	SparseVectorName = "sparse"
)

// PayloadSchemaVersion is stamped into every point payload.
const PayloadSchemaVersion = "1"

// Point types stored in a collection.
const (
	PointTypeChunk      = "chunk"
	PointTypeAnnotation = "annotation"
)

// keywordIndexFields are the payload fields that get a keyword index on
// collection creation.
var keywordIndexFields = []string{
	"project_id", "doc_id", "citekey", "tags",
	"zotero.item_key", "zotero.attachment_key",
}

// pointNamespace is the fixed UUID namespace for deriving point ids from
// chunk ids.
var pointNamespace = uuid.MustParse("9f2d7c51-0b3e-4c8a-b6d4-5a1e8f3c2d10")

// PointID derives the deterministic UUID for a chunk id.
func PointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

// CollectionName derives the collection name for a project id. The collection
// is the sole isolation boundary between projects.
func CollectionName(projectID string) string {
	return "proj-" + strings.ReplaceAll(projectID, "/", "-")
}

// ChunkPayload is the payload stored with every chunk point.
type ChunkPayload struct {
	ProjectID     string
	DocID         string
	Citekey       string
	Year          int
	Tags          []string
	ItemKey       string
	AttachmentKey string
	SectionPath   []string
	PageStart     int
	PageEnd       int
	DOI           string
	URL           string
	Authors       []string
	Title         string
	SourcePath    string
	HeadingChain  string
	EmbedModel    string
	ChunkText     string
	Type          string
}

// toMap flattens the payload for the wire. Zotero keys nest under "zotero" so
// the dotted index paths resolve.
func (p *ChunkPayload) toMap() map[string]any {
	typ := p.Type
	if typ == "" {
		typ = PointTypeChunk
	}
	return map[string]any{
		"project_id": p.ProjectID,
		"doc_id":     p.DocID,
		"citekey":    p.Citekey,
		"year":       int64(p.Year),
		"tags":       toAnySlice(p.Tags),
		"zotero": map[string]any{
			"item_key":       p.ItemKey,
			"attachment_key": p.AttachmentKey,
		},
		"section_path":  toAnySlice(p.SectionPath),
		"page_start":    int64(p.PageStart),
		"page_end":      int64(p.PageEnd),
		"doi":           p.DOI,
		"url":           p.URL,
		"authors":       toAnySlice(p.Authors),
		"title":         p.Title,
		"source_path":   p.SourcePath,
		"heading_chain": p.HeadingChain,
		"embed_model":   p.EmbedModel,
		"chunk_text":    p.ChunkText,
		"version":       PayloadSchemaVersion,
		"type":          typ,
	}
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// Point is one chunk ready for upsert.
type Point struct {
	ChunkID string
	Dense   []float32
	Sparse  *embed.SparseVector
	Payload ChunkPayload
}

// SearchHit is one scored result with its decoded payload.
type SearchHit struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// SearchOptions are the optional filters for a search. The project filter is
// always applied by the gateway and cannot be disabled.
type SearchOptions struct {
	TopK int

	// Tags use AND semantics. Every supplied tag must match.
	Tags          []string
	Year          int
	ItemKey       string
	AttachmentKey string
}

// CollectionInfo is the inspection report for a collection.
type CollectionInfo struct {
	ProjectID      string           `json:"project"`
	Collection     string           `json:"collection"`
	Size           uint64           `json:"size"`
	EmbedModel     string           `json:"embed_model"`
	SparseModel    string           `json:"sparse_model,omitempty"`
	HybridEnabled  bool             `json:"hybrid_enabled"`
	PayloadKeys    []string         `json:"payload_keys"`
	KeywordIndexes []string         `json:"keyword_indexes"`
	FulltextIndex  bool             `json:"fulltext_index"`
	Sample         []map[string]any `json:"sample,omitempty"`
}
