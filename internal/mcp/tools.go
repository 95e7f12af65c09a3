package mcp

import "github.com/citeloom/citeloom/internal/retrieval"

// Batch size bounds for store_chunks.
const (
	minStoreItems = 100
	maxStoreItems = 500
)

// maxInspectSample is the largest sample size inspect_collection returns.
const maxInspectSample = 5

// ChunkItem is one pre-embedded chunk in a store_chunks batch.
type ChunkItem struct {
	ID        string         `json:"id" jsonschema:"stable chunk id, reused as the deterministic point id"`
	Text      string         `json:"text" jsonschema:"chunk text stored in the payload"`
	Embedding []float32      `json:"embedding" jsonschema:"dense vector for the chunk"`
	Metadata  map[string]any `json:"metadata,omitempty" jsonschema:"payload fields such as doc_id, citekey, year, tags"`
}

// StoreChunksInput defines the input schema for the store_chunks tool.
type StoreChunksInput struct {
	Project    string      `json:"project" jsonschema:"project id whose collection receives the chunks"`
	EmbedModel string      `json:"embed_model,omitempty" jsonschema:"dense model that produced the embeddings; defaults to the project binding"`
	Items      []ChunkItem `json:"items" jsonschema:"chunk batch, between 100 and 500 items"`
}

// StoreChunksOutput defines the output schema for the store_chunks tool.
type StoreChunksOutput struct {
	ChunksWritten int      `json:"chunks_written"`
	Project       string   `json:"project"`
	EmbedModel    string   `json:"embed_model"`
	Warnings      []string `json:"warnings"`
}

// SearchFilters narrows a retrieval query.
type SearchFilters struct {
	Tags          []string `json:"tags,omitempty" jsonschema:"tag filters, all must match"`
	Year          int      `json:"year,omitempty" jsonschema:"exact publication year"`
	ItemKey       string   `json:"item_key,omitempty" jsonschema:"restrict to one reference-manager item"`
	AttachmentKey string   `json:"attachment_key,omitempty" jsonschema:"restrict to one attachment"`
}

// FindChunksInput defines the input schema for find_chunks and query_hybrid.
type FindChunksInput struct {
	Project string         `json:"project" jsonschema:"project id to search"`
	Query   string         `json:"query" jsonschema:"the retrieval query text"`
	TopK    int            `json:"top_k,omitempty" jsonschema:"number of results, 1 to 20, default 6"`
	Filters *SearchFilters `json:"filters,omitempty" jsonschema:"optional payload filters"`
}

// FindChunksOutput defines the output schema for find_chunks and query_hybrid.
type FindChunksOutput struct {
	Items         []retrieval.Result `json:"items"`
	Count         int                `json:"count"`
	HybridEnabled bool               `json:"hybrid_enabled,omitempty"`
}

// InspectCollectionInput defines the input schema for inspect_collection.
type InspectCollectionInput struct {
	Project string `json:"project" jsonschema:"project id to inspect"`
	Sample  int    `json:"sample,omitempty" jsonschema:"number of sample payloads to return, 0 to 5"`
}

// InspectIndexes reports which payload indexes exist on the collection.
type InspectIndexes struct {
	Keyword  []string `json:"keyword"`
	Fulltext bool     `json:"fulltext"`
}

// InspectCollectionOutput defines the output schema for inspect_collection.
type InspectCollectionOutput struct {
	Project     string           `json:"project"`
	Collection  string           `json:"collection"`
	Size        uint64           `json:"size"`
	EmbedModel  string           `json:"embed_model"`
	PayloadKeys []string         `json:"payload_keys"`
	Indexes     InspectIndexes   `json:"indexes"`
	Sample      []map[string]any `json:"sample"`
}

// ListProjectsInput defines the input schema for list_projects (no parameters).
type ListProjectsInput struct{}

// ProjectEntry is one configured project in a list_projects response.
type ProjectEntry struct {
	ID            string `json:"id"`
	Collection    string `json:"collection"`
	EmbedModel    string `json:"embed_model"`
	HybridEnabled bool   `json:"hybrid_enabled"`
}

// ListProjectsOutput defines the output schema for list_projects.
type ListProjectsOutput struct {
	Projects []ProjectEntry `json:"projects"`
}
