package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/citeloom/citeloom/internal/config"
	"github.com/citeloom/citeloom/internal/retrieval"
	"github.com/citeloom/citeloom/internal/vecindex"
	"github.com/citeloom/citeloom/pkg/version"
)

// Per-tool deadlines. list_projects reads only local configuration and
// carries none.
const (
	storeDeadline   = 15 * time.Second
	findDeadline    = 8 * time.Second
	hybridDeadline  = 15 * time.Second
	inspectDeadline = 5 * time.Second
)

// Index is the vector gateway surface the server needs.
type Index interface {
	EnsureCollection(ctx context.Context, spec vecindex.CollectionSpec) error
	Upsert(ctx context.Context, projectID, denseModel, sparseModel string, points []vecindex.Point) error
	Inspect(ctx context.Context, projectID string, sample int) (*vecindex.CollectionInfo, error)
}

// Finder is the retrieval surface the server needs.
type Finder interface {
	Find(ctx context.Context, q retrieval.Query) ([]retrieval.Result, error)
	FindHybrid(ctx context.Context, q retrieval.Query) ([]retrieval.Result, error)
}

// Server is the CiteLoom MCP server. It bridges AI clients with the project
// collections: batch upserts in, grounded retrieval out.
type Server struct {
	mcp    *sdk.Server
	index  Index
	finder Finder
	config *config.Config
	logger *slog.Logger
}

// NewServer creates a server and registers the five tools.
func NewServer(index Index, finder Finder, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if index == nil {
		return nil, errors.New("vector index is required")
	}
	if finder == nil {
		return nil, errors.New("retriever is required")
	}
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		index:  index,
		finder: finder,
		config: cfg,
		logger: logger,
	}

	s.mcp = sdk.NewServer(
		&sdk.Implementation{
			Name:    "CiteLoom",
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()

	return s, nil
}

// MCPServer exposes the underlying SDK server, mainly for in-memory test
// transports.
func (s *Server) MCPServer() *sdk.Server {
	return s.mcp
}

// Serve runs the server over stdio until the context is canceled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting MCP server", "transport", "stdio")
	err := s.mcp.Run(ctx, &sdk.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("MCP server stopped", "error", err)
		return err
	}
	s.logger.Info("MCP server stopped")
	return nil
}

func (s *Server) registerTools() {
	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "store_chunks",
		Description: "Store a batch of pre-embedded chunks into a project's collection. The dense model must match the collection binding.",
	}, s.mcpStoreChunksHandler)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "find_chunks",
		Description: "Dense semantic search over a project's indexed chunks. Returns citation-grounded excerpts with citekey, section, and page span.",
	}, s.mcpFindChunksHandler)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "query_hybrid",
		Description: "Hybrid dense + lexical search for projects with a sparse binding. Better recall for terminology-heavy queries.",
	}, s.mcpQueryHybridHandler)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "inspect_collection",
		Description: "Describe a project's collection: point count, payload schema, indexes, and optionally a few sample payloads.",
	}, s.mcpInspectCollectionHandler)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "list_projects",
		Description: "List the configured projects with their collection names and embedding bindings.",
	}, s.mcpListProjectsHandler)

	s.logger.Debug("MCP tools registered", "count", 5)
}

// CallTool dispatches a tool invocation by name with loosely-typed arguments.
// The CLI and tests use this path; stdio clients go through the SDK handlers.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "store_chunks":
		var in StoreChunksInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.storeChunks(ctx, in)
	case "find_chunks":
		var in FindChunksInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.findChunks(ctx, in, false)
	case "query_hybrid":
		var in FindChunksInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.findChunks(ctx, in, true)
	case "inspect_collection":
		var in InspectCollectionInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.inspectCollection(ctx, in)
	case "list_projects":
		return s.listProjects(), nil
	default:
		return nil, errUnknownTool(name)
	}
}

func decodeArgs(args map[string]any, v any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return NewToolError(CodeInvalidInput, "arguments are not encodable: "+err.Error())
	}
	if err := json.Unmarshal(data, v); err != nil {
		return NewToolError(CodeInvalidInput, "arguments do not match the tool schema: "+err.Error())
	}
	return nil
}

func (s *Server) mcpStoreChunksHandler(ctx context.Context, _ *sdk.CallToolRequest, in StoreChunksInput) (
	*sdk.CallToolResult,
	StoreChunksOutput,
	error,
) {
	out, err := s.storeChunks(ctx, in)
	if err != nil {
		return errorResult(MapError(err)), StoreChunksOutput{}, nil
	}
	return nil, *out, nil
}

func (s *Server) mcpFindChunksHandler(ctx context.Context, _ *sdk.CallToolRequest, in FindChunksInput) (
	*sdk.CallToolResult,
	FindChunksOutput,
	error,
) {
	out, err := s.findChunks(ctx, in, false)
	if err != nil {
		return errorResult(MapError(err)), FindChunksOutput{}, nil
	}
	return nil, *out, nil
}

func (s *Server) mcpQueryHybridHandler(ctx context.Context, _ *sdk.CallToolRequest, in FindChunksInput) (
	*sdk.CallToolResult,
	FindChunksOutput,
	error,
) {
	out, err := s.findChunks(ctx, in, true)
	if err != nil {
		return errorResult(MapError(err)), FindChunksOutput{}, nil
	}
	return nil, *out, nil
}

func (s *Server) mcpInspectCollectionHandler(ctx context.Context, _ *sdk.CallToolRequest, in InspectCollectionInput) (
	*sdk.CallToolResult,
	InspectCollectionOutput,
	error,
) {
	out, err := s.inspectCollection(ctx, in)
	if err != nil {
		return errorResult(MapError(err)), InspectCollectionOutput{}, nil
	}
	return nil, *out, nil
}

func (s *Server) mcpListProjectsHandler(_ context.Context, _ *sdk.CallToolRequest, _ ListProjectsInput) (
	*sdk.CallToolResult,
	ListProjectsOutput,
	error,
) {
	return nil, *s.listProjects(), nil
}

// project validates that a project id is configured. Unknown projects fail
// before any index call, so no collection is created as a side effect.
func (s *Server) project(id string) (config.ProjectConfig, *ToolError) {
	if id == "" {
		return config.ProjectConfig{}, NewToolError(CodeInvalidInput, "project is required")
	}
	project, ok := s.config.Projects[id]
	if !ok {
		return config.ProjectConfig{}, &ToolError{
			Code:    CodeInvalidProject,
			Message: fmt.Sprintf("project %q is not configured", id),
			Details: map[string]any{"project": id},
		}
	}
	return project, nil
}

func (s *Server) storeChunks(ctx context.Context, in StoreChunksInput) (*StoreChunksOutput, error) {
	project, terr := s.project(in.Project)
	if terr != nil {
		return nil, terr
	}
	if len(in.Items) < minStoreItems || len(in.Items) > maxStoreItems {
		return nil, NewToolError(CodeInvalidInput,
			fmt.Sprintf("items must contain between %d and %d chunks, got %d", minStoreItems, maxStoreItems, len(in.Items)))
	}

	dims := len(in.Items[0].Embedding)
	points := make([]vecindex.Point, len(in.Items))
	for i, item := range in.Items {
		if item.ID == "" {
			return nil, NewToolError(CodeInvalidInput, fmt.Sprintf("items[%d] has no id", i))
		}
		if len(item.Embedding) != dims || dims == 0 {
			return nil, NewToolError(CodeInvalidInput,
				fmt.Sprintf("items[%d] embedding has %d dimensions, expected %d", i, len(item.Embedding), dims))
		}
		points[i] = vecindex.Point{
			ChunkID: item.ID,
			Dense:   item.Embedding,
			Payload: payloadFromItem(in.Project, project.EmbeddingModel, item),
		}
	}

	embedModel := in.EmbedModel
	if embedModel == "" {
		embedModel = project.EmbeddingModel
	}

	ctx, cancel := context.WithTimeout(ctx, storeDeadline)
	defer cancel()

	spec := vecindex.CollectionSpec{
		ProjectID:   in.Project,
		DenseModel:  project.EmbeddingModel,
		DenseDims:   dims,
		SparseModel: project.SparseModel,
		Hybrid:      project.HybridEnabled,
		OnDisk:      true,
	}
	if err := s.index.EnsureCollection(ctx, spec); err != nil {
		return nil, err
	}
	if err := s.index.Upsert(ctx, in.Project, embedModel, project.SparseModel, points); err != nil {
		return nil, err
	}

	s.logger.Info("stored chunk batch", "project", in.Project, "chunks", len(points))
	return &StoreChunksOutput{
		ChunksWritten: len(points),
		Project:       in.Project,
		EmbedModel:    embedModel,
		Warnings:      []string{},
	}, nil
}

func (s *Server) findChunks(ctx context.Context, in FindChunksInput, hybrid bool) (*FindChunksOutput, error) {
	if _, terr := s.project(in.Project); terr != nil {
		return nil, terr
	}
	if in.Query == "" {
		return nil, NewToolError(CodeInvalidInput, "query is required")
	}

	q := retrieval.Query{
		ProjectID: in.Project,
		Text:      in.Query,
		TopK:      retrieval.ClampTopK(in.TopK, s.config.Retrieval.TopK),
	}
	if in.Filters != nil {
		q.Tags = in.Filters.Tags
		q.Year = in.Filters.Year
		q.ItemKey = in.Filters.ItemKey
		q.AttachmentKey = in.Filters.AttachmentKey
	}

	deadline := findDeadline
	if hybrid {
		deadline = hybridDeadline
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	var (
		results []retrieval.Result
		err     error
	)
	if hybrid {
		results, err = s.finder.FindHybrid(ctx, q)
	} else {
		results, err = s.finder.Find(ctx, q)
	}
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []retrieval.Result{}
	}

	return &FindChunksOutput{
		Items:         results,
		Count:         len(results),
		HybridEnabled: hybrid,
	}, nil
}

func (s *Server) inspectCollection(ctx context.Context, in InspectCollectionInput) (*InspectCollectionOutput, error) {
	if _, terr := s.project(in.Project); terr != nil {
		return nil, terr
	}

	sample := in.Sample
	if sample < 0 {
		sample = 0
	}
	if sample > maxInspectSample {
		sample = maxInspectSample
	}

	ctx, cancel := context.WithTimeout(ctx, inspectDeadline)
	defer cancel()

	info, err := s.index.Inspect(ctx, in.Project, sample)
	if err != nil {
		return nil, err
	}

	out := &InspectCollectionOutput{
		Project:     info.ProjectID,
		Collection:  info.Collection,
		Size:        info.Size,
		EmbedModel:  info.EmbedModel,
		PayloadKeys: info.PayloadKeys,
		Indexes: InspectIndexes{
			Keyword:  info.KeywordIndexes,
			Fulltext: info.FulltextIndex,
		},
		Sample: info.Sample,
	}
	if out.PayloadKeys == nil {
		out.PayloadKeys = []string{}
	}
	if out.Indexes.Keyword == nil {
		out.Indexes.Keyword = []string{}
	}
	if out.Sample == nil {
		out.Sample = []map[string]any{}
	}
	return out, nil
}

func (s *Server) listProjects() *ListProjectsOutput {
	out := &ListProjectsOutput{Projects: []ProjectEntry{}}
	for id, project := range s.config.Projects {
		collection := project.Collection
		if collection == "" {
			collection = vecindex.CollectionName(id)
		}
		out.Projects = append(out.Projects, ProjectEntry{
			ID:            id,
			Collection:    collection,
			EmbedModel:    project.EmbeddingModel,
			HybridEnabled: project.HybridEnabled,
		})
	}
	sort.Slice(out.Projects, func(i, j int) bool { return out.Projects[i].ID < out.Projects[j].ID })
	return out
}

// payloadFromItem maps loose chunk metadata onto the payload schema. Unknown
// keys are dropped; the chunk text and project id always come from the call.
func payloadFromItem(projectID, embedModel string, item ChunkItem) vecindex.ChunkPayload {
	meta := item.Metadata
	return vecindex.ChunkPayload{
		ProjectID:     projectID,
		DocID:         metaString(meta, "doc_id"),
		Citekey:       metaString(meta, "citekey"),
		Year:          metaInt(meta, "year"),
		Tags:          metaStrings(meta, "tags"),
		ItemKey:       metaString(meta, "item_key"),
		AttachmentKey: metaString(meta, "attachment_key"),
		SectionPath:   metaStrings(meta, "section_path"),
		PageStart:     metaInt(meta, "page_start"),
		PageEnd:       metaInt(meta, "page_end"),
		DOI:           metaString(meta, "doi"),
		URL:           metaString(meta, "url"),
		Authors:       metaStrings(meta, "authors"),
		Title:         metaString(meta, "title"),
		SourcePath:    metaString(meta, "source_path"),
		HeadingChain:  metaString(meta, "heading_chain"),
		EmbedModel:    embedModel,
		ChunkText:     item.Text,
	}
}

func metaString(meta map[string]any, key string) string {
	if s, ok := meta[key].(string); ok {
		return s
	}
	return ""
}

func metaInt(meta map[string]any, key string) int {
	switch v := meta[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func metaStrings(meta map[string]any, key string) []string {
	switch v := meta[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
