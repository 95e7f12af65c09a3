package vecindex

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/citeloom/citeloom/internal/embed"
	citeerrors "github.com/citeloom/citeloom/internal/errors"
)

// Hybrid fallback weights when server-side fusion is unavailable.
const (
	convexDenseWeight  = 0.7
	convexSparseWeight = 0.3
)

const defaultSearchLimit = 6

// CollectionSpec describes a collection to create or verify.
type CollectionSpec struct {
	ProjectID   string
	DenseModel  string
	DenseDims   int
	SparseModel string
	Hybrid      bool
	OnDisk      bool
}

// Gateway mediates all vector store access. It enforces the project filter on
// every search and the model binding on every write.
type Gateway struct {
	client   vectorClient
	bindings *BindingStore
	logger   *slog.Logger

	mu    sync.Mutex
	colMu map[string]*sync.Mutex
}

// NewGateway creates a Gateway over the given client and binding store.
func NewGateway(client vectorClient, bindings *BindingStore, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		client:   client,
		bindings: bindings,
		logger:   logger,
		colMu:    make(map[string]*sync.Mutex),
	}
}

// NewQdrantGateway connects to Qdrant and loads the binding store, the usual
// entry point for the CLI and MCP server.
func NewQdrantGateway(url, apiKey, bindingsPath string, logger *slog.Logger) (*Gateway, error) {
	client, err := NewGRPCClient(url, apiKey)
	if err != nil {
		return nil, err
	}
	bindings, err := NewBindingStore(bindingsPath)
	if err != nil {
		return nil, err
	}
	return NewGateway(client, bindings, logger), nil
}

// collectionMutex returns the per-collection mutex, creating it on first use.
// Concurrent upserts to the same project serialize only their binding
// verification, not their point writes.
func (g *Gateway) collectionMutex(name string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.colMu[name]
	if !ok {
		m = &sync.Mutex{}
		g.colMu[name] = m
	}
	return m
}

// EnsureCollection creates the collection, its payload indexes, and the model
// binding. Repeated calls with the same models are no-ops; a different dense
// model fails with an embedding mismatch.
func (g *Gateway) EnsureCollection(ctx context.Context, spec CollectionSpec) error {
	name := CollectionName(spec.ProjectID)
	mu := g.collectionMutex(name)
	mu.Lock()
	defer mu.Unlock()

	if bound, ok := g.bindings.Get(name); ok {
		if bound.DenseModel != spec.DenseModel {
			return embeddingMismatch(name, bound.DenseModel, spec.DenseModel)
		}
		if spec.SparseModel != "" && bound.SparseModel != "" && bound.SparseModel != spec.SparseModel {
			g.logger.Warn("sparse model differs from bound model, hybrid search may degrade",
				"collection", name, "bound", bound.SparseModel, "provided", spec.SparseModel)
		}
		return nil
	}

	exists, err := g.client.CollectionExists(ctx, name)
	if err != nil {
		return citeerrors.Wrap(err, citeerrors.ErrCodeIndexUnavailable,
			"failed to check collection "+name)
	}
	if !exists {
		if err := g.createCollection(ctx, name, spec); err != nil {
			return err
		}
	}

	if err := g.createIndexes(ctx, name, spec.Hybrid); err != nil {
		return err
	}

	return g.bindings.Put(Binding{
		ProjectID:     spec.ProjectID,
		Collection:    name,
		DenseModel:    spec.DenseModel,
		SparseModel:   spec.SparseModel,
		HybridEnabled: spec.Hybrid,
		BoundAt:       time.Now().UTC(),
	})
}

// ForceRebuild deletes the collection and its binding, then recreates both.
// This is the only way to change a bound dense model.
func (g *Gateway) ForceRebuild(ctx context.Context, spec CollectionSpec) error {
	name := CollectionName(spec.ProjectID)
	mu := g.collectionMutex(name)
	mu.Lock()

	exists, err := g.client.CollectionExists(ctx, name)
	if err != nil {
		mu.Unlock()
		return citeerrors.Wrap(err, citeerrors.ErrCodeIndexUnavailable,
			"failed to check collection "+name)
	}
	if exists {
		if err := g.client.DeleteCollection(ctx, name); err != nil {
			mu.Unlock()
			return citeerrors.Wrap(err, citeerrors.ErrCodeIndexUnavailable,
				"failed to delete collection "+name)
		}
	}
	if err := g.bindings.Delete(name); err != nil {
		mu.Unlock()
		return err
	}
	mu.Unlock()

	g.logger.Info("collection rebuilt", "collection", name, "dense_model", spec.DenseModel)
	return g.EnsureCollection(ctx, spec)
}

func (g *Gateway) createCollection(ctx context.Context, name string, spec CollectionSpec) error {
	dims := spec.DenseDims
	if dims <= 0 {
		return citeerrors.New(citeerrors.ErrCodeInvalidInput,
			fmt.Sprintf("dense dimensions must be positive for collection %s", name))
	}

	req := &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			DenseVectorName: {
				Size:     uint64(dims),
				Distance: qdrant.Distance_Cosine,
				OnDisk:   qdrant.PtrOf(spec.OnDisk),
			},
		}),
		HnswConfig: &qdrant.HnswConfigDiff{OnDisk: qdrant.PtrOf(spec.OnDisk)},
	}
	if spec.Hybrid {
		req.SparseVectorsConfig = qdrant.NewSparseVectorsConfig(map[string]*qdrant.SparseVectorParams{
			SparseVectorName: {
				Index: &qdrant.SparseIndexConfig{OnDisk: qdrant.PtrOf(spec.OnDisk)},
			},
		})
	}

	if err := g.client.CreateCollection(ctx, req); err != nil {
		return citeerrors.Wrap(err, citeerrors.ErrCodeIndexUnavailable,
			"failed to create collection "+name)
	}
	return nil
}

func (g *Gateway) createIndexes(ctx context.Context, name string, hybrid bool) error {
	for _, field := range keywordIndexFields {
		if err := g.fieldIndex(ctx, name, field, qdrant.FieldType_FieldTypeKeyword); err != nil {
			return err
		}
	}
	if err := g.fieldIndex(ctx, name, "year", qdrant.FieldType_FieldTypeInteger); err != nil {
		return err
	}
	if hybrid {
		if err := g.fieldIndex(ctx, name, "chunk_text", qdrant.FieldType_FieldTypeText); err != nil {
			return err
		}
	}
	return nil
}

func (g *Gateway) fieldIndex(ctx context.Context, name, field string, ft qdrant.FieldType) error {
	err := g.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: name,
		FieldName:      field,
		FieldType:      ft.Enum(),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return citeerrors.Wrap(err, citeerrors.ErrCodeIndexUnavailable,
			fmt.Sprintf("failed to index payload field %s on %s", field, name))
	}
	return nil
}

// Upsert writes points after verifying the model binding. Transient failures
// retry at 1s, 2s, 4s.
func (g *Gateway) Upsert(ctx context.Context, projectID, denseModel, sparseModel string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	name := CollectionName(projectID)

	mu := g.collectionMutex(name)
	mu.Lock()
	bound, ok := g.bindings.Get(name)
	if !ok {
		mu.Unlock()
		return citeerrors.New(citeerrors.ErrCodeProjectNotFound,
			fmt.Sprintf("no collection bound for project %s", projectID)).
			WithSuggestion("run ingest to create the collection first")
	}
	if bound.DenseModel != denseModel {
		mu.Unlock()
		return embeddingMismatch(name, bound.DenseModel, denseModel)
	}
	if sparseModel != "" && bound.SparseModel != "" && bound.SparseModel != sparseModel {
		g.logger.Warn("sparse model differs from bound model, hybrid search may degrade",
			"collection", name, "bound", bound.SparseModel, "provided", sparseModel)
	}
	mu.Unlock()

	qdrantPoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		vectors := map[string]*qdrant.Vector{
			DenseVectorName: qdrant.NewVectorDense(p.Dense),
		}
		if p.Sparse != nil {
			vectors[SparseVectorName] = qdrant.NewVectorSparse(p.Sparse.Indices, p.Sparse.Values)
		}
		qdrantPoints[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(p.ChunkID)),
			Vectors: qdrant.NewVectorsMap(vectors),
			Payload: qdrant.NewValueMap(p.Payload.toMap()),
		}
	}

	req := &qdrant.UpsertPoints{
		CollectionName: name,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrantPoints,
	}

	err := citeerrors.Retry(ctx, citeerrors.UpsertRetryConfig(), func() error {
		if err := g.client.Upsert(ctx, req); err != nil {
			return citeerrors.Wrap(err, citeerrors.ErrCodeUpsertFailed,
				fmt.Sprintf("upsert of %d points to %s failed", len(points), name))
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Re-assert the binding so a concurrent rebuild cannot leave the
	// collection unbound after our write.
	if err := g.bindings.Put(bound); err != nil {
		g.logger.Warn("could not re-assert model binding after upsert",
			"collection", name, "error", err)
	}
	return nil
}

// SearchDense runs a filtered dense search. The project filter is always
// injected server-side.
func (g *Gateway) SearchDense(ctx context.Context, projectID string, vector []float32, opts SearchOptions) ([]SearchHit, error) {
	name := CollectionName(projectID)
	if _, ok := g.bindings.Get(name); !ok {
		return nil, projectNotFound(projectID)
	}

	hits, err := g.queryDense(ctx, name, projectID, vector, opts, limitOf(opts))
	if err != nil {
		return nil, err
	}
	return hits, nil
}

// SearchHybrid fuses dense and sparse results. It requires both models bound;
// server-side RRF fusion is preferred, with a client-side convex combination
// as fallback.
func (g *Gateway) SearchHybrid(ctx context.Context, projectID string, vector []float32, sparse *embed.SparseVector, opts SearchOptions) ([]SearchHit, error) {
	name := CollectionName(projectID)
	bound, ok := g.bindings.Get(name)
	if !ok {
		return nil, projectNotFound(projectID)
	}
	if !bound.HybridEnabled || bound.SparseModel == "" {
		return nil, citeerrors.New(citeerrors.ErrCodeHybridNotSupported,
			fmt.Sprintf("project %s has no sparse model bound", projectID)).
			WithDetail("reason", "collection was created without hybrid support").
			WithSuggestion("rebuild the collection with hybrid_enabled = true")
	}
	if sparse == nil {
		return nil, citeerrors.New(citeerrors.ErrCodeInvalidInput, "hybrid search requires a sparse query vector")
	}

	limit := limitOf(opts)
	filter := buildFilter(projectID, opts)
	prefetchLimit := uint64(limit * 2)

	hits, err := g.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Prefetch: []*qdrant.PrefetchQuery{
			{
				Query:  qdrant.NewQueryDense(vector),
				Using:  qdrant.PtrOf(DenseVectorName),
				Filter: filter,
				Limit:  qdrant.PtrOf(prefetchLimit),
			},
			{
				Query:  qdrant.NewQuerySparse(sparse.Indices, sparse.Values),
				Using:  qdrant.PtrOf(SparseVectorName),
				Filter: filter,
				Limit:  qdrant.PtrOf(prefetchLimit),
			},
		},
		Query:       qdrant.NewQueryFusion(qdrant.Fusion_RRF),
		Limit:       qdrant.PtrOf(uint64(limit)),
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err == nil {
		return scoredHits(hits), nil
	}

	g.logger.Warn("server-side fusion unavailable, falling back to convex combination",
		"collection", name, "error", err)

	dense, err := g.queryDense(ctx, name, projectID, vector, opts, limit*2)
	if err != nil {
		return nil, err
	}
	sparseHits, err := g.querySparse(ctx, name, projectID, sparse, opts, limit*2)
	if err != nil {
		return nil, err
	}
	return convexMerge(dense, sparseHits, limit), nil
}

func (g *Gateway) queryDense(ctx context.Context, name, projectID string, vector []float32, opts SearchOptions, limit int) ([]SearchHit, error) {
	hits, err := g.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQueryDense(vector),
		Using:          qdrant.PtrOf(DenseVectorName),
		Filter:         buildFilter(projectID, opts),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, citeerrors.Wrap(err, citeerrors.ErrCodeIndexUnavailable,
			"dense search failed on "+name)
	}
	return scoredHits(hits), nil
}

func (g *Gateway) querySparse(ctx context.Context, name, projectID string, sparse *embed.SparseVector, opts SearchOptions, limit int) ([]SearchHit, error) {
	hits, err := g.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQuerySparse(sparse.Indices, sparse.Values),
		Using:          qdrant.PtrOf(SparseVectorName),
		Filter:         buildFilter(projectID, opts),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, citeerrors.Wrap(err, citeerrors.ErrCodeIndexUnavailable,
			"sparse search failed on "+name)
	}
	return scoredHits(hits), nil
}

// Inspect reports collection size, schema, and an optional payload sample.
func (g *Gateway) Inspect(ctx context.Context, projectID string, sample int) (*CollectionInfo, error) {
	name := CollectionName(projectID)
	bound, ok := g.bindings.Get(name)
	if !ok {
		return nil, projectNotFound(projectID)
	}

	count, err := g.client.Count(ctx, name)
	if err != nil {
		return nil, citeerrors.Wrap(err, citeerrors.ErrCodeIndexUnavailable,
			"failed to count points in "+name)
	}

	info := &CollectionInfo{
		ProjectID:     projectID,
		Collection:    name,
		Size:          count,
		EmbedModel:    bound.DenseModel,
		SparseModel:   bound.SparseModel,
		HybridEnabled: bound.HybridEnabled,
	}

	collInfo, err := g.client.CollectionInfo(ctx, name)
	if err != nil {
		return nil, citeerrors.Wrap(err, citeerrors.ErrCodeIndexUnavailable,
			"failed to describe collection "+name)
	}
	for field, schema := range collInfo.GetPayloadSchema() {
		info.PayloadKeys = append(info.PayloadKeys, field)
		switch schema.GetDataType() {
		case qdrant.PayloadSchemaType_Keyword:
			info.KeywordIndexes = append(info.KeywordIndexes, field)
		case qdrant.PayloadSchemaType_Text:
			info.FulltextIndex = true
		}
	}
	sort.Strings(info.PayloadKeys)
	sort.Strings(info.KeywordIndexes)

	if sample > 0 {
		points, err := g.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: name,
			Limit:          qdrant.PtrOf(uint32(sample)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, citeerrors.Wrap(err, citeerrors.ErrCodeIndexUnavailable,
				"failed to sample points from "+name)
		}
		for _, p := range points {
			info.Sample = append(info.Sample, payloadToMap(p.GetPayload()))
		}
	}
	return info, nil
}

// Projects returns all bound projects.
func (g *Gateway) Projects() []Binding {
	return g.bindings.List()
}

// Binding returns the binding for a project, if any.
func (g *Gateway) Binding(projectID string) (Binding, bool) {
	return g.bindings.Get(CollectionName(projectID))
}

func limitOf(opts SearchOptions) int {
	if opts.TopK > 0 {
		return opts.TopK
	}
	return defaultSearchLimit
}

// buildFilter assembles the must conditions. project_id is always first and
// cannot be omitted.
func buildFilter(projectID string, opts SearchOptions) *qdrant.Filter {
	must := []*qdrant.Condition{qdrant.NewMatch("project_id", projectID)}
	for _, tag := range opts.Tags {
		must = append(must, qdrant.NewMatch("tags", tag))
	}
	if opts.Year > 0 {
		must = append(must, qdrant.NewMatchInt("year", int64(opts.Year)))
	}
	if opts.ItemKey != "" {
		must = append(must, qdrant.NewMatch("zotero.item_key", opts.ItemKey))
	}
	if opts.AttachmentKey != "" {
		must = append(must, qdrant.NewMatch("zotero.attachment_key", opts.AttachmentKey))
	}
	return &qdrant.Filter{Must: must}
}

func scoredHits(points []*qdrant.ScoredPoint) []SearchHit {
	hits := make([]SearchHit, len(points))
	for i, p := range points {
		hits[i] = SearchHit{
			ID:      p.GetId().GetUuid(),
			Score:   p.GetScore(),
			Payload: payloadToMap(p.GetPayload()),
		}
	}
	return hits
}

// convexMerge combines two result sets by weighted normalized score.
func convexMerge(dense, sparse []SearchHit, limit int) []SearchHit {
	type merged struct {
		hit   SearchHit
		score float32
	}
	byID := make(map[string]*merged)

	for _, h := range normalizeScores(dense) {
		byID[h.ID] = &merged{hit: h, score: convexDenseWeight * h.Score}
	}
	for _, h := range normalizeScores(sparse) {
		if m, ok := byID[h.ID]; ok {
			m.score += convexSparseWeight * h.Score
		} else {
			byID[h.ID] = &merged{hit: h, score: convexSparseWeight * h.Score}
		}
	}

	out := make([]SearchHit, 0, len(byID))
	for _, m := range byID {
		h := m.hit
		h.Score = m.score
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// normalizeScores min-max scales scores into [0,1]. A uniform list maps to 1.
func normalizeScores(hits []SearchHit) []SearchHit {
	if len(hits) == 0 {
		return hits
	}
	min, max := hits[0].Score, hits[0].Score
	for _, h := range hits {
		if h.Score < min {
			min = h.Score
		}
		if h.Score > max {
			max = h.Score
		}
	}
	out := make([]SearchHit, len(hits))
	for i, h := range hits {
		if max > min {
			h.Score = (h.Score - min) / (max - min)
		} else {
			h.Score = 1
		}
		out[i] = h
	}
	return out
}

func embeddingMismatch(collection, expected, provided string) *citeerrors.CiteError {
	return citeerrors.New(citeerrors.ErrCodeEmbeddingMismatch,
		fmt.Sprintf("collection %s is bound to model %s, got %s", collection, expected, provided)).
		WithDetail("expected", expected).
		WithDetail("provided", provided).
		WithSuggestion("use force_rebuild to re-embed with a different model")
}

func projectNotFound(projectID string) *citeerrors.CiteError {
	return citeerrors.New(citeerrors.ErrCodeProjectNotFound,
		fmt.Sprintf("project %s has no collection", projectID)).
		WithSuggestion("run ingest for this project first")
}
