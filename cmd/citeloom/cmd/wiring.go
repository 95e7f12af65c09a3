package cmd

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/citeloom/citeloom/internal/config"
	"github.com/citeloom/citeloom/internal/convert"
	"github.com/citeloom/citeloom/internal/embed"
	"github.com/citeloom/citeloom/internal/fulltext"
	"github.com/citeloom/citeloom/internal/metadata"
	"github.com/citeloom/citeloom/internal/retrieval"
	"github.com/citeloom/citeloom/internal/vecindex"
	"github.com/citeloom/citeloom/internal/zotero"
)

// buildRouter wires the Zotero source router from configuration. The local
// reader may be unavailable (no Zotero installation); the router then falls
// back to the web backend if one is configured.
func buildRouter(cfg *config.Config, logger *slog.Logger) (*zotero.Router, *zotero.LocalReader, error) {
	strategy, err := zotero.ParseStrategy(cfg.Zotero.Strategy)
	if err != nil {
		return nil, nil, err
	}

	var local zotero.ZoteroSource
	reader, err := zotero.NewLocalReader(cfg.Zotero.DataDir, logger)
	if err != nil {
		logger.Warn("local Zotero library unavailable", "error", err)
		reader = nil
	} else {
		local = reader
	}

	var web zotero.ZoteroSource
	if cfg.Zotero.LibraryID != "" {
		client, err := zotero.NewWebClient(zotero.WebClientConfig{
			LibraryID:   cfg.Zotero.LibraryID,
			LibraryType: cfg.Zotero.LibraryType,
			APIKey:      cfg.Zotero.APIKey,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		web = client
	}

	router, err := zotero.NewRouter(local, web, strategy, logger)
	if err != nil {
		return nil, nil, err
	}
	return router, reader, nil
}

// buildGateway connects to the vector store and loads collection bindings.
func buildGateway(cfg *config.Config, logger *slog.Logger) (*vecindex.Gateway, error) {
	return vecindex.NewQdrantGateway(cfg.Qdrant.URL, cfg.Qdrant.APIKey, cfg.CollectionMetaPath(), logger)
}

// buildFulltext wires the full-text resolver: the local reader's cached text
// plus the MuPDF converter.
func buildFulltext(cfg *config.Config, reader *zotero.LocalReader, logger *slog.Logger) *fulltext.Resolver {
	converter := convert.NewConverter(convert.NewFitzEngine(), convert.Options{
		DocTimeout:  time.Duration(cfg.Ingestion.DocTimeoutSec) * time.Second,
		PageTimeout: time.Duration(cfg.Ingestion.PageTimeoutSec) * time.Second,
	}, logger)

	var cache fulltext.CachedTextProvider
	if reader != nil {
		cache = reader
	}
	return fulltext.NewResolver(cache, converter, cfg.Ingestion.PreferCached, cfg.Ingestion.MinCachedLength, logger)
}

// buildRetriever assembles a retriever for one project.
func buildRetriever(ctx context.Context, cfg *config.Config, projectID string, gateway *vecindex.Gateway) (*retrieval.Retriever, error) {
	project, err := cfg.Project(projectID)
	if err != nil {
		return nil, err
	}
	dense, err := embed.ForModel(ctx, embed.Default(), project.EmbeddingModel)
	if err != nil {
		return nil, err
	}
	sparse, err := embed.SparseForModel(embed.Default(), project.SparseModel)
	if err != nil {
		return nil, err
	}
	return retrieval.New(gateway, dense, sparse, retrieval.Policy{
		TopK:             cfg.Retrieval.TopK,
		MaxCharsPerChunk: cfg.Retrieval.MaxCharsPerChunk,
		MinScore:         cfg.Retrieval.MinScore,
	}), nil
}

// projectFinder multiplexes retrieval across projects, building one retriever
// per project on first use. The MCP server searches any configured project
// through it.
type projectFinder struct {
	cfg     *config.Config
	gateway *vecindex.Gateway

	mu         sync.Mutex
	retrievers map[string]*retrieval.Retriever
}

func newProjectFinder(cfg *config.Config, gateway *vecindex.Gateway) *projectFinder {
	return &projectFinder{
		cfg:        cfg,
		gateway:    gateway,
		retrievers: make(map[string]*retrieval.Retriever),
	}
}

func (p *projectFinder) retriever(ctx context.Context, projectID string) (*retrieval.Retriever, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.retrievers[projectID]; ok {
		return r, nil
	}
	r, err := buildRetriever(ctx, p.cfg, projectID, p.gateway)
	if err != nil {
		return nil, err
	}
	p.retrievers[projectID] = r
	return r, nil
}

func (p *projectFinder) Find(ctx context.Context, q retrieval.Query) ([]retrieval.Result, error) {
	r, err := p.retriever(ctx, q.ProjectID)
	if err != nil {
		return nil, err
	}
	return r.Find(ctx, q)
}

func (p *projectFinder) FindHybrid(ctx context.Context, q retrieval.Query) ([]retrieval.Result, error) {
	r, err := p.retriever(ctx, q.ProjectID)
	if err != nil {
		return nil, err
	}
	return r.FindHybrid(ctx, q)
}

// buildMetadata wires the metadata resolver with the Better-BibTeX citekey
// lookup.
func buildMetadata(logger *slog.Logger) *metadata.Resolver {
	return metadata.NewResolver(metadata.NewBBTClient("", logger), logger)
}
