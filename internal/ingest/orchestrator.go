package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/citeloom/citeloom/internal/checkpoint"
	"github.com/citeloom/citeloom/internal/chunker"
	"github.com/citeloom/citeloom/internal/config"
	"github.com/citeloom/citeloom/internal/embed"
	citeerrors "github.com/citeloom/citeloom/internal/errors"
	"github.com/citeloom/citeloom/internal/fingerprint"
	"github.com/citeloom/citeloom/internal/fulltext"
	"github.com/citeloom/citeloom/internal/manifest"
	"github.com/citeloom/citeloom/internal/metadata"
	"github.com/citeloom/citeloom/internal/vecindex"
)

// embeddingPolicyVersion participates in the content fingerprint. Bump it
// when the embedding preprocessing changes.
const embeddingPolicyVersion = "v1"

// Indexer is the vector gateway surface the orchestrator needs.
type Indexer interface {
	EnsureCollection(ctx context.Context, spec vecindex.CollectionSpec) error
	ForceRebuild(ctx context.Context, spec vecindex.CollectionSpec) error
	Upsert(ctx context.Context, projectID, denseModel, sparseModel string, points []vecindex.Point) error
}

// RunOptions selects the document source and tunes one ingestion run.
type RunOptions struct {
	// CorrelationID resumes an earlier run when set; otherwise a fresh id is
	// generated.
	CorrelationID string

	// ZoteroCollection names the collection to acquire. Mutually exclusive
	// with SourcePath.
	ZoteroCollection string
	Recursive        bool
	IncludeTags      []string
	ExcludeTags      []string

	// SourcePath ingests a local PDF file or directory of PDFs.
	SourcePath string

	// ForceRebuild drops and recreates the project collection first.
	ForceRebuild bool

	Workers int

	// OnProgress, when set, is called after each document settles with the
	// number of settled documents and the batch total.
	OnProgress func(done, total int)
}

// Summary is the outcome of one run.
type Summary struct {
	CorrelationID      string
	DocumentsProcessed int
	DocumentsSkipped   int
	DocumentsFailed    int
	ChunksWritten      int
	Duration           time.Duration
	Warnings           []string
	Errors             []string
}

// Orchestrator drives the two-phase ingestion pipeline for one project.
type Orchestrator struct {
	projectID string
	project   config.ProjectConfig
	cfg       *config.Config

	source      Source // nil when only filesystem ingestion is used
	fulltext    *fulltext.Resolver
	metadata    *metadata.Resolver
	chunker     *chunker.Chunker
	dense       embed.Embedder
	sparse      embed.SparseEmbedder
	index       Indexer
	checkpoints *checkpoint.Store
	logger      *slog.Logger
}

// Deps collects the orchestrator's collaborators.
type Deps struct {
	Source      Source
	Fulltext    *fulltext.Resolver
	Metadata    *metadata.Resolver
	Chunker     *chunker.Chunker
	Dense       embed.Embedder
	Sparse      embed.SparseEmbedder
	Index       Indexer
	Checkpoints *checkpoint.Store
	Logger      *slog.Logger
}

// NewOrchestrator wires an orchestrator for the given project.
func NewOrchestrator(projectID string, cfg *config.Config, deps Deps) (*Orchestrator, error) {
	project, err := cfg.Project(projectID)
	if err != nil {
		return nil, citeerrors.New(citeerrors.ErrCodeProjectNotFound, err.Error())
	}
	if deps.Fulltext == nil || deps.Chunker == nil || deps.Dense == nil || deps.Index == nil || deps.Checkpoints == nil {
		return nil, citeerrors.InternalError("orchestrator is missing required dependencies")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		projectID:   projectID,
		project:     project,
		cfg:         cfg,
		source:      deps.Source,
		fulltext:    deps.Fulltext,
		metadata:    deps.Metadata,
		chunker:     deps.Chunker,
		dense:       deps.Dense,
		sparse:      deps.Sparse,
		index:       deps.Index,
		checkpoints: deps.Checkpoints,
		logger:      logger,
	}, nil
}

// docJob is one document scheduled for Phase B.
type docJob struct {
	Path       string
	ItemKey    string
	AttachKey  string
	Title      string
	Attachment *manifest.Attachment // nil for filesystem ingestion
}

// Run executes both phases and returns the batch summary. Single-document
// failures are recorded in the summary; only setup and cancellation errors
// abort the run.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (*Summary, error) {
	start := time.Now()

	if opts.ZoteroCollection == "" && opts.SourcePath == "" {
		return nil, citeerrors.New(citeerrors.ErrCodeInvalidInput,
			"either a Zotero collection or a source path is required")
	}

	correlationID := opts.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := o.logger.With("correlation_id", correlationID, "project", o.projectID)

	ckpt, err := o.checkpoints.Load(correlationID)
	if err != nil {
		return nil, err
	}
	resuming := ckpt != nil
	if resuming {
		logger.Info("resuming ingestion run",
			"completed", ckpt.Statistics.Completed, "total", ckpt.Statistics.Total)
	}

	spec := vecindex.CollectionSpec{
		ProjectID:   o.projectID,
		DenseModel:  o.project.EmbeddingModel,
		DenseDims:   o.dense.Dimensions(),
		SparseModel: o.project.SparseModel,
		Hybrid:      o.project.HybridEnabled,
		OnDisk:      true,
	}
	if opts.ForceRebuild {
		err = o.index.ForceRebuild(ctx, spec)
	} else {
		err = o.index.EnsureCollection(ctx, spec)
	}
	if err != nil {
		return nil, err
	}

	jobs, candidates, man, err := o.collectJobs(ctx, opts)
	if err != nil {
		return nil, err
	}
	if ckpt == nil {
		collectionKey := ""
		if man != nil {
			collectionKey = man.CollectionKey
		}
		ckpt = checkpoint.NewIngestionCheckpoint(correlationID, o.projectID, collectionKey)
	}
	for _, job := range jobs {
		d := ckpt.AddDocument(job.Path)
		d.ItemKey = job.ItemKey
		d.AttachKey = job.AttachKey
	}
	ckpt.Touch()
	if err := o.checkpoints.Save(ckpt); err != nil {
		return nil, err
	}

	audit, err := OpenAuditLog(o.cfg.AuditDir(), correlationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = audit.Close() }()

	// One goroutine owns the checkpoint. Every state transition funnels
	// through mutate, which applies, recomputes statistics, and saves before
	// the worker continues.
	type ckptOp struct {
		apply func()
		done  chan error
	}
	ops := make(chan ckptOp)
	var writerWG sync.WaitGroup
	writerWG.Add(1)
	go func() {
		defer writerWG.Done()
		for op := range ops {
			op.apply()
			ckpt.Touch()
			op.done <- o.checkpoints.Save(ckpt)
		}
	}()
	mutate := func(apply func()) error {
		op := ckptOp{apply: apply, done: make(chan error, 1)}
		ops <- op
		return <-op.done
	}

	summary := &Summary{CorrelationID: correlationID}
	var (
		summaryMu sync.Mutex
		manMu     sync.Mutex
	)
	warn := func(msg string) {
		summaryMu.Lock()
		summary.Warnings = append(summary.Warnings, msg)
		summaryMu.Unlock()
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = o.cfg.Ingestion.Workers
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	total := len(jobs)
	settled := 0

	for _, job := range jobs {
		g.Go(func() error {
			doc := ckpt.Document(job.Path)

			outcome, chunks, warnings, procErr := o.processDocument(gctx, job, doc, candidates, mutate, audit, correlationID, &manMu)

			summaryMu.Lock()
			summary.Warnings = append(summary.Warnings, warnings...)
			switch outcome {
			case outcomeSkipped:
				summary.DocumentsSkipped++
			case outcomeCompleted:
				summary.DocumentsProcessed++
				summary.ChunksWritten += chunks
			case outcomeFailed:
				summary.DocumentsFailed++
				summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", job.Path, procErr))
			}
			settled++
			if opts.OnProgress != nil {
				opts.OnProgress(settled, total)
			}
			summaryMu.Unlock()

			if gctx.Err() != nil {
				return gctx.Err()
			}
			return nil
		})
	}

	runErr := g.Wait()
	close(ops)
	writerWG.Wait()

	if man != nil {
		if err := man.Save(manifest.Path(o.cfg.DownloadDir(), man.CollectionKey)); err != nil {
			warn("could not persist manifest: " + err.Error())
		}
	}

	summary.Duration = time.Since(start)
	logger.Info("ingestion finished",
		"processed", summary.DocumentsProcessed,
		"skipped", summary.DocumentsSkipped,
		"failed", summary.DocumentsFailed,
		"chunks", summary.ChunksWritten,
		"duration", summary.Duration.Round(time.Millisecond))

	if runErr != nil {
		return summary, citeerrors.Wrap(runErr, citeerrors.ErrCodeInternal, "ingestion run aborted")
	}
	return summary, nil
}

type docOutcome int

const (
	outcomeSkipped docOutcome = iota
	outcomeCompleted
	outcomeFailed
)

// processDocument runs the per-document pipeline: fingerprint, convert,
// chunk, enrich, embed, upsert. Stage transitions persist before the next
// stage starts.
func (o *Orchestrator) processDocument(
	ctx context.Context,
	job docJob,
	doc *checkpoint.DocumentCheckpoint,
	candidates []metadata.Candidate,
	mutate func(func()) error,
	audit *AuditLog,
	correlationID string,
	manMu *sync.Mutex,
) (docOutcome, int, []string, error) {
	started := time.Now()
	var warnings []string

	fail := func(err error) (docOutcome, int, []string, error) {
		msg := err.Error()
		if mErr := mutate(func() { _ = doc.Fail(msg) }); mErr != nil {
			o.logger.Error("could not persist failure state", "path", job.Path, "error", mErr)
		}
		o.logger.Warn("document failed", "path", job.Path, "error", err)
		return outcomeFailed, 0, warnings, err
	}

	fp, err := fingerprint.Compute(job.Path, o.project.EmbeddingModel, o.cfg.Chunking.Version, embeddingPolicyVersion)
	if err != nil {
		return fail(citeerrors.Wrap(err, citeerrors.ErrCodeFileNotFound, "could not fingerprint "+job.Path))
	}

	// Unchanged documents that completed before are not re-processed.
	stored := doc.Fingerprint
	if stored == nil && job.Attachment != nil {
		stored = job.Attachment.Fingerprint
	}
	if doc.Status == checkpoint.StatusCompleted && fingerprint.IsUnchanged(stored, fp) {
		return outcomeSkipped, doc.ChunksCount, warnings, nil
	}
	if doc.Status != checkpoint.StatusPending {
		// Changed content, an earlier failure, or an interrupted stage:
		// restart from the beginning of the pipeline.
		if err := mutate(func() {
			doc.Status = checkpoint.StatusPending
			doc.Stage = ""
			doc.Error = ""
			doc.PagesConverted = 0
			doc.PagesTotal = 0
		}); err != nil {
			return fail(err)
		}
	} else if job.Attachment != nil && fingerprint.IsUnchanged(job.Attachment.Fingerprint, fp) {
		// A previous run finished this attachment even though this run's
		// checkpoint never saw it.
		if err := mutate(func() {
			doc.Status = checkpoint.StatusCompleted
			doc.Stage = ""
			doc.Fingerprint = fp
		}); err != nil {
			return fail(err)
		}
		return outcomeSkipped, 0, warnings, nil
	}

	advance := func(stage checkpoint.DocStatus) error {
		var transitionErr error
		if err := mutate(func() { transitionErr = doc.Advance(stage) }); err != nil {
			return err
		}
		return transitionErr
	}

	if err := advance(checkpoint.StatusConverting); err != nil {
		return fail(err)
	}
	// Each completed conversion window lands in the checkpoint, so a large
	// document interrupted mid-conversion records how far it got.
	progress := func(lastPageDone, totalPages int) {
		if err := mutate(func() {
			doc.PagesConverted = lastPageDone
			doc.PagesTotal = totalPages
		}); err != nil {
			o.logger.Warn("could not persist conversion progress", "path", job.Path, "error", err)
		}
	}
	text, err := o.fulltext.ResolveWithProgress(ctx, job.ItemKey, job.Path, progress)
	if err != nil {
		return fail(err)
	}
	if text.Source == fulltext.SourceMixed {
		warnings = append(warnings, fmt.Sprintf("%s: merged cached and converted text", job.Path))
	}

	if err := advance(checkpoint.StatusChunking); err != nil {
		return fail(err)
	}
	docID := chunker.DocID(job.Path, fp.ContentHash)
	chunks, err := o.chunker.Chunk(text, docID, o.project.EmbeddingModel)
	if err != nil {
		return fail(err)
	}

	citation := o.resolveCitation(ctx, job, candidates)
	if citation == nil {
		warnings = append(warnings, fmt.Sprintf("%s: no citation metadata resolved", job.Path))
		citation = &metadata.Citation{}
	}

	if err := advance(checkpoint.StatusEmbedding); err != nil {
		return fail(err)
	}
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vectors, err := o.dense.Embed(ctx, texts)
	if err != nil {
		return fail(err)
	}
	var sparseVecs []embed.SparseVector
	if o.project.HybridEnabled && o.sparse != nil {
		sparseVecs, err = o.sparse.EmbedSparse(ctx, texts)
		if err != nil {
			return fail(err)
		}
	}

	if err := advance(checkpoint.StatusStoring); err != nil {
		return fail(err)
	}
	points := make([]vecindex.Point, len(chunks))
	for i, ch := range chunks {
		p := vecindex.Point{
			ChunkID: ch.ID,
			Dense:   vectors[i],
			Payload: o.chunkPayload(ch, docID, job, citation),
		}
		if sparseVecs != nil {
			p.Sparse = &sparseVecs[i]
		}
		points[i] = p
	}
	if err := o.index.Upsert(ctx, o.projectID, o.project.EmbeddingModel, o.project.SparseModel, points); err != nil {
		return fail(err)
	}

	if job.Attachment != nil {
		manMu.Lock()
		job.Attachment.Fingerprint = fp
		manMu.Unlock()
	}

	if err := mutate(func() {
		doc.Fingerprint = fp
		_ = doc.Complete(docID, len(chunks))
	}); err != nil {
		return fail(err)
	}

	if err := audit.Append(AuditEntry{
		CorrelationID:      correlationID,
		DocID:              docID,
		ProjectID:          o.projectID,
		SourcePath:         job.Path,
		ChunksWritten:      len(chunks),
		DocumentsProcessed: 1,
		DurationSeconds:    time.Since(started).Seconds(),
		EmbedModel:         o.project.EmbeddingModel,
		Warnings:           warnings,
	}); err != nil {
		o.logger.Warn("could not append audit entry", "path", job.Path, "error", err)
	}

	return outcomeCompleted, len(chunks), warnings, nil
}

func (o *Orchestrator) resolveCitation(ctx context.Context, job docJob, candidates []metadata.Candidate) *metadata.Citation {
	if o.metadata == nil || len(candidates) == 0 {
		return nil
	}
	return o.metadata.Resolve(ctx, metadata.Hint{Title: job.Title}, candidates)
}

func (o *Orchestrator) chunkPayload(ch chunker.Chunk, docID string, job docJob, cit *metadata.Citation) vecindex.ChunkPayload {
	title := cit.Title
	if title == "" {
		title = job.Title
	}
	return vecindex.ChunkPayload{
		ProjectID:     o.projectID,
		DocID:         docID,
		Citekey:       cit.Citekey,
		Year:          cit.Year,
		Tags:          cit.Tags,
		ItemKey:       job.ItemKey,
		AttachmentKey: job.AttachKey,
		SectionPath:   ch.SectionPath,
		PageStart:     ch.PageStart,
		PageEnd:       ch.PageEnd,
		DOI:           cit.DOI,
		URL:           cit.URL,
		Authors:       cit.Authors,
		Title:         title,
		SourcePath:    job.Path,
		HeadingChain:  strings.Join(ch.SectionPath, " > "),
		EmbedModel:    o.project.EmbeddingModel,
		ChunkText:     ch.Text,
	}
}

// collectJobs resolves the document source: Phase A against Zotero, or a
// local file or directory walk.
func (o *Orchestrator) collectJobs(ctx context.Context, opts RunOptions) ([]docJob, []metadata.Candidate, *manifest.Manifest, error) {
	switch {
	case opts.ZoteroCollection != "":
		if o.source == nil {
			return nil, nil, nil, citeerrors.New(citeerrors.ErrCodeConfigMissing,
				"no Zotero source configured for collection ingestion")
		}
		acquirer := NewAcquirer(o.source, o.cfg.DownloadDir(), o.logger)
		man, err := acquirer.Acquire(ctx, opts.ZoteroCollection, AcquireOptions{
			Recursive: opts.Recursive,
			Tags:      TagFilter{Include: opts.IncludeTags, Exclude: opts.ExcludeTags},
			Workers:   opts.Workers,
		})
		if err != nil {
			return nil, nil, nil, err
		}

		var jobs []docJob
		for _, ref := range man.SuccessfulDownloads() {
			if !ref.Attachment.IsPDF() {
				continue
			}
			jobs = append(jobs, docJob{
				Path:       ref.Attachment.LocalPath,
				ItemKey:    ref.Item.ItemKey,
				AttachKey:  ref.Attachment.AttachmentKey,
				Title:      ref.Item.Title,
				Attachment: ref.Attachment,
			})
		}
		return jobs, candidatesFromManifest(man), man, nil

	case opts.SourcePath != "":
		jobs, err := localJobs(opts.SourcePath)
		if err != nil {
			return nil, nil, nil, err
		}
		return jobs, nil, nil, nil

	default:
		return nil, nil, nil, citeerrors.New(citeerrors.ErrCodeInvalidInput,
			"either a Zotero collection or a source path is required")
	}
}

func localJobs(path string) ([]docJob, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, citeerrors.Wrap(err, citeerrors.ErrCodeFileNotFound, "source path not found: "+path)
	}

	if !info.IsDir() {
		return []docJob{{Path: path, Title: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))}}, nil
	}

	var jobs []docJob
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(p), ".pdf") {
			return nil
		}
		jobs = append(jobs, docJob{Path: p, Title: strings.TrimSuffix(filepath.Base(p), ".pdf")})
		return nil
	})
	if err != nil {
		return nil, citeerrors.Wrap(err, citeerrors.ErrCodeInternal, "failed to walk "+path)
	}
	return jobs, nil
}

// candidatesFromManifest converts manifest item metadata into resolver
// candidates.
func candidatesFromManifest(man *manifest.Manifest) []metadata.Candidate {
	candidates := make([]metadata.Candidate, 0, len(man.Items))
	for _, item := range man.Items {
		c := metadata.Candidate{ItemKey: item.ItemKey, Title: item.Title}
		if item.Metadata != nil {
			c.DOI = stringField(item.Metadata, "DOI")
			c.URL = stringField(item.Metadata, "url")
			c.Extra = stringField(item.Metadata, "extra")
			c.Language = metadata.NormalizeLanguage(stringField(item.Metadata, "language"))
			c.Year = yearOf(stringField(item.Metadata, "date"))
			c.Authors = stringsField(item.Metadata, "creators")
			c.Tags = stringsField(item.Metadata, "tags")
			if c.Title == "" {
				c.Title = stringField(item.Metadata, "title")
			}
		}
		candidates = append(candidates, c)
	}
	return candidates
}

func stringField(meta map[string]any, key string) string {
	if s, ok := meta[key].(string); ok {
		return s
	}
	return ""
}

func stringsField(meta map[string]any, key string) []string {
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

// yearOf extracts the first four-digit year from a Zotero date field.
func yearOf(date string) int {
	for i := 0; i+4 <= len(date); i++ {
		if y := date[i : i+4]; isDigits(y) {
			year := int(y[0]-'0')*1000 + int(y[1]-'0')*100 + int(y[2]-'0')*10 + int(y[3]-'0')
			if year >= 1000 && year <= 2999 {
				return year
			}
		}
	}
	return 0
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
