// Package fulltext decides, per document, whether to reuse the reference
// manager's cached OCR text or run the PDF converter, and can merge both
// page-by-page into a mixed-provenance result.
package fulltext

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/citeloom/citeloom/internal/convert"
	citeerrors "github.com/citeloom/citeloom/internal/errors"
)

// Provenance markers for a resolved document.
const (
	SourceCached    = "cached"
	SourceConverted = "converted"
	SourceMixed     = "mixed"
)

// Document is the resolved full text with provenance bookkeeping.
type Document struct {
	Source             string             `json:"source"`
	Text               string             `json:"text"`
	Pages              []convert.PageRange `json:"pages"`
	Headings           []convert.Heading  `json:"headings,omitempty"`
	PageCount          int                `json:"page_count"`
	PagesFromCached    int                `json:"pages_from_cached,omitempty"`
	PagesFromConverted int                `json:"pages_from_converted,omitempty"`
	Quality            float64            `json:"quality"`
}

// CachedTextProvider serves the reference manager's cached full text for an
// item, or "" when there is none.
type CachedTextProvider interface {
	GetFullText(ctx context.Context, itemKey string) (string, error)
}

// Resolver applies the cached-versus-converted decision logic.
type Resolver struct {
	cache        CachedTextProvider // optional
	converter    *convert.Converter // optional
	preferCached bool
	minLength    int
	logger       *slog.Logger
}

// NewResolver creates a resolver. At least one of cache and converter must be
// non-nil for Resolve to ever succeed.
func NewResolver(cache CachedTextProvider, converter *convert.Converter, preferCached bool, minLength int, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		cache:        cache,
		converter:    converter,
		preferCached: preferCached,
		minLength:    minLength,
		logger:       logger,
	}
}

// Resolve produces the full text for one document. itemKey addresses the
// cached text; filePath is the PDF on disk for the converter.
func (r *Resolver) Resolve(ctx context.Context, itemKey, filePath string) (*Document, error) {
	return r.ResolveWithProgress(ctx, itemKey, filePath, nil)
}

// ResolveWithProgress is Resolve with a window-progress callback forwarded to
// the converter, so callers can persist a conversion resume position.
func (r *Resolver) ResolveWithProgress(ctx context.Context, itemKey, filePath string, progress convert.WindowProgress) (*Document, error) {
	var cached string
	if r.preferCached && r.cache != nil && itemKey != "" {
		text, err := r.cache.GetFullText(ctx, itemKey)
		if err != nil {
			r.logger.Warn("cached full-text lookup failed",
				slog.String("item", itemKey),
				slog.String("error", err.Error()))
		} else {
			cached = text
		}
	}

	cachedOK := cached != "" && Adequate(cached, r.minLength)
	if cached != "" && !cachedOK {
		r.logger.Debug("cached full text below quality bar, converting",
			slog.String("item", itemKey),
			slog.Int("length", len(cached)))
	}

	switch {
	case cachedOK && r.converter == nil:
		return cachedDocument(cached, r.minLength), nil

	case cachedOK && r.converter != nil:
		converted, err := r.converter.Convert(ctx, filePath, progress)
		if err != nil {
			// Cached text alone is still a valid result.
			r.logger.Warn("conversion failed, using cached text only",
				slog.String("path", filePath),
				slog.String("error", err.Error()))
			return cachedDocument(cached, r.minLength), nil
		}
		return mergePages(cached, converted, r.minLength), nil

	case r.converter != nil:
		converted, err := r.converter.Convert(ctx, filePath, progress)
		if err != nil {
			return nil, err
		}
		doc := &Document{
			Source:             SourceConverted,
			Text:               converted.Text,
			Pages:              converted.Pages,
			Headings:           converted.Headings,
			PageCount:          converted.PageCount,
			PagesFromConverted: len(converted.Pages),
			Quality:            QualityScore(converted.Text, r.minLength),
		}
		return doc, nil
	}

	return nil, citeerrors.New(citeerrors.ErrCodeFileNotFound,
		fmt.Sprintf("no full-text source available for %s", filePath)).
		WithSuggestion("Enable the converter or let the reference manager index the PDF")
}

// cachedDocument wraps the cached blob as a one-page document. The upstream
// cache schema has no page boundaries, so the whole blob counts as page 1.
func cachedDocument(text string, minLength int) *Document {
	res := convert.Assemble([]convert.PageText{{Page: 1, Text: text}}, nil, 1)
	return &Document{
		Source:          SourceCached,
		Text:            res.Text,
		Pages:           res.Pages,
		PageCount:       1,
		PagesFromCached: 1,
		Quality:         QualityScore(text, minLength),
	}
}

// mergePages merges cached and converted text page-by-page: the cached page
// wins when present and non-empty, the converted page fills the gaps. Any
// converted page makes the result mixed.
func mergePages(cached string, converted *convert.Result, minLength int) *Document {
	cachedByPage := map[int]string{1: cached}

	var merged []convert.PageText
	fromCached, fromConverted := 0, 0
	for _, p := range converted.PageTexts() {
		if text, ok := cachedByPage[p.Page]; ok && strings.TrimSpace(text) != "" {
			merged = append(merged, convert.PageText{Page: p.Page, Text: text})
			fromCached++
			continue
		}
		merged = append(merged, p)
		fromConverted++
	}

	res := convert.Assemble(merged, converted.Headings, converted.PageCount)
	source := SourceCached
	if fromConverted > 0 {
		source = SourceMixed
	}
	return &Document{
		Source:             source,
		Text:               res.Text,
		Pages:              res.Pages,
		Headings:           res.Headings,
		PageCount:          res.PageCount,
		PagesFromCached:    fromCached,
		PagesFromConverted: fromConverted,
		Quality:            QualityScore(res.Text, minLength),
	}
}

// sentenceTerminators are the tokens that mark sentence ends.
const sentenceTerminators = ".!?"

// Adequate reports whether text passes the minimum quality bar: at least
// minLength bytes, at least 10 words, and (for texts over 500 bytes) at least
// one sentence terminator.
func Adequate(text string, minLength int) bool {
	if len(text) < minLength {
		return false
	}
	if len(strings.Fields(text)) < 10 {
		return false
	}
	if len(text) > 500 && !strings.ContainsAny(text, sentenceTerminators) {
		return false
	}
	return true
}

// QualityScore computes a [0,1] score from text length and sentence density.
// Inadequate text scores 0.
func QualityScore(text string, minLength int) float64 {
	if !Adequate(text, minLength) {
		return 0
	}

	lengthScore := float64(len(text)) / 4000.0
	if lengthScore > 1 {
		lengthScore = 1
	}

	words := len(strings.Fields(text))
	sentences := strings.Count(text, ".") + strings.Count(text, "!") + strings.Count(text, "?")
	// Prose averages one terminator per ~20 words.
	density := float64(sentences) / (float64(words) / 20.0)
	if density > 1 {
		density = 1
	}

	return 0.5*lengthScore + 0.5*density
}
