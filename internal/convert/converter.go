package convert

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	citeerrors "github.com/citeloom/citeloom/internal/errors"
)

const (
	// DefaultDocTimeout bounds one whole document conversion.
	DefaultDocTimeout = 120 * time.Second
	// DefaultPageTimeout bounds one page.
	DefaultPageTimeout = 10 * time.Second

	// windowThreshold is the page count from which conversion switches to
	// page-range windows so extremely long documents stay resumable.
	windowThreshold = 1000
	// windowSize is within the 10..30 page band.
	windowSize = 20
)

// Options tunes a Converter.
type Options struct {
	DocTimeout  time.Duration
	PageTimeout time.Duration
}

// WindowProgress reports a completed conversion window so the caller can
// persist a resume position.
type WindowProgress func(lastPageDone, totalPages int)

// Converter wraps an Engine with per-document and per-page budgets. The
// budgets are enforced with a watchdog goroutine and work on every platform.
type Converter struct {
	engine      Engine
	docTimeout  time.Duration
	pageTimeout time.Duration
	logger      *slog.Logger
}

// NewConverter creates a Converter around an engine.
func NewConverter(engine Engine, opts Options, logger *slog.Logger) *Converter {
	if opts.DocTimeout <= 0 {
		opts.DocTimeout = DefaultDocTimeout
	}
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = DefaultPageTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Converter{
		engine:      engine,
		docTimeout:  opts.DocTimeout,
		pageTimeout: opts.PageTimeout,
		logger:      logger,
	}
}

// Convert converts the whole document. Documents at or above the window
// threshold are processed in page-range windows; progress may be nil.
func (c *Converter) Convert(ctx context.Context, path string, progress WindowProgress) (*Result, error) {
	docCtx, cancel := context.WithTimeout(ctx, c.docTimeout)
	defer cancel()

	pageCount, err := c.engine.PageCount(docCtx, path)
	if err != nil {
		return nil, err
	}
	if pageCount == 0 {
		return nil, fmt.Errorf("document %s has no pages", path)
	}

	window := pageCount
	if pageCount >= windowThreshold {
		window = windowSize
		c.logger.Info("large document, converting in windows",
			slog.String("path", path),
			slog.Int("pages", pageCount),
			slog.Int("window", window))
	}

	var pages []PageText
	for first := 1; first <= pageCount; first += window {
		last := first + window - 1
		if last > pageCount {
			last = pageCount
		}

		chunk, err := c.extractWindow(docCtx, path, first, last)
		if err != nil {
			return nil, err
		}
		pages = append(pages, chunk...)
		if progress != nil {
			progress(last, pageCount)
		}
	}

	headings, err := c.engine.Outline(docCtx, path)
	if err != nil {
		headings = nil
	}

	return Assemble(pages, headings, pageCount), nil
}

// extractWindow runs one engine call under a watchdog. The window budget is
// the per-page budget times the window length; exceeding it or the document
// deadline fails the document with a timeout error.
func (c *Converter) extractWindow(ctx context.Context, path string, first, last int) ([]PageText, error) {
	budget := time.Duration(last-first+1) * c.pageTimeout

	type outcome struct {
		pages []PageText
		err   error
	}
	done := make(chan outcome, 1)

	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		pages, err := c.engine.ExtractPages(workCtx, path, first, last)
		done <- outcome{pages, err}
	}()

	watchdog := time.NewTimer(budget)
	defer watchdog.Stop()

	select {
	case out := <-done:
		if out.err != nil && ctx.Err() != nil {
			return nil, c.timeoutError(path, first, last, "document budget exceeded")
		}
		return out.pages, out.err
	case <-watchdog.C:
		cancel()
		return nil, c.timeoutError(path, first, last, "page budget exceeded")
	case <-ctx.Done():
		cancel()
		return nil, c.timeoutError(path, first, last, "document budget exceeded")
	}
}

func (c *Converter) timeoutError(path string, first, last int, reason string) error {
	return citeerrors.New(citeerrors.ErrCodeDocumentTimeout,
		fmt.Sprintf("timeout converting pages %d-%d of %s: %s", first, last, path, reason)).
		WithDetail("doc_timeout", c.docTimeout.String()).
		WithDetail("page_timeout", c.pageTimeout.String())
}

// Assemble joins per-page texts into one plain text with a page map, pairing
// it with the outline.
func Assemble(pages []PageText, headings []Heading, pageCount int) *Result {
	var b strings.Builder
	ranges := make([]PageRange, 0, len(pages))
	for i, p := range pages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		start := b.Len()
		b.WriteString(p.Text)
		ranges = append(ranges, PageRange{Page: p.Page, Start: start, End: b.Len()})
	}
	return &Result{
		Text:      b.String(),
		Pages:     ranges,
		Headings:  headings,
		PageCount: pageCount,
	}
}
