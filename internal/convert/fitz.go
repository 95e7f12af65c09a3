package convert

import (
	"context"
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// FitzEngine extracts text through MuPDF. Each call opens the document fresh,
// which keeps windowed conversion of huge PDFs resumable.
type FitzEngine struct{}

var _ Engine = (*FitzEngine)(nil)

// NewFitzEngine creates the MuPDF-backed engine.
func NewFitzEngine() *FitzEngine { return &FitzEngine{} }

// PageCount returns the number of pages in the document.
func (e *FitzEngine) PageCount(ctx context.Context, path string) (int, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer doc.Close()
	return doc.NumPage(), nil
}

// ExtractPages extracts text for the 1-indexed inclusive page range
// [first, last].
func (e *FitzEngine) ExtractPages(ctx context.Context, path string, first, last int) ([]PageText, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer doc.Close()

	if first < 1 {
		first = 1
	}
	if last > doc.NumPage() {
		last = doc.NumPage()
	}

	out := make([]PageText, 0, last-first+1)
	for page := first; page <= last; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := doc.Text(page - 1)
		if err != nil {
			return nil, fmt.Errorf("extract page %d of %s: %w", page, path, err)
		}
		out = append(out, PageText{Page: page, Text: normalizeText(text)})
	}
	return out, nil
}

// Outline returns the document's table of contents as headings.
func (e *FitzEngine) Outline(ctx context.Context, path string) ([]Heading, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer doc.Close()

	toc, err := doc.ToC()
	if err != nil {
		// Documents without an outline are fine.
		return nil, nil
	}

	out := make([]Heading, 0, len(toc))
	for _, entry := range toc {
		page := entry.Page
		if page < 1 {
			page = 1
		}
		out = append(out, Heading{
			Title: strings.TrimSpace(entry.Title),
			Level: entry.Level,
			Page:  page,
		})
	}
	return out, nil
}

// normalizeText collapses Windows line endings and trims trailing whitespace
// per line, keeping paragraph structure intact.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
