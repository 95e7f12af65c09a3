// Package convert turns PDF documents into plain text with a page map and a
// heading outline. Conversion budgets are enforced with a watchdog goroutine
// so they behave the same on every platform.
package convert

import "context"

// PageText is the extracted text of one page, 1-indexed.
type PageText struct {
	Page int
	Text string
}

// Heading is one outline entry of the document.
type Heading struct {
	Title string `json:"title"`
	Level int    `json:"level"`
	Page  int    `json:"page"`
}

// PageRange maps one page to its byte offsets in the assembled plain text.
type PageRange struct {
	Page  int `json:"page"`
	Start int `json:"start"`
	End   int `json:"end"`
}

// Result is a complete conversion: normalized plain text, the page map into
// it, and the heading outline.
type Result struct {
	Text      string      `json:"text"`
	Pages     []PageRange `json:"pages"`
	Headings  []Heading   `json:"headings"`
	PageCount int         `json:"page_count"`
}

// PageTexts splits the result back into per-page texts using the page map.
func (r *Result) PageTexts() []PageText {
	out := make([]PageText, 0, len(r.Pages))
	for _, pr := range r.Pages {
		out = append(out, PageText{Page: pr.Page, Text: r.Text[pr.Start:pr.End]})
	}
	return out
}

// Engine extracts raw page text and outline from a document. Implementations
// are not responsible for timeouts; the Converter wraps them.
type Engine interface {
	PageCount(ctx context.Context, path string) (int, error)
	ExtractPages(ctx context.Context, path string, first, last int) ([]PageText, error)
	Outline(ctx context.Context, path string) ([]Heading, error)
}
