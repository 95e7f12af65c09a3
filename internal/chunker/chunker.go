// Package chunker splits a converted document into ordered chunks with
// deterministic ids, page spans, and section context.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/citeloom/citeloom/internal/convert"
	citeerrors "github.com/citeloom/citeloom/internal/errors"
	"github.com/citeloom/citeloom/internal/fulltext"
)

// Chunk is an immutable slice of a document.
type Chunk struct {
	ID             string   `json:"id"`
	DocID          string   `json:"doc_id"`
	Text           string   `json:"text"`
	PageStart      int      `json:"page_start"`
	PageEnd        int      `json:"page_end"`
	SectionHeading string   `json:"section_heading,omitempty"`
	SectionPath    []string `json:"section_path,omitempty"`
	ChunkIdx       int      `json:"chunk_idx"`
}

// Policy is the chunking policy. Version participates in the document
// fingerprint upstream.
type Policy struct {
	MaxTokens           int
	OverlapTokens       int
	HeadingContextDepth int
	TokenizerFamily     string
	Version             string
}

// ChunkID derives the deterministic 16-hex-char chunk id. The section path
// participates when present; otherwise the page span does.
func ChunkID(docID string, sectionPath []string, pageStart, pageEnd int, embeddingModelID string, chunkIdx int) string {
	section := strings.Join(sectionPath, "|")
	if section == "" {
		section = fmt.Sprintf("p%d-%d", pageStart, pageEnd)
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%s\x00%d", docID, section, embeddingModelID, chunkIdx)))
	return hex.EncodeToString(sum[:8])
}

// DocID derives a stable document id from the source path and its content
// hash.
func DocID(sourcePath, contentHash string) string {
	sum := sha256.Sum256([]byte(sourcePath + "\x00" + contentHash))
	return hex.EncodeToString(sum[:8])
}

// Chunker performs token-window chunking with overlap, attaching section
// context from the document outline.
type Chunker struct {
	policy Policy
}

// New creates a Chunker, applying policy defaults.
func New(policy Policy) *Chunker {
	if policy.MaxTokens <= 0 {
		policy.MaxTokens = 512
	}
	if policy.OverlapTokens < 0 || policy.OverlapTokens >= policy.MaxTokens {
		policy.OverlapTokens = policy.MaxTokens / 8
	}
	if policy.HeadingContextDepth <= 0 {
		policy.HeadingContextDepth = 2
	}
	return &Chunker{policy: policy}
}

// token is one whitespace-delimited token with its byte offsets.
type token struct {
	start, end int
}

// Chunk splits the document. Two runs over the same document and policy
// produce the same ordered chunk ids.
func (c *Chunker) Chunk(doc *fulltext.Document, docID, embeddingModelID string) ([]Chunk, error) {
	if strings.TrimSpace(doc.Text) == "" {
		return nil, citeerrors.New(citeerrors.ErrCodeChunkingFailed,
			fmt.Sprintf("document %s has no text to chunk", docID))
	}

	tokens := tokenize(doc.Text)
	sections := newSectionIndex(doc.Headings, c.policy.HeadingContextDepth)

	step := c.policy.MaxTokens - c.policy.OverlapTokens
	var chunks []Chunk
	for start, idx := 0, 0; start < len(tokens); start, idx = start+step, idx+1 {
		end := start + c.policy.MaxTokens
		if end > len(tokens) {
			end = len(tokens)
		}

		byteStart := tokens[start].start
		byteEnd := tokens[end-1].end
		pageStart := pageAt(doc.Pages, byteStart)
		pageEnd := pageAt(doc.Pages, byteEnd-1)

		path := sections.pathAt(pageStart)
		heading := ""
		if len(path) > 0 {
			heading = path[len(path)-1]
		}

		chunks = append(chunks, Chunk{
			ID:             ChunkID(docID, path, pageStart, pageEnd, embeddingModelID, idx),
			DocID:          docID,
			Text:           doc.Text[byteStart:byteEnd],
			PageStart:      pageStart,
			PageEnd:        pageEnd,
			SectionHeading: heading,
			SectionPath:    path,
			ChunkIdx:       idx,
		})

		if end == len(tokens) {
			break
		}
	}
	return chunks, nil
}

// tokenize records byte offsets of whitespace-delimited tokens.
func tokenize(text string) []token {
	var tokens []token
	inToken := false
	start := 0
	for i, r := range text {
		isSpace := r == ' ' || r == '\n' || r == '\t' || r == '\r'
		switch {
		case !inToken && !isSpace:
			inToken = true
			start = i
		case inToken && isSpace:
			inToken = false
			tokens = append(tokens, token{start, i})
		}
	}
	if inToken {
		tokens = append(tokens, token{start, len(text)})
	}
	return tokens
}

// pageAt finds the 1-indexed page containing a byte offset. Offsets falling
// in the joiner gaps between pages belong to the preceding page.
func pageAt(pages []convert.PageRange, offset int) int {
	if len(pages) == 0 {
		return 1
	}
	last := pages[0].Page
	for _, pr := range pages {
		if offset < pr.Start {
			return last
		}
		last = pr.Page
		if offset < pr.End {
			return pr.Page
		}
	}
	return pages[len(pages)-1].Page
}

// sectionIndex precomputes, per page, the active heading chain trimmed to the
// configured depth.
type sectionIndex struct {
	byPage map[int][]string
}

func newSectionIndex(headings []convert.Heading, depth int) *sectionIndex {
	idx := &sectionIndex{byPage: make(map[int][]string)}
	if len(headings) == 0 {
		return idx
	}

	maxPage := 1
	for _, h := range headings {
		if h.Page > maxPage {
			maxPage = h.Page
		}
	}

	// stack holds the most recent heading per outline level.
	var stack []convert.Heading
	cursor := 0
	for page := 1; page <= maxPage; page++ {
		for cursor < len(headings) && headings[cursor].Page <= page {
			h := headings[cursor]
			for len(stack) > 0 && stack[len(stack)-1].Level >= h.Level {
				stack = stack[:len(stack)-1]
			}
			stack = append(stack, h)
			cursor++
		}
		path := make([]string, 0, len(stack))
		for _, h := range stack {
			path = append(path, h.Title)
		}
		if len(path) > depth {
			path = path[len(path)-depth:]
		}
		idx.byPage[page] = path
	}
	return idx
}

// pathAt returns the heading chain active at a page. Pages past the last
// heading keep the final chain.
func (s *sectionIndex) pathAt(page int) []string {
	if path, ok := s.byPage[page]; ok {
		return path
	}
	// Past the last indexed page, reuse the deepest known chain.
	best := 0
	var path []string
	for p, candidate := range s.byPage {
		if p > best && p < page {
			best, path = p, candidate
		}
	}
	return path
}
