package convert

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	citeerrors "github.com/citeloom/citeloom/internal/errors"
)

// stubEngine serves synthetic pages with a configurable per-page delay.
type stubEngine struct {
	mu        sync.Mutex
	pageCount int
	pageDelay time.Duration
	headings  []Heading
	windows   [][2]int // recorded ExtractPages ranges
}

func (s *stubEngine) PageCount(context.Context, string) (int, error) {
	return s.pageCount, nil
}

func (s *stubEngine) ExtractPages(ctx context.Context, _ string, first, last int) ([]PageText, error) {
	s.mu.Lock()
	s.windows = append(s.windows, [2]int{first, last})
	s.mu.Unlock()

	var out []PageText
	for p := first; p <= last; p++ {
		if s.pageDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.pageDelay):
			}
		}
		out = append(out, PageText{Page: p, Text: fmt.Sprintf("text of page %d", p)})
	}
	return out, nil
}

func (s *stubEngine) Outline(context.Context, string) ([]Heading, error) {
	return s.headings, nil
}

func TestConverter_AssemblesPageMap(t *testing.T) {
	engine := &stubEngine{pageCount: 3, headings: []Heading{{Title: "Intro", Level: 1, Page: 1}}}
	c := NewConverter(engine, Options{}, nil)

	res, err := c.Convert(context.Background(), "/docs/a.pdf", nil)
	require.NoError(t, err)

	assert.Equal(t, 3, res.PageCount)
	require.Len(t, res.Pages, 3)
	for i, pr := range res.Pages {
		assert.Equal(t, i+1, pr.Page)
		assert.Equal(t, fmt.Sprintf("text of page %d", i+1), res.Text[pr.Start:pr.End])
	}
	require.Len(t, res.Headings, 1)
	assert.Equal(t, "Intro", res.Headings[0].Title)

	// Round trip through the page map.
	pages := res.PageTexts()
	assert.Equal(t, "text of page 2", pages[1].Text)
}

func TestConverter_SmallDocumentSingleWindow(t *testing.T) {
	engine := &stubEngine{pageCount: 40}
	c := NewConverter(engine, Options{}, nil)

	_, err := c.Convert(context.Background(), "/docs/a.pdf", nil)
	require.NoError(t, err)
	require.Len(t, engine.windows, 1)
	assert.Equal(t, [2]int{1, 40}, engine.windows[0])
}

func TestConverter_LargeDocumentWindowed(t *testing.T) {
	engine := &stubEngine{pageCount: 1005}
	c := NewConverter(engine, Options{DocTimeout: time.Minute}, nil)

	var positions []int
	_, err := c.Convert(context.Background(), "/docs/big.pdf", func(done, total int) {
		positions = append(positions, done)
		assert.Equal(t, 1005, total)
	})
	require.NoError(t, err)

	// Windows are 20 pages, with a short tail.
	require.NotEmpty(t, engine.windows)
	assert.Equal(t, [2]int{1, 20}, engine.windows[0])
	last := engine.windows[len(engine.windows)-1]
	assert.Equal(t, 1005, last[1])

	// Progress positions are monotonically increasing and end at the last page.
	for i := 1; i < len(positions); i++ {
		assert.Greater(t, positions[i], positions[i-1])
	}
	assert.Equal(t, 1005, positions[len(positions)-1])
}

func TestConverter_PageBudgetEnforced(t *testing.T) {
	engine := &stubEngine{pageCount: 3, pageDelay: 200 * time.Millisecond}
	c := NewConverter(engine, Options{PageTimeout: 20 * time.Millisecond, DocTimeout: time.Minute}, nil)

	start := time.Now()
	_, err := c.Convert(context.Background(), "/docs/slow.pdf", nil)
	require.Error(t, err)
	assert.Equal(t, citeerrors.ErrCodeDocumentTimeout, citeerrors.GetCode(err))
	assert.Contains(t, err.Error(), "timeout")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestConverter_DocBudgetEnforced(t *testing.T) {
	engine := &stubEngine{pageCount: 5, pageDelay: 100 * time.Millisecond}
	c := NewConverter(engine, Options{PageTimeout: time.Second, DocTimeout: 120 * time.Millisecond}, nil)

	_, err := c.Convert(context.Background(), "/docs/slow.pdf", nil)
	require.Error(t, err)
	assert.Equal(t, citeerrors.ErrCodeDocumentTimeout, citeerrors.GetCode(err))
}

func TestAssemble_EmptyPages(t *testing.T) {
	res := Assemble(nil, nil, 0)
	assert.Empty(t, res.Text)
	assert.Empty(t, res.Pages)
}
