package fulltext

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citeloom/citeloom/internal/convert"
)

// fakeCache serves canned full text per item key.
type fakeCache map[string]string

func (f fakeCache) GetFullText(_ context.Context, itemKey string) (string, error) {
	return f[itemKey], nil
}

// pageEngine produces fixed synthetic pages.
type pageEngine struct{ pages int }

func (e pageEngine) PageCount(context.Context, string) (int, error) { return e.pages, nil }

func (e pageEngine) ExtractPages(_ context.Context, _ string, first, last int) ([]convert.PageText, error) {
	var out []convert.PageText
	for p := first; p <= last; p++ {
		out = append(out, convert.PageText{Page: p, Text: fmt.Sprintf("Converted page %d. It has sentences.", p)})
	}
	return out, nil
}

func (e pageEngine) Outline(context.Context, string) ([]convert.Heading, error) { return nil, nil }

func goodCachedText() string {
	return strings.Repeat("This cached sentence has exactly enough words to count. ", 20)
}

func newConverter(pages int) *convert.Converter {
	return convert.NewConverter(pageEngine{pages: pages}, convert.Options{}, nil)
}

func TestAdequate(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"good prose", goodCachedText(), true},
		{"too short", "tiny.", false},
		{"enough bytes but too few words", strings.Repeat("x", 200), false},
		{"long text without sentence terminators", strings.Repeat("word ", 200), false},
		{"short text may lack terminators", "ten little words go here to pass the word check", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Adequate(tt.text, 40), tt.text)
		})
	}
}

func TestQualityScore_Bounds(t *testing.T) {
	assert.Equal(t, 0.0, QualityScore("junk", 100))

	score := QualityScore(goodCachedText(), 100)
	assert.Greater(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)

	// Longer, denser prose scores at least as well as minimal prose.
	minimal := "One two three four five six seven eight nine ten. More words follow here to reach the length bar easily."
	assert.GreaterOrEqual(t, score, QualityScore(minimal, 40))
}

func TestResolve_CachedOnlyWhenNoConverter(t *testing.T) {
	r := NewResolver(fakeCache{"ITEM1": goodCachedText()}, nil, true, 100, nil)

	doc, err := r.Resolve(context.Background(), "ITEM1", "/docs/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, SourceCached, doc.Source)
	assert.Equal(t, 1, doc.PageCount)
	assert.Equal(t, 1, doc.PagesFromCached)
	assert.Zero(t, doc.PagesFromConverted)
}

func TestResolve_MixedMergePrefersCachedPages(t *testing.T) {
	cached := goodCachedText()
	r := NewResolver(fakeCache{"ITEM1": cached}, newConverter(3), true, 100, nil)

	doc, err := r.Resolve(context.Background(), "ITEM1", "/docs/a.pdf")
	require.NoError(t, err)

	// The cached blob covers page 1; pages 2 and 3 come from the converter.
	assert.Equal(t, SourceMixed, doc.Source)
	assert.Equal(t, 1, doc.PagesFromCached)
	assert.Equal(t, 2, doc.PagesFromConverted)
	assert.Equal(t, 3, doc.PageCount)

	pageOne := doc.Text[doc.Pages[0].Start:doc.Pages[0].End]
	assert.Contains(t, pageOne, "cached sentence")
	pageTwo := doc.Text[doc.Pages[1].Start:doc.Pages[1].End]
	assert.Contains(t, pageTwo, "Converted page 2")
}

func TestResolve_LowQualityCacheFallsBackToConverter(t *testing.T) {
	r := NewResolver(fakeCache{"ITEM1": "too short"}, newConverter(2), true, 100, nil)

	doc, err := r.Resolve(context.Background(), "ITEM1", "/docs/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, SourceConverted, doc.Source)
	assert.Equal(t, 2, doc.PagesFromConverted)
}

func TestResolve_PreferCachedDisabledSkipsCache(t *testing.T) {
	r := NewResolver(fakeCache{"ITEM1": goodCachedText()}, newConverter(2), false, 100, nil)

	doc, err := r.Resolve(context.Background(), "ITEM1", "/docs/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, SourceConverted, doc.Source)
}

func TestResolve_NoSourceFails(t *testing.T) {
	r := NewResolver(fakeCache{}, nil, true, 100, nil)
	_, err := r.Resolve(context.Background(), "ITEM1", "/docs/a.pdf")
	assert.Error(t, err)
}

func TestResolveWithProgress_ForwardsWindowPositions(t *testing.T) {
	r := NewResolver(fakeCache{}, newConverter(3), true, 40, nil)

	var positions [][2]int
	doc, err := r.ResolveWithProgress(context.Background(), "ITEM1", "/docs/a.pdf",
		func(lastPageDone, totalPages int) {
			positions = append(positions, [2]int{lastPageDone, totalPages})
		})
	require.NoError(t, err)

	assert.Equal(t, SourceConverted, doc.Source)
	require.NotEmpty(t, positions)
	last := positions[len(positions)-1]
	assert.Equal(t, 3, last[0])
	assert.Equal(t, 3, last[1])
}
