package zotero

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	citeerrors "github.com/citeloom/citeloom/internal/errors"
)

// fakeSource is a scriptable ZoteroSource for router tests.
type fakeSource struct {
	name        string
	collections []Collection
	items       []Item
	failAll     bool
	failErr     error
	resolvable  map[string]bool // attachment key -> local probe answer
	downloads   []string        // attachment keys served
}

var (
	_ ZoteroSource = (*fakeSource)(nil)
	_ LocalProber  = (*fakeSource)(nil)
)

func (f *fakeSource) err() error {
	if f.failErr != nil {
		return f.failErr
	}
	return fmt.Errorf("%s backend unavailable", f.name)
}

func (f *fakeSource) ListCollections(context.Context) ([]Collection, error) {
	if f.failAll {
		return nil, f.err()
	}
	return f.collections, nil
}

func (f *fakeSource) FindCollectionByName(ctx context.Context, name string) (*Collection, error) {
	if f.failAll {
		return nil, f.err()
	}
	for i := range f.collections {
		if f.collections[i].Name == name {
			return &f.collections[i], nil
		}
	}
	return nil, nil
}

func (f *fakeSource) GetCollectionItems(context.Context, string, bool) ([]Item, error) {
	if f.failAll {
		return nil, f.err()
	}
	return f.items, nil
}

func (f *fakeSource) GetItemAttachments(context.Context, string) ([]Attachment, error) {
	if f.failAll {
		return nil, f.err()
	}
	return nil, nil
}

func (f *fakeSource) GetItemMetadata(context.Context, string) (map[string]any, error) {
	if f.failAll {
		return nil, f.err()
	}
	return map[string]any{"source": f.name}, nil
}

func (f *fakeSource) DownloadAttachment(_ context.Context, att Attachment, _ string) (string, error) {
	if f.failAll {
		return "", f.err()
	}
	if f.resolvable != nil && !f.resolvable[att.Key] {
		return "", citeerrors.New(citeerrors.ErrCodeZoteroPathResolution, "missing on disk")
	}
	f.downloads = append(f.downloads, att.Key)
	return "/" + f.name + "/" + att.Filename, nil
}

func (f *fakeSource) ListTags(context.Context) ([]Tag, error) {
	if f.failAll {
		return nil, f.err()
	}
	return nil, nil
}

func (f *fakeSource) GetRecentItems(context.Context, int) ([]Item, error) {
	if f.failAll {
		return nil, f.err()
	}
	return f.items, nil
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) CanResolveLocally(key string) bool {
	if f.resolvable == nil {
		return true
	}
	return f.resolvable[key]
}

func newRouter(t *testing.T, local, web ZoteroSource, strategy Strategy) *Router {
	t.Helper()
	r, err := NewRouter(local, web, strategy, slog.Default())
	require.NoError(t, err)
	return r
}

func TestRouter_LocalOnlyRequiresLocal(t *testing.T) {
	_, err := NewRouter(nil, &fakeSource{name: "web"}, StrategyLocalOnly, nil)
	assert.Error(t, err)
}

func TestRouter_NonLocalStrategiesRequireWeb(t *testing.T) {
	_, err := NewRouter(&fakeSource{name: "local"}, nil, StrategyAuto, nil)
	assert.Error(t, err)

	_, err = NewRouter(&fakeSource{name: "local"}, nil, StrategyLocalOnly, nil)
	assert.NoError(t, err)
}

func TestRouter_LocalFirstFallsBackPerCall(t *testing.T) {
	local := &fakeSource{name: "local", failAll: true}
	web := &fakeSource{name: "web", collections: []Collection{{Key: "C1", Name: "from web"}}}
	r := newRouter(t, local, web, StrategyLocalFirst)

	cols, err := r.ListCollections(context.Background())
	require.NoError(t, err)
	require.Len(t, cols, 1)
	assert.Equal(t, "from web", cols[0].Name)
}

func TestRouter_WebFirstRateLimitFallsBackToLocal(t *testing.T) {
	// Scenario: web returns 429 on list_collections, local snapshot available.
	local := &fakeSource{name: "local", collections: []Collection{{Key: "C1", Name: "from local"}}}
	web := &fakeSource{name: "web", failAll: true,
		failErr: citeerrors.New(citeerrors.ErrCodeZoteroRateLimit, "rate limit hit")}
	r := newRouter(t, local, web, StrategyWebFirst)

	cols, err := r.ListCollections(context.Background())
	require.NoError(t, err)
	require.Len(t, cols, 1)
	assert.Equal(t, "from local", cols[0].Name)
}

func TestRouter_WebOnlyNeverTouchesLocal(t *testing.T) {
	local := &fakeSource{name: "local", collections: []Collection{{Key: "C1", Name: "local"}}}
	web := &fakeSource{name: "web", failAll: true}
	r := newRouter(t, local, web, StrategyWebOnly)

	_, err := r.ListCollections(context.Background())
	assert.Error(t, err)
}

func TestRouter_DownloadPerFileFallback(t *testing.T) {
	// A1 is resolvable locally, A2 is not; in local-first both must succeed
	// with their realized source markers.
	local := &fakeSource{name: "local", resolvable: map[string]bool{"A1": true, "A2": false}}
	web := &fakeSource{name: "web"}
	r := newRouter(t, local, web, StrategyLocalFirst)

	ctx := context.Background()
	dir := t.TempDir()

	path, source, err := r.DownloadAttachment(ctx, Attachment{Key: "A1", Filename: "a1.pdf"}, dir)
	require.NoError(t, err)
	assert.Equal(t, SourceLocal, source)
	assert.Equal(t, "/local/a1.pdf", path)

	path, source, err = r.DownloadAttachment(ctx, Attachment{Key: "A2", Filename: "a2.pdf"}, dir)
	require.NoError(t, err)
	assert.Equal(t, SourceWeb, source)
	assert.Equal(t, "/web/a2.pdf", path)

	assert.Equal(t, []string{"A1"}, local.downloads)
	assert.Equal(t, []string{"A2"}, web.downloads)
}

func TestRouter_DownloadLocalFailureMidTransferFallsBack(t *testing.T) {
	// Probe says yes but the copy fails; the router must still fall back.
	local := &fakeSource{name: "local", failAll: true}
	web := &fakeSource{name: "web"}
	r := newRouter(t, local, web, StrategyAuto)

	_, source, err := r.DownloadAttachment(context.Background(), Attachment{Key: "A1", Filename: "a.pdf"}, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, SourceWeb, source)
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyAuto, s)

	_, err = ParseStrategy("psychic")
	assert.Error(t, err)
}
