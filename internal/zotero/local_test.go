package zotero

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	citeerrors "github.com/citeloom/citeloom/internal/errors"
)

// buildSnapshot creates a minimal Zotero-shaped SQLite database plus a
// storage/ tree in a temp data directory.
func buildSnapshot(t *testing.T) string {
	t.Helper()
	dataDir := t.TempDir()

	db, err := sql.Open("sqlite", filepath.Join(dataDir, "zotero.sqlite"))
	require.NoError(t, err)
	defer db.Close()

	schema := `
	CREATE TABLE itemTypes (itemTypeID INTEGER PRIMARY KEY, typeName TEXT);
	CREATE TABLE items (itemID INTEGER PRIMARY KEY, itemTypeID INTEGER, key TEXT, dateAdded TEXT);
	CREATE TABLE collections (collectionID INTEGER PRIMARY KEY, collectionName TEXT, parentCollectionID INTEGER, key TEXT);
	CREATE TABLE collectionItems (collectionID INTEGER, itemID INTEGER);
	CREATE TABLE fields (fieldID INTEGER PRIMARY KEY, fieldName TEXT);
	CREATE TABLE itemDataValues (valueID INTEGER PRIMARY KEY, value TEXT);
	CREATE TABLE itemData (itemID INTEGER, fieldID INTEGER, valueID INTEGER);
	CREATE TABLE itemAttachments (itemID INTEGER PRIMARY KEY, parentItemID INTEGER, linkMode INTEGER, contentType TEXT, path TEXT);
	CREATE TABLE tags (tagID INTEGER PRIMARY KEY, name TEXT);
	CREATE TABLE itemTags (itemID INTEGER, tagID INTEGER);
	CREATE TABLE creators (creatorID INTEGER PRIMARY KEY, firstName TEXT, lastName TEXT);
	CREATE TABLE itemCreators (itemID INTEGER, creatorID INTEGER, orderIndex INTEGER);
	CREATE TABLE fulltext (itemID INTEGER PRIMARY KEY, content TEXT);
	`
	_, err = db.Exec(schema)
	require.NoError(t, err)

	seed := `
	INSERT INTO itemTypes VALUES (1, 'journalArticle'), (2, 'attachment'), (3, 'annotation');
	INSERT INTO items VALUES
		(1, 1, 'ITEM1', '2024-01-01 10:00:00'),
		(2, 1, 'ITEM2', '2024-02-01 10:00:00'),
		(3, 2, 'ATT1',  '2024-01-02 10:00:00'),
		(4, 2, 'ATT2',  '2024-01-03 10:00:00'),
		(5, 3, 'ANN1',  '2024-01-04 10:00:00');
	INSERT INTO collections VALUES
		(10, 'Papers', NULL, 'COLL1'),
		(11, 'Deep Learning', 10, 'COLL2');
	INSERT INTO collectionItems VALUES (10, 1), (11, 2), (10, 3), (10, 5);
	INSERT INTO fields VALUES (1, 'title'), (2, 'date'), (3, 'DOI'), (4, 'extra');
	INSERT INTO itemDataValues VALUES
		(1, 'Attention Is All You Need'),
		(2, '2017-06-12'),
		(3, '10.48550/arXiv.1706.03762'),
		(4, 'Residual Learning'),
		(5, 'Citation Key: he2016resnet');
	INSERT INTO itemData VALUES
		(1, 1, 1), (1, 2, 2), (1, 3, 3),
		(2, 1, 4), (2, 4, 5);
	INSERT INTO itemAttachments VALUES
		(3, 1, 0, 'application/pdf', 'storage:attention.pdf'),
		(4, 2, 1, 'application/pdf', '%LINKED%');
	INSERT INTO tags VALUES (1, 'transformers'), (2, 'vision');
	INSERT INTO itemTags VALUES (1, 1), (2, 2);
	INSERT INTO creators VALUES (1, 'Ashish', 'Vaswani'), (2, 'Noam', 'Shazeer');
	INSERT INTO itemCreators VALUES (1, 1, 0), (1, 2, 1);
	INSERT INTO fulltext VALUES (1, 'Cached full text of the attention paper.');
	`

	// An imported attachment under storage/<key>/ and a linked file elsewhere.
	linked := filepath.Join(dataDir, "elsewhere", "resnet.pdf")
	require.NoError(t, os.MkdirAll(filepath.Dir(linked), 0o755))
	require.NoError(t, os.WriteFile(linked, []byte("%PDF resnet"), 0o644))

	stored := filepath.Join(dataDir, "storage", "ATT1", "attention.pdf")
	require.NoError(t, os.MkdirAll(filepath.Dir(stored), 0o755))
	require.NoError(t, os.WriteFile(stored, []byte("%PDF attention"), 0o644))

	_, err = db.Exec(seed)
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE itemAttachments SET path = ? WHERE itemID = 4`, linked)
	require.NoError(t, err)

	return dataDir
}

func openReader(t *testing.T) *LocalReader {
	t.Helper()
	r, err := NewLocalReader(buildSnapshot(t), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestLocalReader_MissingDatabase(t *testing.T) {
	_, err := NewLocalReader(t.TempDir(), nil)
	require.Error(t, err)
	assert.Equal(t, citeerrors.ErrCodeZoteroDatabaseNotFound, citeerrors.GetCode(err))
}

func TestLocalReader_ListCollections(t *testing.T) {
	r := openReader(t)
	cols, err := r.ListCollections(context.Background())
	require.NoError(t, err)
	require.Len(t, cols, 2)

	byName := map[string]Collection{}
	for _, c := range cols {
		byName[c.Name] = c
	}
	assert.Equal(t, "COLL1", byName["Papers"].Key)
	assert.Equal(t, "COLL1", byName["Deep Learning"].ParentKey)
}

func TestLocalReader_FindCollectionByNameIsCaseInsensitive(t *testing.T) {
	r := openReader(t)
	col, err := r.FindCollectionByName(context.Background(), "papers")
	require.NoError(t, err)
	require.NotNil(t, col)
	assert.Equal(t, "COLL1", col.Key)

	col, err = r.FindCollectionByName(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, col)
}

func TestLocalReader_CollectionItemsExcludeAttachmentsAndAnnotations(t *testing.T) {
	r := openReader(t)
	items, err := r.GetCollectionItems(context.Background(), "COLL1", false)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "ITEM1", items[0].Key)
	assert.Equal(t, "Attention Is All You Need", items[0].Title)
	assert.Equal(t, 2017, items[0].Year)
	assert.Equal(t, []string{"transformers"}, items[0].Tags)
}

func TestLocalReader_RecursiveWalkIncludesSubcollections(t *testing.T) {
	r := openReader(t)
	items, err := r.GetCollectionItems(context.Background(), "COLL1", true)
	require.NoError(t, err)
	require.Len(t, items, 2)
	keys := []string{items[0].Key, items[1].Key}
	assert.ElementsMatch(t, []string{"ITEM1", "ITEM2"}, keys)
}

func TestLocalReader_GetItemMetadata(t *testing.T) {
	r := openReader(t)
	meta, err := r.GetItemMetadata(context.Background(), "ITEM1")
	require.NoError(t, err)
	assert.Equal(t, "Attention Is All You Need", meta["title"])
	assert.Equal(t, "10.48550/arXiv.1706.03762", meta["DOI"])
	assert.Equal(t, []string{"Vaswani, Ashish", "Shazeer, Noam"}, meta["creators"])
}

func TestLocalReader_AttachmentPathResolution(t *testing.T) {
	r := openReader(t)
	ctx := context.Background()

	atts, err := r.GetItemAttachments(ctx, "ITEM1")
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, "ATT1", atts[0].Key)
	assert.Equal(t, "attention.pdf", atts[0].Filename)

	path, err := r.ResolveAttachmentPath(atts[0])
	require.NoError(t, err)
	assert.FileExists(t, path)

	linked, err := r.GetItemAttachments(ctx, "ITEM2")
	require.NoError(t, err)
	require.Len(t, linked, 1)
	assert.Equal(t, LinkModeLinked, linked[0].LinkMode)
	path, err = r.ResolveAttachmentPath(linked[0])
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestLocalReader_PathResolutionFailureListsAttempts(t *testing.T) {
	r := openReader(t)
	_, err := r.ResolveAttachmentPath(Attachment{Key: "GONE", ParentKey: "ITEM1", Filename: "missing.pdf"})
	require.Error(t, err)
	assert.Equal(t, citeerrors.ErrCodeZoteroPathResolution, citeerrors.GetCode(err))

	ce, ok := citeerrors.AsCiteError(err)
	require.True(t, ok)
	assert.NotEmpty(t, ce.Details["tried"])
}

func TestLocalReader_CanResolveLocally(t *testing.T) {
	r := openReader(t)
	assert.True(t, r.CanResolveLocally("ATT1"))
	assert.True(t, r.CanResolveLocally("ATT2"))
	assert.False(t, r.CanResolveLocally("NOPE"))
}

func TestLocalReader_DownloadCopiesFile(t *testing.T) {
	r := openReader(t)
	dest := t.TempDir()

	atts, err := r.GetItemAttachments(context.Background(), "ITEM1")
	require.NoError(t, err)

	path, err := r.DownloadAttachment(context.Background(), atts[0], dest)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF attention", string(data))
}

func TestLocalReader_FullText(t *testing.T) {
	r := openReader(t)

	text, err := r.GetFullText(context.Background(), "ITEM1")
	require.NoError(t, err)
	assert.Contains(t, text, "attention paper")

	text, err = r.GetFullText(context.Background(), "ITEM2")
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestLocalReader_ListTagsWithCounts(t *testing.T) {
	r := openReader(t)
	tags, err := r.ListTags(context.Background())
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, Tag{Name: "transformers", Count: 1}, tags[0])
}

func TestLocalReader_RecentItemsOrderedByDateAdded(t *testing.T) {
	r := openReader(t)
	items, err := r.GetRecentItems(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "ITEM2", items[0].Key)
}

func TestDataDirFromProfiles(t *testing.T) {
	base := t.TempDir()
	profileDir := filepath.Join(base, "abc.default")
	require.NoError(t, os.MkdirAll(profileDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(profileDir, "zotero.sqlite"), []byte("x"), 0o644))

	ini := "[General]\nStartWithLastProfile=1\n\n[Profile0]\nName=default\nIsRelative=1\nPath=abc.default\nDefault=1\n"
	iniPath := filepath.Join(base, "profiles.ini")
	require.NoError(t, os.WriteFile(iniPath, []byte(ini), 0o644))

	dir, ok := dataDirFromProfiles(iniPath, base)
	require.True(t, ok)
	assert.Equal(t, profileDir, dir)
}
