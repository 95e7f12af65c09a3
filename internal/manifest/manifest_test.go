package manifest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleManifest() *Manifest {
	m := New("COLL1", "Clean Architecture")
	it := m.AddItem("ITEM1", "Design Patterns", map[string]any{"year": "1994"})
	it.Attachments = append(it.Attachments,
		&Attachment{AttachmentKey: "ATT1", Filename: "patterns.pdf", DownloadStatus: DownloadSuccess, LocalPath: "/abs/patterns.pdf", Source: SourceLocal},
		&Attachment{AttachmentKey: "ATT2", Filename: "notes.txt", DownloadStatus: DownloadSuccess, LocalPath: "/abs/notes.txt", Source: SourceWeb},
	)
	it2 := m.AddItem("ITEM2", "Refactoring", nil)
	it2.Attachments = append(it2.Attachments,
		&Attachment{AttachmentKey: "ATT3", Filename: "refactoring.PDF", DownloadStatus: DownloadFailed, Error: "404"},
	)
	return m
}

func TestItemByKey(t *testing.T) {
	m := sampleManifest()
	require.NotNil(t, m.ItemByKey("ITEM1"))
	assert.Equal(t, "Design Patterns", m.ItemByKey("ITEM1").Title)
	assert.Nil(t, m.ItemByKey("NOPE"))
}

func TestAddItem_Idempotent(t *testing.T) {
	m := sampleManifest()
	again := m.AddItem("ITEM1", "ignored", nil)
	assert.Equal(t, "Design Patterns", again.Title)
	assert.Len(t, m.Items, 2)
}

func TestPDFAttachments_CaseInsensitiveExtension(t *testing.T) {
	m := sampleManifest()
	refs := m.PDFAttachments()
	require.Len(t, refs, 2)
	keys := []string{refs[0].Attachment.AttachmentKey, refs[1].Attachment.AttachmentKey}
	assert.ElementsMatch(t, []string{"ATT1", "ATT3"}, keys)
}

func TestSuccessfulDownloads(t *testing.T) {
	m := sampleManifest()
	refs := m.SuccessfulDownloads()
	require.Len(t, refs, 2)
	for _, r := range refs {
		assert.Equal(t, DownloadSuccess, r.Attachment.DownloadStatus)
		assert.NotEmpty(t, r.Attachment.LocalPath)
	}
}

func TestMerge_CarriesOverPriorSuccesses(t *testing.T) {
	old := sampleManifest()

	// New run knows ITEM1 but has not downloaded ATT1 yet, and never saw ITEM2.
	fresh := New("COLL1", "Clean Architecture")
	it := fresh.AddItem("ITEM1", "Design Patterns", nil)
	it.Attachments = append(it.Attachments,
		&Attachment{AttachmentKey: "ATT1", Filename: "patterns.pdf", DownloadStatus: DownloadPending},
	)

	fresh.Merge(old)

	att := fresh.ItemByKey("ITEM1").Attachments[0]
	assert.Equal(t, DownloadSuccess, att.DownloadStatus)
	assert.Equal(t, "/abs/patterns.pdf", att.LocalPath)

	require.NotNil(t, fresh.ItemByKey("ITEM2"))
	// ATT2 existed only in the old manifest and is carried over.
	assert.Len(t, fresh.ItemByKey("ITEM1").Attachments, 2)
}

func TestMerge_NewFailureNotOverwrittenByOldSuccess(t *testing.T) {
	old := sampleManifest()

	fresh := New("COLL1", "Clean Architecture")
	it := fresh.AddItem("ITEM1", "Design Patterns", nil)
	it.Attachments = append(it.Attachments,
		&Attachment{AttachmentKey: "ATT1", Filename: "patterns.pdf", DownloadStatus: DownloadFailed, Error: "disk full"},
	)

	fresh.Merge(old)
	assert.Equal(t, DownloadFailed, fresh.ItemByKey("ITEM1").Attachments[0].DownloadStatus)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir, "COLL1")
	assert.Equal(t, filepath.Join(dir, "COLL1", "manifest.json"), path)

	m := sampleManifest()
	require.NoError(t, m.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "COLL1", loaded.CollectionKey)
	assert.Len(t, loaded.Items, 2)
	assert.Equal(t, "patterns.pdf", loaded.Items[0].Attachments[0].Filename)
}

func TestLoad_MissingReturnsNil(t *testing.T) {
	loaded, err := Load(filepath.Join(t.TempDir(), "nope", "manifest.json"))
	require.NoError(t, err)
	assert.Nil(t, loaded)
}
