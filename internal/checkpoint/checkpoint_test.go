package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	citeerrors "github.com/citeloom/citeloom/internal/errors"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "checkpoints"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDocumentCheckpoint_Transitions(t *testing.T) {
	d := &DocumentCheckpoint{Path: "/docs/a.pdf", Status: StatusPending, Stage: StatusPending}

	for _, to := range []DocStatus{StatusConverting, StatusChunking, StatusEmbedding, StatusStoring} {
		require.NoError(t, d.Advance(to))
		assert.Equal(t, to, d.Status)
		assert.Equal(t, to, d.Stage)
	}

	require.NoError(t, d.Complete("doc-1", 42))
	assert.Equal(t, StatusCompleted, d.Status)
	assert.Empty(t, d.Stage)
	assert.Equal(t, 42, d.ChunksCount)

	// Terminal states are final.
	assert.Error(t, d.Advance(StatusConverting))
	assert.Error(t, d.Fail("too late"))
}

func TestDocumentCheckpoint_SkippedStageRejected(t *testing.T) {
	d := &DocumentCheckpoint{Path: "/docs/a.pdf", Status: StatusPending}
	assert.Error(t, d.Advance(StatusEmbedding))
}

func TestDocumentCheckpoint_FailFromAnyActiveState(t *testing.T) {
	for _, from := range []DocStatus{StatusPending, StatusConverting, StatusChunking, StatusEmbedding, StatusStoring} {
		d := &DocumentCheckpoint{Path: "/docs/a.pdf", Status: from}
		require.NoError(t, d.Fail("converter crashed"))
		assert.Equal(t, StatusFailed, d.Status)
		assert.Equal(t, "converter crashed", d.Error)
	}
}

func TestIngestionCheckpoint_StatisticsInvariant(t *testing.T) {
	ckpt := NewIngestionCheckpoint("corr-1", "demo/proj", "COLL1")
	a := ckpt.AddDocument("/docs/a.pdf")
	b := ckpt.AddDocument("/docs/b.pdf")
	ckpt.AddDocument("/docs/c.pdf")

	require.NoError(t, a.Advance(StatusConverting))
	require.NoError(t, a.Fail("boom"))
	for _, to := range []DocStatus{StatusConverting, StatusChunking, StatusEmbedding, StatusStoring} {
		require.NoError(t, b.Advance(to))
	}
	require.NoError(t, b.Complete("doc-b", 7))
	ckpt.Touch()

	assert.Equal(t, Statistics{Total: 3, Completed: 1, Failed: 1, Pending: 1}, ckpt.Statistics)
	assert.Equal(t, ckpt.Statistics.Total, ckpt.Statistics.Completed+ckpt.Statistics.Failed+ckpt.Statistics.Pending)
	require.NoError(t, ckpt.Validate())
}

func TestIngestionCheckpoint_AddDocumentIsIdempotent(t *testing.T) {
	ckpt := NewIngestionCheckpoint("corr-1", "demo/proj", "")
	d1 := ckpt.AddDocument("/docs/a.pdf")
	d2 := ckpt.AddDocument("/docs/a.pdf")
	assert.Same(t, d1, d2)
	assert.Len(t, ckpt.Documents, 1)
}

func TestValidate_RejectsInconsistencies(t *testing.T) {
	base := func() *IngestionCheckpoint {
		c := NewIngestionCheckpoint("corr-1", "demo/proj", "")
		c.AddDocument("/docs/a.pdf")
		c.Touch()
		return c
	}

	c := base()
	c.CorrelationID = ""
	assert.Error(t, c.Validate())

	c = base()
	c.ProjectID = ""
	assert.Error(t, c.Validate())

	c = base()
	c.LastUpdate = c.StartTime.Add(-time.Minute)
	assert.Error(t, c.Validate())

	c = base()
	c.Documents[0].Status = StatusFailed
	c.Documents[0].Error = ""
	c.Statistics = Statistics{Total: 1, Failed: 1}
	assert.Error(t, c.Validate())

	c = base()
	c.Statistics.Completed = 5
	assert.Error(t, c.Validate())
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	s := newStore(t)

	ckpt := NewIngestionCheckpoint("corr-42", "demo/proj", "COLL1")
	d := ckpt.AddDocument("/docs/a.pdf")
	require.NoError(t, d.Advance(StatusConverting))
	ckpt.Touch()

	require.NoError(t, s.Save(ckpt))
	assert.True(t, s.Exists("corr-42"))

	loaded, err := s.Load("corr-42")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, ckpt.CorrelationID, loaded.CorrelationID)
	assert.Equal(t, ckpt.Statistics, loaded.Statistics)
	require.Len(t, loaded.Documents, 1)
	assert.Equal(t, StatusConverting, loaded.Documents[0].Status)
}

func TestStore_LoadMissingReturnsNil(t *testing.T) {
	s := newStore(t)
	loaded, err := s.Load("nope")
	require.NoError(t, err)
	assert.Nil(t, loaded)
	assert.False(t, s.Exists("nope"))
}

func TestStore_CorruptFileSurfacedAsError(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "checkpoints")
	s, err := NewStore(dir)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{trunc"), 0o644))

	_, err = s.Load("bad")
	require.Error(t, err)
	assert.Equal(t, citeerrors.ErrCodeCheckpointCorrupt, citeerrors.GetCode(err))
}

func TestStore_PartialWriteNeverReplacesValidFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "checkpoints")
	s, err := NewStore(dir)
	require.NoError(t, err)
	defer s.Close()

	ckpt := NewIngestionCheckpoint("corr-1", "demo/proj", "")
	ckpt.Touch()
	require.NoError(t, s.Save(ckpt))

	// An inconsistent checkpoint is rejected before any file I/O.
	broken := NewIngestionCheckpoint("corr-1", "demo/proj", "")
	broken.Statistics.Completed = 99
	require.Error(t, s.Save(broken))

	// Simulated crash: a leftover temp file next to the real one.
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".corr-1.json.tmp"), []byte("garbage"), 0o644))

	loaded, err := s.Load("corr-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, Statistics{}, loaded.Statistics)
}

func TestStore_SecondStoreOnSameDirRejected(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "checkpoints")
	s1, err := NewStore(dir)
	require.NoError(t, err)
	defer s1.Close()

	_, err = NewStore(dir)
	require.Error(t, err)
	assert.Equal(t, citeerrors.ErrCodeZoteroDatabaseLocked, citeerrors.GetCode(err))
}

func TestStore_List(t *testing.T) {
	s := newStore(t)
	for _, id := range []string{"a", "b"} {
		c := NewIngestionCheckpoint(id, "demo/proj", "")
		c.Touch()
		require.NoError(t, s.Save(c))
	}
	ids, err := s.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}

func TestCheckpoint_JSONFieldNames(t *testing.T) {
	ckpt := NewIngestionCheckpoint("corr-1", "demo/proj", "COLL1")
	ckpt.AddDocument("/docs/a.pdf")
	ckpt.Touch()

	data, err := json.Marshal(ckpt)
	require.NoError(t, err)
	for _, key := range []string{`"correlation_id"`, `"project_id"`, `"collection_key"`, `"statistics"`, `"chunks_count"`} {
		assert.Contains(t, string(data), key)
	}
}
