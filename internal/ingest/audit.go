package ingest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	citeerrors "github.com/citeloom/citeloom/internal/errors"
)

// AuditEntry is one JSONL line per completed document.
type AuditEntry struct {
	CorrelationID      string    `json:"correlation_id"`
	DocID              string    `json:"doc_id"`
	ProjectID          string    `json:"project_id"`
	SourcePath         string    `json:"source_path"`
	ChunksWritten      int       `json:"chunks_written"`
	DocumentsProcessed int       `json:"documents_processed"`
	DurationSeconds    float64   `json:"duration_seconds"`
	EmbedModel         string    `json:"embed_model"`
	Warnings           []string  `json:"warnings"`
	Timestamp          time.Time `json:"timestamp"`
}

// AuditLog appends entries to <dir>/<correlation_id>.jsonl.
type AuditLog struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// OpenAuditLog opens (or creates) the audit file for a run.
func OpenAuditLog(dir, correlationID string) (*AuditLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, citeerrors.Wrap(err, citeerrors.ErrCodeInternal, "failed to create audit directory")
	}
	path := filepath.Join(dir, correlationID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, citeerrors.Wrap(err, citeerrors.ErrCodeInternal, "failed to open audit log "+path)
	}
	return &AuditLog{file: f, enc: json.NewEncoder(f)}, nil
}

// Append writes one entry as a JSON line.
func (a *AuditLog) Append(e AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e.Warnings == nil {
		e.Warnings = []string{}
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if err := a.enc.Encode(e); err != nil {
		return citeerrors.Wrap(err, citeerrors.ErrCodeInternal, "failed to append audit entry")
	}
	return nil
}

// Close syncs and closes the file.
func (a *AuditLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.file.Sync(); err != nil {
		return err
	}
	return a.file.Close()
}
