// Package checkpoint persists ingestion batch state so interrupted runs can
// resume. One checkpoint file per correlation id, written atomically.
package checkpoint

import (
	"fmt"
	"time"

	"github.com/citeloom/citeloom/internal/fingerprint"
)

// DocStatus is the lifecycle state of one document within a batch.
type DocStatus string

const (
	StatusPending    DocStatus = "pending"
	StatusConverting DocStatus = "converting"
	StatusChunking   DocStatus = "chunking"
	StatusEmbedding  DocStatus = "embedding"
	StatusStoring    DocStatus = "storing"
	StatusCompleted  DocStatus = "completed"
	StatusFailed     DocStatus = "failed"
)

// ValidStatus reports whether s is a known document status.
func ValidStatus(s DocStatus) bool {
	switch s {
	case StatusPending, StatusConverting, StatusChunking, StatusEmbedding,
		StatusStoring, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is a terminal status.
func (s DocStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// nextOf maps each active status to its successor in the pipeline.
var nextOf = map[DocStatus]DocStatus{
	StatusPending:    StatusConverting,
	StatusConverting: StatusChunking,
	StatusChunking:   StatusEmbedding,
	StatusEmbedding:  StatusStoring,
	StatusStoring:    StatusCompleted,
}

// CanTransition reports whether from → to is a legal status transition.
// Any non-terminal status may transition to failed.
func CanTransition(from, to DocStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	return nextOf[from] == to
}

// DocumentCheckpoint tracks a single document through the pipeline.
type DocumentCheckpoint struct {
	Path        string                   `json:"path"`
	Status      DocStatus                `json:"status"`
	Stage       DocStatus                `json:"stage,omitempty"` // empty when terminal
	ChunksCount int                      `json:"chunks_count"`
	// PagesConverted/PagesTotal record the last completed conversion window
	// so an interrupted large-document conversion leaves a resume position.
	PagesConverted int `json:"pages_converted,omitempty"`
	PagesTotal     int `json:"pages_total,omitempty"`
	DocID       string                   `json:"doc_id,omitempty"`
	ItemKey     string                   `json:"zotero_item_key,omitempty"`
	AttachKey   string                   `json:"zotero_attachment_key,omitempty"`
	Error       string                   `json:"error,omitempty"`
	Fingerprint *fingerprint.Fingerprint `json:"fingerprint,omitempty"`
	UpdatedAt   time.Time                `json:"updated_at"`
}

// Advance moves the document to the given status, clearing the stage field
// when the status is terminal.
func (d *DocumentCheckpoint) Advance(to DocStatus) error {
	if !CanTransition(d.Status, to) {
		return fmt.Errorf("illegal checkpoint transition %s -> %s for %s", d.Status, to, d.Path)
	}
	d.Status = to
	if to.Terminal() {
		d.Stage = ""
	} else {
		d.Stage = to
	}
	d.UpdatedAt = time.Now().UTC()
	return nil
}

// Complete marks the document completed with its final chunk count.
func (d *DocumentCheckpoint) Complete(docID string, chunks int) error {
	if err := d.Advance(StatusCompleted); err != nil {
		return err
	}
	d.DocID = docID
	d.ChunksCount = chunks
	d.Error = ""
	return nil
}

// Fail marks the document failed with the given error text.
func (d *DocumentCheckpoint) Fail(msg string) error {
	if err := d.Advance(StatusFailed); err != nil {
		return err
	}
	d.Error = msg
	return nil
}

// Statistics summarizes a batch. Total always equals
// Completed + Failed + Pending, where Pending counts every non-terminal
// document.
type Statistics struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
}

// IngestionCheckpoint is the durable record of one batch run.
type IngestionCheckpoint struct {
	CorrelationID string                `json:"correlation_id"`
	ProjectID     string                `json:"project_id"`
	CollectionKey string                `json:"collection_key,omitempty"`
	StartTime     time.Time             `json:"start_time"`
	LastUpdate    time.Time             `json:"last_update"`
	Documents     []*DocumentCheckpoint `json:"documents"`
	Statistics    Statistics            `json:"statistics"`
}

// NewIngestionCheckpoint creates an empty checkpoint for a new batch.
func NewIngestionCheckpoint(correlationID, projectID, collectionKey string) *IngestionCheckpoint {
	now := time.Now().UTC()
	return &IngestionCheckpoint{
		CorrelationID: correlationID,
		ProjectID:     projectID,
		CollectionKey: collectionKey,
		StartTime:     now,
		LastUpdate:    now,
		Documents:     []*DocumentCheckpoint{},
	}
}

// AddDocument registers a pending document and returns its checkpoint entry.
// An existing entry for the same path is returned unchanged.
func (c *IngestionCheckpoint) AddDocument(path string) *DocumentCheckpoint {
	if d := c.Document(path); d != nil {
		return d
	}
	d := &DocumentCheckpoint{
		Path:      path,
		Status:    StatusPending,
		Stage:     StatusPending,
		UpdatedAt: time.Now().UTC(),
	}
	c.Documents = append(c.Documents, d)
	return d
}

// Document returns the entry for the given path, or nil.
func (c *IngestionCheckpoint) Document(path string) *DocumentCheckpoint {
	for _, d := range c.Documents {
		if d.Path == path {
			return d
		}
	}
	return nil
}

// Touch recomputes statistics and bumps the last-update timestamp. Call it
// after every document state transition, before saving.
func (c *IngestionCheckpoint) Touch() {
	stats := Statistics{Total: len(c.Documents)}
	for _, d := range c.Documents {
		switch d.Status {
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		default:
			stats.Pending++
		}
	}
	c.Statistics = stats
	c.LastUpdate = time.Now().UTC()
	if c.LastUpdate.Before(c.StartTime) {
		c.LastUpdate = c.StartTime
	}
}

// Validate checks internal consistency. Used both before save and after load.
func (c *IngestionCheckpoint) Validate() error {
	if c.CorrelationID == "" {
		return fmt.Errorf("checkpoint missing correlation_id")
	}
	if c.ProjectID == "" {
		return fmt.Errorf("checkpoint %s missing project_id", c.CorrelationID)
	}
	if c.LastUpdate.Before(c.StartTime) {
		return fmt.Errorf("checkpoint %s: last_update precedes start_time", c.CorrelationID)
	}

	stats := Statistics{Total: len(c.Documents)}
	for _, d := range c.Documents {
		if d.Path == "" {
			return fmt.Errorf("checkpoint %s: document with empty path", c.CorrelationID)
		}
		if !ValidStatus(d.Status) {
			return fmt.Errorf("checkpoint %s: document %s has invalid status %q", c.CorrelationID, d.Path, d.Status)
		}
		if d.Status == StatusFailed && d.Error == "" {
			return fmt.Errorf("checkpoint %s: failed document %s has no error text", c.CorrelationID, d.Path)
		}
		switch d.Status {
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		default:
			stats.Pending++
		}
	}
	if stats != c.Statistics {
		return fmt.Errorf("checkpoint %s: stored statistics %+v disagree with documents %+v",
			c.CorrelationID, c.Statistics, stats)
	}
	return nil
}
