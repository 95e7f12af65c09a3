// Package manifest records the outcome of a Zotero attachment download phase.
// The manifest is the join point between downloading and processing: once
// written it is authoritative about where each PDF lives on disk.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio"

	citeerrors "github.com/citeloom/citeloom/internal/errors"
	"github.com/citeloom/citeloom/internal/fingerprint"
)

// Download status values for a manifest attachment.
const (
	DownloadPending = "pending"
	DownloadSuccess = "success"
	DownloadFailed  = "failed"
)

// Attachment source values.
const (
	SourceLocal = "local"
	SourceWeb   = "web"
)

// Attachment records one downloaded (or attempted) attachment file.
type Attachment struct {
	AttachmentKey  string                   `json:"attachment_key"`
	Filename       string                   `json:"filename"`
	LocalPath      string                   `json:"local_path,omitempty"` // absolute when status=success
	DownloadStatus string                   `json:"download_status"`
	FileSize       int64                    `json:"file_size,omitempty"`
	Error          string                   `json:"error,omitempty"`
	Source         string                   `json:"source,omitempty"`
	Fingerprint    *fingerprint.Fingerprint `json:"content_fingerprint,omitempty"`
}

// IsPDF reports whether the attachment filename looks like a PDF.
func (a *Attachment) IsPDF() bool {
	return strings.EqualFold(filepath.Ext(a.Filename), ".pdf")
}

// Item is one Zotero item with its attachments.
type Item struct {
	ItemKey     string         `json:"item_key"`
	Title       string         `json:"title"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Attachments []*Attachment  `json:"attachments"`
}

// Manifest is the durable record of one collection download.
type Manifest struct {
	CollectionKey  string    `json:"collection_key"`
	CollectionName string    `json:"collection_name"`
	DownloadTime   time.Time `json:"download_time"`
	Items          []*Item   `json:"items"`
}

// New creates an empty manifest for a collection.
func New(collectionKey, collectionName string) *Manifest {
	return &Manifest{
		CollectionKey:  collectionKey,
		CollectionName: collectionName,
		DownloadTime:   time.Now().UTC(),
		Items:          []*Item{},
	}
}

// AddItem appends an item, or returns the existing one with the same key.
func (m *Manifest) AddItem(itemKey, title string, metadata map[string]any) *Item {
	if it := m.ItemByKey(itemKey); it != nil {
		return it
	}
	it := &Item{ItemKey: itemKey, Title: title, Metadata: metadata, Attachments: []*Attachment{}}
	m.Items = append(m.Items, it)
	return it
}

// ItemByKey returns the item with the given Zotero key, or nil.
func (m *Manifest) ItemByKey(key string) *Item {
	for _, it := range m.Items {
		if it.ItemKey == key {
			return it
		}
	}
	return nil
}

// PDFAttachments returns every PDF attachment together with its parent item.
func (m *Manifest) PDFAttachments() []AttachmentRef {
	var refs []AttachmentRef
	for _, it := range m.Items {
		for _, a := range it.Attachments {
			if a.IsPDF() {
				refs = append(refs, AttachmentRef{Item: it, Attachment: a})
			}
		}
	}
	return refs
}

// SuccessfulDownloads returns every attachment that landed on disk.
func (m *Manifest) SuccessfulDownloads() []AttachmentRef {
	var refs []AttachmentRef
	for _, it := range m.Items {
		for _, a := range it.Attachments {
			if a.DownloadStatus == DownloadSuccess {
				refs = append(refs, AttachmentRef{Item: it, Attachment: a})
			}
		}
	}
	return refs
}

// AttachmentRef pairs an attachment with its parent item.
type AttachmentRef struct {
	Item       *Item
	Attachment *Attachment
}

// Merge folds a previous run's manifest into this one. Attachments already
// successful in the old manifest stay successful unless the new run also
// attempted them; items unknown to the new run are carried over.
func (m *Manifest) Merge(old *Manifest) {
	if old == nil {
		return
	}
	for _, oldItem := range old.Items {
		cur := m.ItemByKey(oldItem.ItemKey)
		if cur == nil {
			m.Items = append(m.Items, oldItem)
			continue
		}
		for _, oldAtt := range oldItem.Attachments {
			found := false
			for _, a := range cur.Attachments {
				if a.AttachmentKey == oldAtt.AttachmentKey {
					found = true
					if a.DownloadStatus == DownloadPending && oldAtt.DownloadStatus == DownloadSuccess {
						*a = *oldAtt
					}
					break
				}
			}
			if !found {
				cur.Attachments = append(cur.Attachments, oldAtt)
			}
		}
	}
}

// Path returns the manifest location for a collection under the download root.
func Path(downloadDir, collectionKey string) string {
	return filepath.Join(downloadDir, collectionKey, "manifest.json")
}

// Save atomically writes the manifest to the given path.
func (m *Manifest) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return citeerrors.Wrap(err, citeerrors.ErrCodeInternal, "failed to create manifest directory")
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return citeerrors.Wrap(err, citeerrors.ErrCodeInternal, "failed to encode manifest")
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return citeerrors.Wrap(err, citeerrors.ErrCodeInternal,
			fmt.Sprintf("failed to write manifest %s", path))
	}
	return nil
}

// Load reads a manifest from disk. Returns (nil, nil) when the file is absent.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, citeerrors.Wrap(err, citeerrors.ErrCodeInternal,
			fmt.Sprintf("failed to read manifest %s", path))
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, citeerrors.Wrap(err, citeerrors.ErrCodeInternal,
			fmt.Sprintf("manifest %s is not valid JSON", path))
	}
	return &m, nil
}
