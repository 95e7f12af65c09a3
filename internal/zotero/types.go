// Package zotero reads a Zotero research library through two interchangeable
// backends: a local SQLite snapshot and the remote Web API. A router picks the
// backend per call according to a configured strategy.
package zotero

import "context"

// Collection is one Zotero collection (folder).
type Collection struct {
	Key       string `json:"key"`
	Name      string `json:"name"`
	ParentKey string `json:"parent_key,omitempty"`
	NumItems  int    `json:"num_items,omitempty"`
}

// Item is one bibliographic item. Attachments and annotations are never
// returned as items.
type Item struct {
	Key      string         `json:"key"`
	Title    string         `json:"title"`
	ItemType string         `json:"item_type"`
	Year     int            `json:"year,omitempty"`
	DOI      string         `json:"doi,omitempty"`
	Tags     []string       `json:"tags,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// Link modes for attachments, matching the snapshot schema.
const (
	LinkModeImported = 0
	LinkModeLinked   = 1
)

// Attachment is one file attached to an item.
type Attachment struct {
	Key         string `json:"key"`
	ParentKey   string `json:"parent_key"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	LinkMode    int    `json:"link_mode"`
	// Path is the raw stored path field; meaningful for linked attachments.
	Path string `json:"path,omitempty"`
}

// Tag is one library tag with its usage count.
type Tag struct {
	Name  string `json:"name"`
	Count int    `json:"count,omitempty"`
}

// Source markers returned by DownloadAttachment.
const (
	SourceLocal = "local"
	SourceWeb   = "web"
)

// ZoteroSource is the capability set shared by the local reader and the web
// client. DownloadAttachment places the file under destDir and returns the
// absolute path of the resulting file.
type ZoteroSource interface {
	ListCollections(ctx context.Context) ([]Collection, error)
	FindCollectionByName(ctx context.Context, name string) (*Collection, error)
	GetCollectionItems(ctx context.Context, collectionKey string, recursive bool) ([]Item, error)
	GetItemAttachments(ctx context.Context, itemKey string) ([]Attachment, error)
	GetItemMetadata(ctx context.Context, itemKey string) (map[string]any, error)
	DownloadAttachment(ctx context.Context, att Attachment, destDir string) (string, error)
	ListTags(ctx context.Context) ([]Tag, error)
	GetRecentItems(ctx context.Context, limit int) ([]Item, error)

	// Name identifies the backend ("local" or "web") for logs and manifests.
	Name() string
}

// LocalProber is implemented by backends that can cheaply check whether an
// attachment file is resolvable on the local filesystem. The router consults
// it before committing to a source.
type LocalProber interface {
	CanResolveLocally(attachmentKey string) bool
}
