package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	citeerrors "github.com/citeloom/citeloom/internal/errors"
	"github.com/citeloom/citeloom/internal/manifest"
	"github.com/citeloom/citeloom/internal/zotero"
)

// progressEvery is how many finished downloads pass between batch-progress
// log lines.
const progressEvery = 15

// Source is the Zotero surface the acquirer needs, satisfied by the source
// router.
type Source interface {
	FindCollectionByName(ctx context.Context, name string) (*zotero.Collection, error)
	GetCollectionItems(ctx context.Context, collectionKey string, recursive bool) ([]zotero.Item, error)
	GetItemAttachments(ctx context.Context, itemKey string) ([]zotero.Attachment, error)
	GetItemMetadata(ctx context.Context, itemKey string) (map[string]any, error)
	DownloadAttachment(ctx context.Context, att zotero.Attachment, destDir string) (path, source string, err error)
}

// AcquireOptions tunes Phase A.
type AcquireOptions struct {
	Recursive bool
	Tags      TagFilter
	Workers   int
}

// Acquirer runs Phase A: walk a collection, filter items, and download PDF
// attachments into the per-collection directory, recording everything in the
// manifest.
type Acquirer struct {
	source      Source
	downloadDir string
	logger      *slog.Logger
}

// NewAcquirer creates an Acquirer.
func NewAcquirer(source Source, downloadDir string, logger *slog.Logger) *Acquirer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Acquirer{source: source, downloadDir: downloadDir, logger: logger}
}

// Acquire downloads a collection's PDF attachments and returns the saved
// manifest. Attachments already downloaded by a previous run carry over and
// are not fetched again.
func (a *Acquirer) Acquire(ctx context.Context, collectionName string, opts AcquireOptions) (*manifest.Manifest, error) {
	coll, err := a.source.FindCollectionByName(ctx, collectionName)
	if err != nil {
		return nil, err
	}
	if coll == nil {
		return nil, citeerrors.New(citeerrors.ErrCodeInvalidInput,
			fmt.Sprintf("collection %q not found in library", collectionName))
	}

	items, err := a.source.GetCollectionItems(ctx, coll.Key, opts.Recursive)
	if err != nil {
		return nil, err
	}

	man := manifest.New(coll.Key, coll.Name)
	names := newNameAllocator()

	// Raw attachments by key; the manifest stores only the download record.
	attachments := make(map[string]zotero.Attachment)

	for _, item := range items {
		if !opts.Tags.Keep(item.Tags) {
			continue
		}

		meta, err := a.source.GetItemMetadata(ctx, item.Key)
		if err != nil {
			a.logger.Warn("could not fetch item metadata", "item", item.Key, "error", err)
			meta = nil
		}
		mi := man.AddItem(item.Key, item.Title, meta)

		atts, err := a.source.GetItemAttachments(ctx, item.Key)
		if err != nil {
			a.logger.Warn("could not list attachments", "item", item.Key, "error", err)
			continue
		}
		for _, att := range atts {
			if !isPDFAttachment(att) {
				continue
			}
			att.Filename = names.allocate(SanitizeFilename(att.Filename))
			attachments[att.Key] = att
			mi.Attachments = append(mi.Attachments, &manifest.Attachment{
				AttachmentKey:  att.Key,
				Filename:       att.Filename,
				DownloadStatus: manifest.DownloadPending,
			})
		}
	}

	manPath := manifest.Path(a.downloadDir, coll.Key)
	if old, err := manifest.Load(manPath); err == nil && old != nil {
		man.Merge(old)
	}

	if err := a.download(ctx, man, attachments, opts.Workers); err != nil {
		return nil, err
	}

	if err := man.Save(manPath); err != nil {
		return nil, err
	}
	return man, nil
}

// download fetches every still-pending PDF attachment on a bounded worker
// pool. Single-attachment failures are recorded, not fatal.
func (a *Acquirer) download(ctx context.Context, man *manifest.Manifest, attachments map[string]zotero.Attachment, workers int) error {
	if workers <= 0 {
		workers = 4
	}
	destDir := filepath.Join(a.downloadDir, man.CollectionKey)

	var pending []manifest.AttachmentRef
	for _, ref := range man.PDFAttachments() {
		if ref.Attachment.DownloadStatus == manifest.DownloadPending {
			pending = append(pending, ref)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	var (
		mu   sync.Mutex
		done int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, ref := range pending {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			rec := ref.Attachment
			att, ok := attachments[rec.AttachmentKey]
			if !ok {
				// Carried over from an earlier manifest but gone from the
				// library now.
				mu.Lock()
				rec.DownloadStatus = manifest.DownloadFailed
				rec.Error = "attachment no longer present in library"
				mu.Unlock()
				return nil
			}

			path, source, err := a.source.DownloadAttachment(gctx, att, destDir)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rec.DownloadStatus = manifest.DownloadFailed
				rec.Error = err.Error()
				a.logger.Warn("download failed",
					"item", ref.Item.ItemKey, "attachment", rec.AttachmentKey, "error", err)
			} else {
				rec.DownloadStatus = manifest.DownloadSuccess
				rec.LocalPath = path
				rec.Source = source
				rec.Error = ""
				if info, statErr := os.Stat(path); statErr == nil {
					rec.FileSize = info.Size()
				}
			}
			done++
			if done%progressEvery == 0 || done == len(pending) {
				a.logger.Info("download progress",
					"collection", man.CollectionKey, "done", done, "total", len(pending))
			}
			return nil
		})
	}
	return g.Wait()
}

func isPDFAttachment(att zotero.Attachment) bool {
	if strings.EqualFold(att.ContentType, "application/pdf") {
		return true
	}
	return strings.EqualFold(filepath.Ext(att.Filename), ".pdf")
}
