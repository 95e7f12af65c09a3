package zotero

import (
	"context"
	"fmt"
	"log/slog"

	citeerrors "github.com/citeloom/citeloom/internal/errors"
)

// Strategy selects how the router picks between the local and web backends.
type Strategy string

const (
	StrategyLocalOnly  Strategy = "local-only"
	StrategyWebOnly    Strategy = "web-only"
	StrategyLocalFirst Strategy = "local-first"
	StrategyWebFirst   Strategy = "web-first"
	StrategyAuto       Strategy = "auto"
)

// ParseStrategy validates a strategy string, defaulting to auto when empty.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "":
		return StrategyAuto, nil
	case StrategyLocalOnly, StrategyWebOnly, StrategyLocalFirst, StrategyWebFirst, StrategyAuto:
		return Strategy(s), nil
	}
	return "", citeerrors.New(citeerrors.ErrCodeConfigInvalid,
		fmt.Sprintf("unknown zotero strategy %q", s))
}

// Router dispatches each library call to the local or web backend according to
// the strategy. Fallback decisions are made per call, never once per batch.
type Router struct {
	local    ZoteroSource // optional
	web      ZoteroSource // optional only under local-only
	strategy Strategy
	logger   *slog.Logger
}

// NewRouter creates a router. local may be nil; web may be nil only when the
// strategy is local-only.
func NewRouter(local, web ZoteroSource, strategy Strategy, logger *slog.Logger) (*Router, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if local == nil && strategy == StrategyLocalOnly {
		return nil, citeerrors.New(citeerrors.ErrCodeConfigInvalid,
			"strategy local-only requires a local Zotero snapshot").
			WithSuggestion("Set zotero.data_dir or switch to another strategy")
	}
	if web == nil && strategy != StrategyLocalOnly {
		return nil, citeerrors.New(citeerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("strategy %s requires web API credentials", strategy)).
			WithSuggestion("Set ZOTERO_LIBRARY_ID and ZOTERO_API_KEY, or use local-only")
	}
	return &Router{local: local, web: web, strategy: strategy, logger: logger}, nil
}

// HasLocal reports whether a local backend is attached.
func (r *Router) HasLocal() bool { return r.local != nil }

// resolve runs op against the backend the strategy prefers, falling back to
// the other backend when the preferred one fails.
func resolve[T any](r *Router, op string, fn func(ZoteroSource) (T, error)) (T, error) {
	var zero T

	switch r.strategy {
	case StrategyLocalOnly:
		return fn(r.local)

	case StrategyWebOnly:
		return fn(r.web)

	case StrategyLocalFirst, StrategyAuto:
		if r.local != nil {
			result, err := fn(r.local)
			if err == nil {
				return result, nil
			}
			r.logger.Warn("local zotero source failed, retrying on web",
				slog.String("op", op),
				slog.String("error", err.Error()))
		}
		if r.web == nil {
			return zero, citeerrors.New(citeerrors.ErrCodeConfigInvalid,
				fmt.Sprintf("no zotero backend can serve %s", op))
		}
		return fn(r.web)

	case StrategyWebFirst:
		result, err := fn(r.web)
		if err == nil {
			return result, nil
		}
		if r.local != nil {
			r.logger.Warn("web zotero source failed, falling back to local",
				slog.String("op", op),
				slog.String("error", err.Error()))
			return fn(r.local)
		}
		return result, err
	}

	return zero, citeerrors.New(citeerrors.ErrCodeConfigInvalid,
		fmt.Sprintf("unknown zotero strategy %q", r.strategy))
}

func (r *Router) ListCollections(ctx context.Context) ([]Collection, error) {
	return resolve(r, "list_collections", func(s ZoteroSource) ([]Collection, error) {
		return s.ListCollections(ctx)
	})
}

func (r *Router) FindCollectionByName(ctx context.Context, name string) (*Collection, error) {
	return resolve(r, "find_collection_by_name", func(s ZoteroSource) (*Collection, error) {
		return s.FindCollectionByName(ctx, name)
	})
}

func (r *Router) GetCollectionItems(ctx context.Context, collectionKey string, recursive bool) ([]Item, error) {
	return resolve(r, "get_collection_items", func(s ZoteroSource) ([]Item, error) {
		return s.GetCollectionItems(ctx, collectionKey, recursive)
	})
}

func (r *Router) GetItemAttachments(ctx context.Context, itemKey string) ([]Attachment, error) {
	return resolve(r, "get_item_attachments", func(s ZoteroSource) ([]Attachment, error) {
		return s.GetItemAttachments(ctx, itemKey)
	})
}

func (r *Router) GetItemMetadata(ctx context.Context, itemKey string) (map[string]any, error) {
	return resolve(r, "get_item_metadata", func(s ZoteroSource) (map[string]any, error) {
		return s.GetItemMetadata(ctx, itemKey)
	})
}

func (r *Router) ListTags(ctx context.Context) ([]Tag, error) {
	return resolve(r, "list_tags", func(s ZoteroSource) ([]Tag, error) {
		return s.ListTags(ctx)
	})
}

func (r *Router) GetRecentItems(ctx context.Context, limit int) ([]Item, error) {
	return resolve(r, "get_recent_items", func(s ZoteroSource) ([]Item, error) {
		return s.GetRecentItems(ctx, limit)
	})
}

// DownloadAttachment fetches one attachment and reports which backend served
// it. Linked files are only resolvable locally and imported files may be
// absent from a snapshot, so the source is decided per file: the local probe
// runs first in local-preferring strategies, and any local failure falls back
// to the web.
func (r *Router) DownloadAttachment(ctx context.Context, att Attachment, destDir string) (path, source string, err error) {
	localCandidate := r.local != nil && r.canResolveLocally(att.Key)

	switch r.strategy {
	case StrategyLocalOnly:
		path, err = r.local.DownloadAttachment(ctx, att, destDir)
		return path, SourceLocal, err

	case StrategyWebOnly:
		path, err = r.web.DownloadAttachment(ctx, att, destDir)
		return path, SourceWeb, err

	case StrategyWebFirst:
		path, err = r.web.DownloadAttachment(ctx, att, destDir)
		if err == nil {
			return path, SourceWeb, nil
		}
		if localCandidate {
			r.logger.Warn("web download failed, falling back to local",
				slog.String("attachment", att.Key),
				slog.String("error", err.Error()))
			path, err = r.local.DownloadAttachment(ctx, att, destDir)
			return path, SourceLocal, err
		}
		return "", SourceWeb, err

	default: // local-first, auto
		if localCandidate {
			path, err = r.local.DownloadAttachment(ctx, att, destDir)
			if err == nil {
				return path, SourceLocal, nil
			}
			r.logger.Warn("local download failed, falling back to web",
				slog.String("attachment", att.Key),
				slog.String("error", err.Error()))
		}
		if r.web == nil {
			if err == nil {
				err = citeerrors.New(citeerrors.ErrCodeZoteroPathResolution,
					fmt.Sprintf("attachment %s not resolvable locally and no web backend configured", att.Key))
			}
			return "", SourceLocal, err
		}
		path, err = r.web.DownloadAttachment(ctx, att, destDir)
		return path, SourceWeb, err
	}
}

func (r *Router) canResolveLocally(attachmentKey string) bool {
	prober, ok := r.local.(LocalProber)
	if !ok {
		return true
	}
	return prober.CanResolveLocally(attachmentKey)
}
