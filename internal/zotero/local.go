package zotero

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"

	citeerrors "github.com/citeloom/citeloom/internal/errors"
)

// LocalReader reads a Zotero library from its SQLite snapshot. The database is
// opened in immutable read-only URI mode so it is safe to read while Zotero
// itself is running and holding write locks.
type LocalReader struct {
	db         *sql.DB
	dataDir    string
	storageDir string
	logger     *slog.Logger
}

// Compile-time interface checks.
var (
	_ ZoteroSource = (*LocalReader)(nil)
	_ LocalProber  = (*LocalReader)(nil)
)

// NewLocalReader opens the snapshot under dataDir. An empty dataDir triggers
// profile discovery via profiles.ini.
func NewLocalReader(dataDir string, logger *slog.Logger) (*LocalReader, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if dataDir == "" {
		discovered, err := DiscoverDataDir()
		if err != nil {
			return nil, err
		}
		dataDir = discovered
	}

	dbPath := filepath.Join(dataDir, "zotero.sqlite")
	if _, err := os.Stat(dbPath); err != nil {
		return nil, citeerrors.New(citeerrors.ErrCodeZoteroDatabaseNotFound,
			fmt.Sprintf("zotero database not found at %s", dbPath)).
			WithSuggestion("Set zotero.data_dir in the config or install Zotero locally")
	}

	dsn := fmt.Sprintf("file:%s?immutable=1&mode=ro", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, citeerrors.Wrap(err, citeerrors.ErrCodeZoteroDatabaseNotFound,
			fmt.Sprintf("failed to open zotero database at %s", dbPath))
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, wrapDBError(err, dbPath)
	}

	return &LocalReader{
		db:         db,
		dataDir:    dataDir,
		storageDir: filepath.Join(dataDir, "storage"),
		logger:     logger,
	}, nil
}

func wrapDBError(err error, dbPath string) error {
	if strings.Contains(err.Error(), "locked") {
		return citeerrors.Wrap(err, citeerrors.ErrCodeZoteroDatabaseLocked,
			fmt.Sprintf("zotero database at %s is locked", dbPath)).
			WithSuggestion("Close Zotero or wait for its sync to finish")
	}
	return citeerrors.Wrap(err, citeerrors.ErrCodeZoteroDatabaseNotFound,
		fmt.Sprintf("failed to read zotero database at %s", dbPath))
}

// Close closes the underlying database handle.
func (r *LocalReader) Close() error {
	return r.db.Close()
}

// Name identifies this backend in logs and manifests.
func (r *LocalReader) Name() string { return SourceLocal }

// DiscoverDataDir locates the Zotero data directory by parsing profiles.ini
// for the default profile.
func DiscoverDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", citeerrors.Wrap(err, citeerrors.ErrCodeZoteroProfileNotFound, "cannot determine home directory")
	}

	var candidates []string
	switch runtime.GOOS {
	case "darwin":
		candidates = []string{filepath.Join(home, "Library", "Application Support", "Zotero")}
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			candidates = []string{filepath.Join(appData, "Zotero", "Zotero")}
		}
	default:
		candidates = []string{filepath.Join(home, ".zotero", "zotero")}
	}
	// The flat layout (data dir directly under $HOME) is common on every platform.
	candidates = append(candidates, filepath.Join(home, "Zotero"))

	for _, base := range candidates {
		if dir, ok := dataDirFromProfiles(filepath.Join(base, "profiles.ini"), base); ok {
			return dir, nil
		}
		if _, err := os.Stat(filepath.Join(base, "zotero.sqlite")); err == nil {
			return base, nil
		}
	}

	return "", citeerrors.New(citeerrors.ErrCodeZoteroProfileNotFound,
		"no Zotero profile found").
		WithSuggestion("Set zotero.data_dir in the config to the directory containing zotero.sqlite")
}

// dataDirFromProfiles parses a profiles.ini and returns the default profile
// directory, resolved relative to base when IsRelative=1.
func dataDirFromProfiles(iniPath, base string) (string, bool) {
	f, err := os.Open(iniPath)
	if err != nil {
		return "", false
	}
	defer f.Close()

	type profile struct {
		path       string
		isRelative bool
		isDefault  bool
	}
	var profiles []profile
	var cur *profile

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "[Profile"):
			profiles = append(profiles, profile{})
			cur = &profiles[len(profiles)-1]
		case cur == nil:
		case strings.HasPrefix(line, "Path="):
			cur.path = strings.TrimPrefix(line, "Path=")
		case line == "IsRelative=1":
			cur.isRelative = true
		case line == "Default=1":
			cur.isDefault = true
		}
	}

	pick := func(p profile) (string, bool) {
		dir := p.path
		if p.isRelative {
			dir = filepath.Join(base, p.path)
		}
		if _, err := os.Stat(filepath.Join(dir, "zotero.sqlite")); err == nil {
			return dir, true
		}
		return "", false
	}

	for _, p := range profiles {
		if p.isDefault {
			if dir, ok := pick(p); ok {
				return dir, ok
			}
		}
	}
	for _, p := range profiles {
		if dir, ok := pick(p); ok {
			return dir, ok
		}
	}
	return "", false
}

// ListCollections returns every collection in the library.
func (r *LocalReader) ListCollections(ctx context.Context) ([]Collection, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.key, c.collectionName, COALESCE(p.key, ''),
		       (SELECT COUNT(*) FROM collectionItems ci WHERE ci.collectionID = c.collectionID)
		FROM collections c
		LEFT JOIN collections p ON c.parentCollectionID = p.collectionID
		ORDER BY c.collectionName
	`)
	if err != nil {
		return nil, wrapDBError(err, r.dataDir)
	}
	defer rows.Close()

	var out []Collection
	for rows.Next() {
		var c Collection
		if err := rows.Scan(&c.Key, &c.Name, &c.ParentKey, &c.NumItems); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// FindCollectionByName returns the first collection whose name matches
// case-insensitively, or nil.
func (r *LocalReader) FindCollectionByName(ctx context.Context, name string) (*Collection, error) {
	cols, err := r.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	for i := range cols {
		if strings.EqualFold(cols[i].Name, name) {
			return &cols[i], nil
		}
	}
	return nil, nil
}

// GetCollectionItems lists the bibliographic items of a collection. With
// recursive=true the whole subcollection tree is walked.
func (r *LocalReader) GetCollectionItems(ctx context.Context, collectionKey string, recursive bool) ([]Item, error) {
	query := `
		SELECT DISTINCT i.itemID, i.key, it.typeName
		FROM collectionItems ci
		JOIN items i ON i.itemID = ci.itemID
		JOIN itemTypes it ON it.itemTypeID = i.itemTypeID
		JOIN collections c ON c.collectionID = ci.collectionID
		WHERE c.key = ?
		  AND it.typeName NOT IN ('attachment', 'annotation')
		ORDER BY i.itemID
	`
	if recursive {
		query = `
		WITH RECURSIVE subcolls(collectionID) AS (
			SELECT collectionID FROM collections WHERE key = ?
			UNION ALL
			SELECT c.collectionID
			FROM collections c
			JOIN subcolls s ON c.parentCollectionID = s.collectionID
		)
		SELECT DISTINCT i.itemID, i.key, it.typeName
		FROM collectionItems ci
		JOIN items i ON i.itemID = ci.itemID
		JOIN itemTypes it ON it.itemTypeID = i.itemTypeID
		WHERE ci.collectionID IN (SELECT collectionID FROM subcolls)
		  AND it.typeName NOT IN ('attachment', 'annotation')
		ORDER BY i.itemID
		`
	}

	rows, err := r.db.QueryContext(ctx, query, collectionKey)
	if err != nil {
		return nil, wrapDBError(err, r.dataDir)
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var id int64
		var item Item
		if err := rows.Scan(&id, &item.Key, &item.ItemType); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		r.fillItemFields(ctx, id, &item)
		out = append(out, item)
	}
	return out, rows.Err()
}

// fillItemFields loads title, date, DOI, and tags for one item. Field lookups
// are best-effort; a missing field leaves the zero value.
func (r *LocalReader) fillItemFields(ctx context.Context, itemID int64, item *Item) {
	item.Title = r.itemField(ctx, itemID, "title")
	item.DOI = r.itemField(ctx, itemID, "DOI")
	if date := r.itemField(ctx, itemID, "date"); len(date) >= 4 {
		if y, err := strconv.Atoi(date[:4]); err == nil {
			item.Year = y
		}
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT t.name FROM itemTags itg JOIN tags t ON t.tagID = itg.tagID
		WHERE itg.itemID = ? ORDER BY t.name
	`, itemID)
	if err != nil {
		return
	}
	defer rows.Close()
	for rows.Next() {
		var tag string
		if rows.Scan(&tag) == nil {
			item.Tags = append(item.Tags, tag)
		}
	}
}

func (r *LocalReader) itemField(ctx context.Context, itemID int64, field string) string {
	var value string
	err := r.db.QueryRowContext(ctx, `
		SELECT v.value
		FROM itemData d
		JOIN fields f ON f.fieldID = d.fieldID
		JOIN itemDataValues v ON v.valueID = d.valueID
		WHERE d.itemID = ? AND f.fieldName = ?
	`, itemID, field).Scan(&value)
	if err != nil {
		return ""
	}
	return value
}

// GetItemMetadata returns the raw field map of one item, including tags and
// the free-form extra field.
func (r *LocalReader) GetItemMetadata(ctx context.Context, itemKey string) (map[string]any, error) {
	id, err := r.itemID(ctx, itemKey)
	if err != nil {
		return nil, err
	}

	meta := map[string]any{"key": itemKey}
	rows, err := r.db.QueryContext(ctx, `
		SELECT f.fieldName, v.value
		FROM itemData d
		JOIN fields f ON f.fieldID = d.fieldID
		JOIN itemDataValues v ON v.valueID = d.valueID
		WHERE d.itemID = ?
	`, id)
	if err != nil {
		return nil, wrapDBError(err, r.dataDir)
	}
	defer rows.Close()
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scan field: %w", err)
		}
		meta[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	creators, err := r.itemCreators(ctx, id)
	if err == nil && len(creators) > 0 {
		meta["creators"] = creators
	}

	var item Item
	r.fillItemFields(ctx, id, &item)
	if len(item.Tags) > 0 {
		meta["tags"] = item.Tags
	}
	return meta, nil
}

func (r *LocalReader) itemCreators(ctx context.Context, itemID int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT COALESCE(c.lastName, ''), COALESCE(c.firstName, '')
		FROM itemCreators ic
		JOIN creators c ON c.creatorID = ic.creatorID
		WHERE ic.itemID = ?
		ORDER BY ic.orderIndex
	`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var last, first string
		if err := rows.Scan(&last, &first); err != nil {
			return nil, err
		}
		name := strings.TrimSpace(last)
		if first != "" {
			name = strings.TrimSpace(last + ", " + first)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (r *LocalReader) itemID(ctx context.Context, itemKey string) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `SELECT itemID FROM items WHERE key = ?`, itemKey).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, citeerrors.New(citeerrors.ErrCodeFileNotFound,
			fmt.Sprintf("zotero item %s not found in local snapshot", itemKey))
	}
	if err != nil {
		return 0, wrapDBError(err, r.dataDir)
	}
	return id, nil
}

// GetItemAttachments lists the attachments of one item.
func (r *LocalReader) GetItemAttachments(ctx context.Context, itemKey string) ([]Attachment, error) {
	id, err := r.itemID(ctx, itemKey)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT a.itemID, ai.key, a.linkMode, COALESCE(a.contentType, ''), COALESCE(a.path, '')
		FROM itemAttachments a
		JOIN items ai ON ai.itemID = a.itemID
		WHERE a.parentItemID = ?
		ORDER BY a.itemID
	`, id)
	if err != nil {
		return nil, wrapDBError(err, r.dataDir)
	}
	defer rows.Close()

	var out []Attachment
	for rows.Next() {
		var attItemID int64
		att := Attachment{ParentKey: itemKey}
		if err := rows.Scan(&attItemID, &att.Key, &att.LinkMode, &att.ContentType, &att.Path); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		att.Filename = filenameFromPath(att.Path)
		out = append(out, att)
	}
	return out, rows.Err()
}

// filenameFromPath extracts the bare filename from a stored attachment path.
// Imported attachments store "storage:<filename>"; linked ones store an
// absolute path.
func filenameFromPath(path string) string {
	if rest, ok := strings.CutPrefix(path, "storage:"); ok {
		return rest
	}
	return filepath.Base(path)
}

// ResolveAttachmentPath returns the on-disk location of an attachment,
// trying both known storage layouts for imported files.
func (r *LocalReader) ResolveAttachmentPath(att Attachment) (string, error) {
	if att.LinkMode == LinkModeLinked {
		if _, err := os.Stat(att.Path); err == nil {
			return att.Path, nil
		}
		return "", citeerrors.New(citeerrors.ErrCodeZoteroPathResolution,
			fmt.Sprintf("linked attachment %s missing at %s", att.Key, att.Path))
	}

	tried := []string{
		filepath.Join(r.storageDir, att.Key, att.Filename),
		filepath.Join(r.storageDir, att.ParentKey, att.Filename),
	}
	for _, p := range tried {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", citeerrors.New(citeerrors.ErrCodeZoteroPathResolution,
		fmt.Sprintf("attachment %s not found on disk", att.Key)).
		WithDetail("tried", tried)
}

// CanResolveLocally is a cheap probe the router uses before committing to the
// local source for a download.
func (r *LocalReader) CanResolveLocally(attachmentKey string) bool {
	var linkMode int
	var path string
	var parentKey string
	err := r.db.QueryRow(`
		SELECT a.linkMode, COALESCE(a.path, ''), COALESCE(p.key, '')
		FROM itemAttachments a
		JOIN items ai ON ai.itemID = a.itemID
		LEFT JOIN items p ON p.itemID = a.parentItemID
		WHERE ai.key = ?
	`, attachmentKey).Scan(&linkMode, &path, &parentKey)
	if err != nil {
		return false
	}
	att := Attachment{Key: attachmentKey, ParentKey: parentKey, LinkMode: linkMode, Path: path, Filename: filenameFromPath(path)}
	_, resolveErr := r.ResolveAttachmentPath(att)
	return resolveErr == nil
}

// DownloadAttachment copies the attachment file into destDir and returns the
// absolute destination path.
func (r *LocalReader) DownloadAttachment(ctx context.Context, att Attachment, destDir string) (string, error) {
	src, err := r.ResolveAttachmentPath(att)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("create download directory: %w", err)
	}
	dest, err := filepath.Abs(filepath.Join(destDir, att.Filename))
	if err != nil {
		return "", err
	}

	in, err := os.Open(src)
	if err != nil {
		return "", citeerrors.Wrap(err, citeerrors.ErrCodeZoteroPathResolution,
			fmt.Sprintf("failed to open local attachment %s", src))
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", dest, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("copy attachment %s: %w", att.Key, err)
	}
	return dest, nil
}

// GetFullText returns the cached full text for an item, or "" when the
// snapshot has none.
func (r *LocalReader) GetFullText(ctx context.Context, itemKey string) (string, error) {
	id, err := r.itemID(ctx, itemKey)
	if err != nil {
		return "", err
	}
	var content string
	err = r.db.QueryRowContext(ctx, `SELECT content FROM fulltext WHERE itemID = ?`, id).Scan(&content)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", wrapDBError(err, r.dataDir)
	}
	return content, nil
}

// ListTags returns every tag in the library with its usage count.
func (r *LocalReader) ListTags(ctx context.Context) ([]Tag, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT t.name, COUNT(itg.itemID)
		FROM tags t
		LEFT JOIN itemTags itg ON itg.tagID = t.tagID
		GROUP BY t.tagID
		ORDER BY t.name
	`)
	if err != nil {
		return nil, wrapDBError(err, r.dataDir)
	}
	defer rows.Close()

	var out []Tag
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.Name, &t.Count); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetRecentItems returns the most recently added bibliographic items.
func (r *LocalReader) GetRecentItems(ctx context.Context, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT i.itemID, i.key, it.typeName
		FROM items i
		JOIN itemTypes it ON it.itemTypeID = i.itemTypeID
		WHERE it.typeName NOT IN ('attachment', 'annotation')
		ORDER BY i.dateAdded DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, wrapDBError(err, r.dataDir)
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var id int64
		var item Item
		if err := rows.Scan(&id, &item.Key, &item.ItemType); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		r.fillItemFields(ctx, id, &item)
		out = append(out, item)
	}
	return out, rows.Err()
}
