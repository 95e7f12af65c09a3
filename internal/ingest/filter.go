package ingest

import (
	"fmt"
	"path/filepath"
	"strings"
)

// maxFilenameLen bounds sanitized filenames, extension included.
const maxFilenameLen = 200

// TagFilter selects items by their tags. Include uses OR semantics, Exclude
// excludes on any match. Both compare case-insensitively by substring.
type TagFilter struct {
	Include []string
	Exclude []string
}

// Empty reports whether the filter passes everything through.
func (f TagFilter) Empty() bool {
	return len(f.Include) == 0 && len(f.Exclude) == 0
}

// Keep decides whether an item with the given tags is retained.
func (f TagFilter) Keep(tags []string) bool {
	for _, pattern := range f.Exclude {
		if matchesAny(tags, pattern) {
			return false
		}
	}
	if len(f.Include) == 0 {
		return true
	}
	for _, pattern := range f.Include {
		if matchesAny(tags, pattern) {
			return true
		}
	}
	return false
}

func matchesAny(tags []string, pattern string) bool {
	p := strings.ToLower(pattern)
	for _, tag := range tags {
		if strings.Contains(strings.ToLower(tag), p) {
			return true
		}
	}
	return false
}

// reservedFilenameChars covers path separators and the characters Windows
// refuses in filenames.
const reservedFilenameChars = `/\:*?"<>|`

// SanitizeFilename strips path separators, reserved characters, and control
// characters, then truncates to 200 characters preserving the extension.
func SanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r < 0x20 || strings.ContainsRune(reservedFilenameChars, r) {
			continue
		}
		b.WriteRune(r)
	}
	clean := strings.Trim(b.String(), " .")
	if clean == "" {
		return "attachment.pdf"
	}

	if len(clean) > maxFilenameLen {
		ext := filepath.Ext(clean)
		if len(ext) > 16 {
			ext = ""
		}
		clean = clean[:maxFilenameLen-len(ext)] + ext
	}
	return clean
}

// nameAllocator de-collides filenames within one batch by appending a suffix
// counter before the extension.
type nameAllocator struct {
	used map[string]int
}

func newNameAllocator() *nameAllocator {
	return &nameAllocator{used: make(map[string]int)}
}

// allocate returns name unchanged on first use and "<base>-<n><ext>" on
// collisions.
func (a *nameAllocator) allocate(name string) string {
	key := strings.ToLower(name)
	n := a.used[key]
	a.used[key] = n + 1
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	return fmt.Sprintf("%s-%d%s", base, n+1, ext)
}
