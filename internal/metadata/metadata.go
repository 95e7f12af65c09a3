// Package metadata resolves bibliographic metadata for ingested documents.
// Resolution is non-blocking: a miss is reported as a warning and the
// document continues through the pipeline without citation enrichment.
package metadata

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

// Citation is the resolved bibliographic record attached to chunk payloads.
type Citation struct {
	Citekey     string   `json:"citekey"`
	Title       string   `json:"title"`
	Authors     []string `json:"authors"`
	Year        int      `json:"year,omitempty"`
	DOI         string   `json:"doi,omitempty"`
	URL         string   `json:"url,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Collections []string `json:"collections,omitempty"`
	Language    string   `json:"language,omitempty"` // 2-letter code
}

// Hint is what the caller knows about a document before resolution.
type Hint struct {
	Citekey string
	DOI     string
	Title   string
}

// Candidate is one library item offered for matching.
type Candidate struct {
	ItemKey  string
	Title    string
	DOI      string
	Authors  []string
	Year     int
	URL      string
	Tags     []string
	Extra    string // free-form extra field, may carry "Citation Key: ..."
	Language string
}

// titleSimilarityThreshold is the Jaccard word-set overlap required for a
// title match.
const titleSimilarityThreshold = 0.8

// CitekeyLookup resolves a citekey for an item key, typically via the
// reference manager's add-on RPC. A miss returns "".
type CitekeyLookup interface {
	Citekey(ctx context.Context, itemKey string) string
}

// Resolver matches document hints against library candidates.
type Resolver struct {
	rpc    CitekeyLookup // optional
	logger *slog.Logger
}

// NewResolver creates a resolver. rpc may be nil; citekeys then come from the
// extra field only.
func NewResolver(rpc CitekeyLookup, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{rpc: rpc, logger: logger}
}

// Resolve finds the candidate matching the hint and builds a citation record.
// Returns nil when nothing matches; the caller records the warning and moves
// on.
func (r *Resolver) Resolve(ctx context.Context, hint Hint, candidates []Candidate) *Citation {
	match := r.findMatch(hint, candidates)
	if match == nil {
		r.logger.Warn("metadata not resolvable, continuing without citation",
			slog.String("doi", hint.DOI),
			slog.String("title", hint.Title),
			slog.String("hint", "add the document to the reference library or fix its DOI"))
		return nil
	}
	return r.build(ctx, hint, match)
}

// findMatch applies the matching ladder: DOI first, normalized title second.
func (r *Resolver) findMatch(hint Hint, candidates []Candidate) *Candidate {
	if hint.DOI != "" {
		want := NormalizeDOI(hint.DOI)
		for i := range candidates {
			if candidates[i].DOI != "" && NormalizeDOI(candidates[i].DOI) == want {
				return &candidates[i]
			}
		}
	}

	if hint.Title != "" {
		wantWords := titleWords(hint.Title)
		best := -1
		bestScore := 0.0
		for i := range candidates {
			score := jaccard(wantWords, titleWords(candidates[i].Title))
			if score >= titleSimilarityThreshold && score > bestScore {
				best, bestScore = i, score
			}
		}
		if best >= 0 {
			return &candidates[best]
		}
	}
	return nil
}

func (r *Resolver) build(ctx context.Context, hint Hint, c *Candidate) *Citation {
	citekey := hint.Citekey
	if citekey == "" && r.rpc != nil {
		citekey = r.rpc.Citekey(ctx, c.ItemKey)
	}
	if citekey == "" {
		citekey = CitekeyFromExtra(c.Extra)
	}
	if citekey == "" {
		citekey = fallbackCitekey(c)
	}

	return &Citation{
		Citekey:  citekey,
		Title:    c.Title,
		Authors:  c.Authors,
		Year:     c.Year,
		DOI:      NormalizeDOI(c.DOI),
		URL:      c.URL,
		Tags:     c.Tags,
		Language: NormalizeLanguage(c.Language),
	}
}

// fallbackCitekey builds a citekey from the first author surname and year when
// no better source exists.
func fallbackCitekey(c *Candidate) string {
	name := "anon"
	if len(c.Authors) > 0 {
		surname := c.Authors[0]
		if idx := strings.IndexAny(surname, ","); idx > 0 {
			surname = surname[:idx]
		}
		surname = strings.ToLower(strings.TrimSpace(surname))
		if surname != "" {
			name = strings.ReplaceAll(surname, " ", "")
		}
	}
	if c.Year > 0 {
		return name + strconv.Itoa(c.Year)
	}
	return name
}

// NormalizeDOI lowercases a DOI and strips URL and "doi:" prefixes.
func NormalizeDOI(doi string) string {
	d := strings.ToLower(strings.TrimSpace(doi))
	for _, prefix := range []string{"https://doi.org/", "http://doi.org/", "https://dx.doi.org/", "http://dx.doi.org/", "doi:"} {
		d = strings.TrimPrefix(d, prefix)
	}
	return d
}

var nonWordRe = regexp.MustCompile(`[^a-z0-9 ]+`)

// titleWords lowercases a title, removes punctuation, collapses whitespace,
// and returns the word set.
func titleWords(title string) map[string]struct{} {
	clean := nonWordRe.ReplaceAllString(strings.ToLower(title), " ")
	words := make(map[string]struct{})
	for _, w := range strings.Fields(clean) {
		words[w] = struct{}{}
	}
	return words
}

// jaccard computes |A∩B| / |A∪B| over two word sets.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// CitekeyFromExtra scans a free-form extra field for a "Citation Key:" line.
func CitekeyFromExtra(extra string) string {
	for _, line := range strings.Split(extra, "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "citation key:") {
			return strings.TrimSpace(line[len("citation key:"):])
		}
	}
	return ""
}

// languageCodes maps common language names and tags to 2-letter OCR codes.
var languageCodes = map[string]string{
	"english": "en", "en": "en", "en-us": "en", "en-gb": "en", "eng": "en",
	"german": "de", "deutsch": "de", "de": "de", "de-de": "de", "ger": "de", "deu": "de",
	"french": "fr", "français": "fr", "francais": "fr", "fr": "fr", "fr-fr": "fr", "fra": "fr", "fre": "fr",
	"spanish": "es", "español": "es", "espanol": "es", "es": "es", "spa": "es",
	"italian": "it", "italiano": "it", "it": "it", "ita": "it",
	"portuguese": "pt", "pt": "pt", "pt-br": "pt", "por": "pt",
	"dutch": "nl", "nl": "nl", "nld": "nl",
	"japanese": "ja", "ja": "ja", "jpn": "ja",
	"chinese": "zh", "zh": "zh", "zh-cn": "zh", "zho": "zh",
	"russian": "ru", "ru": "ru", "rus": "ru",
}

// NormalizeLanguage maps a free-form language field to a 2-letter code, or ""
// when unrecognized.
func NormalizeLanguage(lang string) string {
	key := strings.ToLower(strings.TrimSpace(lang))
	if code, ok := languageCodes[key]; ok {
		return code
	}
	// A bare region-qualified tag like "sv-SE" degrades to its primary subtag.
	if len(key) > 2 && key[2] == '-' {
		return key[:2]
	}
	return ""
}

// Validate checks the invariants of a citation record.
func (c *Citation) Validate() error {
	if len(c.Authors) == 0 {
		return fmt.Errorf("citation %s: authors must be non-empty", c.Citekey)
	}
	if c.DOI == "" && c.URL == "" {
		return fmt.Errorf("citation %s: at least one of doi or url is required", c.Citekey)
	}
	if c.Year < 0 {
		return fmt.Errorf("citation %s: year must be positive", c.Citekey)
	}
	return nil
}
