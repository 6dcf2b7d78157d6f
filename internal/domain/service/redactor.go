package service

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

// DefaultRedactionMask replaces detected API keys in outbound text.
const DefaultRedactionMask = "(API_KEY_HAS_BEEN_REDACTED)"

const (
	// Inputs at least this long bypass the result cache.
	redactCacheMaxInput = 1000
	// Cache is cleared once it holds this many entries.
	redactCacheMaxEntries = 1024
	// Explicit keys shorter than this are ignored to avoid masking
	// ordinary words.
	redactMinKeyLen = 8
)

var (
	genericKeyPattern = regexp.MustCompile(`(?:sk-|ak-)[A-Za-z0-9]{20,}`)
	zaiKeyPattern     = regexp.MustCompile(`[0-9a-f]{32}\.[A-Za-z0-9]{16,}`)
	bearerPattern     = regexp.MustCompile(`Bearer\s+[A-Za-z0-9._\-]+`)
)

// Redactor masks API keys in text before it reaches a backend or a capture
// file. It knows the proxy's own keys explicitly and falls back to shape
// heuristics for keys it was never told about.
type Redactor struct {
	mask    string
	keys    []string
	keysPat *regexp.Regexp

	mu    sync.Mutex
	cache map[string]string
}

// NewRedactor builds a redactor for the given known keys. Keys shorter than
// eight characters are dropped; longer keys win over their prefixes.
func NewRedactor(keys []string) *Redactor {
	return NewRedactorWithMask(keys, DefaultRedactionMask)
}

// NewRedactorWithMask is NewRedactor with a custom replacement string.
func NewRedactorWithMask(keys []string, mask string) *Redactor {
	if mask == "" {
		mask = DefaultRedactionMask
	}
	kept := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if len(k) < redactMinKeyLen || seen[k] {
			continue
		}
		seen[k] = true
		kept = append(kept, k)
	}
	// Longest first so a key that contains another key is masked whole.
	sort.Slice(kept, func(i, j int) bool {
		if len(kept[i]) != len(kept[j]) {
			return len(kept[i]) > len(kept[j])
		}
		return kept[i] < kept[j]
	})

	r := &Redactor{
		mask:  mask,
		keys:  kept,
		cache: make(map[string]string),
	}
	if len(kept) > 0 {
		quoted := make([]string, len(kept))
		for i, k := range kept {
			quoted[i] = regexp.QuoteMeta(k)
		}
		r.keysPat = regexp.MustCompile(strings.Join(quoted, "|"))
	}
	return r
}

// KeyCount returns the number of explicit keys the redactor matches.
func (r *Redactor) KeyCount() int {
	return len(r.keys)
}

// Redact returns s with every recognizable API key replaced by the mask.
// Results for short inputs are cached; the cache is bounded and dropped
// wholesale when full.
func (r *Redactor) Redact(s string) string {
	if s == "" {
		return s
	}

	cacheable := len(s) < redactCacheMaxInput
	if cacheable {
		r.mu.Lock()
		if out, ok := r.cache[s]; ok {
			r.mu.Unlock()
			return out
		}
		r.mu.Unlock()
	}

	out := r.redactSlow(s)

	if cacheable {
		r.mu.Lock()
		if len(r.cache) >= redactCacheMaxEntries {
			r.cache = make(map[string]string)
		}
		r.cache[s] = out
		r.mu.Unlock()
	}
	return out
}

func (r *Redactor) redactSlow(s string) string {
	out := s
	if r.keysPat != nil && r.containsKnownKey(out) {
		out = r.keysPat.ReplaceAllLiteralString(out, r.mask)
	}
	if strings.Contains(out, "sk-") || strings.Contains(out, "ak-") {
		out = genericKeyPattern.ReplaceAllLiteralString(out, r.mask)
	}
	if strings.Contains(out, ".") {
		out = zaiKeyPattern.ReplaceAllLiteralString(out, r.mask)
	}
	if strings.Contains(out, "Bearer") {
		out = bearerPattern.ReplaceAllLiteralString(out, "Bearer "+r.mask)
	}
	return out
}

// containsKnownKey is a cheap pre-check so clean text skips the big
// alternation entirely.
func (r *Redactor) containsKnownKey(s string) bool {
	for _, k := range r.keys {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
