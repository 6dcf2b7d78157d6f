package secrets

import (
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var (
	// Environment variable names that hold API keys for redaction and for
	// per-backend key pools: FOO_API_KEY, FOO_API_KEYS, FOO_API_KEY_2.
	keyVarPattern = regexp.MustCompile(`(?:API_KEYS?$|API_KEY_\d+$)`)

	apiKeyShape = regexp.MustCompile(`^(?:sk-|ak-)[A-Za-z0-9]{20,}$`)
	zaiShape    = regexp.MustCompile(`^[0-9a-f]{32}\.[A-Za-z0-9]{16,}$`)

	embeddedKey    = regexp.MustCompile(`(?:sk-|ak-)[A-Za-z0-9]{20,}`)
	embeddedBearer = regexp.MustCompile(`Bearer\s+([A-Za-z0-9._\-]{10,})`)
)

// Registry collects every secret the proxy knows about: client auth keys and
// backend API keys from config, plus anything key-shaped found in the process
// environment. It feeds the redactor and the wire capture so no known secret
// can appear in an outbound prompt or a log line.
type Registry struct {
	mu      sync.RWMutex
	secrets map[string]bool
	logger  *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		secrets: make(map[string]bool),
		logger:  logger,
	}
}

// Add records one secret. Fragments shorter than eight characters are
// ignored, they would cause more false redactions than they prevent.
func (r *Registry) Add(secret string) {
	secret = strings.TrimSpace(secret)
	if len(secret) < 8 {
		return
	}
	r.mu.Lock()
	r.secrets[secret] = true
	r.mu.Unlock()
}

// AddFromConfig records secrets that arrived through the config file. Keys
// in config files end up in dotfiles and backups, which is worth a warning.
func (r *Registry) AddFromConfig(source string, values ...string) {
	added := 0
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			r.Add(v)
			added++
		}
	}
	if added > 0 {
		r.logger.Warn("API keys loaded from config file; prefer environment variables",
			zap.String("source", source),
			zap.Int("count", added),
		)
	}
}

// DiscoverEnv scans the process environment for secrets. Variables whose
// names look like API-key holders are split and each fragment judged on
// shape; every other value is scanned for embedded keys and bearer tokens.
func (r *Registry) DiscoverEnv() {
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" {
			continue
		}
		if keyVarPattern.MatchString(name) {
			for _, frag := range splitKeyList(value) {
				if isKeyLike(frag) {
					r.Add(strings.TrimPrefix(frag, "Bearer "))
				}
			}
			continue
		}
		for _, m := range embeddedKey.FindAllString(value, -1) {
			r.Add(m)
		}
		for _, m := range embeddedBearer.FindAllStringSubmatch(value, -1) {
			r.Add(m[1])
		}
	}
}

// Contains reports whether the exact secret is registered.
func (r *Registry) Contains(secret string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.secrets[secret]
}

// Count returns the number of registered secrets.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.secrets)
}

// All returns the secrets sorted longest-first, the order the redactor wants
// so a key that contains another key is masked whole.
func (r *Registry) All() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.secrets))
	for s := range r.secrets {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}

// splitKeyList splits a key-holder value on the separators key lists use.
func splitKeyList(value string) []string {
	parts := strings.FieldsFunc(value, func(c rune) bool {
		return c == ',' || c == ';' || c == '\n'
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// isKeyLike judges whether a fragment from a key-holder variable is a
// credential: known key shapes, bearer-prefixed, or a single opaque token of
// plausible length.
func isKeyLike(frag string) bool {
	if apiKeyShape.MatchString(frag) || zaiShape.MatchString(frag) {
		return true
	}
	if strings.HasPrefix(frag, "Bearer ") {
		return true
	}
	if len(frag) < 10 || len(frag) > 400 {
		return false
	}
	return !strings.ContainsAny(frag, " \t")
}
