package backend

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Key is one pool entry: the secret plus the loggable name it is known by.
type Key struct {
	Value string
	Name  string
}

// KeyPool rotates a backend's API keys. Selection is round-robin; a key
// that hit a rate limit sits out its cooldown and is skipped until it
// expires. When every key is cooling the pool hands out the least-recently
// limited one rather than nothing.
type KeyPool struct {
	mu        sync.Mutex
	keys      []Key
	next      int
	cooldowns []time.Time
}

// DefaultKeyCooldown applies when a 429 carries no Retry-After.
const DefaultKeyCooldown = 60 * time.Second

// NewKeyPool builds a pool for a backend. Key names follow the env-var
// convention: OPENAI_API_KEY_1, OPENAI_API_KEY_2, ...
func NewKeyPool(backendName string, values []string) *KeyPool {
	prefix := strings.ToUpper(strings.ReplaceAll(backendName, "-", "_"))
	p := &KeyPool{
		keys:      make([]Key, 0, len(values)),
		cooldowns: make([]time.Time, len(values)),
	}
	for i, v := range values {
		p.keys = append(p.keys, Key{
			Value: v,
			Name:  fmt.Sprintf("%s_API_KEY_%d", prefix, i+1),
		})
	}
	return p
}

// Len returns the number of keys in the pool.
func (p *KeyPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

// Next returns the next usable key and its index. Keys on cooldown are
// skipped; a fully cooled pool returns the key whose cooldown expires
// soonest.
func (p *KeyPool) Next() (Key, int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.keys)
	if n == 0 {
		return Key{}, -1, false
	}

	now := time.Now()
	for offset := 0; offset < n; offset++ {
		i := (p.next + offset) % n
		if now.Before(p.cooldowns[i]) {
			continue
		}
		p.next = (i + 1) % n
		return p.keys[i], i, true
	}

	// Everything is cooling; pick the soonest-free key.
	best := 0
	for i := 1; i < n; i++ {
		if p.cooldowns[i].Before(p.cooldowns[best]) {
			best = i
		}
	}
	p.next = (best + 1) % n
	return p.keys[best], best, true
}

// Get returns the key at a fixed index, for failover plans that pin slots.
func (p *KeyPool) Get(i int) (Key, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.keys) {
		return Key{}, false
	}
	return p.keys[i], true
}

// MarkLimited puts a key on cooldown after a 429. retryAfter of zero uses
// the default cooldown.
func (p *KeyPool) MarkLimited(i int, retryAfter time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.keys) {
		return
	}
	if retryAfter <= 0 {
		retryAfter = DefaultKeyCooldown
	}
	p.cooldowns[i] = time.Now().Add(retryAfter)
}
