package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/entity"
	proxyerrors "github.com/matdev83/llm-interactive-proxy-sub007/pkg/errors"
)

// DefaultElementCooldown keeps a failed backend:model pair out of new plans.
const DefaultElementCooldown = 5 * time.Minute

// Attempt is one dispatch try: which backend, which model, which key slot.
type Attempt struct {
	Backend  string
	Model    string
	KeyIndex int
}

// FailoverEngine expands a failover route into an ordered attempt plan and
// decides which errors are worth another attempt. Elements that failed
// retryably sit out a cooldown so stricken providers are not hammered.
type FailoverEngine struct {
	cooldowns   map[string]time.Time
	cooldownDur time.Duration
	logger      *zap.Logger
	mu          sync.RWMutex
}

// NewFailoverEngine creates an engine with the default cooldown.
func NewFailoverEngine(logger *zap.Logger) *FailoverEngine {
	return &FailoverEngine{
		cooldowns:   make(map[string]time.Time),
		cooldownDur: DefaultElementCooldown,
		logger:      logger,
	}
}

// SetCooldownDuration overrides the element cooldown.
func (e *FailoverEngine) SetCooldownDuration(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cooldownDur = d
}

// BuildPlan orders attempts across the route's elements per its policy.
// keyCount reports how many keys a backend's pool holds; backends without
// keys (CLI connectors) count as one.
//
//	k:  stay on the first element, rotating through its keys
//	m:  walk the elements once on the first key
//	km: exhaust every key of an element before moving to the next
//	mk: walk all elements on key 0, then all on key 1, and so on
//
// Cooled-down elements are skipped unless that would empty the plan; a
// stale cooldown map must never make a route unservable.
func (e *FailoverEngine) BuildPlan(route entity.FailoverRoute, keyCount func(backend string) int) []Attempt {
	keysFor := func(backend string) int {
		n := 1
		if keyCount != nil {
			if k := keyCount(backend); k > 1 {
				n = k
			}
		}
		return n
	}

	var plan []Attempt
	switch route.Policy {
	case entity.PolicyKeyRotate:
		if len(route.Elements) > 0 {
			backend, model := SplitElement(route.Elements[0])
			for k := 0; k < keysFor(backend); k++ {
				plan = append(plan, Attempt{Backend: backend, Model: model, KeyIndex: k})
			}
		}
	case entity.PolicyModelWalk:
		for _, el := range route.Elements {
			backend, model := SplitElement(el)
			plan = append(plan, Attempt{Backend: backend, Model: model})
		}
	case entity.PolicyKeyThenModel:
		for _, el := range route.Elements {
			backend, model := SplitElement(el)
			for k := 0; k < keysFor(backend); k++ {
				plan = append(plan, Attempt{Backend: backend, Model: model, KeyIndex: k})
			}
		}
	case entity.PolicyModelThenKey:
		maxKeys := 1
		for _, el := range route.Elements {
			backend, _ := SplitElement(el)
			if n := keysFor(backend); n > maxKeys {
				maxKeys = n
			}
		}
		for k := 0; k < maxKeys; k++ {
			for _, el := range route.Elements {
				backend, model := SplitElement(el)
				if k < keysFor(backend) {
					plan = append(plan, Attempt{Backend: backend, Model: model, KeyIndex: k})
				}
			}
		}
	default:
		// Unknown policy behaves like a plain element walk.
		for _, el := range route.Elements {
			backend, model := SplitElement(el)
			plan = append(plan, Attempt{Backend: backend, Model: model})
		}
	}

	filtered := e.withoutCooled(plan)
	if len(filtered) == 0 {
		return plan
	}
	return filtered
}

func (e *FailoverEngine) withoutCooled(plan []Attempt) []Attempt {
	e.mu.RLock()
	defer e.mu.RUnlock()
	now := time.Now()
	out := make([]Attempt, 0, len(plan))
	for _, a := range plan {
		if end, ok := e.cooldowns[a.Backend+":"+a.Model]; ok && now.Before(end) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// MarkFailed puts a backend:model pair on cooldown after a retryable failure.
func (e *FailoverEngine) MarkFailed(backend, model string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cooldowns[backend+":"+model] = time.Now().Add(e.cooldownDur)
	e.logger.Info("Route element entering cooldown",
		zap.String("backend", backend),
		zap.String("model", model),
		zap.Duration("duration", e.cooldownDur),
	)
}

// ClearCooldowns forgets all element cooldowns, used when a route is edited.
func (e *FailoverEngine) ClearCooldowns() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cooldowns = make(map[string]time.Time)
}

// Retryable reports whether an attempt failure justifies moving on to the
// next element. Transport failures, timeouts, throttling, and upstream 5xx
// are retryable; client mistakes and cancellation are terminal.
func (e *FailoverEngine) Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pe *proxyerrors.ProxyError
	if errors.As(err, &pe) {
		switch pe.Code {
		case proxyerrors.CodeRateLimit, proxyerrors.CodeServiceUnavail:
			return true
		case proxyerrors.CodeBackend:
			s := pe.UpstreamStatus
			return s == 0 || s == 408 || s == 429 || s >= 500
		default:
			return false
		}
	}
	return matchesRetryablePattern(err)
}

// matchesRetryablePattern classifies untyped errors, mostly from subprocess
// backends whose failures arrive as plain text.
func matchesRetryablePattern(err error) bool {
	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"rate limit",
		"rate_limit",
		"429",
		"too many requests",
		"quota exceeded",
		"timeout",
		"timed out",
		"connection refused",
		"connection reset",
		"unavailable",
		"503",
		"502",
		"bad gateway",
		"internal server error",
		"500",
		"overloaded",
		"capacity",
	}
	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// SplitElement splits a "backend:model" route element at the first colon.
// Model names may themselves contain colons.
func SplitElement(el string) (backend, model string) {
	if i := strings.Index(el, ":"); i >= 0 {
		return el[:i], el[i+1:]
	}
	return el, ""
}
