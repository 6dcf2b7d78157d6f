package command

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/entity"
)

// Handler executes one named inline command against a session. Handlers
// never return errors through the pipeline: failures are CommandResults
// with Success=false so the client always gets a rendered reply.
type Handler interface {
	Name() string
	Description() string
	// Format is the usage line shown by help, e.g. "set(key=value, ...)".
	Format() string
	Examples() []string
	Handle(ctx context.Context, cmd *entity.Command, sess *entity.Session) entity.CommandResult
}

// Descriptor is the introspectable surface of a handler, handed to help and
// hello instead of the handlers themselves.
type Descriptor struct {
	Name        string
	Description string
	Format      string
	Examples    []string
}

// Introspection lets handlers enumerate and describe commands without a
// reference back to the registry.
type Introspection interface {
	Commands() []Descriptor
	Describe(name string) (Descriptor, bool)
}

// BackendInfo is the narrow view of the backend service the command system
// needs: which backends work, what they serve, and whether a (backend,
// model) pair is dispatchable.
type BackendInfo interface {
	// FunctionalBackends lists backends that initialized successfully,
	// sorted by name.
	FunctionalBackends() []string
	// HasBackend reports whether the backend is configured at all.
	HasBackend(name string) bool
	// Models returns the cached model list for a backend.
	Models(backend string) []string
	// Validate reports whether (backend, model) is dispatchable, with a
	// human-readable reason when it is not.
	Validate(backend, model string) (bool, string)
}

// ModeSpec is one resolved reasoning mode: the overrides a mode command
// installs on the session.
type ModeSpec struct {
	ReasoningEffort string
	ThinkingBudget  *int
	Temperature     *float64
	TopP            *float64
}

// ModeResolver matches a mode name against the configured alias table for a
// concrete model id.
type ModeResolver interface {
	Resolve(mode, model string) (ModeSpec, bool)
	ModeNames() []string
}

// Registry maps command names (and aliases) to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	aliases  map[string]string
	order    []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		aliases:  make(map[string]string),
	}
}

// Register adds a handler under its canonical name.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := strings.ToLower(h.Name())
	if _, exists := r.handlers[name]; !exists {
		r.order = append(r.order, name)
	}
	r.handlers[name] = h
}

// Alias maps an alternate spelling onto a registered command.
func (r *Registry) Alias(alias, canonical string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[strings.ToLower(alias)] = strings.ToLower(canonical)
}

// Get resolves a command name or alias to its handler.
func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name = strings.ToLower(name)
	if canonical, ok := r.aliases[name]; ok {
		name = canonical
	}
	h, ok := r.handlers[name]
	return h, ok
}

// Commands implements Introspection, in registration order.
func (r *Registry) Commands() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, describe(r.handlers[name]))
	}
	return out
}

// Describe implements Introspection.
func (r *Registry) Describe(name string) (Descriptor, bool) {
	h, ok := r.Get(name)
	if !ok {
		return Descriptor{}, false
	}
	return describe(h), true
}

// Names returns every canonical command name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := append([]string(nil), r.order...)
	sort.Strings(out)
	return out
}

func describe(h Handler) Descriptor {
	return Descriptor{
		Name:        h.Name(),
		Description: h.Description(),
		Format:      h.Format(),
		Examples:    h.Examples(),
	}
}
