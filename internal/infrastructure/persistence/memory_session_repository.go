package persistence

import (
	"context"
	"sync"

	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/entity"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/repository"
	"github.com/matdev83/llm-interactive-proxy-sub007/pkg/errors"
)

// MemorySessionRepository is the default, process-local session store.
// Everything handed out is a deep copy, so callers never alias store memory.
type MemorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*entity.Session
}

// NewMemorySessionRepository creates an empty in-memory session store.
func NewMemorySessionRepository() repository.SessionRepository {
	return &MemorySessionRepository{
		sessions: make(map[string]*entity.Session),
	}
}

// GetOrCreate returns the session, creating it with defaults when absent.
func (r *MemorySessionRepository) GetOrCreate(ctx context.Context, id string) (*entity.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		sess = entity.NewSession(id)
		r.sessions[id] = sess
	}
	return sess.Clone(), nil
}

// Get returns the session or a not-found error.
func (r *MemorySessionRepository) Get(ctx context.Context, id string) (*entity.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[id]
	if !ok {
		return nil, errors.NewNotFoundError("session not found: " + id)
	}
	return sess.Clone(), nil
}

// Update applies fn to a private copy under the store lock and installs the
// result. An error from fn aborts the update.
func (r *MemorySessionRepository) Update(ctx context.Context, id string, fn func(*entity.Session) error) (*entity.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		sess = entity.NewSession(id)
	}
	working := sess.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	r.sessions[id] = working
	return working.Clone(), nil
}

// Delete removes the session, reporting whether it was present. Missing
// sessions are not an error.
func (r *MemorySessionRepository) Delete(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, present := r.sessions[id]
	delete(r.sessions, id)
	return present, nil
}

// List returns copies of all live sessions.
func (r *MemorySessionRepository) List(ctx context.Context) ([]*entity.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*entity.Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess.Clone())
	}
	return out, nil
}

// Count returns the number of live sessions.
func (r *MemorySessionRepository) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions), nil
}
