package repository

import (
	"context"

	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/entity"
)

// SessionRepository is the session store contract. Defined in the domain
// layer, implemented in infrastructure (in-memory and gorm-backed).
//
// Implementations must serialize writes per session: Update runs the mutate
// function under that session's write lock and persists the result before
// returning. Sessions handed out are copies; callers never share memory with
// the store.
type SessionRepository interface {
	// GetOrCreate returns the session with the given id, creating it with
	// default state when absent. Concurrent callers for the same id get the
	// same session, created exactly once.
	GetOrCreate(ctx context.Context, id string) (*entity.Session, error)

	// Get returns the session or a not-found error.
	Get(ctx context.Context, id string) (*entity.Session, error)

	// Update applies fn to the current session under the per-session write
	// lock. fn receives a private copy; returning an error aborts the update
	// without persisting.
	Update(ctx context.Context, id string, fn func(*entity.Session) error) (*entity.Session, error)

	// Delete removes the session and reports whether it was present.
	// Deleting a missing session is not an error.
	Delete(ctx context.Context, id string) (bool, error)

	// List returns copies of all live sessions.
	List(ctx context.Context) ([]*entity.Session, error)

	// Count returns the number of live sessions.
	Count(ctx context.Context) (int, error)
}
