package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/entity"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/repository"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/persistence/models"
	domainErrors "github.com/matdev83/llm-interactive-proxy-sub007/pkg/errors"
)

// GormSessionRepository persists sessions in the configured database.
// Writes for a given session id are serialized through a per-id mutex so a
// read-modify-write Update never interleaves with another.
type GormSessionRepository struct {
	db *gorm.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewGormSessionRepository creates the database-backed session store.
func NewGormSessionRepository(db *gorm.DB) repository.SessionRepository {
	return &GormSessionRepository{
		db:    db,
		locks: make(map[string]*sync.Mutex),
	}
}

func (r *GormSessionRepository) lockFor(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

// GetOrCreate returns the session, inserting a default row when absent.
func (r *GormSessionRepository) GetOrCreate(ctx context.Context, id string) (*entity.Session, error) {
	l := r.lockFor(id)
	l.Lock()
	defer l.Unlock()

	sess, err := r.load(ctx, id)
	if err == nil {
		return sess, nil
	}
	if !domainErrors.IsNotFound(err) {
		return nil, err
	}

	sess = entity.NewSession(id)
	model, err := toSessionModel(sess)
	if err != nil {
		return nil, err
	}
	// Clauses guard against a racing insert from another process sharing
	// the database.
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(model).Error; err != nil {
		return nil, domainErrors.NewInternalError("failed to create session: " + err.Error())
	}
	return r.load(ctx, id)
}

// Get returns the session or a not-found error.
func (r *GormSessionRepository) Get(ctx context.Context, id string) (*entity.Session, error) {
	return r.load(ctx, id)
}

// Update applies fn under the session's write lock and persists the result.
func (r *GormSessionRepository) Update(ctx context.Context, id string, fn func(*entity.Session) error) (*entity.Session, error) {
	l := r.lockFor(id)
	l.Lock()
	defer l.Unlock()

	sess, err := r.load(ctx, id)
	if err != nil {
		if !domainErrors.IsNotFound(err) {
			return nil, err
		}
		sess = entity.NewSession(id)
	}

	if err := fn(sess); err != nil {
		return nil, err
	}

	model, err := toSessionModel(sess)
	if err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return nil, domainErrors.NewInternalError("failed to save session: " + err.Error())
	}
	return sess.Clone(), nil
}

// Delete removes the session row, reporting whether one existed. Missing
// rows are not an error.
func (r *GormSessionRepository) Delete(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Delete(&models.SessionModel{}, "id = ?", id)
	if res.Error != nil {
		return false, domainErrors.NewInternalError("failed to delete session: " + res.Error.Error())
	}

	r.mu.Lock()
	delete(r.locks, id)
	r.mu.Unlock()
	return res.RowsAffected > 0, nil
}

// List returns all persisted sessions.
func (r *GormSessionRepository) List(ctx context.Context) ([]*entity.Session, error) {
	var modelList []models.SessionModel
	if err := r.db.WithContext(ctx).Order("last_active_at desc").Find(&modelList).Error; err != nil {
		return nil, domainErrors.NewInternalError("failed to list sessions: " + err.Error())
	}

	sessions := make([]*entity.Session, 0, len(modelList))
	for i := range modelList {
		sess, err := toSessionEntity(&modelList[i])
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// Count returns the number of persisted sessions.
func (r *GormSessionRepository) Count(ctx context.Context) (int, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.SessionModel{}).Count(&count).Error; err != nil {
		return 0, domainErrors.NewInternalError("failed to count sessions: " + err.Error())
	}
	return int(count), nil
}

func (r *GormSessionRepository) load(ctx context.Context, id string) (*entity.Session, error) {
	var model models.SessionModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("session not found: " + id)
		}
		return nil, domainErrors.NewInternalError("failed to load session: " + err.Error())
	}
	return toSessionEntity(&model)
}

func toSessionModel(sess *entity.Session) (*models.SessionModel, error) {
	stateJSON, err := json.Marshal(sess.State)
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to encode session state: " + err.Error())
	}
	historyJSON, err := json.Marshal(sess.History)
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to encode session history: " + err.Error())
	}

	return &models.SessionModel{
		ID:           sess.ID,
		Agent:        sess.Agent,
		State:        string(stateJSON),
		History:      string(historyJSON),
		CreatedAt:    sess.CreatedAt,
		LastActiveAt: sess.LastActiveAt,
	}, nil
}

func toSessionEntity(model *models.SessionModel) (*entity.Session, error) {
	sess := &entity.Session{
		ID:           model.ID,
		Agent:        model.Agent,
		CreatedAt:    model.CreatedAt,
		LastActiveAt: model.LastActiveAt,
	}
	if sess.LastActiveAt.IsZero() {
		sess.LastActiveAt = time.Now()
	}

	if model.State != "" {
		if err := json.Unmarshal([]byte(model.State), &sess.State); err != nil {
			return nil, domainErrors.NewInternalError("failed to decode session state: " + err.Error())
		}
	} else {
		sess.State = entity.NewSessionState()
	}
	if model.History != "" && model.History != "null" {
		if err := json.Unmarshal([]byte(model.History), &sess.History); err != nil {
			return nil, domainErrors.NewInternalError("failed to decode session history: " + err.Error())
		}
	}
	return sess, nil
}
