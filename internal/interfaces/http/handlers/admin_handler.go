package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/repository"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/backend"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/monitoring"
	proxyerrors "github.com/matdev83/llm-interactive-proxy-sub007/pkg/errors"
)

// AdminHandler serves health, session administration and monitoring routes.
type AdminHandler struct {
	sessions repository.SessionRepository
	backends *backend.Service
	monitor  *monitoring.Monitor
	logger   *zap.Logger
}

// SessionSummary is one row of the session listing.
type SessionSummary struct {
	ID           string    `json:"id"`
	Agent        string    `json:"agent,omitempty"`
	Interactions int       `json:"interactions"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// NewAdminHandler creates the handler.
func NewAdminHandler(sessions repository.SessionRepository, backends *backend.Service, monitor *monitoring.Monitor, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		sessions: sessions,
		backends: backends,
		monitor:  monitor,
		logger:   logger,
	}
}

// Health handles GET /health.
func (h *AdminHandler) Health(c *gin.Context) {
	c.JSON(200, gin.H{
		"status":   "ok",
		"backends": h.backends.FunctionalBackends(),
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}

// ListSessions handles GET /v1/sessions.
func (h *AdminHandler) ListSessions(c *gin.Context) {
	sessions, err := h.sessions.List(c.Request.Context())
	if err != nil {
		WriteError(c, err)
		return
	}
	out := make([]SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionSummary{
			ID:           s.ID,
			Agent:        s.Agent,
			Interactions: len(s.History),
			CreatedAt:    s.CreatedAt,
			LastActiveAt: s.LastActiveAt,
		})
	}
	c.JSON(200, gin.H{"sessions": out, "count": len(out)})
}

// GetSession handles GET /v1/sessions/:id.
func (h *AdminHandler) GetSession(c *gin.Context) {
	sess, err := h.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(200, sess)
}

// DeleteSession handles DELETE /v1/sessions/:id.
func (h *AdminHandler) DeleteSession(c *gin.Context) {
	id := c.Param("id")
	present, err := h.sessions.Delete(c.Request.Context(), id)
	if err != nil {
		WriteError(c, err)
		return
	}
	if !present {
		WriteError(c, proxyerrors.NewNotFoundError("unknown session "+id))
		return
	}
	c.JSON(200, gin.H{"deleted": id})
}

// RefreshBackend handles POST /v1/backends/:name/refresh. It re-runs model
// discovery against the named backend and returns the fresh model list.
func (h *AdminHandler) RefreshBackend(c *gin.Context) {
	name := c.Param("name")
	if !h.backends.HasBackend(name) {
		WriteError(c, proxyerrors.NewNotFoundError("unknown backend "+name))
		return
	}
	models, err := h.backends.RefreshModels(c.Request.Context(), name)
	if err != nil {
		WriteError(c, err)
		return
	}
	h.logger.Info("Backend model list refreshed",
		zap.String("backend", name),
		zap.Int("models", len(models)))
	c.JSON(200, gin.H{"backend": name, "models": models})
}

// Stats handles GET /v1/stats.
func (h *AdminHandler) Stats(c *gin.Context) {
	c.JSON(200, h.monitor.GetStats())
}

// Dashboard handles GET /v1/dashboard.
func (h *AdminHandler) Dashboard(c *gin.Context) {
	c.JSON(200, h.monitor.GetDashboardData())
}
