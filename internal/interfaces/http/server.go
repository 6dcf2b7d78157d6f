package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/matdev83/llm-interactive-proxy-sub007/internal/application/usecase"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/repository"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/backend"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/config"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/monitoring"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/interfaces/http/handlers"
)

// Server is the HTTP front of the proxy.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// Deps collects everything the HTTP layer needs.
type Deps struct {
	Chat     *usecase.ChatUseCase
	Sessions repository.SessionRepository
	Backends *backend.Service
	Monitor  *monitoring.Monitor
	Logger   *zap.Logger
}

// NewServer wires the router and handlers.
func NewServer(cfg *config.Config, deps Deps) *Server {
	if cfg.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(deps.Logger))

	openaiHandler := handlers.NewOpenAIHandler(deps.Chat, cfg.Session.DefaultSessionID, deps.Logger)
	geminiHandler := handlers.NewGeminiHandler(deps.Chat, cfg.Session.DefaultSessionID, deps.Logger)
	adminHandler := handlers.NewAdminHandler(deps.Sessions, deps.Backends, deps.Monitor, deps.Logger)

	router.GET("/metrics", gin.WrapH(deps.Monitor.PrometheusHandler()))
	setupRoutes(router, cfg, deps.Logger, openaiHandler, geminiHandler, adminHandler)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: router,
		},
		logger: deps.Logger,
	}
}

// Start begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", zap.String("address", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop drains in-flight requests and shuts down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

func setupRoutes(router *gin.Engine, cfg *config.Config, logger *zap.Logger, oai *handlers.OpenAIHandler, gem *handlers.GeminiHandler, admin *handlers.AdminHandler) {
	// Health and metrics stay open; everything else sits behind auth.
	router.GET("/health", admin.Health)

	auth := authMiddleware(cfg.Auth, logger)

	// OpenAI-compatible API
	v1 := router.Group("/v1", auth)
	{
		v1.POST("/chat/completions", oai.ChatCompletions)
		v1.GET("/models", oai.ListModels)

		v1.GET("/sessions", admin.ListSessions)
		v1.GET("/sessions/:id", admin.GetSession)
		v1.DELETE("/sessions/:id", admin.DeleteSession)
		v1.POST("/backends/:name/refresh", admin.RefreshBackend)
		v1.GET("/stats", admin.Stats)
		v1.GET("/dashboard", admin.Dashboard)
	}

	// Gemini-compatible API
	v1beta := router.Group("/v1beta", auth)
	{
		v1beta.GET("/models", gem.ListModels)
		v1beta.POST("/models/*action", gem.Generate)
	}
}

func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", statusCode),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}
