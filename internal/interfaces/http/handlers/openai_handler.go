package handlers

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matdev83/llm-interactive-proxy-sub007/internal/application/usecase"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/translation"
	proxyerrors "github.com/matdev83/llm-interactive-proxy-sub007/pkg/errors"
)

// SessionHeader names the inbound session id header.
const SessionHeader = "X-Session-ID"

// OpenAIHandler serves the OpenAI-compatible surface.
type OpenAIHandler struct {
	chat             *usecase.ChatUseCase
	defaultSessionID string
	logger           *zap.Logger
}

// OpenAIModel is one entry of the /v1/models response.
type OpenAIModel struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelsResponse mirrors OpenAI's models list response.
type ModelsResponse struct {
	Object string        `json:"object"`
	Data   []OpenAIModel `json:"data"`
}

// NewOpenAIHandler creates the handler.
func NewOpenAIHandler(chat *usecase.ChatUseCase, defaultSessionID string, logger *zap.Logger) *OpenAIHandler {
	if defaultSessionID == "" {
		defaultSessionID = "default"
	}
	return &OpenAIHandler{
		chat:             chat,
		defaultSessionID: defaultSessionID,
		logger:           logger,
	}
}

// ChatCompletions handles POST /v1/chat/completions.
func (h *OpenAIHandler) ChatCompletions(c *gin.Context) {
	var wire translation.OpenAIRequest
	if err := c.ShouldBindJSON(&wire); err != nil {
		WriteError(c, proxyerrors.NewInvalidRequestError(err.Error()))
		return
	}
	if len(wire.Messages) == 0 {
		WriteError(c, proxyerrors.NewInvalidRequestError("messages array must not be empty"))
		return
	}

	req := translation.FromOpenAI(&wire)
	result, err := h.chat.Execute(c.Request.Context(), usecase.ChatInput{
		SessionID:  h.sessionID(c),
		Stream:     wire.Stream,
		Request:    req,
		ClientHost: c.ClientIP(),
		UserAgent:  c.GetHeader("User-Agent"),
		RequestID:  uuid.NewString(),
	})
	if err != nil {
		WriteError(c, err)
		return
	}

	if result.Stream != nil {
		sseHeaders(c)
		relaySSE(c, result.Stream, h.logger)
		return
	}
	c.JSON(200, result.Response)
}

// ListModels handles GET /v1/models.
func (h *OpenAIHandler) ListModels(c *gin.Context) {
	now := time.Now().Unix()
	models := h.chat.ListModels()
	data := make([]OpenAIModel, 0, len(models))
	for _, m := range models {
		data = append(data, OpenAIModel{
			ID:      m.ID,
			Object:  "model",
			Created: now,
			OwnedBy: m.Backend,
		})
	}
	c.JSON(200, ModelsResponse{Object: "list", Data: data})
}

func (h *OpenAIHandler) sessionID(c *gin.Context) string {
	if id := c.GetHeader(SessionHeader); id != "" {
		return id
	}
	return h.defaultSessionID
}

// relaySSE forwards upstream SSE bytes to the client, flushing per read so
// chunks arrive as they are produced.
func relaySSE(c *gin.Context, rc io.ReadCloser, logger *zap.Logger) {
	defer rc.Close()

	buf := make([]byte, 4096)
	for {
		n, err := rc.Read(buf)
		if n > 0 {
			if _, werr := c.Writer.Write(buf[:n]); werr != nil {
				return
			}
			flush(c)
		}
		if err != nil {
			if err != io.EOF {
				logger.Warn("Upstream stream ended abnormally", zap.Error(err))
				writeStreamError(c.Writer, err)
				flush(c)
			}
			return
		}
	}
}
