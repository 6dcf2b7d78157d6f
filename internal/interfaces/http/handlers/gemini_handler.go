package handlers

import (
	"bufio"
	"encoding/json"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matdev83/llm-interactive-proxy-sub007/internal/application/usecase"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/entity"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/translation"
	proxyerrors "github.com/matdev83/llm-interactive-proxy-sub007/pkg/errors"
)

// GeminiHandler serves the Gemini-compatible surface under /v1beta.
type GeminiHandler struct {
	chat             *usecase.ChatUseCase
	defaultSessionID string
	logger           *zap.Logger
}

// GeminiModelEntry is one entry of the /v1beta/models listing.
type GeminiModelEntry struct {
	Name                       string   `json:"name"`
	DisplayName                string   `json:"display_name"`
	SupportedGenerationMethods []string `json:"supported_generation_methods"`
}

// GeminiModelsResponse is the /v1beta/models body.
type GeminiModelsResponse struct {
	Models []GeminiModelEntry `json:"models"`
}

// NewGeminiHandler creates the handler.
func NewGeminiHandler(chat *usecase.ChatUseCase, defaultSessionID string, logger *zap.Logger) *GeminiHandler {
	if defaultSessionID == "" {
		defaultSessionID = "default"
	}
	return &GeminiHandler{
		chat:             chat,
		defaultSessionID: defaultSessionID,
		logger:           logger,
	}
}

// ListModels handles GET /v1beta/models.
func (h *GeminiHandler) ListModels(c *gin.Context) {
	models := h.chat.ListModels()
	out := GeminiModelsResponse{Models: make([]GeminiModelEntry, 0, len(models))}
	for _, m := range models {
		out.Models = append(out.Models, GeminiModelEntry{
			Name:                       "models/" + m.ID,
			DisplayName:                m.ID,
			SupportedGenerationMethods: []string{"generateContent", "streamGenerateContent"},
		})
	}
	c.JSON(200, out)
}

// Generate handles POST /v1beta/models/{model}:generateContent and
// :streamGenerateContent. Gin cannot route on the colon, so the route is a
// wildcard and the model/method split happens here.
func (h *GeminiHandler) Generate(c *gin.Context) {
	model, method, ok := splitModelAction(c.Param("action"))
	if !ok {
		WriteError(c, proxyerrors.NewInvalidRequestError("expected models/{model}:generateContent"))
		return
	}
	streaming := method == "streamGenerateContent"
	if !streaming && method != "generateContent" {
		WriteError(c, proxyerrors.NewNotFoundError("unknown method "+method))
		return
	}

	var wire translation.GeminiRequest
	if err := c.ShouldBindJSON(&wire); err != nil {
		WriteError(c, proxyerrors.NewInvalidRequestError(err.Error()))
		return
	}

	req := translation.FromGemini(model, &wire)
	req.Stream = streaming
	result, err := h.chat.Execute(c.Request.Context(), usecase.ChatInput{
		SessionID:  h.sessionID(c),
		Stream:     streaming,
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
		h.relayGeminiStream(c, result)
		return
	}
	c.JSON(200, translation.ToGeminiResponse(result.Response))
}

// relayGeminiStream re-frames the pipeline's OpenAI-style SSE chunks as
// Gemini response objects.
func (h *GeminiHandler) relayGeminiStream(c *gin.Context, result *usecase.ChatResult) {
	defer result.Stream.Close()

	scanner := bufio.NewScanner(result.Stream)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}

		var chunk entity.ChatResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			h.logger.Warn("Dropping malformed stream chunk", zap.Error(err))
			continue
		}
		frame, err := json.Marshal(translation.ToGeminiResponse(&chunk))
		if err != nil {
			continue
		}
		c.Writer.Write([]byte("data: "))
		c.Writer.Write(frame)
		c.Writer.Write([]byte("\n\n"))
		flush(c)
	}
	if err := scanner.Err(); err != nil {
		h.logger.Warn("Upstream stream ended abnormally", zap.Error(err))
		writeStreamError(c.Writer, err)
		flush(c)
	}
}

func (h *GeminiHandler) sessionID(c *gin.Context) string {
	if id := c.GetHeader(SessionHeader); id != "" {
		return id
	}
	return h.defaultSessionID
}

// splitModelAction parses "/{model}:{method}" from the wildcard capture.
func splitModelAction(action string) (model, method string, ok bool) {
	action = strings.TrimPrefix(action, "/")
	idx := strings.LastIndex(action, ":")
	if idx <= 0 || idx == len(action)-1 {
		return "", "", false
	}
	return action[:idx], action[idx+1:], true
}
