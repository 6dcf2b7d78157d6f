package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/entity"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/backend"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/config"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/translation"
	proxyerrors "github.com/matdev83/llm-interactive-proxy-sub007/pkg/errors"
)

func init() {
	backend.RegisterFactory("gemini", func(name string, cfg config.BackendConfig, logger *zap.Logger) (backend.Connector, error) {
		return New(name, cfg, logger), nil
	})
}

// Connector speaks the Gemini generateContent REST API with API-key auth.
type Connector struct {
	name    string
	baseURL string
	client  *http.Client
	logger  *zap.Logger

	mu     sync.RWMutex
	models []string
}

// New builds the connector.
func New(name string, cfg config.BackendConfig, logger *zap.Logger) *Connector {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}
	c := &Connector{
		name:    name,
		baseURL: baseURL,
		client:  backend.NewHTTPClient(),
		logger:  logger.With(zap.String("backend", name), zap.String("type", "gemini")),
	}
	c.models = append(c.models, cfg.Models...)
	return c
}

var _ backend.Connector = (*Connector)(nil)

func (c *Connector) Name() string { return c.name }

// Initialize discovers models via GET /v1beta/models. The listing returns
// names as "models/gemini-..."; the prefix is stripped for routing.
func (c *Connector) Initialize(ctx context.Context, apiKey string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1beta/models", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if apiKey != "" {
		req.Header.Set("x-goog-api-key", apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if len(c.AvailableModels()) > 0 {
			c.logger.Warn("Model discovery unreachable, using configured list", zap.Error(err))
			return nil
		}
		return proxyerrors.NewServiceUnavailableErrorWithCause("model discovery failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if len(c.AvailableModels()) > 0 {
			c.logger.Warn("Model discovery refused, using configured list",
				zap.Int("status", resp.StatusCode))
			return nil
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return proxyerrors.NewBackendError(c.name, string(body), resp.StatusCode)
	}

	var list struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return fmt.Errorf("parse model list: %w", err)
	}
	models := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		models = append(models, strings.TrimPrefix(m.Name, "models/"))
	}
	c.mu.Lock()
	c.models = models
	c.mu.Unlock()
	return nil
}

func (c *Connector) AvailableModels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.models...)
}

// ChatCompletions performs a buffered generateContent call, translated to
// and from the canonical shape.
func (c *Connector) ChatCompletions(ctx context.Context, call backend.CallRequest) (*entity.ChatResponse, error) {
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, call.Model)
	resp, err := c.post(ctx, url, call)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, proxyerrors.NewServiceUnavailableErrorWithCause("read upstream response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(c.name, resp.StatusCode, body)
	}

	var gres translation.GeminiResponse
	if err := json.Unmarshal(body, &gres); err != nil {
		return nil, proxyerrors.NewBackendError(c.name, "unparseable upstream response", resp.StatusCode)
	}
	return translation.FromGeminiResponse(&gres, call.Model), nil
}

// StreamChatCompletions calls :streamGenerateContent, which answers with a
// JSON array of generateContent responses. Elements are decoded as they
// arrive and re-emitted as OpenAI-style SSE chunks.
func (c *Connector) StreamChatCompletions(ctx context.Context, call backend.CallRequest) (io.ReadCloser, error) {
	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent", c.baseURL, call.Model)
	resp, err := c.post(ctx, url, call)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		resp.Body.Close()
		return nil, classifyStatus(c.name, resp.StatusCode, body)
	}

	stop := backend.WatchBody(ctx, resp.Body, c.logger)
	pr, pw := io.Pipe()
	go func() {
		defer stop()
		defer resp.Body.Close()
		err := c.relayArray(resp.Body, pw, call.Model)
		pw.CloseWithError(err)
	}()
	return pr, nil
}

// relayArray consumes the streaming JSON array element by element and
// writes OpenAI chunk frames terminated by [DONE].
func (c *Connector) relayArray(body io.Reader, pw *io.PipeWriter, model string) error {
	dec := json.NewDecoder(body)

	// Opening bracket of the array.
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("stream open: %w", err)
	}

	id := backend.NewStreamID()
	var usage *entity.Usage
	finish := "stop"
	for dec.More() {
		var gres translation.GeminiResponse
		if err := dec.Decode(&gres); err != nil {
			return fmt.Errorf("stream element: %w", err)
		}
		res := translation.FromGeminiResponse(&gres, model)
		if res.Usage != nil {
			usage = res.Usage
		}
		if len(res.Choices) == 0 {
			continue
		}
		if fr := res.Choices[0].FinishReason; fr != "" {
			finish = fr
		}

		chunk := backend.NewChunk(id, model, res.FirstText(), "")
		if msg := res.Choices[0].Message; msg != nil && len(msg.ToolCalls) > 0 {
			chunk.Choices[0].Delta.ToolCalls = msg.ToolCalls
		}
		if _, err := pw.Write(backend.SSEFrame(chunk)); err != nil {
			return err
		}
	}

	final := backend.NewChunk(id, model, "", finish)
	final.Usage = usage
	if _, err := pw.Write(backend.SSEFrame(final)); err != nil {
		return err
	}
	_, err := pw.Write([]byte(backend.SSEDone))
	return err
}

func (c *Connector) post(ctx context.Context, url string, call backend.CallRequest) (*http.Response, error) {
	wire := translation.ToGemini(call.Request)
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if call.APIKey != "" {
		req.Header.Set("x-goog-api-key", call.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, proxyerrors.NewServiceUnavailableErrorWithCause("upstream request failed", err)
	}
	return resp, nil
}

func classifyStatus(name string, status int, body []byte) error {
	if status == http.StatusTooManyRequests {
		return proxyerrors.NewRateLimitError(
			fmt.Sprintf("backend %s throttled: %s", name, string(body)), 0)
	}
	return proxyerrors.NewBackendError(name, string(body), status)
}
