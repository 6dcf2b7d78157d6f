package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
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
	backend.RegisterFactory("openai", func(name string, cfg config.BackendConfig, logger *zap.Logger) (backend.Connector, error) {
		return New(name, cfg, logger), nil
	})
}

// Connector speaks the OpenAI chat-completions protocol. Works against
// OpenAI itself and the compatible crowd (DeepSeek, Ollama, vLLM, OpenRouter).
type Connector struct {
	name    string
	baseURL string
	extra   map[string]string
	client  *http.Client
	logger  *zap.Logger

	mu     sync.RWMutex
	models []string
}

// New builds the connector; no network traffic until Initialize.
func New(name string, cfg config.BackendConfig, logger *zap.Logger) *Connector {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	c := &Connector{
		name:    name,
		baseURL: baseURL,
		extra:   cfg.ExtraHeaders,
		client:  backend.NewHTTPClient(),
		logger:  logger.With(zap.String("backend", name), zap.String("type", "openai")),
	}
	c.models = append(c.models, cfg.Models...)
	return c
}

var _ backend.Connector = (*Connector)(nil)

func (c *Connector) Name() string { return c.name }

// Initialize discovers models via GET /models. Configured model lists are
// kept when discovery fails with an auth-shaped error only at listing (some
// compatible servers serve completions but not /models).
func (c *Connector) Initialize(ctx context.Context, apiKey string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req, apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		if len(c.staticModels()) > 0 {
			c.logger.Warn("Model discovery unreachable, using configured list", zap.Error(err))
			return nil
		}
		return proxyerrors.NewServiceUnavailableErrorWithCause("model discovery failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if len(c.staticModels()) > 0 {
			c.logger.Warn("Model discovery refused, using configured list",
				zap.Int("status", resp.StatusCode))
			return nil
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return classifyStatus(c.name, resp, body)
	}

	var list struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return fmt.Errorf("parse model list: %w", err)
	}
	models := make([]string, 0, len(list.Data))
	for _, m := range list.Data {
		models = append(models, m.ID)
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

func (c *Connector) staticModels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.models
}

// ChatCompletions performs a buffered completion.
func (c *Connector) ChatCompletions(ctx context.Context, call backend.CallRequest) (*entity.ChatResponse, error) {
	resp, err := c.post(ctx, call, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, proxyerrors.NewServiceUnavailableErrorWithCause("read upstream response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(c.name, resp, body)
	}

	var out entity.ChatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, proxyerrors.NewBackendError(c.name, "unparseable upstream response", resp.StatusCode)
	}
	return &out, nil
}

// StreamChatCompletions relays the upstream SSE bytes unchanged. A watchdog
// closes the body when the client context ends so a stalled upstream never
// pins the handler.
func (c *Connector) StreamChatCompletions(ctx context.Context, call backend.CallRequest) (io.ReadCloser, error) {
	resp, err := c.post(ctx, call, true)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		resp.Body.Close()
		return nil, classifyStatus(c.name, resp, body)
	}
	return backend.NewWatchedStream(ctx, resp.Body, c.logger), nil
}

func (c *Connector) post(ctx context.Context, call backend.CallRequest, stream bool) (*http.Response, error) {
	wire := translation.ToOpenAI(call.Request)
	wire.Model = call.Model
	wire.Stream = stream
	if stream {
		wire.StreamOptions = map[string]any{"include_usage": true}
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req, call.APIKey)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, proxyerrors.NewServiceUnavailableErrorWithCause("upstream request failed", err)
	}
	return resp, nil
}

func (c *Connector) setHeaders(req *http.Request, apiKey string) {
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	for k, v := range c.extra {
		req.Header.Set(k, v)
	}
}

// classifyStatus maps an upstream error status to the proxy error taxonomy.
func classifyStatus(name string, resp *http.Response, body []byte) error {
	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := 0
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if n, err := strconv.Atoi(ra); err == nil {
				retryAfter = n
			}
		}
		return proxyerrors.NewRateLimitError(
			fmt.Sprintf("backend %s throttled: %s", name, truncate(body, 512)), retryAfter)
	}
	return proxyerrors.NewBackendError(name, truncate(body, 2048), resp.StatusCode)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
