package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/entity"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/backend"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/config"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/translation"
	proxyerrors "github.com/matdev83/llm-interactive-proxy-sub007/pkg/errors"
)

const apiVersion = "2023-06-01"

func init() {
	backend.RegisterFactory("anthropic", func(name string, cfg config.BackendConfig, logger *zap.Logger) (backend.Connector, error) {
		return New(name, cfg, logger), nil
	})
}

// Connector speaks the Anthropic Messages API. The API offers no model
// listing on this auth tier, so the configured model list is authoritative.
type Connector struct {
	name    string
	baseURL string
	models  []string
	client  *http.Client
	logger  *zap.Logger
}

// New builds the connector.
func New(name string, cfg config.BackendConfig, logger *zap.Logger) *Connector {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	return &Connector{
		name:    name,
		baseURL: baseURL,
		models:  append([]string(nil), cfg.Models...),
		client:  backend.NewHTTPClient(),
		logger:  logger.With(zap.String("backend", name), zap.String("type", "anthropic")),
	}
}

var _ backend.Connector = (*Connector)(nil)

func (c *Connector) Name() string { return c.name }

func (c *Connector) Initialize(_ context.Context, _ string) error {
	if len(c.models) == 0 {
		return proxyerrors.NewConfigurationError(
			"anthropic backend needs an explicit models list")
	}
	return nil
}

func (c *Connector) AvailableModels() []string {
	return append([]string(nil), c.models...)
}

// ChatCompletions performs a buffered /v1/messages call.
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
		return nil, classifyStatus(c.name, resp.StatusCode, body)
	}

	var ares translation.AnthropicResponse
	if err := json.Unmarshal(body, &ares); err != nil {
		return nil, proxyerrors.NewBackendError(c.name, "unparseable upstream response", resp.StatusCode)
	}
	return translation.FromAnthropicResponse(&ares), nil
}

// StreamChatCompletions parses the typed SSE events and re-emits
// OpenAI-style chunks.
func (c *Connector) StreamChatCompletions(ctx context.Context, call backend.CallRequest) (io.ReadCloser, error) {
	resp, err := c.post(ctx, call, true)
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
		err := c.relayEvents(resp.Body, pw, call.Model)
		pw.CloseWithError(err)
	}()
	return pr, nil
}

// relayEvents converts the event stream. Text arrives in
// content_block_delta events; the stop reason in message_delta; usage on
// message_start (input) and message_delta (output).
func (c *Connector) relayEvents(body io.Reader, pw *io.PipeWriter, model string) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	id := backend.NewStreamID()
	usage := &entity.Usage{}
	finish := "stop"
	sawToolUse := false

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var ev translation.AnthropicStreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			c.logger.Debug("Skip unparseable stream event", zap.Error(err))
			continue
		}

		switch ev.Type {
		case "message_start":
			if ev.Message != nil {
				usage.PromptTokens = ev.Message.Usage.InputTokens
			}

		case "content_block_start":
			if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
				sawToolUse = true
			}

		case "content_block_delta":
			if ev.Delta != nil && ev.Delta.Text != "" {
				chunk := backend.NewChunk(id, model, ev.Delta.Text, "")
				if _, err := pw.Write(backend.SSEFrame(chunk)); err != nil {
					return err
				}
			}

		case "message_delta":
			if ev.Usage != nil {
				usage.CompletionTokens = ev.Usage.OutputTokens
			}
			if ev.Delta != nil && ev.Delta.StopReason != "" {
				finish = mapStopReason(ev.Delta.StopReason)
			}

		case "message_stop":
			// Terminal event; loop ends when the body closes.
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream scan: %w", err)
	}

	if sawToolUse && finish == "stop" {
		finish = "tool_calls"
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	final := backend.NewChunk(id, model, "", finish)
	final.Usage = usage
	if _, err := pw.Write(backend.SSEFrame(final)); err != nil {
		return err
	}
	_, err := pw.Write([]byte(backend.SSEDone))
	return err
}

func mapStopReason(reason string) string {
	switch reason {
	case "tool_use":
		return "tool_calls"
	case "max_tokens":
		return "length"
	}
	return "stop"
}

func (c *Connector) post(ctx context.Context, call backend.CallRequest, stream bool) (*http.Response, error) {
	wire := translation.ToAnthropic(call.Request)
	wire.Model = call.Model
	wire.Stream = stream

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", call.APIKey)
	req.Header.Set("anthropic-version", apiVersion)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
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
