package translation

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/entity"
)

// --- Anthropic Messages API wire types ---
// Reference: https://docs.anthropic.com/en/api/messages
//
// Divergences from the OpenAI shape: content is a list of typed blocks, the
// system prompt is a top-level field, tool calls are tool_use blocks and
// tool results tool_result blocks inside a user turn, and max_tokens is
// mandatory.

// DefaultAnthropicMaxTokens is used when the client did not set max_tokens.
const DefaultAnthropicMaxTokens = 4096

// AnthropicRequest is the /v1/messages request body.
type AnthropicRequest struct {
	Model       string               `json:"model"`
	MaxTokens   int                  `json:"max_tokens"`
	System      string               `json:"system,omitempty"`
	Messages    []AnthropicMessage   `json:"messages"`
	Tools       []AnthropicTool      `json:"tools,omitempty"`
	Temperature *float64             `json:"temperature,omitempty"`
	TopP        *float64             `json:"top_p,omitempty"`
	Stop        []string             `json:"stop_sequences,omitempty"`
	Stream      bool                 `json:"stream,omitempty"`
	Thinking    *AnthropicThinking   `json:"thinking,omitempty"`
}

// AnthropicThinking enables extended thinking with a token budget.
type AnthropicThinking struct {
	Type         string `json:"type"` // "enabled"
	BudgetTokens int    `json:"budget_tokens"`
}

// AnthropicMessage is one conversation turn.
type AnthropicMessage struct {
	Role    string                  `json:"role"` // "user" | "assistant"
	Content []AnthropicContentBlock `json:"content"`
}

// AnthropicContentBlock is a polymorphic content element.
type AnthropicContentBlock struct {
	Type string `json:"type"` // "text" | "tool_use" | "tool_result"

	Text string `json:"text,omitempty"`

	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

// AnthropicTool is a tool definition.
type AnthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

// AnthropicResponse is the /v1/messages response body.
type AnthropicResponse struct {
	ID         string                  `json:"id"`
	Type       string                  `json:"type"`
	Role       string                  `json:"role"`
	Content    []AnthropicContentBlock `json:"content"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"` // "end_turn" | "tool_use" | "max_tokens"
	Usage      AnthropicUsage          `json:"usage"`
}

// AnthropicUsage reports token consumption.
type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// AnthropicStreamEvent is one typed SSE event from the streaming API.
type AnthropicStreamEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index,omitempty"`

	ContentBlock *AnthropicContentBlock `json:"content_block,omitempty"`
	Delta        *AnthropicDelta        `json:"delta,omitempty"`
	Usage        *AnthropicUsage        `json:"usage,omitempty"`
	Message      *AnthropicResponse     `json:"message,omitempty"`
}

// AnthropicDelta is the incremental payload of a stream event.
type AnthropicDelta struct {
	Type        string `json:"type"` // "text_delta" | "input_json_delta"
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

// ToAnthropic converts a canonical request to the Messages API shape.
// System messages concatenate into the system field; tool results become
// tool_result blocks in user turns.
func ToAnthropic(req *entity.ChatRequest) *AnthropicRequest {
	out := &AnthropicRequest{
		Model:       req.Model,
		MaxTokens:   DefaultAnthropicMaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
		Stream:      req.Stream,
	}
	if req.MaxTokens != nil {
		out.MaxTokens = *req.MaxTokens
	}
	if budget, ok := intExtra(req.Extra, "thinking_budget"); ok && budget > 0 {
		out.Thinking = &AnthropicThinking{Type: "enabled", BudgetTokens: budget}
	}

	var systems []string
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			systems = append(systems, m.TextContent())

		case "assistant":
			am := AnthropicMessage{Role: "assistant"}
			if text := m.TextContent(); text != "" {
				am.Content = append(am.Content, AnthropicContentBlock{Type: "text", Text: text})
			}
			for _, tc := range m.ToolCalls {
				am.Content = append(am.Content, AnthropicContentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Function.Name,
					Input: decodeArgs(tc.Function.Arguments),
				})
			}
			if len(am.Content) > 0 {
				out.Messages = append(out.Messages, am)
			}

		case "tool":
			out.Messages = append(out.Messages, AnthropicMessage{
				Role: "user",
				Content: []AnthropicContentBlock{{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   m.TextContent(),
				}},
			})

		default:
			if text := m.TextContent(); text != "" {
				out.Messages = append(out.Messages, AnthropicMessage{
					Role:    "user",
					Content: []AnthropicContentBlock{{Type: "text", Text: text}},
				})
			}
		}
	}
	out.System = strings.Join(systems, "\n")

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, AnthropicTool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: toolSchema(t.Function.Parameters),
		})
	}
	return out
}

// FromAnthropicResponse converts an upstream response to the canonical
// OpenAI-shaped response.
func FromAnthropicResponse(res *AnthropicResponse) *entity.ChatResponse {
	msg := &entity.Message{Role: "assistant"}
	var texts []string
	for _, block := range res.Content {
		switch block.Type {
		case "text":
			texts = append(texts, block.Text)
		case "tool_use":
			input, _ := json.Marshal(block.Input)
			msg.ToolCalls = append(msg.ToolCalls, entity.ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: entity.FunctionCall{
					Name:      block.Name,
					Arguments: string(input),
				},
			})
		}
	}
	msg.Content = strings.Join(texts, "")

	id := res.ID
	if id == "" {
		id = "chatcmpl-" + uuid.NewString()
	}
	return &entity.ChatResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   res.Model,
		Choices: []entity.Choice{{
			Message:      msg,
			FinishReason: anthropicStopReason(res.StopReason),
		}},
		Usage: &entity.Usage{
			PromptTokens:     res.Usage.InputTokens,
			CompletionTokens: res.Usage.OutputTokens,
			TotalTokens:      res.Usage.InputTokens + res.Usage.OutputTokens,
		},
	}
}

func anthropicStopReason(reason string) string {
	switch reason {
	case "tool_use":
		return "tool_calls"
	case "max_tokens":
		return "length"
	}
	return "stop"
}

// toolSchema guarantees a well-formed JSON Schema object.
func toolSchema(schema map[string]any) map[string]any {
	if schema == nil {
		return map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}
	}
	out := make(map[string]any, len(schema))
	for k, v := range schema {
		out[k] = v
	}
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	return out
}
