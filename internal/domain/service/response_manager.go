package service

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/entity"
)

// ResponseManager builds proxy-authored responses: command confirmations,
// welcome banners, and anything else answered without a backend call. The
// envelope depends on the detected agent, because agents like Cline only
// render assistant turns that arrive as tool calls.
type ResponseManager struct {
	compressor *PytestCompressor
}

// NewResponseManager creates a ResponseManager. A nil compressor falls back
// to the default line threshold.
func NewResponseManager(compressor *PytestCompressor) *ResponseManager {
	if compressor == nil {
		compressor = NewPytestCompressor(0)
	}
	return &ResponseManager{compressor: compressor}
}

// CompressHandlerResult shrinks a command handler's result text when the
// session enabled pytest compression and flagged the next reply. A session
// line threshold overrides the configured one. The one-shot flag itself is
// consumed on the forwarded-request path, not here.
func (m *ResponseManager) CompressHandlerResult(state entity.SessionState, text string) string {
	if !state.PytestCompression || !state.CompressNextToolReply {
		return text
	}
	c := m.compressor
	if state.PytestCompressionMinLines > 0 && state.PytestCompressionMinLines != c.MinLines() {
		c = NewPytestCompressor(state.PytestCompressionMinLines)
	}
	return c.Compress(text)
}

// CommandResponse wraps the outcome of commandName into a chat completion
// for the given agent. Tool-call agents get the text as a synthetic call of
// the command's own name.
func (m *ResponseManager) CommandResponse(agent, model, commandName, text string) *entity.ChatResponse {
	resp := &entity.ChatResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Usage:   &entity.Usage{},
	}
	if UsesToolCallEnvelope(agent) {
		args, _ := json.Marshal(map[string]string{"result": text})
		name := commandName
		if name == "" {
			name = "proxy"
		}
		resp.Choices = []entity.Choice{{
			Message: &entity.Message{
				Role: "assistant",
				ToolCalls: []entity.ToolCall{{
					ID:   "call_" + uuid.NewString()[:8],
					Type: "function",
					Function: entity.FunctionCall{
						Name:      name,
						Arguments: string(args),
					},
				}},
			},
			FinishReason: "tool_calls",
		}}
		return resp
	}
	resp.Choices = []entity.Choice{{
		Message:      &entity.Message{Role: "assistant", Content: text},
		FinishReason: "stop",
	}}
	return resp
}

// AsStreamChunk converts a full completion into a single streaming chunk
// carrying the same content, for clients that asked for SSE.
func (m *ResponseManager) AsStreamChunk(resp *entity.ChatResponse) *entity.ChatResponse {
	chunk := *resp
	chunk.Object = "chat.completion.chunk"
	chunk.Choices = make([]entity.Choice, len(resp.Choices))
	for i, c := range resp.Choices {
		chunk.Choices[i] = entity.Choice{
			Index:        c.Index,
			Delta:        c.Message,
			FinishReason: c.FinishReason,
		}
	}
	return &chunk
}
