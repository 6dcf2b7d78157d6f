package translation

import (
	"strings"
	"testing"

	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/entity"
)

func f64(v float64) *float64 { return &v }
func iptr(v int) *int        { return &v }

func sampleRequest() *entity.ChatRequest {
	return &entity.ChatRequest{
		Model: "test-model",
		Messages: []entity.Message{
			{Role: "system", Content: "be terse"},
			{Role: "user", Content: "what is 2+2?"},
			{Role: "assistant", Content: "4"},
			{Role: "user", Content: "now with a tool"},
		},
		Temperature: f64(0.3),
		TopP:        f64(0.9),
		MaxTokens:   iptr(256),
		Tools: []entity.Tool{{
			Type: "function",
			Function: entity.FunctionDefinition{
				Name:        "lookup",
				Description: "look something up",
				Parameters: map[string]any{
					"type":       "object",
					"properties": map[string]any{"q": map[string]any{"type": "string"}},
				},
			},
		}},
	}
}

func TestOpenAIRoundtrip(t *testing.T) {
	req := sampleRequest()
	back := FromOpenAI(ToOpenAI(req))

	if back.Model != req.Model {
		t.Errorf("model = %q", back.Model)
	}
	if len(back.Messages) != len(req.Messages) {
		t.Fatalf("messages = %d, want %d", len(back.Messages), len(req.Messages))
	}
	for i := range req.Messages {
		if back.Messages[i].Role != req.Messages[i].Role {
			t.Errorf("message %d role = %q", i, back.Messages[i].Role)
		}
		if back.Messages[i].TextContent() != req.Messages[i].TextContent() {
			t.Errorf("message %d text = %q", i, back.Messages[i].TextContent())
		}
	}
	if back.Temperature == nil || *back.Temperature != 0.3 {
		t.Error("temperature lost")
	}
	if back.MaxTokens == nil || *back.MaxTokens != 256 {
		t.Error("max_tokens lost")
	}
	if len(back.Tools) != 1 || back.Tools[0].Function.Name != "lookup" {
		t.Error("tools lost")
	}
}

func TestOpenAIReasoningEffortExtra(t *testing.T) {
	req := sampleRequest()
	req.Extra = map[string]any{"reasoning_effort": "high"}

	wire := ToOpenAI(req)
	if wire.ReasoningEffort != "high" {
		t.Errorf("reasoning_effort = %q", wire.ReasoningEffort)
	}
	back := FromOpenAI(wire)
	if back.Extra["reasoning_effort"] != "high" {
		t.Error("reasoning_effort not restored")
	}
}

func TestToGeminiRoles(t *testing.T) {
	wire := ToGemini(sampleRequest())

	if wire.SystemInstruction == nil || wire.SystemInstruction.Parts[0].Text != "be terse" {
		t.Fatal("system instruction not extracted")
	}
	// System turn gone from contents; assistant spelled "model".
	if len(wire.Contents) != 3 {
		t.Fatalf("contents = %d, want 3", len(wire.Contents))
	}
	if wire.Contents[0].Role != "user" || wire.Contents[1].Role != "model" || wire.Contents[2].Role != "user" {
		t.Errorf("roles = %s/%s/%s", wire.Contents[0].Role, wire.Contents[1].Role, wire.Contents[2].Role)
	}
	if wire.GenerationConfig == nil || wire.GenerationConfig.MaxOutputTokens != 256 {
		t.Error("generation config not mapped")
	}
	if len(wire.Tools) != 1 || wire.Tools[0].FunctionDeclarations[0].Name != "lookup" {
		t.Error("tool declaration not mapped")
	}
}

func TestGeminiRoundtrip(t *testing.T) {
	req := sampleRequest()
	back := FromGemini(req.Model, ToGemini(req))

	if back.Model != req.Model {
		t.Errorf("model = %q", back.Model)
	}
	if len(back.Messages) != len(req.Messages) {
		t.Fatalf("messages = %d, want %d", len(back.Messages), len(req.Messages))
	}
	for i := range req.Messages {
		if back.Messages[i].Role != req.Messages[i].Role {
			t.Errorf("message %d role = %q, want %q", i, back.Messages[i].Role, req.Messages[i].Role)
		}
		if back.Messages[i].TextContent() != req.Messages[i].TextContent() {
			t.Errorf("message %d text = %q", i, back.Messages[i].TextContent())
		}
	}
	if back.Temperature == nil || *back.Temperature != 0.3 {
		t.Error("temperature lost")
	}
}

func TestGeminiToolResultBecomesFunctionResponse(t *testing.T) {
	req := &entity.ChatRequest{
		Model: "m",
		Messages: []entity.Message{
			{Role: "tool", Name: "lookup", Content: "42", ToolCallID: "call_1"},
		},
	}
	wire := ToGemini(req)
	if len(wire.Contents) != 1 {
		t.Fatalf("contents = %d", len(wire.Contents))
	}
	c := wire.Contents[0]
	if c.Role != "user" {
		t.Errorf("role = %q", c.Role)
	}
	fr := c.Parts[0].FunctionResponse
	if fr == nil || fr.Name != "lookup" || fr.Response["result"] != "42" {
		t.Errorf("functionResponse = %+v", fr)
	}
}

func TestGeminiDataURLBecomesInlineData(t *testing.T) {
	req := &entity.ChatRequest{
		Model: "m",
		Messages: []entity.Message{{
			Role: "user",
			Parts: []entity.ContentPart{
				{Type: "text", Text: "describe"},
				{Type: "image", MediaURL: "data:image/png;base64,QUJD"},
				{Type: "image", MediaURL: "https://example.com/x.png", MimeType: "image/png"},
			},
		}},
	}
	wire := ToGemini(req)
	parts := wire.Contents[0].Parts
	if len(parts) != 3 {
		t.Fatalf("parts = %d", len(parts))
	}
	if parts[1].InlineData == nil || parts[1].InlineData.MimeType != "image/png" || parts[1].InlineData.Data != "QUJD" {
		t.Errorf("inlineData = %+v", parts[1].InlineData)
	}
	if parts[2].FileData == nil || parts[2].FileData.FileURI != "https://example.com/x.png" {
		t.Errorf("fileData = %+v", parts[2].FileData)
	}
}

func TestFromGeminiResponse(t *testing.T) {
	res := &GeminiResponse{
		Candidates: []GeminiCandidate{{
			Content: GeminiContent{
				Role: "model",
				Parts: []GeminiPart{
					{Text: "the answer "},
					{Text: "is 4"},
				},
			},
			FinishReason: "STOP",
		}},
		UsageMetadata: &GeminiUsageMetadata{PromptTokenCount: 10, CandidatesTokenCount: 5, TotalTokenCount: 15},
	}
	out := FromGeminiResponse(res, "gemini-2.0-flash")
	if out.FirstText() != "the answer is 4" {
		t.Errorf("text = %q", out.FirstText())
	}
	if out.Choices[0].FinishReason != "stop" {
		t.Errorf("finish = %q", out.Choices[0].FinishReason)
	}
	if out.Usage.TotalTokens != 15 {
		t.Errorf("usage = %+v", out.Usage)
	}
	if !strings.HasPrefix(out.ID, "chatcmpl-") {
		t.Errorf("id = %q", out.ID)
	}
}

func TestFromGeminiResponseToolCall(t *testing.T) {
	res := &GeminiResponse{
		Candidates: []GeminiCandidate{{
			Content: GeminiContent{
				Role: "model",
				Parts: []GeminiPart{{
					FunctionCall: &GeminiFunctionCall{Name: "lookup", Args: map[string]any{"q": "x"}},
				}},
			},
		}},
	}
	out := FromGeminiResponse(res, "m")
	tcs := out.Choices[0].Message.ToolCalls
	if len(tcs) != 1 || tcs[0].Function.Name != "lookup" {
		t.Fatalf("tool calls = %+v", tcs)
	}
	if out.Choices[0].FinishReason != "tool_calls" {
		t.Errorf("finish = %q", out.Choices[0].FinishReason)
	}
	if !strings.Contains(tcs[0].Function.Arguments, `"q":"x"`) {
		t.Errorf("args = %q", tcs[0].Function.Arguments)
	}
}

func TestToAnthropicSystemAndTools(t *testing.T) {
	wire := ToAnthropic(sampleRequest())

	if wire.System != "be terse" {
		t.Errorf("system = %q", wire.System)
	}
	if wire.MaxTokens != 256 {
		t.Errorf("max_tokens = %d", wire.MaxTokens)
	}
	if len(wire.Messages) != 3 {
		t.Fatalf("messages = %d", len(wire.Messages))
	}
	if wire.Messages[1].Role != "assistant" {
		t.Errorf("role = %q", wire.Messages[1].Role)
	}
	if len(wire.Tools) != 1 || wire.Tools[0].Name != "lookup" {
		t.Error("tools not mapped")
	}
	if wire.Tools[0].InputSchema["type"] != "object" {
		t.Error("input schema not normalized")
	}
}

func TestToAnthropicDefaultsMaxTokens(t *testing.T) {
	req := &entity.ChatRequest{
		Model:    "m",
		Messages: []entity.Message{{Role: "user", Content: "hi"}},
	}
	wire := ToAnthropic(req)
	if wire.MaxTokens != DefaultAnthropicMaxTokens {
		t.Errorf("max_tokens = %d", wire.MaxTokens)
	}
}

func TestAnthropicToolResultBlock(t *testing.T) {
	req := &entity.ChatRequest{
		Model: "m",
		Messages: []entity.Message{
			{Role: "tool", ToolCallID: "toolu_1", Content: "result text"},
		},
	}
	wire := ToAnthropic(req)
	block := wire.Messages[0].Content[0]
	if block.Type != "tool_result" || block.ToolUseID != "toolu_1" || block.Content != "result text" {
		t.Errorf("block = %+v", block)
	}
	if wire.Messages[0].Role != "user" {
		t.Errorf("role = %q", wire.Messages[0].Role)
	}
}

func TestFromAnthropicResponse(t *testing.T) {
	res := &AnthropicResponse{
		ID:   "msg_01",
		Role: "assistant",
		Content: []AnthropicContentBlock{
			{Type: "text", Text: "calling a tool"},
			{Type: "tool_use", ID: "toolu_1", Name: "lookup", Input: map[string]any{"q": "x"}},
		},
		Model:      "claude-3",
		StopReason: "tool_use",
		Usage:      AnthropicUsage{InputTokens: 20, OutputTokens: 7},
	}
	out := FromAnthropicResponse(res)
	if out.FirstText() != "calling a tool" {
		t.Errorf("text = %q", out.FirstText())
	}
	if out.Choices[0].FinishReason != "tool_calls" {
		t.Errorf("finish = %q", out.Choices[0].FinishReason)
	}
	tcs := out.Choices[0].Message.ToolCalls
	if len(tcs) != 1 || tcs[0].ID != "toolu_1" || tcs[0].Function.Name != "lookup" {
		t.Fatalf("tool calls = %+v", tcs)
	}
	if out.Usage.TotalTokens != 27 {
		t.Errorf("usage = %+v", out.Usage)
	}
}
