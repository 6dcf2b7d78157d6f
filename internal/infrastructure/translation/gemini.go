package translation

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/entity"
)

// --- Gemini generateContent wire types ---
// Reference: https://ai.google.dev/api/rest/v1beta/models/generateContent
//
// Divergences from the OpenAI shape: contents[].parts[] instead of flat
// message content, the assistant role is spelled "model", the system prompt
// travels in systemInstruction, tool calls are functionCall parts and tool
// results functionResponse parts inside a user turn.

// GeminiRequest is the generateContent request body.
type GeminiRequest struct {
	Contents          []GeminiContent         `json:"contents"`
	SystemInstruction *GeminiContent          `json:"systemInstruction,omitempty"`
	Tools             []GeminiToolDeclaration `json:"tools,omitempty"`
	GenerationConfig  *GeminiGenerationConfig `json:"generationConfig,omitempty"`
}

// GeminiContent is one conversation turn.
type GeminiContent struct {
	Role  string       `json:"role,omitempty"` // "user" | "model"
	Parts []GeminiPart `json:"parts"`
}

// GeminiPart is a polymorphic content element.
type GeminiPart struct {
	Text             string                  `json:"text,omitempty"`
	InlineData       *GeminiBlob             `json:"inlineData,omitempty"`
	FileData         *GeminiFileData         `json:"fileData,omitempty"`
	FunctionCall     *GeminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *GeminiFunctionResponse `json:"functionResponse,omitempty"`
}

// GeminiBlob is base64-encoded inline media.
type GeminiBlob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// GeminiFileData references remote media by URI.
type GeminiFileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri"`
}

// GeminiFunctionCall is a model-issued tool invocation.
type GeminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// GeminiFunctionResponse carries a tool result back to the model.
type GeminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// GeminiToolDeclaration wraps function declarations.
type GeminiToolDeclaration struct {
	FunctionDeclarations []GeminiFunctionDeclaration `json:"functionDeclarations"`
}

// GeminiFunctionDeclaration defines one callable function.
type GeminiFunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// GeminiGenerationConfig maps the sampling knobs.
type GeminiGenerationConfig struct {
	Temperature     *float64              `json:"temperature,omitempty"`
	TopP            *float64              `json:"topP,omitempty"`
	MaxOutputTokens int                   `json:"maxOutputTokens,omitempty"`
	StopSequences   []string              `json:"stopSequences,omitempty"`
	ThinkingConfig  *GeminiThinkingConfig `json:"thinkingConfig,omitempty"`
}

// GeminiThinkingConfig carries the thinking-token budget.
type GeminiThinkingConfig struct {
	ThinkingBudget int `json:"thinkingBudget"`
}

// GeminiResponse is the generateContent response body.
type GeminiResponse struct {
	Candidates    []GeminiCandidate    `json:"candidates"`
	UsageMetadata *GeminiUsageMetadata `json:"usageMetadata,omitempty"`
	ModelVersion  string               `json:"modelVersion,omitempty"`
}

// GeminiCandidate is one response alternative.
type GeminiCandidate struct {
	Content      GeminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"` // "STOP" | "MAX_TOKENS" | "SAFETY"
	Index        int           `json:"index"`
}

// GeminiUsageMetadata reports token consumption.
type GeminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// ToGemini converts a canonical request to the Gemini wire shape. System
// messages merge into systemInstruction; assistant turns become "model";
// tool result messages become functionResponse parts in a user turn.
func ToGemini(req *entity.ChatRequest) *GeminiRequest {
	out := &GeminiRequest{}

	var systemParts []GeminiPart
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			systemParts = append(systemParts, GeminiPart{Text: m.TextContent()})

		case "assistant":
			content := GeminiContent{Role: "model", Parts: contentParts(&m)}
			for _, tc := range m.ToolCalls {
				content.Parts = append(content.Parts, GeminiPart{
					FunctionCall: &GeminiFunctionCall{
						Name: tc.Function.Name,
						Args: decodeArgs(tc.Function.Arguments),
					},
				})
			}
			out.Contents = append(out.Contents, content)

		case "tool":
			out.Contents = append(out.Contents, GeminiContent{
				Role: "user",
				Parts: []GeminiPart{{
					FunctionResponse: &GeminiFunctionResponse{
						Name:     m.Name,
						Response: map[string]any{"result": m.TextContent()},
					},
				}},
			})

		default:
			out.Contents = append(out.Contents, GeminiContent{
				Role:  "user",
				Parts: contentParts(&m),
			})
		}
	}
	if len(systemParts) > 0 {
		out.SystemInstruction = &GeminiContent{Parts: systemParts}
	}

	if len(req.Tools) > 0 {
		decl := GeminiToolDeclaration{}
		for _, t := range req.Tools {
			decl.FunctionDeclarations = append(decl.FunctionDeclarations, GeminiFunctionDeclaration{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			})
		}
		out.Tools = []GeminiToolDeclaration{decl}
	}

	gc := &GeminiGenerationConfig{
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: req.Stop,
	}
	if req.MaxTokens != nil {
		gc.MaxOutputTokens = *req.MaxTokens
	}
	if budget, ok := intExtra(req.Extra, "thinking_budget"); ok {
		gc.ThinkingConfig = &GeminiThinkingConfig{ThinkingBudget: budget}
	}
	if gc.Temperature != nil || gc.TopP != nil || gc.MaxOutputTokens > 0 ||
		len(gc.StopSequences) > 0 || gc.ThinkingConfig != nil {
		out.GenerationConfig = gc
	}
	return out
}

// contentParts renders a canonical message's content as Gemini parts:
// data: URLs become inlineData, other URLs fileData.
func contentParts(m *entity.Message) []GeminiPart {
	if len(m.Parts) == 0 {
		if m.Content == "" {
			return nil
		}
		return []GeminiPart{{Text: m.Content}}
	}
	var out []GeminiPart
	for _, p := range m.Parts {
		switch p.Type {
		case "text":
			out = append(out, GeminiPart{Text: p.Text})
		default:
			if mime, data, ok := parseDataURL(p.MediaURL); ok {
				out = append(out, GeminiPart{InlineData: &GeminiBlob{MimeType: mime, Data: data}})
			} else if p.MediaURL != "" {
				out = append(out, GeminiPart{FileData: &GeminiFileData{
					MimeType: p.MimeType,
					FileURI:  p.MediaURL,
				}})
			}
		}
	}
	return out
}

// parseDataURL splits "data:<mime>;base64,<payload>".
func parseDataURL(url string) (mime, data string, ok bool) {
	if !strings.HasPrefix(url, "data:") {
		return "", "", false
	}
	rest := strings.TrimPrefix(url, "data:")
	i := strings.Index(rest, ";base64,")
	if i < 0 {
		return "", "", false
	}
	return rest[:i], rest[i+len(";base64,"):], true
}

// FromGemini converts an inbound Gemini wire request (from a Gemini-speaking
// client) to the canonical form. The model arrives in the URL, not the body.
func FromGemini(model string, req *GeminiRequest) *entity.ChatRequest {
	out := &entity.ChatRequest{Model: model}

	if req.SystemInstruction != nil {
		var texts []string
		for _, p := range req.SystemInstruction.Parts {
			if p.Text != "" {
				texts = append(texts, p.Text)
			}
		}
		if len(texts) > 0 {
			out.Messages = append(out.Messages, entity.Message{
				Role:    "system",
				Content: strings.Join(texts, "\n"),
			})
		}
	}

	for _, c := range req.Contents {
		role := "user"
		if c.Role == "model" {
			role = "assistant"
		}
		m := entity.Message{Role: role}
		for _, p := range c.Parts {
			switch {
			case p.FunctionCall != nil:
				args, _ := json.Marshal(p.FunctionCall.Args)
				m.ToolCalls = append(m.ToolCalls, entity.ToolCall{
					ID:   "call_" + uuid.NewString(),
					Type: "function",
					Function: entity.FunctionCall{
						Name:      p.FunctionCall.Name,
						Arguments: string(args),
					},
				})
			case p.FunctionResponse != nil:
				result, _ := json.Marshal(p.FunctionResponse.Response)
				out.Messages = append(out.Messages, entity.Message{
					Role:    "tool",
					Name:    p.FunctionResponse.Name,
					Content: string(result),
				})
			case p.InlineData != nil:
				m.Parts = append(m.Parts, entity.ContentPart{
					Type:     "image",
					MediaURL: "data:" + p.InlineData.MimeType + ";base64," + p.InlineData.Data,
					MimeType: p.InlineData.MimeType,
				})
			case p.FileData != nil:
				m.Parts = append(m.Parts, entity.ContentPart{
					Type:     "file",
					MediaURL: p.FileData.FileURI,
					MimeType: p.FileData.MimeType,
				})
			case p.Text != "":
				m.Parts = append(m.Parts, entity.ContentPart{Type: "text", Text: p.Text})
			}
		}
		// A content made only of functionResponse parts contributed tool
		// messages above and has nothing left itself.
		if len(m.Parts) > 0 || len(m.ToolCalls) > 0 {
			// Single text part collapses to plain content.
			if len(m.Parts) == 1 && m.Parts[0].Type == "text" {
				m.Content = m.Parts[0].Text
				m.Parts = nil
			}
			out.Messages = append(out.Messages, m)
		}
	}

	if req.GenerationConfig != nil {
		out.Temperature = req.GenerationConfig.Temperature
		out.TopP = req.GenerationConfig.TopP
		if req.GenerationConfig.MaxOutputTokens > 0 {
			n := req.GenerationConfig.MaxOutputTokens
			out.MaxTokens = &n
		}
		out.Stop = req.GenerationConfig.StopSequences
		if req.GenerationConfig.ThinkingConfig != nil {
			out.Extra = map[string]any{
				"thinking_budget": req.GenerationConfig.ThinkingConfig.ThinkingBudget,
			}
		}
	}

	for _, t := range req.Tools {
		for _, fd := range t.FunctionDeclarations {
			out.Tools = append(out.Tools, entity.Tool{
				Type: "function",
				Function: entity.FunctionDefinition{
					Name:        fd.Name,
					Description: fd.Description,
					Parameters:  fd.Parameters,
				},
			})
		}
	}
	return out
}

// FromGeminiResponse converts an upstream Gemini response to the canonical
// OpenAI-shaped response.
func FromGeminiResponse(res *GeminiResponse, model string) *entity.ChatResponse {
	out := &entity.ChatResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
	}
	if res.ModelVersion != "" {
		out.Model = res.ModelVersion
	}

	for i, cand := range res.Candidates {
		msg := &entity.Message{Role: "assistant"}
		var texts []string
		for _, p := range cand.Content.Parts {
			if p.Text != "" {
				texts = append(texts, p.Text)
			}
			if p.FunctionCall != nil {
				args, _ := json.Marshal(p.FunctionCall.Args)
				msg.ToolCalls = append(msg.ToolCalls, entity.ToolCall{
					ID:   "call_" + uuid.NewString(),
					Type: "function",
					Function: entity.FunctionCall{
						Name:      p.FunctionCall.Name,
						Arguments: string(args),
					},
				})
			}
		}
		msg.Content = strings.Join(texts, "")
		out.Choices = append(out.Choices, entity.Choice{
			Index:        i,
			Message:      msg,
			FinishReason: geminiFinishReason(cand.FinishReason, len(msg.ToolCalls) > 0),
		})
	}

	if res.UsageMetadata != nil {
		out.Usage = &entity.Usage{
			PromptTokens:     res.UsageMetadata.PromptTokenCount,
			CompletionTokens: res.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      res.UsageMetadata.TotalTokenCount,
		}
	}
	return out
}

// ToGeminiResponse converts a canonical response to the Gemini wire shape,
// for clients speaking the Gemini surface.
func ToGeminiResponse(res *entity.ChatResponse) *GeminiResponse {
	out := &GeminiResponse{ModelVersion: res.Model}
	for _, ch := range res.Choices {
		msg := ch.Message
		if msg == nil {
			msg = ch.Delta
		}
		if msg == nil {
			continue
		}
		content := GeminiContent{Role: "model"}
		if text := msg.TextContent(); text != "" {
			content.Parts = append(content.Parts, GeminiPart{Text: text})
		}
		for _, tc := range msg.ToolCalls {
			content.Parts = append(content.Parts, GeminiPart{
				FunctionCall: &GeminiFunctionCall{
					Name: tc.Function.Name,
					Args: decodeArgs(tc.Function.Arguments),
				},
			})
		}
		out.Candidates = append(out.Candidates, GeminiCandidate{
			Content:      content,
			FinishReason: openAIFinishToGemini(ch.FinishReason),
			Index:        ch.Index,
		})
	}
	if res.Usage != nil {
		out.UsageMetadata = &GeminiUsageMetadata{
			PromptTokenCount:     res.Usage.PromptTokens,
			CandidatesTokenCount: res.Usage.CompletionTokens,
			TotalTokenCount:      res.Usage.Total(),
		}
	}
	return out
}

func geminiFinishReason(reason string, hasToolCalls bool) string {
	if hasToolCalls {
		return "tool_calls"
	}
	switch reason {
	case "STOP", "":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION":
		return "content_filter"
	}
	return "stop"
}

func openAIFinishToGemini(reason string) string {
	switch reason {
	case "length":
		return "MAX_TOKENS"
	case "content_filter":
		return "SAFETY"
	case "":
		return ""
	}
	return "STOP"
}

func decodeArgs(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{}
	}
	return args
}

func intExtra(extra map[string]any, key string) (int, bool) {
	switch v := extra[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}
