package translation

import (
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/entity"
)

// --- OpenAI chat completions wire types ---
// The canonical entity types are OpenAI-shaped on purpose, so this file is
// mostly field plumbing: flatten multimodal parts to the content-array form
// and hoist the reasoning extras the canonical schema keeps in Extra.

// OpenAIRequest is the /chat/completions request body.
type OpenAIRequest struct {
	Model           string          `json:"model"`
	Messages        []OpenAIMessage `json:"messages"`
	Temperature     *float64        `json:"temperature,omitempty"`
	TopP            *float64        `json:"top_p,omitempty"`
	MaxTokens       *int            `json:"max_tokens,omitempty"`
	Stop            []string        `json:"stop,omitempty"`
	Stream          bool            `json:"stream,omitempty"`
	StreamOptions   map[string]any  `json:"stream_options,omitempty"`
	Tools           []entity.Tool   `json:"tools,omitempty"`
	ToolChoice      any             `json:"tool_choice,omitempty"`
	User            string          `json:"user,omitempty"`
	ReasoningEffort string          `json:"reasoning_effort,omitempty"`
}

// OpenAIMessage is one wire message. Content is either a plain string or an
// array of content parts; ContentParts wins when non-empty.
type OpenAIMessage struct {
	Role       string            `json:"role"`
	Content    any               `json:"content"`
	Name       string            `json:"name,omitempty"`
	ToolCalls  []entity.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
}

// OpenAIContentPart is one element of an array-form message content.
type OpenAIContentPart struct {
	Type     string          `json:"type"` // "text" | "image_url"
	Text     string          `json:"text,omitempty"`
	ImageURL *OpenAIImageURL `json:"image_url,omitempty"`
}

// OpenAIImageURL carries an image reference, either https or a data: URL.
type OpenAIImageURL struct {
	URL string `json:"url"`
}

// ToOpenAI converts a canonical request to the OpenAI wire shape.
func ToOpenAI(req *entity.ChatRequest) *OpenAIRequest {
	out := &OpenAIRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Stop:        req.Stop,
		Stream:      req.Stream,
		Tools:       req.Tools,
		ToolChoice:  req.ToolChoice,
		User:        req.User,
	}
	if v, ok := req.Extra["reasoning_effort"].(string); ok {
		out.ReasoningEffort = v
	}

	for _, m := range req.Messages {
		wm := OpenAIMessage{
			Role:       m.Role,
			Name:       m.Name,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
		}
		if len(m.Parts) == 0 {
			wm.Content = m.Content
		} else {
			parts := make([]OpenAIContentPart, 0, len(m.Parts))
			for _, p := range m.Parts {
				switch p.Type {
				case "text":
					parts = append(parts, OpenAIContentPart{Type: "text", Text: p.Text})
				case "image":
					parts = append(parts, OpenAIContentPart{
						Type:     "image_url",
						ImageURL: &OpenAIImageURL{URL: p.MediaURL},
					})
				}
			}
			wm.Content = parts
		}
		out.Messages = append(out.Messages, wm)
	}
	return out
}

// FromOpenAI converts an inbound OpenAI wire request to the canonical form.
func FromOpenAI(req *OpenAIRequest) *entity.ChatRequest {
	out := &entity.ChatRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Stop:        req.Stop,
		Stream:      req.Stream,
		Tools:       req.Tools,
		ToolChoice:  req.ToolChoice,
		User:        req.User,
	}
	if req.ReasoningEffort != "" {
		out.Extra = map[string]any{"reasoning_effort": req.ReasoningEffort}
	}

	for _, wm := range req.Messages {
		m := entity.Message{
			Role:       wm.Role,
			Name:       wm.Name,
			ToolCalls:  wm.ToolCalls,
			ToolCallID: wm.ToolCallID,
		}
		switch content := wm.Content.(type) {
		case string:
			m.Content = content
		case []OpenAIContentPart:
			for _, p := range content {
				switch p.Type {
				case "text":
					m.Parts = append(m.Parts, entity.ContentPart{Type: "text", Text: p.Text})
				case "image_url":
					if p.ImageURL != nil {
						m.Parts = append(m.Parts, entity.ContentPart{Type: "image", MediaURL: p.ImageURL.URL})
					}
				}
			}
		case []any:
			for _, raw := range content {
				part, ok := raw.(map[string]any)
				if !ok {
					continue
				}
				switch part["type"] {
				case "text":
					text, _ := part["text"].(string)
					m.Parts = append(m.Parts, entity.ContentPart{Type: "text", Text: text})
				case "image_url":
					if img, ok := part["image_url"].(map[string]any); ok {
						url, _ := img["url"].(string)
						m.Parts = append(m.Parts, entity.ContentPart{Type: "image", MediaURL: url})
					}
				}
			}
		}
		out.Messages = append(out.Messages, m)
	}
	return out
}
