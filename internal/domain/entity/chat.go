package entity

import "strings"

// ChatRequest is the canonical chat-completion request used inside the proxy.
// Front-end handlers translate their wire format into this shape and
// connectors translate it back out, so every middleware stage sees one type.
type ChatRequest struct {
	Model       string         `json:"model"`
	Messages    []Message      `json:"messages"`
	Temperature *float64       `json:"temperature,omitempty"`
	TopP        *float64       `json:"top_p,omitempty"`
	MaxTokens   *int           `json:"max_tokens,omitempty"`
	Stop        []string       `json:"stop,omitempty"`
	Stream      bool           `json:"stream,omitempty"`
	Tools       []Tool         `json:"tools,omitempty"`
	ToolChoice  any            `json:"tool_choice,omitempty"`
	User        string         `json:"user,omitempty"`
	// Extra carries provider-specific fields the canonical schema does not
	// model (reasoning_effort, thinking budgets). Connectors forward what
	// they understand and drop the rest.
	Extra map[string]any `json:"-"`
}

// Clone returns a deep copy. Middleware stages that rewrite messages work on
// a copy so the original request stays untouched for capture.
func (r *ChatRequest) Clone() *ChatRequest {
	if r == nil {
		return nil
	}
	out := *r
	out.Messages = make([]Message, len(r.Messages))
	for i := range r.Messages {
		out.Messages[i] = r.Messages[i].Clone()
	}
	if r.Stop != nil {
		out.Stop = append([]string(nil), r.Stop...)
	}
	if r.Tools != nil {
		out.Tools = append([]Tool(nil), r.Tools...)
	}
	if r.Extra != nil {
		out.Extra = make(map[string]any, len(r.Extra))
		for k, v := range r.Extra {
			out.Extra[k] = v
		}
	}
	return &out
}

// Message is a single conversation turn. Content holds plain text; Parts
// holds multimodal content and takes precedence when non-empty.
type Message struct {
	Role       string        `json:"role"` // "system", "user", "assistant", "tool"
	Content    string        `json:"content"`
	Parts      []ContentPart `json:"parts,omitempty"`
	Name       string        `json:"name,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

// ContentPart is a multimodal content fragment.
type ContentPart struct {
	Type     string `json:"type"` // "text", "image", "audio", "file"
	Text     string `json:"text,omitempty"`
	MediaURL string `json:"media_url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	out := m
	if m.Parts != nil {
		out.Parts = append([]ContentPart(nil), m.Parts...)
	}
	if m.ToolCalls != nil {
		out.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	}
	return out
}

// TextContent returns the message text, joining text parts or falling back
// to Content.
func (m *Message) TextContent() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var texts []string
	for _, p := range m.Parts {
		if p.Type == "text" && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	if len(texts) == 0 {
		return m.Content
	}
	return strings.Join(texts, "\n")
}

// RewriteText applies fn to the plain content and every text part. Non-text
// parts pass through untouched.
func (m *Message) RewriteText(fn func(string) string) {
	if m.Content != "" {
		m.Content = fn(m.Content)
	}
	for i := range m.Parts {
		if m.Parts[i].Type == "text" && m.Parts[i].Text != "" {
			m.Parts[i].Text = fn(m.Parts[i].Text)
		}
	}
}

// IsTextEmpty reports whether the message carries no text and no non-text
// parts, i.e. nothing worth forwarding.
func (m *Message) IsTextEmpty() bool {
	if strings.TrimSpace(m.Content) != "" {
		return false
	}
	for _, p := range m.Parts {
		if p.Type == "text" {
			if strings.TrimSpace(p.Text) != "" {
				return false
			}
			continue
		}
		return false
	}
	return true
}

// Tool is an OpenAI-style tool definition.
type Tool struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes a callable function exposed to the model.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolCall is a model-issued function invocation.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the function name and its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatResponse is the canonical (OpenAI-shaped) completion response.
type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Choice is one completion alternative. Message is set on full responses,
// Delta on streaming chunks.
type Choice struct {
	Index        int      `json:"index"`
	Message      *Message `json:"message,omitempty"`
	Delta        *Message `json:"delta,omitempty"`
	FinishReason string   `json:"finish_reason,omitempty"`
}

// FirstText returns the text of the first choice, empty when absent.
func (r *ChatResponse) FirstText() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	if r.Choices[0].Message != nil {
		return r.Choices[0].Message.TextContent()
	}
	if r.Choices[0].Delta != nil {
		return r.Choices[0].Delta.TextContent()
	}
	return ""
}

// Usage is token accounting for a completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Total returns the total token count, deriving it from the parts when the
// upstream left the field zero.
func (u *Usage) Total() int {
	if u == nil {
		return 0
	}
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.PromptTokens + u.CompletionTokens
}
