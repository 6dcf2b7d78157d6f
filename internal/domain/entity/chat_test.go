package entity

import "testing"

func TestMessageTextContent(t *testing.T) {
	plain := Message{Role: "user", Content: "hello"}
	if got := plain.TextContent(); got != "hello" {
		t.Errorf("TextContent = %q", got)
	}

	parts := Message{Role: "user", Parts: []ContentPart{
		{Type: "text", Text: "first"},
		{Type: "image", MediaURL: "https://example.com/x.png"},
		{Type: "text", Text: "second"},
	}}
	if got := parts.TextContent(); got != "first\nsecond" {
		t.Errorf("TextContent = %q", got)
	}

	noText := Message{Role: "user", Content: "fallback", Parts: []ContentPart{{Type: "image", MediaURL: "u"}}}
	if got := noText.TextContent(); got != "fallback" {
		t.Errorf("TextContent fallback = %q", got)
	}
}

func TestMessageRewriteText(t *testing.T) {
	m := Message{Role: "user", Content: "secret", Parts: []ContentPart{
		{Type: "text", Text: "secret too"},
		{Type: "image", MediaURL: "untouched"},
	}}
	m.RewriteText(func(s string) string { return "X" })
	if m.Content != "X" || m.Parts[0].Text != "X" {
		t.Errorf("rewrite missed content: %q / %q", m.Content, m.Parts[0].Text)
	}
	if m.Parts[1].MediaURL != "untouched" {
		t.Error("rewrite touched non-text part")
	}
}

func TestMessageIsTextEmpty(t *testing.T) {
	cases := []struct {
		name string
		m    Message
		want bool
	}{
		{"empty", Message{Role: "user"}, true},
		{"whitespace", Message{Role: "user", Content: "  \n\t"}, true},
		{"text", Message{Role: "user", Content: "x"}, false},
		{"empty text part", Message{Role: "user", Parts: []ContentPart{{Type: "text", Text: " "}}}, true},
		{"image part", Message{Role: "user", Parts: []ContentPart{{Type: "image", MediaURL: "u"}}}, false},
	}
	for _, tc := range cases {
		if got := tc.m.IsTextEmpty(); got != tc.want {
			t.Errorf("%s: IsTextEmpty = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestChatRequestClone(t *testing.T) {
	temp := 0.5
	req := &ChatRequest{
		Model:       "gpt-4",
		Temperature: &temp,
		Messages:    []Message{{Role: "user", Content: "hi", Parts: []ContentPart{{Type: "text", Text: "hi"}}}},
		Extra:       map[string]any{"reasoning_effort": "high"},
	}
	c := req.Clone()
	c.Messages[0].Content = "changed"
	c.Messages[0].Parts[0].Text = "changed"
	c.Extra["reasoning_effort"] = "low"

	if req.Messages[0].Content != "hi" || req.Messages[0].Parts[0].Text != "hi" {
		t.Error("clone aliased messages")
	}
	if req.Extra["reasoning_effort"] != "high" {
		t.Error("clone aliased extra map")
	}
}

func TestUsageTotal(t *testing.T) {
	if got := (&Usage{PromptTokens: 10, CompletionTokens: 5}).Total(); got != 15 {
		t.Errorf("Total = %d, want 15", got)
	}
	if got := (&Usage{TotalTokens: 42}).Total(); got != 42 {
		t.Errorf("Total = %d, want 42", got)
	}
	var u *Usage
	if got := u.Total(); got != 0 {
		t.Errorf("nil Total = %d, want 0", got)
	}
}

func TestChatResponseFirstText(t *testing.T) {
	resp := &ChatResponse{Choices: []Choice{{Message: &Message{Role: "assistant", Content: "answer"}}}}
	if got := resp.FirstText(); got != "answer" {
		t.Errorf("FirstText = %q", got)
	}
	chunk := &ChatResponse{Choices: []Choice{{Delta: &Message{Content: "delta"}}}}
	if got := chunk.FirstText(); got != "delta" {
		t.Errorf("FirstText delta = %q", got)
	}
	if got := (&ChatResponse{}).FirstText(); got != "" {
		t.Errorf("FirstText empty = %q", got)
	}
}
