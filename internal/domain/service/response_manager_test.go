package service

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/entity"
)

func TestCommandResponsePlain(t *testing.T) {
	m := NewResponseManager(nil)

	resp := m.CommandResponse("", "gpt-4", "set", "model set to gpt-4")
	if len(resp.Choices) != 1 {
		t.Fatalf("choices = %d", len(resp.Choices))
	}
	ch := resp.Choices[0]
	if ch.Message == nil || ch.Message.Content != "model set to gpt-4" {
		t.Errorf("message = %+v", ch.Message)
	}
	if ch.FinishReason != "stop" {
		t.Errorf("finish_reason = %q", ch.FinishReason)
	}
	if len(ch.Message.ToolCalls) != 0 {
		t.Error("plain envelope carries tool calls")
	}
	if !strings.HasPrefix(resp.ID, "chatcmpl-") {
		t.Errorf("id = %q", resp.ID)
	}
	if resp.Object != "chat.completion" {
		t.Errorf("object = %q", resp.Object)
	}
	if resp.Model != "gpt-4" {
		t.Errorf("model = %q", resp.Model)
	}
}

func TestCommandResponseCline(t *testing.T) {
	m := NewResponseManager(nil)

	resp := m.CommandResponse(AgentCline, "gpt-4", "hello", "done")
	ch := resp.Choices[0]
	if ch.FinishReason != "tool_calls" {
		t.Errorf("finish_reason = %q", ch.FinishReason)
	}
	if ch.Message.Content != "" {
		t.Errorf("content = %q, want empty", ch.Message.Content)
	}
	if len(ch.Message.ToolCalls) != 1 {
		t.Fatalf("tool_calls = %d", len(ch.Message.ToolCalls))
	}
	tc := ch.Message.ToolCalls[0]
	if tc.Function.Name != "hello" {
		t.Errorf("function = %q", tc.Function.Name)
	}
	var args map[string]string
	if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
		t.Fatalf("arguments not json: %v", err)
	}
	if args["result"] != "done" {
		t.Errorf("result = %q", args["result"])
	}
}

func TestCompressHandlerResult(t *testing.T) {
	m := NewResponseManager(NewPytestCompressor(5))

	var b strings.Builder
	for i := 0; i < 10; i++ {
		b.WriteString("tests/test_app.py::test_case PASSED\n")
	}
	b.WriteString("10 passed in 0.41s")
	verbose := b.String()

	state := entity.NewSessionState().
		WithPytestCompression(true).
		WithCompressNextToolReply(true).
		WithPytestCompressionMinLines(5)
	got := m.CompressHandlerResult(state, verbose)
	if strings.Contains(got, "PASSED") {
		t.Errorf("passed lines survived:\n%s", got)
	}
	if !strings.Contains(got, "10 passed in 0.41s") {
		t.Error("summary line was dropped")
	}

	// Either toggle off leaves the text alone.
	off := entity.NewSessionState().WithPytestCompression(true)
	if got := m.CompressHandlerResult(off, verbose); got != verbose {
		t.Error("compressed without the one-shot flag")
	}
	oneShot := entity.NewSessionState().WithCompressNextToolReply(true)
	if got := m.CompressHandlerResult(oneShot, verbose); got != verbose {
		t.Error("compressed with the feature toggle off")
	}
}

func TestAsStreamChunk(t *testing.T) {
	m := NewResponseManager(nil)

	full := m.CommandResponse("", "gpt-4", "hello", "hi")
	chunk := m.AsStreamChunk(full)

	if chunk.Object != "chat.completion.chunk" {
		t.Errorf("object = %q", chunk.Object)
	}
	if chunk.Choices[0].Delta == nil || chunk.Choices[0].Delta.Content != "hi" {
		t.Errorf("delta = %+v", chunk.Choices[0].Delta)
	}
	if chunk.Choices[0].Message != nil {
		t.Error("chunk still carries a full message")
	}
	// The original response is untouched.
	if full.Object != "chat.completion" || full.Choices[0].Message == nil {
		t.Error("AsStreamChunk mutated its input")
	}
}
