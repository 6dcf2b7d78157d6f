package service

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/entity"
	proxyerrors "github.com/matdev83/llm-interactive-proxy-sub007/pkg/errors"
)

func toolCallRequest(name, args string) *entity.ChatRequest {
	return &entity.ChatRequest{Messages: []entity.Message{
		{Role: "user", Content: "do it"},
		{Role: "assistant", ToolCalls: []entity.ToolCall{{
			ID: "1", Type: "function",
			Function: entity.FunctionCall{Name: name, Arguments: args},
		}}},
		{Role: "tool", ToolCallID: "1", Content: "result"},
	}}
}

func loopCfg(mode string, maxRepeats int) entity.LoopConfig {
	return entity.LoopConfig{
		Enabled:         true,
		ToolLoopEnabled: true,
		ToolLoopMode:    mode,
		MaxRepeats:      maxRepeats,
		TTL:             time.Minute,
	}
}

func TestLoopDetectorBreaks(t *testing.T) {
	d := NewLoopDetector(zap.NewNop())
	cfg := loopCfg(entity.ToolLoopModeBreak, 3)

	req := toolCallRequest("read_file", `{"path":"a.go"}`)
	for i := 0; i < 2; i++ {
		if err := d.Check("s", cfg, req); err != nil {
			t.Fatalf("tripped early at %d: %v", i+1, err)
		}
	}
	err := d.Check("s", cfg, req)
	if err == nil {
		t.Fatal("loop not detected at threshold")
	}
	pe := proxyerrors.AsProxyError(err)
	if pe.Code != proxyerrors.CodeLoopDetected {
		t.Errorf("code = %s", pe.Code)
	}
}

func TestLoopDetectorChanceThenBreak(t *testing.T) {
	d := NewLoopDetector(zap.NewNop())
	cfg := loopCfg(entity.ToolLoopModeChanceThenBreak, 3)

	req := toolCallRequest("read_file", `{"path":"a.go"}`)
	for i := 0; i < 3; i++ {
		if err := d.Check("s", cfg, req); err != nil {
			t.Fatalf("tripped during grace at %d: %v", i+1, err)
		}
	}
	if err := d.Check("s", cfg, req); err == nil {
		t.Fatal("loop not detected after grace repeat")
	}
}

func TestLoopDetectorDifferentArgsNoTrip(t *testing.T) {
	d := NewLoopDetector(zap.NewNop())
	cfg := loopCfg(entity.ToolLoopModeBreak, 3)

	for i, args := range []string{`{"p":1}`, `{"p":2}`, `{"p":3}`, `{"p":4}`} {
		if err := d.Check("s", cfg, toolCallRequest("read_file", args)); err != nil {
			t.Fatalf("tripped on varying args at %d: %v", i, err)
		}
	}
}

func TestLoopDetectorResetsOnPlainTurn(t *testing.T) {
	d := NewLoopDetector(zap.NewNop())
	cfg := loopCfg(entity.ToolLoopModeBreak, 3)

	req := toolCallRequest("cmd", `{}`)
	d.Check("s", cfg, req)
	d.Check("s", cfg, req)

	// A text-only assistant turn ends the streak.
	plain := &entity.ChatRequest{Messages: []entity.Message{
		{Role: "assistant", Content: "done"},
		{Role: "user", Content: "thanks"},
	}}
	if err := d.Check("s", cfg, plain); err != nil {
		t.Fatalf("plain turn errored: %v", err)
	}
	if err := d.Check("s", cfg, req); err != nil {
		t.Fatalf("streak survived reset: %v", err)
	}
}

func TestLoopDetectorTTLExpiry(t *testing.T) {
	d := NewLoopDetector(zap.NewNop())
	cfg := loopCfg(entity.ToolLoopModeBreak, 3)
	cfg.TTL = 10 * time.Millisecond

	req := toolCallRequest("cmd", `{}`)
	d.Check("s", cfg, req)
	d.Check("s", cfg, req)
	time.Sleep(20 * time.Millisecond)
	if err := d.Check("s", cfg, req); err != nil {
		t.Fatalf("expired entries still counted: %v", err)
	}
}

func TestLoopDetectorDisabled(t *testing.T) {
	d := NewLoopDetector(zap.NewNop())
	cfg := loopCfg(entity.ToolLoopModeBreak, 1)
	cfg.Enabled = false

	req := toolCallRequest("cmd", `{}`)
	for i := 0; i < 5; i++ {
		if err := d.Check("s", cfg, req); err != nil {
			t.Fatalf("disabled detector tripped: %v", err)
		}
	}
}

func TestLoopDetectorPerSessionIsolation(t *testing.T) {
	d := NewLoopDetector(zap.NewNop())
	cfg := loopCfg(entity.ToolLoopModeBreak, 3)

	req := toolCallRequest("cmd", `{}`)
	d.Check("a", cfg, req)
	d.Check("a", cfg, req)
	if err := d.Check("b", cfg, req); err != nil {
		t.Fatalf("session b inherited session a's streak: %v", err)
	}

	d.Reset("a")
	if err := d.Check("a", cfg, req); err != nil {
		t.Fatalf("reset did not clear streak: %v", err)
	}
}
