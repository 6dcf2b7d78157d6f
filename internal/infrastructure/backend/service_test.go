package backend

import (
	"bufio"
	"context"
	"io"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/entity"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/config"
)

// stubConnector serves canned responses for service tests.
type stubConnector struct {
	name     string
	models   []string
	initErr  error
	initKey  string
	lastCall CallRequest
}

func (s *stubConnector) Name() string { return s.name }
func (s *stubConnector) Initialize(_ context.Context, key string) error {
	s.initKey = key
	return s.initErr
}
func (s *stubConnector) AvailableModels() []string { return s.models }
func (s *stubConnector) ChatCompletions(_ context.Context, call CallRequest) (*entity.ChatResponse, error) {
	s.lastCall = call
	return &entity.ChatResponse{
		Model: call.Model,
		Choices: []entity.Choice{{
			Message:      &entity.Message{Role: "assistant", Content: "ok"},
			FinishReason: "stop",
		}},
	}, nil
}
func (s *stubConnector) StreamChatCompletions(_ context.Context, call CallRequest) (io.ReadCloser, error) {
	res, _ := s.ChatCompletions(context.Background(), call)
	return ResponseToSSE(res), nil
}

func init() {
	RegisterFactory("stub", func(name string, cfg config.BackendConfig, _ *zap.Logger) (Connector, error) {
		return &stubConnector{name: name, models: cfg.Models}, nil
	})
	RegisterFactory("stub-broken", func(name string, cfg config.BackendConfig, _ *zap.Logger) (Connector, error) {
		return &stubConnector{name: name, initErr: io.ErrUnexpectedEOF}, nil
	})
}

func testConfig() *config.Config {
	return &config.Config{
		Backends: map[string]config.BackendConfig{
			"alpha": {Type: "stub", Models: []string{"m1", "m2"}, APIKeys: []string{"k1", "k2"}},
			"beta":  {Type: "stub-broken"},
		},
	}
}

func TestServiceInitializeMarksFunctional(t *testing.T) {
	s := NewService(testConfig(), zap.NewNop())
	s.Initialize(context.Background())

	fb := s.FunctionalBackends()
	if len(fb) != 1 || fb[0] != "alpha" {
		t.Fatalf("functional = %v", fb)
	}
	if !s.HasBackend("beta") {
		t.Error("broken backend should still be configured")
	}
	if s.HasBackend("gamma") {
		t.Error("phantom backend")
	}
	stub := s.backends["alpha"].connector.(*stubConnector)
	if stub.initKey != "k1" {
		t.Errorf("probe key = %q, want the pool's first key", stub.initKey)
	}
}

func TestServiceValidate(t *testing.T) {
	s := NewService(testConfig(), zap.NewNop())
	s.Initialize(context.Background())

	if ok, _ := s.Validate("alpha", "m1"); !ok {
		t.Error("known model rejected")
	}
	if ok, reason := s.Validate("alpha", "m9"); ok || !strings.Contains(reason, "m9") {
		t.Errorf("unknown model accepted: %q", reason)
	}
	if ok, reason := s.Validate("beta", "m1"); ok || !strings.Contains(reason, "not functional") {
		t.Errorf("non-functional backend validated: %q", reason)
	}
	if ok, _ := s.Validate("gamma", "m1"); ok {
		t.Error("unknown backend validated")
	}
}

func TestServiceCompletePassesKey(t *testing.T) {
	s := NewService(testConfig(), zap.NewNop())
	s.Initialize(context.Background())

	req := &entity.ChatRequest{Messages: []entity.Message{{Role: "user", Content: "hi"}}}
	res, err := s.Complete(context.Background(), "alpha", "m1", -1, req)
	if err != nil {
		t.Fatal(err)
	}
	if res.FirstText() != "ok" {
		t.Errorf("text = %q", res.FirstText())
	}

	stub := s.backends["alpha"].connector.(*stubConnector)
	if stub.lastCall.APIKey != "k1" {
		t.Errorf("first call key = %q", stub.lastCall.APIKey)
	}
	if stub.lastCall.KeyName != "ALPHA_API_KEY_1" {
		t.Errorf("key name = %q", stub.lastCall.KeyName)
	}

	// Rotation on the second call.
	if _, err := s.Complete(context.Background(), "alpha", "m1", -1, req); err != nil {
		t.Fatal(err)
	}
	if stub.lastCall.APIKey != "k2" {
		t.Errorf("second call key = %q", stub.lastCall.APIKey)
	}

	// Pinned slot wins over rotation.
	if _, err := s.Complete(context.Background(), "alpha", "m1", 0, req); err != nil {
		t.Fatal(err)
	}
	if stub.lastCall.APIKey != "k1" {
		t.Errorf("pinned call key = %q", stub.lastCall.APIKey)
	}
}

func TestServiceCompleteNonFunctional(t *testing.T) {
	s := NewService(testConfig(), zap.NewNop())
	s.Initialize(context.Background())

	req := &entity.ChatRequest{}
	if _, err := s.Complete(context.Background(), "beta", "m1", -1, req); err == nil {
		t.Error("dispatch to non-functional backend succeeded")
	}
	if _, err := s.Complete(context.Background(), "gamma", "m1", -1, req); err == nil {
		t.Error("dispatch to unknown backend succeeded")
	}
}

func TestResolveEffectiveModel(t *testing.T) {
	cases := []struct {
		name         string
		state        entity.SessionState
		reqModel     string
		wantBackend  string
		wantModel    string
	}{
		{"request only", entity.SessionState{}, "gpt-4", "", "gpt-4"},
		{"session pins model", entity.SessionState{Model: "m2"}, "gpt-4", "", "m2"},
		{"session pins both", entity.SessionState{Backend: "alpha", Model: "m1"}, "gpt-4", "alpha", "m1"},
		{"prefixed request", entity.SessionState{}, "alpha:m1", "alpha", "m1"},
		{"prefixed session model", entity.SessionState{Model: "beta:m3"}, "gpt-4", "beta", "m3"},
		{"session backend beats request prefix", entity.SessionState{Backend: "alpha"}, "beta:m3", "alpha", "m3"},
		{"session model prefix beats session backend", entity.SessionState{Backend: "alpha", Model: "beta:m3"}, "gpt-4", "beta", "m3"},
		{"vendor slash keeps colon", entity.SessionState{}, "org/model:free", "", "org/model:free"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, m := ResolveEffectiveModel(tc.state, tc.reqModel)
			if b != tc.wantBackend || m != tc.wantModel {
				t.Errorf("got (%q, %q), want (%q, %q)", b, m, tc.wantBackend, tc.wantModel)
			}
		})
	}
}

func TestResponseToSSE(t *testing.T) {
	res := &entity.ChatResponse{
		ID:    "chatcmpl-x",
		Model: "m1",
		Choices: []entity.Choice{{
			Message:      &entity.Message{Role: "assistant", Content: "hello world"},
			FinishReason: "stop",
		}},
		Usage: &entity.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
	}
	rc := ResponseToSSE(res)
	defer rc.Close()

	var frames []string
	scanner := bufio.NewScanner(rc)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			frames = append(frames, strings.TrimPrefix(line, "data: "))
		}
	}
	if len(frames) != 3 {
		t.Fatalf("frames = %d: %v", len(frames), frames)
	}
	if !strings.Contains(frames[0], "hello world") {
		t.Errorf("first frame = %q", frames[0])
	}
	if !strings.Contains(frames[1], `"finish_reason":"stop"`) {
		t.Errorf("final frame = %q", frames[1])
	}
	if frames[2] != "[DONE]" {
		t.Errorf("terminator = %q", frames[2])
	}
}
