package entity

import (
	"testing"
	"time"
)

func TestSessionStateWithersCopy(t *testing.T) {
	base := NewSessionState()

	withModel := base.WithModel("gpt-4")
	if base.Model != "" {
		t.Errorf("WithModel mutated receiver: %q", base.Model)
	}
	if withModel.Model != "gpt-4" {
		t.Errorf("Model = %q, want gpt-4", withModel.Model)
	}

	withBackend := withModel.WithBackend("openrouter")
	if withModel.Backend != "" {
		t.Error("WithBackend mutated receiver")
	}
	if withBackend.Backend != "openrouter" || withBackend.Model != "gpt-4" {
		t.Errorf("state = %q/%q, want openrouter/gpt-4", withBackend.Backend, withBackend.Model)
	}

	cleared := withBackend.WithoutRoute()
	if cleared.Backend != "" || cleared.Model != "" {
		t.Errorf("WithoutRoute left %q/%q", cleared.Backend, cleared.Model)
	}
	if withBackend.Backend != "openrouter" {
		t.Error("WithoutRoute mutated receiver")
	}
}

func TestSessionStateRouteDeepCopy(t *testing.T) {
	base := NewSessionState()
	route := FailoverRoute{Name: "main", Policy: PolicyKeyThenModel, Elements: []string{"openai:gpt-4", "gemini:gemini-pro"}}

	withRoute := base.WithRoute(route)
	if base.Routes != nil {
		t.Error("WithRoute mutated receiver map")
	}

	// Mutating the caller's slice must not leak into the stored route.
	route.Elements[0] = "corrupted"
	got, ok := withRoute.Route("main")
	if !ok {
		t.Fatal("route not stored")
	}
	if got.Elements[0] != "openai:gpt-4" {
		t.Errorf("stored route aliased caller slice: %q", got.Elements[0])
	}

	// Mutating a returned copy must not leak into the state.
	got.Elements[1] = "also-corrupted"
	again, _ := withRoute.Route("main")
	if again.Elements[1] != "gemini:gemini-pro" {
		t.Errorf("Route returned aliased slice: %q", again.Elements[1])
	}

	removed := withRoute.WithoutRouteNamed("main")
	if _, ok := removed.Route("main"); ok {
		t.Error("WithoutRouteNamed kept the route")
	}
	if _, ok := withRoute.Route("main"); !ok {
		t.Error("WithoutRouteNamed mutated receiver")
	}
}

func TestSessionStateReasoningPointerCopy(t *testing.T) {
	temp := 0.7
	budget := 2048
	base := NewSessionState().WithReasoning(ReasoningConfig{Temperature: &temp, ThinkingBudget: &budget})

	derived := base.WithModel("claude-sonnet")
	*derived.Reasoning.Temperature = 0.1
	if *base.Reasoning.Temperature != 0.7 {
		t.Errorf("reasoning pointer aliased across copies: %v", *base.Reasoning.Temperature)
	}

	temp = 0.9
	if *base.Reasoning.Temperature != 0.7 {
		t.Errorf("reasoning pointer aliased caller value: %v", *base.Reasoning.Temperature)
	}
}

func TestSessionStateDefaults(t *testing.T) {
	s := NewSessionState()
	if !s.InteractiveMode {
		t.Error("interactive mode should default on")
	}
	if !s.RedactAPIKeys {
		t.Error("redaction should default on")
	}
	if !s.Loop.Enabled || !s.Loop.ToolLoopEnabled {
		t.Error("loop detection should default on")
	}
	if s.Loop.ToolLoopMode != ToolLoopModeBreak {
		t.Errorf("tool loop mode = %q, want %q", s.Loop.ToolLoopMode, ToolLoopModeBreak)
	}
	if s.Loop.MaxRepeats < 1 {
		t.Errorf("max repeats = %d, want >= 1", s.Loop.MaxRepeats)
	}
	if s.Loop.TTL < time.Second {
		t.Errorf("ttl = %v, want >= 1s", s.Loop.TTL)
	}
	if s.PytestCompressionMinLines <= 0 {
		t.Error("pytest compression threshold should default positive")
	}
}

func TestValidPolicy(t *testing.T) {
	for _, p := range []string{"k", "m", "km", "mk"} {
		if !ValidPolicy(p) {
			t.Errorf("ValidPolicy(%q) = false", p)
		}
	}
	for _, p := range []string{"", "x", "kM", "mkm"} {
		if ValidPolicy(p) {
			t.Errorf("ValidPolicy(%q) = true", p)
		}
	}
}

func TestSessionAddInteraction(t *testing.T) {
	s := NewSession("default")
	before := s.LastActiveAt

	s.AddInteraction(Interaction{Prompt: "hello", Handler: "proxy"})
	if len(s.History) != 1 {
		t.Fatalf("history length = %d, want 1", len(s.History))
	}
	if s.History[0].Timestamp.IsZero() {
		t.Error("timestamp not defaulted")
	}
	if s.LastActiveAt.Before(before) {
		t.Error("activity clock not bumped")
	}
}

func TestSessionClone(t *testing.T) {
	s := NewSession("a")
	s.State = s.State.WithRoute(FailoverRoute{Name: "r", Policy: PolicyModelWalk, Elements: []string{"openai:gpt-4"}})
	s.AddInteraction(Interaction{Prompt: "p", Handler: "backend"})

	c := s.Clone()
	c.State = c.State.WithModel("other")
	c.History[0].Prompt = "rewritten"

	if s.State.Model != "" {
		t.Error("clone state aliased original")
	}
	if s.History[0].Prompt != "p" {
		t.Error("clone history aliased original")
	}
}
