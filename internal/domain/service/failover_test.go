package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/entity"
	proxyerrors "github.com/matdev83/llm-interactive-proxy-sub007/pkg/errors"
)

func testKeyCount(counts map[string]int) func(string) int {
	return func(backend string) int { return counts[backend] }
}

func planStrings(plan []Attempt) []string {
	out := make([]string, len(plan))
	for i, a := range plan {
		out[i] = fmt.Sprintf("%s:%s#%d", a.Backend, a.Model, a.KeyIndex)
	}
	return out
}

func assertPlan(t *testing.T, got []Attempt, want []string) {
	t.Helper()
	gotStr := planStrings(got)
	if len(gotStr) != len(want) {
		t.Fatalf("plan = %v, want %v", gotStr, want)
	}
	for i := range want {
		if gotStr[i] != want[i] {
			t.Fatalf("plan[%d] = %s, want %s (full: %v)", i, gotStr[i], want[i], gotStr)
		}
	}
}

func TestBuildPlanPolicyK(t *testing.T) {
	e := NewFailoverEngine(zap.NewNop())
	route := entity.FailoverRoute{
		Name:     "r",
		Policy:   entity.PolicyKeyRotate,
		Elements: []string{"openai:gpt-4", "gemini:gemini-pro"},
	}
	plan := e.BuildPlan(route, testKeyCount(map[string]int{"openai": 3, "gemini": 2}))
	assertPlan(t, plan, []string{"openai:gpt-4#0", "openai:gpt-4#1", "openai:gpt-4#2"})
}

func TestBuildPlanPolicyM(t *testing.T) {
	e := NewFailoverEngine(zap.NewNop())
	route := entity.FailoverRoute{
		Name:     "r",
		Policy:   entity.PolicyModelWalk,
		Elements: []string{"openai:gpt-4", "gemini:gemini-pro", "anthropic:claude-3"},
	}
	plan := e.BuildPlan(route, testKeyCount(map[string]int{"openai": 3}))
	assertPlan(t, plan, []string{"openai:gpt-4#0", "gemini:gemini-pro#0", "anthropic:claude-3#0"})
}

func TestBuildPlanPolicyKM(t *testing.T) {
	e := NewFailoverEngine(zap.NewNop())
	route := entity.FailoverRoute{
		Name:     "r",
		Policy:   entity.PolicyKeyThenModel,
		Elements: []string{"openai:gpt-4", "gemini:gemini-pro"},
	}
	plan := e.BuildPlan(route, testKeyCount(map[string]int{"openai": 2, "gemini": 2}))
	assertPlan(t, plan, []string{
		"openai:gpt-4#0", "openai:gpt-4#1",
		"gemini:gemini-pro#0", "gemini:gemini-pro#1",
	})
}

func TestBuildPlanPolicyMK(t *testing.T) {
	e := NewFailoverEngine(zap.NewNop())
	route := entity.FailoverRoute{
		Name:     "r",
		Policy:   entity.PolicyModelThenKey,
		Elements: []string{"openai:gpt-4", "gemini:gemini-pro"},
	}
	// gemini has a single key, so it only appears in the first pass.
	plan := e.BuildPlan(route, testKeyCount(map[string]int{"openai": 2, "gemini": 1}))
	assertPlan(t, plan, []string{
		"openai:gpt-4#0", "gemini:gemini-pro#0",
		"openai:gpt-4#1",
	})
}

func TestBuildPlanKeylessBackendCountsAsOne(t *testing.T) {
	e := NewFailoverEngine(zap.NewNop())
	route := entity.FailoverRoute{
		Name:     "r",
		Policy:   entity.PolicyKeyThenModel,
		Elements: []string{"gemini-cli-batch:gemini-2.5-pro"},
	}
	plan := e.BuildPlan(route, testKeyCount(nil))
	assertPlan(t, plan, []string{"gemini-cli-batch:gemini-2.5-pro#0"})
}

func TestBuildPlanEmptyRoute(t *testing.T) {
	e := NewFailoverEngine(zap.NewNop())
	plan := e.BuildPlan(entity.FailoverRoute{Name: "r", Policy: entity.PolicyKeyRotate}, nil)
	if len(plan) != 0 {
		t.Errorf("plan = %v, want empty", planStrings(plan))
	}
}

func TestBuildPlanSkipsCooledElements(t *testing.T) {
	e := NewFailoverEngine(zap.NewNop())
	route := entity.FailoverRoute{
		Name:     "r",
		Policy:   entity.PolicyModelWalk,
		Elements: []string{"openai:gpt-4", "gemini:gemini-pro"},
	}

	e.MarkFailed("openai", "gpt-4")
	plan := e.BuildPlan(route, nil)
	assertPlan(t, plan, []string{"gemini:gemini-pro#0"})

	// When everything is cooling down the full plan comes back; a stale
	// cooldown map must not make the route unservable.
	e.MarkFailed("gemini", "gemini-pro")
	plan = e.BuildPlan(route, nil)
	assertPlan(t, plan, []string{"openai:gpt-4#0", "gemini:gemini-pro#0"})

	e.ClearCooldowns()
	plan = e.BuildPlan(route, nil)
	if len(plan) != 2 {
		t.Errorf("plan after clear = %v", planStrings(plan))
	}
}

func TestBuildPlanCooldownExpires(t *testing.T) {
	e := NewFailoverEngine(zap.NewNop())
	e.SetCooldownDuration(time.Millisecond)
	route := entity.FailoverRoute{
		Name:     "r",
		Policy:   entity.PolicyModelWalk,
		Elements: []string{"openai:gpt-4", "gemini:gemini-pro"},
	}
	e.MarkFailed("openai", "gpt-4")
	time.Sleep(5 * time.Millisecond)
	plan := e.BuildPlan(route, nil)
	if len(plan) != 2 {
		t.Errorf("expired cooldown still filtering: %v", planStrings(plan))
	}
}

func TestRetryableClassification(t *testing.T) {
	e := NewFailoverEngine(zap.NewNop())

	retryable := []error{
		proxyerrors.NewRateLimitError("throttled", 5),
		proxyerrors.NewServiceUnavailableError("down"),
		proxyerrors.NewBackendError("openai", "upstream 500", 500),
		proxyerrors.NewBackendError("openai", "upstream 503", 503),
		proxyerrors.NewBackendError("openai", "request timeout", 408),
		proxyerrors.NewBackendError("openai", "connection dropped", 0),
		errors.New("dial tcp: connection refused"),
		errors.New("CLI exited: 429 Too Many Requests"),
	}
	for _, err := range retryable {
		if !e.Retryable(err) {
			t.Errorf("Retryable(%v) = false, want true", err)
		}
	}

	terminal := []error{
		nil,
		context.Canceled,
		context.DeadlineExceeded,
		proxyerrors.NewAuthenticationError("bad key"),
		proxyerrors.NewInvalidRequestError("bad payload"),
		proxyerrors.NewConfigurationError("unknown model"),
		proxyerrors.NewBackendError("openai", "unprocessable", 422),
		proxyerrors.NewBackendError("openai", "not found", 404),
		errors.New("schema mismatch in response"),
	}
	for _, err := range terminal {
		if e.Retryable(err) {
			t.Errorf("Retryable(%v) = true, want false", err)
		}
	}
}

func TestSplitElement(t *testing.T) {
	cases := []struct {
		in      string
		backend string
		model   string
	}{
		{"openai:gpt-4", "openai", "gpt-4"},
		{"ollama:llama3:8b", "ollama", "llama3:8b"},
		{"bare", "bare", ""},
		{"openrouter:anthropic/claude-3.5-sonnet", "openrouter", "anthropic/claude-3.5-sonnet"},
	}
	for _, tc := range cases {
		b, m := SplitElement(tc.in)
		if b != tc.backend || m != tc.model {
			t.Errorf("SplitElement(%q) = %q/%q, want %q/%q", tc.in, b, m, tc.backend, tc.model)
		}
	}
}
