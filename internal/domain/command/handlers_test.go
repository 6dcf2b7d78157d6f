package command

import (
	"context"
	"os"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/entity"
)

type fakeBackends struct {
	models map[string][]string
}

func newFakeBackends() *fakeBackends {
	return &fakeBackends{models: map[string][]string{
		"openai": {"gpt-4", "gpt-4o-mini"},
		"gemini": {"gemini-2.0-flash"},
	}}
}

func (f *fakeBackends) FunctionalBackends() []string {
	return []string{"gemini", "openai"}
}

func (f *fakeBackends) HasBackend(name string) bool {
	_, ok := f.models[name]
	return ok
}

func (f *fakeBackends) Models(backend string) []string {
	return f.models[backend]
}

func (f *fakeBackends) Validate(backend, model string) (bool, string) {
	for _, m := range f.models[backend] {
		if m == model {
			return true, ""
		}
	}
	return false, "model " + model + " not served by backend " + backend
}

type fakeModes struct{}

func (fakeModes) Resolve(mode, model string) (ModeSpec, bool) {
	switch mode {
	case "max":
		b := 32768
		return ModeSpec{ReasoningEffort: entity.ReasoningEffortHigh, ThinkingBudget: &b}, true
	case "no-think":
		b := 0
		return ModeSpec{ReasoningEffort: entity.ReasoningEffortNone, ThinkingBudget: &b}, true
	}
	return ModeSpec{}, false
}

func (fakeModes) ModeNames() []string { return []string{"max", "no-think"} }

func testRegistry() *Registry {
	return NewDefaultRegistry(Deps{
		Backends: newFakeBackends(),
		Modes:    fakeModes{},
		Logger:   zap.NewNop(),
	})
}

func run(t *testing.T, r *Registry, name string, args map[string]string, positional []string, sess *entity.Session) entity.CommandResult {
	t.Helper()
	h, ok := r.Get(name)
	if !ok {
		t.Fatalf("command %q not registered", name)
	}
	cmd := &entity.Command{Name: name, Args: args, Positional: positional}
	if cmd.Args == nil {
		cmd.Args = map[string]string{}
	}
	return h.Handle(context.Background(), cmd, sess)
}

func TestSetModelAndBackend(t *testing.T) {
	sess := entity.NewSession("s1")
	res := run(t, testRegistry(), "set", map[string]string{"backend": "openai", "model": "gpt-4"}, nil, sess)
	if !res.Success {
		t.Fatalf("set failed: %s", res.Message)
	}
	if res.NewState == nil {
		t.Fatal("set produced no state")
	}
	if res.NewState.Backend != "openai" || res.NewState.Model != "gpt-4" {
		t.Errorf("state = %q/%q, want openai/gpt-4", res.NewState.Backend, res.NewState.Model)
	}
	if sess.State.Backend != "" {
		t.Error("set mutated the session in place")
	}
}

func TestSetUnknownParameterFailsWhole(t *testing.T) {
	sess := entity.NewSession("s1")
	res := run(t, testRegistry(), "set", map[string]string{"model": "gpt-4", "bogus": "1"}, nil, sess)
	if res.Success {
		t.Fatal("set succeeded with unknown key")
	}
	if !strings.Contains(res.Message, "Unknown parameter: bogus") {
		t.Errorf("message = %q", res.Message)
	}
	if res.NewState != nil {
		t.Error("failed set still produced state")
	}
}

func TestSetTemperatureRange(t *testing.T) {
	sess := entity.NewSession("s1")
	r := testRegistry()

	res := run(t, r, "set", map[string]string{"temperature": "0.4"}, nil, sess)
	if !res.Success || res.NewState.Reasoning.Temperature == nil || *res.NewState.Reasoning.Temperature != 0.4 {
		t.Fatalf("temperature not applied: %+v", res)
	}

	for _, bad := range []string{"1.5", "-0.1", "warm"} {
		res := run(t, r, "set", map[string]string{"temperature": bad}, nil, sess)
		if res.Success {
			t.Errorf("temperature %q accepted", bad)
		}
	}
}

func TestSetReasoningLockedByEnv(t *testing.T) {
	t.Setenv(EnvThinkingBudget, "1024")
	sess := entity.NewSession("s1")
	r := testRegistry()

	for _, args := range []map[string]string{
		{"reasoning-effort": "high"},
		{"thinking-budget": "2048"},
	} {
		res := run(t, r, "set", args, nil, sess)
		if res.Success {
			t.Errorf("set %v succeeded under THINKING_BUDGET lock", args)
		}
	}

	// Unrelated keys still work.
	res := run(t, r, "set", map[string]string{"project": "alpha"}, nil, sess)
	if !res.Success {
		t.Errorf("project set failed under lock: %s", res.Message)
	}
}

func TestModelStaticRouteLock(t *testing.T) {
	t.Setenv(EnvStaticRoute, "openai:gpt-4")
	sess := entity.NewSession("s1")
	sess.State = sess.State.WithModel("gpt-4")
	r := testRegistry()

	res := run(t, r, "model", map[string]string{"arg": "gemini-2.0-flash"}, []string{"gemini-2.0-flash"}, sess)
	if res.Success {
		t.Fatal("model change succeeded under STATIC_ROUTE lock")
	}

	// Clearing the pin stays allowed.
	res = run(t, r, "model", map[string]string{}, nil, sess)
	if !res.Success {
		t.Fatalf("model() clear failed under lock: %s", res.Message)
	}
	if res.NewState.Model != "" {
		t.Errorf("model not cleared: %q", res.NewState.Model)
	}
}

func TestModelQualifiedValidates(t *testing.T) {
	sess := entity.NewSession("s1")
	r := testRegistry()

	res := run(t, r, "model", map[string]string{"arg": "openai:gpt-5-nope"}, []string{"openai:gpt-5-nope"}, sess)
	if res.Success {
		t.Fatal("unknown qualified model accepted")
	}

	res = run(t, r, "model", map[string]string{"arg": "openai:gpt-4"}, []string{"openai:gpt-4"}, sess)
	if !res.Success {
		t.Fatalf("qualified model rejected: %s", res.Message)
	}
	if res.NewState.Backend != "openai" || res.NewState.Model != "gpt-4" {
		t.Errorf("state = %q/%q", res.NewState.Backend, res.NewState.Model)
	}
}

func TestUnsetPositional(t *testing.T) {
	sess := entity.NewSession("s1")
	sess.State = sess.State.WithModel("gpt-4").WithProject("alpha")
	res := run(t, testRegistry(), "unset", map[string]string{"arg": "model"}, []string{"model", "project"}, sess)
	if !res.Success {
		t.Fatalf("unset failed: %s", res.Message)
	}
	if res.NewState.Model != "" || res.NewState.Project != "" {
		t.Errorf("state after unset = %q/%q", res.NewState.Model, res.NewState.Project)
	}
}

func TestUnsetUnknownName(t *testing.T) {
	sess := entity.NewSession("s1")
	res := run(t, testRegistry(), "unset", nil, []string{"flux-capacitor"}, sess)
	if res.Success {
		t.Fatal("unset accepted unknown name")
	}
}

func TestRouteLifecycle(t *testing.T) {
	r := testRegistry()
	sess := entity.NewSession("s1")

	res := run(t, r, "create-failover-route", map[string]string{"name": "main", "policy": "km"}, nil, sess)
	if !res.Success {
		t.Fatalf("create failed: %s", res.Message)
	}
	sess.State = *res.NewState

	res = run(t, r, "route-append", map[string]string{"name": "main", "element": "openai:gpt-4"}, nil, sess)
	if !res.Success {
		t.Fatalf("append failed: %s", res.Message)
	}
	sess.State = *res.NewState

	res = run(t, r, "route-prepend", map[string]string{"name": "main", "element": "gemini:gemini-2.0-flash"}, nil, sess)
	if !res.Success {
		t.Fatalf("prepend failed: %s", res.Message)
	}
	sess.State = *res.NewState

	route, ok := sess.State.Route("main")
	if !ok {
		t.Fatal("route missing")
	}
	want := []string{"gemini:gemini-2.0-flash", "openai:gpt-4"}
	if len(route.Elements) != 2 || route.Elements[0] != want[0] || route.Elements[1] != want[1] {
		t.Errorf("elements = %v, want %v", route.Elements, want)
	}

	res = run(t, r, "route-clear", map[string]string{"name": "main"}, nil, sess)
	if !res.Success {
		t.Fatalf("clear failed: %s", res.Message)
	}
	sess.State = *res.NewState
	route, _ = sess.State.Route("main")
	if len(route.Elements) != 0 {
		t.Errorf("elements after clear = %v", route.Elements)
	}

	res = run(t, r, "delete-failover-route", map[string]string{"name": "main"}, nil, sess)
	if !res.Success {
		t.Fatalf("delete failed: %s", res.Message)
	}
	sess.State = *res.NewState
	if _, ok := sess.State.Route("main"); ok {
		t.Error("route survived delete")
	}
}

func TestCreateRouteRejectsBadPolicy(t *testing.T) {
	sess := entity.NewSession("s1")
	res := run(t, testRegistry(), "create-failover-route", map[string]string{"name": "x", "policy": "zz"}, nil, sess)
	if res.Success {
		t.Fatal("bad policy accepted")
	}
}

func TestRouteAppendRejectsBareModel(t *testing.T) {
	r := testRegistry()
	sess := entity.NewSession("s1")
	res := run(t, r, "create-failover-route", map[string]string{"name": "main"}, nil, sess)
	sess.State = *res.NewState

	res = run(t, r, "route-append", map[string]string{"name": "main", "element": "gpt-4"}, nil, sess)
	if res.Success {
		t.Fatal("element without backend prefix accepted")
	}
}

func TestLoopToggles(t *testing.T) {
	r := testRegistry()
	sess := entity.NewSession("s1")

	res := run(t, r, "loop-detection", map[string]string{"enabled": "false"}, nil, sess)
	if !res.Success || res.NewState.Loop.Enabled {
		t.Fatalf("loop-detection(false): %+v", res)
	}

	res = run(t, r, "tool-loop-max-repeats", map[string]string{"arg": "7"}, []string{"7"}, sess)
	if !res.Success || res.NewState.Loop.MaxRepeats != 7 {
		t.Fatalf("tool-loop-max-repeats: %+v", res)
	}

	res = run(t, r, "tool-loop-max-repeats", map[string]string{"arg": "0"}, []string{"0"}, sess)
	if res.Success {
		t.Error("max-repeats 0 accepted")
	}

	res = run(t, r, "tool-loop-mode", map[string]string{"arg": "chance_then_break"}, []string{"chance_then_break"}, sess)
	if !res.Success || res.NewState.Loop.ToolLoopMode != entity.ToolLoopModeChanceThenBreak {
		t.Fatalf("tool-loop-mode: %+v", res)
	}

	res = run(t, r, "tool-loop-ttl", map[string]string{"arg": "300"}, []string{"300"}, sess)
	if !res.Success || res.NewState.Loop.TTL.Seconds() != 300 {
		t.Fatalf("tool-loop-ttl: %+v", res)
	}
}

func TestModeShortcutAndAliases(t *testing.T) {
	r := testRegistry()
	sess := entity.NewSession("s1")

	res := run(t, r, "max", nil, nil, sess)
	if !res.Success {
		t.Fatalf("max failed: %s", res.Message)
	}
	if res.NewState.Reasoning.ReasoningEffort != entity.ReasoningEffortHigh {
		t.Errorf("effort = %q", res.NewState.Reasoning.ReasoningEffort)
	}

	for _, alias := range []string{"no-thinking", "no-reasoning", "disable-thinking", "disable-reasoning"} {
		res := run(t, r, alias, nil, nil, sess)
		if !res.Success {
			t.Errorf("%s failed: %s", alias, res.Message)
		}
		if res.NewState.Reasoning.ReasoningEffort != entity.ReasoningEffortNone {
			t.Errorf("%s effort = %q", alias, res.NewState.Reasoning.ReasoningEffort)
		}
	}
}

func TestModeLockedByEnv(t *testing.T) {
	t.Setenv(EnvThinkingBudget, "512")
	sess := entity.NewSession("s1")
	res := run(t, testRegistry(), "max", nil, nil, sess)
	if res.Success {
		t.Fatal("mode shortcut succeeded under THINKING_BUDGET lock")
	}
}

func TestWorkspaceRequiresExistingDir(t *testing.T) {
	r := testRegistry()
	sess := entity.NewSession("s1")

	dir := t.TempDir()
	res := run(t, r, "workspace", map[string]string{"arg": dir}, []string{dir}, sess)
	if !res.Success {
		t.Fatalf("workspace failed: %s", res.Message)
	}
	if res.NewState.ProjectDir != dir {
		t.Errorf("project dir = %q, want %q", res.NewState.ProjectDir, dir)
	}
	if res.NewState.Project == "" {
		t.Error("project name not derived")
	}

	missing := dir + string(os.PathSeparator) + "nope"
	res = run(t, r, "workspace", map[string]string{"arg": missing}, []string{missing}, sess)
	if res.Success {
		t.Error("workspace accepted missing directory")
	}
}

func TestHelloBanner(t *testing.T) {
	sess := entity.NewSession("s1")
	res := run(t, testRegistry(), "hello", nil, nil, sess)
	if !res.Success {
		t.Fatalf("hello failed: %s", res.Message)
	}
	if !strings.Contains(res.Message, "openai") || !strings.Contains(res.Message, "!/set") {
		t.Errorf("banner missing content:\n%s", res.Message)
	}
	if res.NewState == nil || !res.NewState.HelloRequested {
		t.Error("hello flag not armed")
	}
}

func TestHelpUnknownCommand(t *testing.T) {
	sess := entity.NewSession("s1")
	res := run(t, testRegistry(), "help", map[string]string{"arg": "frobnicate"}, []string{"frobnicate"}, sess)
	if res.Success {
		t.Fatal("help for unknown command succeeded")
	}
	if !strings.Contains(res.Message, "Unknown command: frobnicate") {
		t.Errorf("message = %q", res.Message)
	}
}
