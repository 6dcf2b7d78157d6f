package command

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cast"

	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/entity"
)

// setKeys enumerates every parameter set understands, with aliases mapped
// to the canonical spelling. Keys are applied in this order so the
// confirmation message is deterministic.
var setKeys = []struct {
	canonical string
	aliases   []string
}{
	{"backend", nil},
	{"model", nil},
	{"project", []string{"project-name"}},
	{"project-dir", []string{"dir", "project-directory"}},
	{"temperature", nil},
	{"top_p", []string{"top-p"}},
	{"reasoning-effort", []string{"reasoning_effort", "reasoning"}},
	{"thinking-budget", []string{"thinking_budget", "budget"}},
	{"redact-api-keys-in-prompts", nil},
	{"interactive-mode", []string{"interactive"}},
	{"loop-detection", nil},
	{"tool-loop-detection", nil},
	{"pytest-compression", nil},
	{"pytest-compression-min-lines", nil},
	{"compress-next-tool-call-reply", nil},
}

// setHandler mutates the permitted session state fields, one or more per
// invocation. Any invalid or unknown key fails the whole command and leaves
// the state untouched.
type setHandler struct {
	backends BackendInfo
}

func (h *setHandler) Name() string { return "set" }
func (h *setHandler) Description() string {
	return "Set session parameters (model, backend, project, sampling, toggles)"
}
func (h *setHandler) Format() string { return "set(key=value, ...)" }
func (h *setHandler) Examples() []string {
	return []string{"!/set(model=gpt-4)", "!/set(backend=gemini, temperature=0.2)", "!/set(project=alpha)"}
}

func (h *setHandler) Handle(_ context.Context, cmd *entity.Command, sess *entity.Session) entity.CommandResult {
	if len(cmd.Args) == 0 {
		return entity.Fail("set", "set requires at least one key=value argument")
	}
	if unknown := firstUnknownSetKey(cmd.Args); unknown != "" {
		return entity.Fail("set", fmt.Sprintf("Unknown parameter: %s", unknown))
	}

	state := sess.State
	var applied []string

	for _, key := range setKeys {
		val, ok := lookupSetArg(cmd, key.canonical, key.aliases)
		if !ok {
			continue
		}
		next, note, err := applySetKey(h.backends, state, key.canonical, val)
		if err != nil {
			return entity.Fail("set", err.Error())
		}
		state = next
		applied = append(applied, note)
	}

	return entity.Succeed("set", strings.Join(applied, "; ")).WithState(state)
}

func lookupSetArg(cmd *entity.Command, canonical string, aliases []string) (string, bool) {
	if v, ok := cmd.Arg(canonical); ok {
		return v, true
	}
	for _, a := range aliases {
		if v, ok := cmd.Arg(a); ok {
			return v, true
		}
	}
	return "", false
}

func firstUnknownSetKey(args map[string]string) string {
	known := make(map[string]bool, len(setKeys)*2)
	for _, k := range setKeys {
		known[k.canonical] = true
		for _, a := range k.aliases {
			known[a] = true
		}
	}
	var unknown []string
	for k := range args {
		if !known[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) == 0 {
		return ""
	}
	sort.Strings(unknown)
	return unknown[0]
}

// applySetKey applies one canonical key to the state, returning the new
// state and a confirmation note.
func applySetKey(backends BackendInfo, state entity.SessionState, key, val string) (entity.SessionState, string, error) {
	switch key {
	case "backend":
		if routeLocked() {
			return state, "", fmt.Errorf("%s", routeLockedMsg)
		}
		if !backends.HasBackend(val) {
			return state, "", fmt.Errorf("unknown backend: %s", val)
		}
		return state.WithBackend(val), "backend set to " + val, nil

	case "model":
		if routeLocked() {
			return state, "", fmt.Errorf("%s", routeLockedMsg)
		}
		next := state
		if b, m := splitBackendModel(val); b != "" && backends.HasBackend(b) {
			next = next.WithBackend(b).WithModel(m)
		} else {
			next = next.WithModel(val)
		}
		return next, "model set to " + val, nil

	case "project":
		return state.WithProject(val), "project set to " + val, nil

	case "project-dir":
		dir, err := resolveDir(val)
		if err != nil {
			return state, "", err
		}
		return state.WithProjectDir(dir), "project directory set to " + dir, nil

	case "temperature":
		f, err := cast.ToFloat64E(val)
		if err != nil || f < 0 || f > 1 {
			return state, "", fmt.Errorf("temperature must be a number in [0, 1], got %q", val)
		}
		rc := state.Reasoning
		rc.Temperature = &f
		return state.WithReasoning(rc), fmt.Sprintf("temperature set to %g", f), nil

	case "top_p":
		f, err := cast.ToFloat64E(val)
		if err != nil || f < 0 || f > 1 {
			return state, "", fmt.Errorf("top_p must be a number in [0, 1], got %q", val)
		}
		rc := state.Reasoning
		rc.TopP = &f
		return state.WithReasoning(rc), fmt.Sprintf("top_p set to %g", f), nil

	case "reasoning-effort":
		if reasoningLocked() {
			return state, "", fmt.Errorf("%s", reasoningLockedMsg)
		}
		effort := strings.ToLower(val)
		switch effort {
		case entity.ReasoningEffortNone, entity.ReasoningEffortLow,
			entity.ReasoningEffortMedium, entity.ReasoningEffortHigh:
		default:
			return state, "", fmt.Errorf("reasoning-effort must be one of low, medium, high, none; got %q", val)
		}
		rc := state.Reasoning
		rc.ReasoningEffort = effort
		return state.WithReasoning(rc), "reasoning-effort set to " + effort, nil

	case "thinking-budget":
		if reasoningLocked() {
			return state, "", fmt.Errorf("%s", reasoningLockedMsg)
		}
		n, err := cast.ToIntE(val)
		if err != nil || n < 0 {
			return state, "", fmt.Errorf("thinking-budget must be a non-negative integer, got %q", val)
		}
		rc := state.Reasoning
		rc.ThinkingBudget = &n
		return state.WithReasoning(rc), fmt.Sprintf("thinking-budget set to %d", n), nil

	case "redact-api-keys-in-prompts":
		on, err := cast.ToBoolE(val)
		if err != nil {
			return state, "", fmt.Errorf("redact-api-keys-in-prompts must be a boolean, got %q", val)
		}
		return state.WithRedactAPIKeys(on), fmt.Sprintf("redact-api-keys-in-prompts set to %v", on), nil

	case "interactive-mode":
		on, err := cast.ToBoolE(val)
		if err != nil {
			return state, "", fmt.Errorf("interactive-mode must be a boolean, got %q", val)
		}
		return state.WithInteractiveMode(on), fmt.Sprintf("interactive-mode set to %v", on), nil

	case "loop-detection":
		on, err := cast.ToBoolE(val)
		if err != nil {
			return state, "", fmt.Errorf("loop-detection must be a boolean, got %q", val)
		}
		lc := state.Loop
		lc.Enabled = on
		return state.WithLoop(lc), fmt.Sprintf("loop-detection set to %v", on), nil

	case "tool-loop-detection":
		on, err := cast.ToBoolE(val)
		if err != nil {
			return state, "", fmt.Errorf("tool-loop-detection must be a boolean, got %q", val)
		}
		lc := state.Loop
		lc.ToolLoopEnabled = on
		return state.WithLoop(lc), fmt.Sprintf("tool-loop-detection set to %v", on), nil

	case "pytest-compression":
		on, err := cast.ToBoolE(val)
		if err != nil {
			return state, "", fmt.Errorf("pytest-compression must be a boolean, got %q", val)
		}
		return state.WithPytestCompression(on), fmt.Sprintf("pytest-compression set to %v", on), nil

	case "pytest-compression-min-lines":
		n, err := cast.ToIntE(val)
		if err != nil || n < 1 {
			return state, "", fmt.Errorf("pytest-compression-min-lines must be a positive integer, got %q", val)
		}
		return state.WithPytestCompressionMinLines(n), fmt.Sprintf("pytest-compression-min-lines set to %d", n), nil

	case "compress-next-tool-call-reply":
		on, err := cast.ToBoolE(val)
		if err != nil {
			return state, "", fmt.Errorf("compress-next-tool-call-reply must be a boolean, got %q", val)
		}
		return state.WithCompressNextToolReply(on), fmt.Sprintf("compress-next-tool-call-reply set to %v", on), nil
	}
	return state, "", fmt.Errorf("Unknown parameter: %s", key)
}

// resolveDir expands ~ and environment variables and requires an existing
// directory.
func resolveDir(val string) (string, error) {
	dir := os.ExpandEnv(val)
	if strings.HasPrefix(dir, "~/") || dir == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			dir = home + strings.TrimPrefix(dir, "~")
		}
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("directory does not exist: %s", dir)
	}
	return dir, nil
}

func splitBackendModel(s string) (backend, model string) {
	if i := strings.Index(s, ":"); i > 0 {
		return s[:i], s[i+1:]
	}
	return "", s
}

// unsetHandler clears named session fields.
type unsetHandler struct{}

func (h *unsetHandler) Name() string        { return "unset" }
func (h *unsetHandler) Description() string { return "Clear session parameters" }
func (h *unsetHandler) Format() string      { return "unset(key, ...)" }
func (h *unsetHandler) Examples() []string  { return []string{"!/unset(model)", "!/unset(project, temperature)"} }

func (h *unsetHandler) Handle(_ context.Context, cmd *entity.Command, sess *entity.Session) entity.CommandResult {
	names := cmd.Positional
	if len(names) == 0 {
		// k=v style (unset(key=model)) and the boolean fallback both land in
		// Args; accept any keys given that way too.
		for k := range cmd.Args {
			if k != "arg" && k != "enabled" {
				names = append(names, k)
			}
		}
		sort.Strings(names)
	}
	if len(names) == 0 {
		return entity.Fail("unset", "unset requires at least one parameter name")
	}

	state := sess.State
	var cleared []string
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		switch name {
		case "model":
			state = state.WithModel("")
		case "backend":
			state = state.WithBackend("")
		case "project", "project-name":
			state = state.WithProject("")
		case "project-dir", "dir", "project-directory":
			state = state.WithProjectDir("")
		case "temperature":
			rc := state.Reasoning
			rc.Temperature = nil
			state = state.WithReasoning(rc)
		case "top_p", "top-p":
			rc := state.Reasoning
			rc.TopP = nil
			state = state.WithReasoning(rc)
		case "reasoning-effort", "reasoning_effort", "reasoning":
			rc := state.Reasoning
			rc.ReasoningEffort = ""
			state = state.WithReasoning(rc)
		case "thinking-budget", "thinking_budget", "budget":
			rc := state.Reasoning
			rc.ThinkingBudget = nil
			state = state.WithReasoning(rc)
		default:
			return entity.Fail("unset", fmt.Sprintf("Unknown parameter: %s", name))
		}
		cleared = append(cleared, name)
	}
	return entity.Succeed("unset", "cleared: "+strings.Join(cleared, ", ")).WithState(state)
}
