package command

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/entity"
)

// modelHandler is the shorthand for !/set(model=...): it pins the session
// to a model, optionally qualified as backend:model, or clears the pin when
// called with no argument.
type modelHandler struct {
	backends BackendInfo
}

func (h *modelHandler) Name() string        { return "model" }
func (h *modelHandler) Description() string { return "Pin the session to a model (backend:model or bare)" }
func (h *modelHandler) Format() string      { return "model(name) | model()" }
func (h *modelHandler) Examples() []string {
	return []string{"!/model(gpt-4)", "!/model(gemini:gemini-2.0-flash)", "!/model()"}
}

func (h *modelHandler) Handle(_ context.Context, cmd *entity.Command, sess *entity.Session) entity.CommandResult {
	name, _ := cmd.FirstArg("arg", "name", "model")
	if name == "" && len(cmd.Positional) > 0 {
		name = cmd.Positional[0]
	}

	// Clearing is always allowed, even under STATIC_ROUTE.
	if name == "" {
		return entity.Succeed("model", "model override cleared").
			WithState(sess.State.WithoutRoute())
	}
	if routeLocked() {
		return entity.Fail("model", routeLockedMsg)
	}

	state := sess.State
	if b, m := splitBackendModel(name); b != "" && h.backends.HasBackend(b) {
		if ok, reason := h.backends.Validate(b, m); !ok {
			return entity.Fail("model", reason)
		}
		state = state.WithBackend(b).WithModel(m)
	} else {
		state = state.WithModel(name)
	}
	return entity.Succeed("model", "model set to "+name).WithState(state)
}

// providerHandler pins the session backend without touching the model.
type providerHandler struct {
	backends BackendInfo
}

func (h *providerHandler) Name() string        { return "provider" }
func (h *providerHandler) Description() string { return "Pin the session to a backend" }
func (h *providerHandler) Format() string      { return "provider(name) | provider()" }
func (h *providerHandler) Examples() []string {
	return []string{"!/provider(openai)", "!/provider()"}
}

func (h *providerHandler) Handle(_ context.Context, cmd *entity.Command, sess *entity.Session) entity.CommandResult {
	name, _ := cmd.FirstArg("arg", "name", "backend", "provider")
	if name == "" && len(cmd.Positional) > 0 {
		name = cmd.Positional[0]
	}

	if name == "" {
		return entity.Succeed("provider", "backend override cleared").
			WithState(sess.State.WithBackend(""))
	}
	if routeLocked() {
		return entity.Fail("provider", routeLockedMsg)
	}
	if !h.backends.HasBackend(name) {
		return entity.Fail("provider", fmt.Sprintf("unknown backend: %s (available: %s)",
			name, strings.Join(h.backends.FunctionalBackends(), ", ")))
	}
	return entity.Succeed("provider", "backend set to "+name).
		WithState(sess.State.WithBackend(name))
}

// modeHandler applies a named reasoning mode from the configured alias
// table, matched against the session's effective model.
type modeHandler struct {
	modes ModeResolver
}

func (h *modeHandler) Name() string        { return "mode" }
func (h *modeHandler) Description() string { return "Apply a named reasoning mode to the session" }
func (h *modeHandler) Format() string      { return "mode(name)" }
func (h *modeHandler) Examples() []string  { return []string{"!/mode(max)", "!/mode(no-think)"} }

func (h *modeHandler) Handle(_ context.Context, cmd *entity.Command, sess *entity.Session) entity.CommandResult {
	name, _ := cmd.FirstArg("arg", "name", "mode")
	if name == "" && len(cmd.Positional) > 0 {
		name = cmd.Positional[0]
	}
	if name == "" {
		return entity.Fail("mode", "mode requires a name, one of: "+strings.Join(h.modes.ModeNames(), ", "))
	}
	return applyMode(h.modes, "mode", name, sess)
}

// modeShortcutHandler is a mode name promoted to a command of its own:
// !/max is !/mode(max).
type modeShortcutHandler struct {
	mode  string
	modes ModeResolver
}

func (h *modeShortcutHandler) Name() string        { return h.mode }
func (h *modeShortcutHandler) Description() string { return "Shortcut for mode(" + h.mode + ")" }
func (h *modeShortcutHandler) Format() string      { return h.mode + "()" }
func (h *modeShortcutHandler) Examples() []string  { return []string{"!/" + h.mode} }

func (h *modeShortcutHandler) Handle(_ context.Context, _ *entity.Command, sess *entity.Session) entity.CommandResult {
	return applyMode(h.modes, h.mode, h.mode, sess)
}

func applyMode(modes ModeResolver, command, mode string, sess *entity.Session) entity.CommandResult {
	if reasoningLocked() {
		return entity.Fail(command, reasoningLockedMsg)
	}
	spec, ok := modes.Resolve(mode, sess.State.Model)
	if !ok {
		return entity.Fail(command, fmt.Sprintf("mode %q is not defined for model %q", mode, sess.State.Model))
	}

	rc := sess.State.Reasoning
	rc.ReasoningEffort = spec.ReasoningEffort
	rc.ThinkingBudget = spec.ThinkingBudget
	if spec.Temperature != nil {
		rc.Temperature = spec.Temperature
	}
	if spec.TopP != nil {
		rc.TopP = spec.TopP
	}

	var parts []string
	if spec.ReasoningEffort != "" {
		parts = append(parts, "reasoning-effort="+spec.ReasoningEffort)
	}
	if spec.ThinkingBudget != nil {
		parts = append(parts, fmt.Sprintf("thinking-budget=%d", *spec.ThinkingBudget))
	}
	if spec.Temperature != nil {
		parts = append(parts, fmt.Sprintf("temperature=%g", *spec.Temperature))
	}
	if spec.TopP != nil {
		parts = append(parts, fmt.Sprintf("top_p=%g", *spec.TopP))
	}
	msg := "mode " + mode + " applied"
	if len(parts) > 0 {
		msg += " (" + strings.Join(parts, ", ") + ")"
	}
	return entity.Succeed(command, msg).WithState(sess.State.WithReasoning(rc))
}

// workspaceHandler sets project name and directory in one step: the
// directory must exist, and its base name becomes the project.
type workspaceHandler struct{}

func (h *workspaceHandler) Name() string        { return "workspace" }
func (h *workspaceHandler) Description() string { return "Set the project directory (and name) from a path" }
func (h *workspaceHandler) Format() string      { return "workspace(path)" }
func (h *workspaceHandler) Examples() []string  { return []string{"!/workspace(~/src/alpha)"} }

func (h *workspaceHandler) Handle(_ context.Context, cmd *entity.Command, sess *entity.Session) entity.CommandResult {
	raw, _ := cmd.FirstArg("arg", "path", "dir")
	if raw == "" && len(cmd.Positional) > 0 {
		raw = cmd.Positional[0]
	}
	if raw == "" {
		return entity.Fail("workspace", "workspace requires a directory path")
	}
	dir, err := resolveDir(raw)
	if err != nil {
		return entity.Fail("workspace", err.Error())
	}
	name := filepath.Base(dir)
	state := sess.State.WithProjectDir(dir).WithProject(name)
	return entity.Succeed("workspace", fmt.Sprintf("workspace set to %s (project %s)", dir, name)).
		WithState(state)
}
