package command

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cast"

	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/entity"
)

// loopToggleHandler flips one of the loop-detection switches. The same type
// backs both loop-detection and tool-loop-detection.
type loopToggleHandler struct {
	name string
}

func (h *loopToggleHandler) Name() string { return h.name }
func (h *loopToggleHandler) Description() string {
	if h.name == "tool-loop-detection" {
		return "Enable or disable tool-call loop detection"
	}
	return "Enable or disable response loop detection"
}
func (h *loopToggleHandler) Format() string { return h.name + "(true|false)" }
func (h *loopToggleHandler) Examples() []string {
	return []string{"!/" + h.name + "(false)", "!/" + h.name + "(enabled=true)"}
}

func (h *loopToggleHandler) Handle(_ context.Context, cmd *entity.Command, sess *entity.Session) entity.CommandResult {
	raw, ok := cmd.FirstArg("enabled", "arg")
	if !ok {
		// Bare invocation turns the detector on.
		raw = "true"
	}
	on, err := cast.ToBoolE(raw)
	if err != nil {
		return entity.Fail(h.name, fmt.Sprintf("%s expects true or false, got %q", h.name, raw))
	}
	lc := sess.State.Loop
	if h.name == "tool-loop-detection" {
		lc.ToolLoopEnabled = on
	} else {
		lc.Enabled = on
	}
	return entity.Succeed(h.name, fmt.Sprintf("%s set to %v", h.name, on)).
		WithState(sess.State.WithLoop(lc))
}

// toolLoopModeHandler selects what happens when a tool-call loop trips.
type toolLoopModeHandler struct{}

func (h *toolLoopModeHandler) Name() string        { return "tool-loop-mode" }
func (h *toolLoopModeHandler) Description() string { return "Choose the action taken when a tool-call loop is detected" }
func (h *toolLoopModeHandler) Format() string      { return "tool-loop-mode(break|chance_then_break)" }
func (h *toolLoopModeHandler) Examples() []string {
	return []string{"!/tool-loop-mode(chance_then_break)"}
}

func (h *toolLoopModeHandler) Handle(_ context.Context, cmd *entity.Command, sess *entity.Session) entity.CommandResult {
	mode, _ := cmd.FirstArg("arg", "mode")
	if mode == "" && len(cmd.Positional) > 0 {
		mode = cmd.Positional[0]
	}
	switch mode {
	case entity.ToolLoopModeBreak, entity.ToolLoopModeChanceThenBreak:
	default:
		return entity.Fail("tool-loop-mode",
			fmt.Sprintf("invalid mode %q, must be break or chance_then_break", mode))
	}
	lc := sess.State.Loop
	lc.ToolLoopMode = mode
	return entity.Succeed("tool-loop-mode", "tool-loop-mode set to "+mode).
		WithState(sess.State.WithLoop(lc))
}

// toolLoopMaxRepeatsHandler sets how many identical tool calls trip the
// detector.
type toolLoopMaxRepeatsHandler struct{}

func (h *toolLoopMaxRepeatsHandler) Name() string        { return "tool-loop-max-repeats" }
func (h *toolLoopMaxRepeatsHandler) Description() string { return "Set the repeat count that trips the tool-call loop detector" }
func (h *toolLoopMaxRepeatsHandler) Format() string      { return "tool-loop-max-repeats(n)" }
func (h *toolLoopMaxRepeatsHandler) Examples() []string  { return []string{"!/tool-loop-max-repeats(6)"} }

func (h *toolLoopMaxRepeatsHandler) Handle(_ context.Context, cmd *entity.Command, sess *entity.Session) entity.CommandResult {
	raw, _ := cmd.FirstArg("arg", "n", "count", "max")
	if raw == "" && len(cmd.Positional) > 0 {
		raw = cmd.Positional[0]
	}
	n, err := cast.ToIntE(raw)
	if err != nil || n < 1 {
		return entity.Fail("tool-loop-max-repeats",
			fmt.Sprintf("tool-loop-max-repeats expects a positive integer, got %q", raw))
	}
	lc := sess.State.Loop
	lc.MaxRepeats = n
	return entity.Succeed("tool-loop-max-repeats", fmt.Sprintf("tool-loop-max-repeats set to %d", n)).
		WithState(sess.State.WithLoop(lc))
}

// toolLoopTTLHandler sets the sliding window for repeat counting, in
// seconds.
type toolLoopTTLHandler struct{}

func (h *toolLoopTTLHandler) Name() string        { return "tool-loop-ttl" }
func (h *toolLoopTTLHandler) Description() string { return "Set the tool-call repeat window in seconds" }
func (h *toolLoopTTLHandler) Format() string      { return "tool-loop-ttl(seconds)" }
func (h *toolLoopTTLHandler) Examples() []string  { return []string{"!/tool-loop-ttl(300)"} }

func (h *toolLoopTTLHandler) Handle(_ context.Context, cmd *entity.Command, sess *entity.Session) entity.CommandResult {
	raw, _ := cmd.FirstArg("arg", "seconds", "ttl")
	if raw == "" && len(cmd.Positional) > 0 {
		raw = cmd.Positional[0]
	}
	secs, err := cast.ToIntE(raw)
	if err != nil || secs < 1 {
		return entity.Fail("tool-loop-ttl",
			fmt.Sprintf("tool-loop-ttl expects a positive number of seconds, got %q", raw))
	}
	lc := sess.State.Loop
	lc.TTL = time.Duration(secs) * time.Second
	return entity.Succeed("tool-loop-ttl", fmt.Sprintf("tool-loop-ttl set to %ds", secs)).
		WithState(sess.State.WithLoop(lc))
}
