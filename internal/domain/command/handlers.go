package command

import (
	"os"

	"go.uber.org/zap"
)

// Environment variables that lock session mutations. Both are set by CLI
// front-ends that pin routing or reasoning for a whole proxy run; commands
// that would fight the pin fail instead of silently losing.
const (
	EnvThinkingBudget = "THINKING_BUDGET"
	EnvStaticRoute    = "STATIC_ROUTE"
)

func reasoningLocked() bool { return os.Getenv(EnvThinkingBudget) != "" }
func routeLocked() bool     { return os.Getenv(EnvStaticRoute) != "" }

const (
	reasoningLockedMsg = "reasoning-effort and thinking-budget are locked by the THINKING_BUDGET command-line override"
	routeLockedMsg     = "backend and model selection is locked by the STATIC_ROUTE command-line override"
)

// Deps carries the collaborators handlers need. Every field is a narrow
// interface so the command package stays decoupled from infrastructure.
type Deps struct {
	Backends BackendInfo
	Modes    ModeResolver
	Logger   *zap.Logger
}

// NewDefaultRegistry builds the registry with every built-in command.
func NewDefaultRegistry(deps Deps) *Registry {
	r := NewRegistry()

	r.Register(&helloHandler{backends: deps.Backends, commands: r})
	r.Register(&helpHandler{commands: r})

	r.Register(&setHandler{backends: deps.Backends})
	r.Register(&unsetHandler{})
	r.Register(&modelHandler{backends: deps.Backends})
	r.Register(&providerHandler{backends: deps.Backends})
	r.Register(&modeHandler{modes: deps.Modes})
	r.Register(&workspaceHandler{})

	for _, name := range []string{"max", "medium", "low", "no-think"} {
		r.Register(&modeShortcutHandler{mode: name, modes: deps.Modes})
	}
	for _, alias := range []string{"no-thinking", "no-reasoning", "disable-thinking", "disable-reasoning"} {
		r.Alias(alias, "no-think")
	}

	r.Register(&createRouteHandler{})
	r.Register(&deleteRouteHandler{})
	r.Register(&listRoutesHandler{})
	r.Register(&routeAppendHandler{backends: deps.Backends, prepend: false})
	r.Register(&routeAppendHandler{backends: deps.Backends, prepend: true})
	r.Register(&routeClearHandler{})
	r.Register(&routeElementsHandler{})

	r.Register(&loopToggleHandler{name: "loop-detection"})
	r.Register(&loopToggleHandler{name: "tool-loop-detection"})
	r.Register(&toolLoopModeHandler{})
	r.Register(&toolLoopMaxRepeatsHandler{})
	r.Register(&toolLoopTTLHandler{})

	return r
}
