package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/entity"
)

// helloHandler answers the bare !/hello greeting with a welcome banner
// listing the functional backends and the command vocabulary, and arms the
// session's hello one-shot flag.
type helloHandler struct {
	backends BackendInfo
	commands Introspection
}

func (h *helloHandler) Name() string        { return "hello" }
func (h *helloHandler) Description() string { return "Show the proxy welcome banner" }
func (h *helloHandler) Format() string      { return "hello" }
func (h *helloHandler) Examples() []string  { return []string{"!/hello"} }

func (h *helloHandler) Handle(_ context.Context, _ *entity.Command, sess *entity.Session) entity.CommandResult {
	var b strings.Builder
	b.WriteString("Hello! This is llm-interactive-proxy.\n\n")

	functional := h.backends.FunctionalBackends()
	if len(functional) == 0 {
		b.WriteString("No functional backends. Check your API keys and configuration.\n")
	} else {
		b.WriteString("Functional backends:\n")
		for _, name := range functional {
			b.WriteString(fmt.Sprintf("  - %s (%d models)\n", name, len(h.backends.Models(name))))
		}
	}

	b.WriteString("\nAvailable commands:\n")
	for _, d := range h.commands.Commands() {
		b.WriteString(fmt.Sprintf("  !/%s - %s\n", d.Name, d.Description))
	}
	b.WriteString("\nUse !/help(command) for details on one command.")

	return entity.Succeed("hello", b.String()).
		WithState(sess.State.WithHelloRequested(true))
}

// helpHandler lists all commands, or details one.
type helpHandler struct {
	commands Introspection
}

func (h *helpHandler) Name() string        { return "help" }
func (h *helpHandler) Description() string { return "List commands or describe one" }
func (h *helpHandler) Format() string      { return "help | help(command)" }
func (h *helpHandler) Examples() []string  { return []string{"!/help", "!/help(set)"} }

func (h *helpHandler) Handle(_ context.Context, cmd *entity.Command, _ *entity.Session) entity.CommandResult {
	name, _ := cmd.FirstArg("arg", "command", "cmd")
	if name == "" {
		var b strings.Builder
		b.WriteString("Available commands:\n")
		for _, d := range h.commands.Commands() {
			b.WriteString(fmt.Sprintf("  !/%s - %s\n", d.Format, d.Description))
		}
		return entity.Succeed("help", b.String())
	}

	d, ok := h.commands.Describe(name)
	if !ok {
		return entity.Fail("help", fmt.Sprintf("Unknown command: %s", name))
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("!/%s\n%s\nUsage: !/%s\n", d.Name, d.Description, d.Format))
	if len(d.Examples) > 0 {
		b.WriteString("Examples:\n")
		for _, ex := range d.Examples {
			b.WriteString("  " + ex + "\n")
		}
	}
	return entity.Succeed("help", b.String())
}
