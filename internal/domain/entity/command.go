package entity

// Command is a parsed inline proxy command, e.g. !/set(model=gpt-4).
type Command struct {
	Name string
	// Args holds the parenthesized key=value arguments. A bare boolean-ish
	// positional argument is stored under "enabled", any other first bare
	// token under "arg".
	Args map[string]string
	// Positional lists every bare (keyless) argument in order, for commands
	// like unset that take a list of names.
	Positional []string
	// Raw is the literal matched span, used when stripping the command from
	// the message text.
	Raw string
}

// Arg returns the named argument and whether it was present.
func (c *Command) Arg(name string) (string, bool) {
	v, ok := c.Args[name]
	return v, ok
}

// FirstArg returns the value of the first of the given keys that is present.
// Command vocabulary grew aliases over time (project-dir, dir), so most
// handlers look up several spellings.
func (c *Command) FirstArg(names ...string) (string, bool) {
	for _, n := range names {
		if v, ok := c.Args[n]; ok {
			return v, true
		}
	}
	return "", false
}

// CommandResult is the outcome of executing one command.
type CommandResult struct {
	CommandName string
	Success     bool
	Message     string
	// NewState, when non-nil, is the session state to install.
	NewState *SessionState
}

// Succeed builds a success result carrying a user-facing confirmation.
func Succeed(name, message string) CommandResult {
	return CommandResult{CommandName: name, Success: true, Message: message}
}

// Fail builds a failure result carrying a user-facing explanation.
func Fail(name, message string) CommandResult {
	return CommandResult{CommandName: name, Success: false, Message: message}
}

// WithState attaches the state to install when the result is applied.
func (r CommandResult) WithState(s SessionState) CommandResult {
	r.NewState = &s
	return r
}
