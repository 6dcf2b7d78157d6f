package entity

import (
	"time"
)

// Failover policies. Policies compose key rotation (k) and route-element
// walking (m): "km" exhausts every key of an element before moving on,
// "mk" walks all elements once per key index.
const (
	PolicyKeyRotate     = "k"
	PolicyModelWalk     = "m"
	PolicyKeyThenModel  = "km"
	PolicyModelThenKey  = "mk"
)

// Tool-call loop handling modes.
const (
	ToolLoopModeBreak           = "break"
	ToolLoopModeChanceThenBreak = "chance_then_break"
)

// Reasoning effort levels accepted by !/set(reasoning-effort=...).
const (
	ReasoningEffortNone   = "none"
	ReasoningEffortLow    = "low"
	ReasoningEffortMedium = "medium"
	ReasoningEffortHigh   = "high"
)

// ValidPolicy reports whether p names a failover policy.
func ValidPolicy(p string) bool {
	switch p {
	case PolicyKeyRotate, PolicyModelWalk, PolicyKeyThenModel, PolicyModelThenKey:
		return true
	}
	return false
}

// FailoverRoute is a named, ordered list of backend:model elements plus the
// policy that orders attempts across them.
type FailoverRoute struct {
	Name     string   `json:"name"`
	Policy   string   `json:"policy"`
	Elements []string `json:"elements"`
}

// Clone returns a deep copy of the route.
func (r FailoverRoute) Clone() FailoverRoute {
	out := r
	out.Elements = append([]string(nil), r.Elements...)
	return out
}

// LoopConfig controls per-session loop detection.
type LoopConfig struct {
	Enabled         bool          `json:"enabled"`
	ToolLoopEnabled bool          `json:"tool_loop_enabled"`
	ToolLoopMode    string        `json:"tool_loop_mode"`
	MaxRepeats      int           `json:"max_repeats"`
	TTL             time.Duration `json:"ttl"`
}

// DefaultLoopConfig returns the loop settings new sessions start with.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		Enabled:         true,
		ToolLoopEnabled: true,
		ToolLoopMode:    ToolLoopModeBreak,
		MaxRepeats:      4,
		TTL:             120 * time.Second,
	}
}

// ReasoningConfig carries per-session sampling and reasoning overrides.
// Nil pointer means "not set, use the request or backend default".
type ReasoningConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"top_p,omitempty"`
	ReasoningEffort string   `json:"reasoning_effort,omitempty"`
	ThinkingBudget  *int     `json:"thinking_budget,omitempty"`
}

func (c ReasoningConfig) clone() ReasoningConfig {
	out := c
	if c.Temperature != nil {
		v := *c.Temperature
		out.Temperature = &v
	}
	if c.TopP != nil {
		v := *c.TopP
		out.TopP = &v
	}
	if c.ThinkingBudget != nil {
		v := *c.ThinkingBudget
		out.ThinkingBudget = &v
	}
	return out
}

// SessionState is the mutable per-session configuration. Values are treated
// as immutable: every With* method returns an adjusted copy and deep-copies
// any shared maps or slices, so concurrent readers never observe a partial
// update. Installing a new state is the session store's job.
type SessionState struct {
	Backend    string `json:"backend,omitempty"`
	Model      string `json:"model,omitempty"`
	Project    string `json:"project,omitempty"`
	ProjectDir string `json:"project_dir,omitempty"`

	InteractiveMode bool `json:"interactive_mode"`
	RedactAPIKeys   bool `json:"redact_api_keys"`

	Reasoning ReasoningConfig          `json:"reasoning"`
	Routes    map[string]FailoverRoute `json:"routes,omitempty"`
	Loop      LoopConfig               `json:"loop"`

	PytestCompression         bool `json:"pytest_compression"`
	PytestCompressionMinLines int  `json:"pytest_compression_min_lines"`

	// One-shot flags, cleared by the pipeline after acting on them.
	HelloRequested        bool `json:"hello_requested,omitempty"`
	CompressNextToolReply bool `json:"compress_next_tool_reply,omitempty"`
}

// NewSessionState returns the default state for a fresh session.
func NewSessionState() SessionState {
	return SessionState{
		InteractiveMode:           true,
		RedactAPIKeys:             true,
		Loop:                      DefaultLoopConfig(),
		PytestCompressionMinLines: 30,
	}
}

func (s SessionState) clone() SessionState {
	out := s
	out.Reasoning = s.Reasoning.clone()
	if s.Routes != nil {
		out.Routes = make(map[string]FailoverRoute, len(s.Routes))
		for k, v := range s.Routes {
			out.Routes[k] = v.Clone()
		}
	}
	return out
}

// WithBackend returns a copy with the backend override set.
func (s SessionState) WithBackend(backend string) SessionState {
	out := s.clone()
	out.Backend = backend
	return out
}

// WithModel returns a copy with the model override set.
func (s SessionState) WithModel(model string) SessionState {
	out := s.clone()
	out.Model = model
	return out
}

// WithoutRoute returns a copy with backend and model overrides cleared.
func (s SessionState) WithoutRoute() SessionState {
	out := s.clone()
	out.Backend = ""
	out.Model = ""
	return out
}

// WithProject returns a copy with the project name set.
func (s SessionState) WithProject(project string) SessionState {
	out := s.clone()
	out.Project = project
	return out
}

// WithProjectDir returns a copy with the project directory set.
func (s SessionState) WithProjectDir(dir string) SessionState {
	out := s.clone()
	out.ProjectDir = dir
	return out
}

// WithInteractiveMode returns a copy with the interactive flag set.
func (s SessionState) WithInteractiveMode(on bool) SessionState {
	out := s.clone()
	out.InteractiveMode = on
	return out
}

// WithRedactAPIKeys returns a copy with prompt redaction toggled.
func (s SessionState) WithRedactAPIKeys(on bool) SessionState {
	out := s.clone()
	out.RedactAPIKeys = on
	return out
}

// WithReasoning returns a copy with the reasoning overrides replaced.
func (s SessionState) WithReasoning(rc ReasoningConfig) SessionState {
	out := s.clone()
	out.Reasoning = rc.clone()
	return out
}

// WithLoop returns a copy with the loop configuration replaced.
func (s SessionState) WithLoop(lc LoopConfig) SessionState {
	out := s.clone()
	out.Loop = lc
	return out
}

// WithRoute returns a copy with the named route added or replaced.
func (s SessionState) WithRoute(route FailoverRoute) SessionState {
	out := s.clone()
	if out.Routes == nil {
		out.Routes = make(map[string]FailoverRoute, 1)
	}
	out.Routes[route.Name] = route.Clone()
	return out
}

// WithoutRouteNamed returns a copy with the named route removed.
func (s SessionState) WithoutRouteNamed(name string) SessionState {
	out := s.clone()
	delete(out.Routes, name)
	return out
}

// WithPytestCompression returns a copy with output compression toggled.
func (s SessionState) WithPytestCompression(on bool) SessionState {
	out := s.clone()
	out.PytestCompression = on
	return out
}

// WithPytestCompressionMinLines returns a copy with the compression
// threshold replaced.
func (s SessionState) WithPytestCompressionMinLines(n int) SessionState {
	out := s.clone()
	out.PytestCompressionMinLines = n
	return out
}

// WithHelloRequested returns a copy with the hello one-shot flag set.
func (s SessionState) WithHelloRequested(on bool) SessionState {
	out := s.clone()
	out.HelloRequested = on
	return out
}

// WithCompressNextToolReply returns a copy with the compress-next one-shot
// flag set.
func (s SessionState) WithCompressNextToolReply(on bool) SessionState {
	out := s.clone()
	out.CompressNextToolReply = on
	return out
}

// Route returns a copy of the named route.
func (s SessionState) Route(name string) (FailoverRoute, bool) {
	r, ok := s.Routes[name]
	if !ok {
		return FailoverRoute{}, false
	}
	return r.Clone(), true
}

// Interaction is one history record: what arrived, who answered, and what
// it cost. Prompts are stored post-redaction.
type Interaction struct {
	Timestamp time.Time `json:"timestamp"`
	Prompt    string    `json:"prompt"`
	Handler   string    `json:"handler"` // "proxy" or "backend"
	Backend   string    `json:"backend,omitempty"`
	Model     string    `json:"model,omitempty"`
	Project   string    `json:"project,omitempty"`
	// Parameters snapshots the sampling overrides in effect for the call.
	Parameters map[string]any `json:"parameters,omitempty"`
	// Response holds a short preview, or "<streaming>" for streamed replies.
	Response string `json:"response,omitempty"`
	Usage    *Usage `json:"usage,omitempty"`
}

// Session aggregates the per-client-session state and history. Field access
// is guarded by the session store; everything handed out of the store is a
// copy or treated as read-only.
type Session struct {
	ID           string        `json:"id"`
	Agent        string        `json:"agent,omitempty"`
	State        SessionState  `json:"state"`
	History      []Interaction `json:"history,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActiveAt time.Time     `json:"last_active_at"`
}

// NewSession creates a session with default state.
func NewSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		State:        NewSessionState(),
		CreatedAt:    now,
		LastActiveAt: now,
	}
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.State = s.State.clone()
	if s.History != nil {
		out.History = append([]Interaction(nil), s.History...)
	}
	return &out
}

// AddInteraction appends a history record and bumps the activity clock.
func (s *Session) AddInteraction(in Interaction) {
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now()
	}
	s.History = append(s.History, in)
	s.LastActiveAt = in.Timestamp
}

// Touch bumps the activity clock, used by the TTL sweeper.
func (s *Session) Touch() {
	s.LastActiveAt = time.Now()
}
