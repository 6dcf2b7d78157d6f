package service

import (
	"strings"

	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/entity"
)

// Agent identifiers recognized from prompt fingerprints.
const (
	AgentCline   = "cline"
	AgentRooCode = "roocode"
	AgentAider   = "aider"
)

// DetectAgent inspects the system prompt (or, failing that, the first
// message) for known agent fingerprints. Detection only needs to be good
// enough to pick the right command-response envelope; unknown callers get
// the plain-text envelope.
func DetectAgent(req *entity.ChatRequest) string {
	text := systemPromptText(req)
	if text == "" {
		return ""
	}
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "attempt_completion"):
		// Cline and its forks instruct the model to finish turns with the
		// attempt_completion tool.
		if strings.Contains(lower, "roo") {
			return AgentRooCode
		}
		return AgentCline
	case strings.Contains(lower, "aider"):
		return AgentAider
	}
	return ""
}

// UsesToolCallEnvelope reports whether the agent expects command results
// wrapped in a synthetic tool call rather than plain assistant text.
func UsesToolCallEnvelope(agent string) bool {
	return agent == AgentCline || agent == AgentRooCode
}

func systemPromptText(req *entity.ChatRequest) string {
	if req == nil {
		return ""
	}
	for i := range req.Messages {
		if req.Messages[i].Role == "system" {
			return req.Messages[i].TextContent()
		}
	}
	if len(req.Messages) > 0 {
		return req.Messages[0].TextContent()
	}
	return ""
}
