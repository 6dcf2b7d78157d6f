package service

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/entity"
	proxyerrors "github.com/matdev83/llm-interactive-proxy-sub007/pkg/errors"
)

// loopWindowCap bounds the per-session signature window.
const loopWindowCap = 32

type loopEntry struct {
	sig string
	at  time.Time
}

// LoopDetector spots agents stuck re-issuing the same tool call. The proxy
// sees the whole conversation on every request, so the detector records the
// newest assistant tool call per request and watches for consecutive repeats
// within the session's TTL.
type LoopDetector struct {
	mu       sync.Mutex
	sessions map[string][]loopEntry
	logger   *zap.Logger
}

// NewLoopDetector creates a detector shared across sessions.
func NewLoopDetector(logger *zap.Logger) *LoopDetector {
	return &LoopDetector{
		sessions: make(map[string][]loopEntry),
		logger:   logger,
	}
}

// Check records the request's newest tool-call signature and returns a loop
// error when the session's config says the streak has gone degenerate.
// A request whose latest assistant turn carries no tool calls resets the
// streak: the conversation moved on.
func (d *LoopDetector) Check(sessionID string, cfg entity.LoopConfig, req *entity.ChatRequest) error {
	if !cfg.Enabled || !cfg.ToolLoopEnabled {
		return nil
	}

	sigs := latestToolCallSignatures(req)

	d.mu.Lock()
	defer d.mu.Unlock()

	if len(sigs) == 0 {
		delete(d.sessions, sessionID)
		return nil
	}

	now := time.Now()
	window := d.sessions[sessionID]

	// Expire entries older than the configured TTL.
	cutoff := now.Add(-cfg.TTL)
	for len(window) > 0 && window[0].at.Before(cutoff) {
		window = window[1:]
	}

	for _, sig := range sigs {
		window = append(window, loopEntry{sig: sig, at: now})
	}
	if len(window) > loopWindowCap {
		window = window[len(window)-loopWindowCap:]
	}
	d.sessions[sessionID] = window

	streakSig, streak := trailingStreak(window)
	limit := cfg.MaxRepeats
	if cfg.ToolLoopMode == entity.ToolLoopModeChanceThenBreak {
		// One grace repeat past the threshold before breaking.
		limit++
	}
	if limit < 1 {
		limit = 1
	}
	if streak >= limit {
		d.logger.Warn("Tool call loop detected",
			zap.String("session_id", sessionID),
			zap.String("signature", streakSig),
			zap.Int("repeats", streak),
		)
		return proxyerrors.NewLoopDetectionError(
			fmt.Sprintf("tool call loop detected: identical call repeated %d times", streak))
	}
	return nil
}

// Reset clears the window for a session, used when the session is deleted.
func (d *LoopDetector) Reset(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sessions, sessionID)
}

// latestToolCallSignatures returns signatures for the tool calls of the last
// assistant message, empty when the conversation's newest assistant turn did
// something else.
func latestToolCallSignatures(req *entity.ChatRequest) []string {
	if req == nil {
		return nil
	}
	for i := len(req.Messages) - 1; i >= 0; i-- {
		m := &req.Messages[i]
		if m.Role != "assistant" {
			continue
		}
		if len(m.ToolCalls) == 0 {
			return nil
		}
		sigs := make([]string, 0, len(m.ToolCalls))
		for _, tc := range m.ToolCalls {
			sigs = append(sigs, toolCallSignature(tc))
		}
		return sigs
	}
	return nil
}

func toolCallSignature(tc entity.ToolCall) string {
	h := fnv.New64a()
	h.Write([]byte(tc.Function.Arguments))
	return fmt.Sprintf("%s|%x", tc.Function.Name, h.Sum64())
}

func trailingStreak(window []loopEntry) (string, int) {
	if len(window) == 0 {
		return "", 0
	}
	last := window[len(window)-1].sig
	n := 0
	for i := len(window) - 1; i >= 0; i-- {
		if window[i].sig != last {
			break
		}
		n++
	}
	return last, n
}
