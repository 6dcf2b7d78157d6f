package service

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

var hspaceRuns = regexp.MustCompile(`[ \t]{2,}`)

// CommandFilter strips anything command-shaped from text. It runs after the
// command system as a leak detector: by then every legitimate command has
// been parsed and removed, so a hit here means a command survived a path it
// should not have, which is why every hit is logged loudly.
type CommandFilter struct {
	pattern *regexp.Regexp
	logger  *zap.Logger
}

// NewCommandFilter builds a filter for the given command prefix.
func NewCommandFilter(prefix string, logger *zap.Logger) *CommandFilter {
	esc := regexp.QuoteMeta(prefix)
	// Bare hello/help, or any command name with an optional argument list.
	pat := fmt.Sprintf(`(?i)%s(?:hello|help)\b|%s[\w-]+(?:\([^)]*\))?`, esc, esc)
	return &CommandFilter{
		pattern: regexp.MustCompile(pat),
		logger:  logger,
	}
}

// Strip removes command-shaped spans from s and collapses the whitespace
// runs left behind.
func (f *CommandFilter) Strip(s string) string {
	if s == "" {
		return s
	}
	locs := f.pattern.FindAllStringIndex(s, -1)
	if len(locs) == 0 {
		return s
	}

	positions := make([]int, len(locs))
	for i, l := range locs {
		positions[i] = l[0]
	}
	f.logger.Warn("Removed command text from outbound message",
		zap.Int("count", len(locs)),
		zap.Ints("positions", positions),
	)

	out := f.pattern.ReplaceAllString(s, "")
	out = hspaceRuns.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}

// Matches reports whether s contains any command-shaped span.
func (f *CommandFilter) Matches(s string) bool {
	return f.pattern.MatchString(s)
}
