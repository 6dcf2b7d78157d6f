package service

import (
	"os"
	"regexp"
	"strconv"
	"strings"
)

// DefaultPytestCompressionMinLines is the threshold below which test output
// is forwarded untouched.
const DefaultPytestCompressionMinLines = 30

var (
	passedLine  = regexp.MustCompile(`\bPASSED\b`)
	timingChunk = regexp.MustCompile(`\d+(?:\.\d+)?s (?:setup|call|teardown)`)
)

// PytestCompressor shrinks verbose test-runner output before it is forwarded
// to a backend. Passing tests carry no information the model needs; failures
// and the summary line always survive.
type PytestCompressor struct {
	minLines int
}

// NewPytestCompressor builds a compressor with the given line threshold.
// The PYTEST_COMPRESSION_MIN_LINES environment variable overrides it.
func NewPytestCompressor(minLines int) *PytestCompressor {
	if env := os.Getenv("PYTEST_COMPRESSION_MIN_LINES"); env != "" {
		if n, err := strconv.Atoi(env); err == nil && n > 0 {
			minLines = n
		}
	}
	if minLines <= 0 {
		minLines = DefaultPytestCompressionMinLines
	}
	return &PytestCompressor{minLines: minLines}
}

// MinLines returns the active threshold.
func (c *PytestCompressor) MinLines() int {
	return c.minLines
}

// Compress removes PASSED lines and timing noise from output. Output below
// the threshold, or output that looks like the test run itself failed to
// start, is returned unchanged.
func (c *PytestCompressor) Compress(output string) string {
	lines := strings.Split(output, "\n")
	if len(lines) < c.minLines {
		return output
	}
	if looksLikeExecutionError(output) {
		return output
	}

	kept := make([]string, 0, len(lines))
	for i, line := range lines {
		// The last line is the summary; it always survives.
		if i == len(lines)-1 {
			kept = append(kept, line)
			break
		}
		if passedLine.MatchString(line) {
			continue
		}
		line = timingChunk.ReplaceAllString(line, "")
		line = hspaceRuns.ReplaceAllString(line, " ")
		line = strings.TrimRight(line, " ")
		if strings.TrimSpace(line) == "" {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// looksLikeExecutionError detects output where the runner itself blew up;
// compressing those would hide the only useful signal.
func looksLikeExecutionError(output string) bool {
	return strings.Contains(output, "Traceback (most recent call last)") ||
		strings.Contains(output, "command not found") ||
		strings.Contains(output, "No such file or directory")
}
