package service

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/entity"
)

// DefaultCommandPrefix introduces inline proxy commands.
const DefaultCommandPrefix = "!/"

var errUnterminatedQuote = errors.New("unterminated quote")

// CommandParser extracts inline commands from message text. A message
// carries at most one effective command: when several candidates appear,
// the last syntactically valid one wins.
type CommandParser struct {
	prefix  string
	pattern *regexp.Regexp
}

// NewCommandParser builds a parser for the given prefix ("!/" by default).
func NewCommandParser(prefix string) *CommandParser {
	if prefix == "" {
		prefix = DefaultCommandPrefix
	}
	esc := regexp.QuoteMeta(prefix)
	// hello and help work bare; every other command needs an argument list,
	// possibly empty. Group 1/2: bare-capable name and optional args.
	// Group 3/4: general name and mandatory args.
	pat := fmt.Sprintf(`(?i)%s(hello|help)\b(?:\(([^)]*)\))?|%s([a-zA-Z][\w-]*)\(([^)]*)\)`, esc, esc)
	return &CommandParser{
		prefix:  prefix,
		pattern: regexp.MustCompile(pat),
	}
}

// Prefix returns the configured command prefix.
func (p *CommandParser) Prefix() string {
	return p.prefix
}

// Parse finds the effective command in text. It scans candidates back to
// front and returns the first one that parses cleanly, or false when the
// text carries no valid command.
func (p *CommandParser) Parse(text string) (*entity.Command, bool) {
	matches := p.pattern.FindAllStringSubmatch(text, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		name, rawArgs := m[1], m[2]
		if name == "" {
			name, rawArgs = m[3], m[4]
		}
		args, positional, err := parseCommandArgs(rawArgs)
		if err != nil {
			continue
		}
		return &entity.Command{
			Name:       strings.ToLower(name),
			Args:       args,
			Positional: positional,
			Raw:        m[0],
		}, true
	}
	return nil, false
}

// Strip removes every command-shaped span from text, valid or not, and
// trims the whitespace runs left behind.
func (p *CommandParser) Strip(text string) string {
	if !p.pattern.MatchString(text) {
		return text
	}
	out := p.pattern.ReplaceAllString(text, "")
	out = hspaceRuns.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}

// parseCommandArgs splits "k=v, k2='v 2', true" into an argument map plus
// the ordered bare tokens. Values keep inner whitespace; quotes (single or
// double) protect commas and equal signs. A bare boolean-ish token becomes
// the "enabled" argument; any other first bare token also lands under "arg"
// for commands that take a single positional value.
func parseCommandArgs(raw string) (map[string]string, []string, error) {
	args := make(map[string]string)
	var positional []string
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return args, nil, nil
	}

	tokens, err := splitOutsideQuotes(raw, ',')
	if err != nil {
		return nil, nil, err
	}
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		key, val, hasKey, err := splitKeyValue(tok)
		if err != nil {
			return nil, nil, err
		}
		if hasKey {
			args[strings.ToLower(key)] = val
			continue
		}
		if isBooleanish(val) {
			args["enabled"] = strings.ToLower(val)
			continue
		}
		positional = append(positional, val)
		if _, taken := args["arg"]; !taken {
			args["arg"] = val
		}
	}
	return args, positional, nil
}

// splitKeyValue separates "k=v" at the first unquoted '=', unquoting the
// value. Tokens without '=' come back as positional values.
func splitKeyValue(tok string) (key, val string, hasKey bool, err error) {
	parts, err := splitOutsideQuotes(tok, '=')
	if err != nil {
		return "", "", false, err
	}
	if len(parts) == 1 {
		v, err := unquote(strings.TrimSpace(parts[0]))
		return "", v, false, err
	}
	key = strings.TrimSpace(parts[0])
	v, err := unquote(strings.TrimSpace(strings.Join(parts[1:], "=")))
	if err != nil {
		return "", "", false, err
	}
	return key, v, true, nil
}

// splitOutsideQuotes splits s on sep, honoring single and double quotes.
func splitOutsideQuotes(s string, sep byte) ([]string, error) {
	var out []string
	var cur strings.Builder
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			cur.WriteByte(c)
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
			cur.WriteByte(c)
		case c == sep:
			out = append(out, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if quote != 0 {
		return nil, errUnterminatedQuote
	}
	out = append(out, cur.String())
	return out, nil
}

// unquote removes one layer of matching quotes, keeping the inside verbatim.
func unquote(s string) (string, error) {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1], nil
		}
	}
	if len(s) > 0 && (s[0] == '\'' || s[0] == '"') {
		return "", errUnterminatedQuote
	}
	return s, nil
}

func isBooleanish(s string) bool {
	switch strings.ToLower(s) {
	case "true", "false", "on", "off", "yes", "no", "1", "0":
		return true
	}
	return false
}
