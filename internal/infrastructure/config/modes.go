package config

import (
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// ReasoningMode is one row of the reasoning-mode alias table: a mode name
// plus the model wildcard patterns it applies to and the overrides it sets.
type ReasoningMode struct {
	Name   string   `yaml:"name"`
	Models []string `yaml:"models"`

	ReasoningEffort string   `yaml:"reasoning_effort,omitempty"`
	ThinkingBudget  *int     `yaml:"thinking_budget,omitempty"`
	Temperature     *float64 `yaml:"temperature,omitempty"`
	TopP            *float64 `yaml:"top_p,omitempty"`
}

// ModeTable is the loaded alias table.
type ModeTable struct {
	Modes []ReasoningMode `yaml:"modes"`
}

// LoadModeTable reads the yaml alias table. A missing file yields an empty
// table, not an error: mode commands then report no match.
func LoadModeTable(file string) (*ModeTable, error) {
	data, err := os.ReadFile(expandHome(file))
	if err != nil {
		if os.IsNotExist(err) {
			return &ModeTable{}, nil
		}
		return nil, fmt.Errorf("read mode table: %w", err)
	}
	var t ModeTable
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse mode table %s: %w", file, err)
	}
	return &t, nil
}

// Match returns the first mode with the given name whose model patterns
// match the model id.
func (t *ModeTable) Match(name, model string) (ReasoningMode, bool) {
	for _, m := range t.Modes {
		if !strings.EqualFold(m.Name, name) {
			continue
		}
		for _, pat := range m.Models {
			if ok, _ := path.Match(pat, model); ok {
				return m, true
			}
		}
	}
	return ReasoningMode{}, false
}

// Names returns the distinct mode names in table order.
func (t *ModeTable) Names() []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range t.Modes {
		if !seen[m.Name] {
			seen[m.Name] = true
			names = append(names, m.Name)
		}
	}
	return names
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return home + p[1:]
		}
	}
	return p
}
