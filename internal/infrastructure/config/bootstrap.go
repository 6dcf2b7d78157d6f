package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// AppName is the canonical application name.
const AppName = "llmproxy"

// HomeDir returns the user's proxy configuration home: ~/.llmproxy
func HomeDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+AppName)
}

// Bootstrap ensures ~/.llmproxy exists with default content. Called once at
// startup; only creates what is missing, never overwrites user edits.
func Bootstrap(logger *zap.Logger) error {
	root := HomeDir()

	dirs := []string{
		root,
		filepath.Join(root, "logs"),
		filepath.Join(root, "captures"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	defaults := map[string]string{
		filepath.Join(root, "config.yaml"):          defaultConfig,
		filepath.Join(root, "reasoning_modes.yaml"): defaultReasoningModes,
	}

	created := 0
	for path, content := range defaults {
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			logger.Warn("Failed to write default file", zap.String("path", path), zap.Error(err))
			continue
		}
		created++
	}

	if created > 0 {
		logger.Info("Proxy bootstrap complete",
			zap.String("home", root),
			zap.Int("files_created", created),
		)
	} else {
		logger.Debug("Proxy home directory OK", zap.String("home", root))
	}
	return nil
}

const defaultConfig = `# llmproxy configuration
# Precedence (low to high): this file -> ./config.yaml -> LLMPROXY_* env vars.

server:
  host: 127.0.0.1
  port: 8000
  mode: local          # local | production

auth:
  # Client keys accepted on Authorization: Bearer / x-goog-api-key.
  # Prefer LLMPROXY_AUTH_API_KEYS over writing keys into this file.
  api_keys: []
  disable_auth: false

default_backend: openai

backends:
  openai:
    type: openai
    base_url: https://api.openai.com/v1
    # api_key / api_keys; falls back to OPENAI_API_KEY[S] / OPENAI_API_KEY_<n>
  gemini:
    type: gemini
    base_url: https://generativelanguage.googleapis.com
  anthropic:
    type: anthropic
    base_url: https://api.anthropic.com
    models: [claude-sonnet-4-20250514, claude-opus-4-1-20250805]
  # gemini-cli:
  #   type: gemini-cli
  #   command: gemini
  #   working_dir: /tmp/llmproxy-gemini
  # qwen-cli:
  #   type: qwen-cli
  #   command: qwen
  # gemini-oauth:
  #   type: gemini-oauth
  #   credentials_file: ~/.gemini/oauth_creds.json

session:
  store: memory        # memory | database
  ttl: 0s              # 0 keeps sessions forever
  force_set_project: false

commands:
  prefix: "!/"

capture:
  # file: ~/.llmproxy/captures/wire.jsonl
  buffer_size: 64
  flush_interval: 5s
  max_bytes: 52428800
  max_files: 5

database:
  type: sqlite
  dsn: llmproxy.db

log:
  level: info
  format: json
  # file: ~/.llmproxy/logs/proxy.log
  max_size_mb: 50
  max_backups: 5
`

const defaultReasoningModes = `# Reasoning mode alias table.
# The max / medium / low / no-think commands pick the first mode whose name
# matches and whose model patterns (wildcards) match the session's model.

modes:
  - name: max
    models: ["gpt-5*", "o3*", "o4*"]
    reasoning_effort: high
  - name: max
    models: ["claude-*", "gemini-2.5*", "gemini-3*"]
    thinking_budget: 32768
  - name: medium
    models: ["gpt-5*", "o3*", "o4*"]
    reasoning_effort: medium
  - name: medium
    models: ["claude-*", "gemini-2.5*", "gemini-3*"]
    thinking_budget: 8192
  - name: low
    models: ["gpt-5*", "o3*", "o4*"]
    reasoning_effort: low
  - name: low
    models: ["claude-*", "gemini-2.5*", "gemini-3*"]
    thinking_budget: 1024
  - name: no-think
    models: ["*"]
    reasoning_effort: none
    thinking_budget: 0
`
