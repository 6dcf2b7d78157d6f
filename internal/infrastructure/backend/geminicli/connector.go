package geminicli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/entity"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/backend"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/config"
	proxyerrors "github.com/matdev83/llm-interactive-proxy-sub007/pkg/errors"
)

// EnvTimeout overrides the per-call subprocess deadline, in seconds.
const EnvTimeout = "GEMINI_CLI_TIMEOUT"

// DefaultTimeout bounds one CLI invocation.
const DefaultTimeout = 600 * time.Second

// secretEnvPattern matches env vars whose values must not leak into the
// child process.
var secretEnvPattern = regexp.MustCompile(`(?i)(API_KEY|APIKEY|SECRET|TOKEN|PASSWORD|CREDENTIAL)`)

func init() {
	backend.RegisterFactory("gemini-cli", func(name string, cfg config.BackendConfig, logger *zap.Logger) (backend.Connector, error) {
		return New(name, cfg, logger), nil
	})
}

// Connector drives the gemini CLI in batch mode: one subprocess per
// request, prompt handed over via a temp file, stdout is the reply.
type Connector struct {
	name       string
	command    string
	workingDir string
	models     []string
	logger     *zap.Logger
}

// New builds the connector.
func New(name string, cfg config.BackendConfig, logger *zap.Logger) *Connector {
	command := cfg.Command
	if command == "" {
		command = "gemini"
	}
	return &Connector{
		name:       name,
		command:    command,
		workingDir: cfg.WorkingDir,
		models:     append([]string(nil), cfg.Models...),
		logger:     logger.With(zap.String("backend", name), zap.String("type", "gemini-cli")),
	}
}

var _ backend.Connector = (*Connector)(nil)

func (c *Connector) Name() string { return c.name }

// Initialize checks that the CLI binary is resolvable.
func (c *Connector) Initialize(_ context.Context, _ string) error {
	if _, err := exec.LookPath(c.command); err != nil {
		return proxyerrors.NewConfigurationError(
			fmt.Sprintf("gemini CLI %q not found in PATH", c.command))
	}
	if c.workingDir != "" {
		if info, err := os.Stat(c.workingDir); err != nil || !info.IsDir() {
			return proxyerrors.NewConfigurationError(
				fmt.Sprintf("working dir %q does not exist", c.workingDir))
		}
	}
	return nil
}

func (c *Connector) AvailableModels() []string {
	return append([]string(nil), c.models...)
}

// ChatCompletions runs one CLI invocation. The conversation is flattened to
// a single prompt file; the CLI holds no session state between calls.
func (c *Connector) ChatCompletions(ctx context.Context, call backend.CallRequest) (*entity.ChatResponse, error) {
	dir := c.workingDir
	if dir == "" {
		dir = os.TempDir()
	}
	promptFile := filepath.Join(dir, "prompt-"+uuid.NewString()+".txt")
	if err := os.WriteFile(promptFile, []byte(flattenPrompt(call.Request)), 0o600); err != nil {
		return nil, proxyerrors.NewInternalErrorWithCause("write prompt file", err)
	}
	defer os.Remove(promptFile)

	runCtx, cancel := context.WithTimeout(ctx, callTimeout())
	defer cancel()

	args := []string{"-p", "@" + promptFile}
	if call.Model != "" {
		args = append(args, "-m", call.Model)
	}
	cmd := exec.CommandContext(runCtx, c.command, args...)
	cmd.Dir = dir
	cmd.Env = sanitizedEnv()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	c.logger.Debug("CLI invocation finished",
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err),
	)

	if runCtx.Err() == context.DeadlineExceeded {
		return nil, proxyerrors.NewServiceUnavailableError(
			fmt.Sprintf("gemini CLI timed out after %s", callTimeout()))
	}
	if err != nil {
		return nil, proxyerrors.NewBackendError(c.name,
			fmt.Sprintf("CLI failed: %v: %s", err, strings.TrimSpace(stderr.String())), 0)
	}

	text := strings.TrimSpace(stdout.String())
	return &entity.ChatResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   call.Model,
		Choices: []entity.Choice{{
			Message:      &entity.Message{Role: "assistant", Content: text},
			FinishReason: "stop",
		}},
	}, nil
}

// StreamChatCompletions emulates streaming by wrapping the batch response.
func (c *Connector) StreamChatCompletions(ctx context.Context, call backend.CallRequest) (io.ReadCloser, error) {
	res, err := c.ChatCompletions(ctx, call)
	if err != nil {
		return nil, err
	}
	return backend.ResponseToSSE(res), nil
}

// flattenPrompt renders the conversation as labeled turns, the only form a
// stateless CLI can consume.
func flattenPrompt(req *entity.ChatRequest) string {
	var b strings.Builder
	for _, m := range req.Messages {
		text := m.TextContent()
		if text == "" {
			continue
		}
		switch m.Role {
		case "system":
			fmt.Fprintf(&b, "[system]\n%s\n\n", text)
		case "assistant":
			fmt.Fprintf(&b, "[assistant]\n%s\n\n", text)
		default:
			fmt.Fprintf(&b, "[user]\n%s\n\n", text)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// callTimeout reads the per-call deadline from the environment.
func callTimeout() time.Duration {
	if v := os.Getenv(EnvTimeout); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return DefaultTimeout
}

// sanitizedEnv passes the child a reduced environment: everything
// secret-shaped is dropped so proxy credentials cannot leak into the CLI,
// except the CLI's own GEMINI_* variables which it needs to authenticate.
func sanitizedEnv() []string {
	var out []string
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, "GEMINI_") {
			out = append(out, kv)
			continue
		}
		if secretEnvPattern.MatchString(name) {
			continue
		}
		out = append(out, kv)
	}
	return out
}
