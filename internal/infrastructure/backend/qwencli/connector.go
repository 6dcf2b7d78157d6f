package qwencli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/entity"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/backend"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/config"
	proxyerrors "github.com/matdev83/llm-interactive-proxy-sub007/pkg/errors"
)

// promptSentinel is the REPL's ready marker: a line starting "> " means the
// CLI finished its answer and awaits the next prompt.
const promptSentinel = "> "

// shutdownGrace bounds the polite-termination wait before SIGKILL.
const shutdownGrace = 5 * time.Second

// DefaultTimeout bounds one REPL exchange.
const DefaultTimeout = 600 * time.Second

func init() {
	backend.RegisterFactory("qwen-cli", func(name string, cfg config.BackendConfig, logger *zap.Logger) (backend.Connector, error) {
		return New(name, cfg, logger), nil
	})
}

// Connector drives the qwen CLI as one long-lived interactive coprocess.
// Requests serialize through a mutex: the REPL is a single conversation
// channel and interleaved writes would corrupt it.
type Connector struct {
	name    string
	command string
	models  []string
	timeout time.Duration
	logger  *zap.Logger

	mu           sync.Mutex
	cmd          *exec.Cmd
	stdin        io.WriteCloser
	stdout       *bufio.Reader
	currentModel string
}

// New builds the connector; the coprocess starts at Initialize.
func New(name string, cfg config.BackendConfig, logger *zap.Logger) *Connector {
	command := cfg.Command
	if command == "" {
		command = "qwen"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Connector{
		name:    name,
		command: command,
		models:  append([]string(nil), cfg.Models...),
		timeout: timeout,
		logger:  logger.With(zap.String("backend", name), zap.String("type", "qwen-cli")),
	}
}

var _ backend.Connector = (*Connector)(nil)

func (c *Connector) Name() string { return c.name }

// Initialize spawns the coprocess and waits for the first prompt.
func (c *Connector) Initialize(ctx context.Context, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked(ctx)
}

func (c *Connector) startLocked(ctx context.Context) error {
	if c.cmd != nil {
		return nil
	}

	cmd := exec.Command(c.command)
	cmd.Env = os.Environ()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return proxyerrors.NewInternalErrorWithCause("open CLI stdin", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return proxyerrors.NewInternalErrorWithCause("open CLI stdout", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		stdin.Close()
		return proxyerrors.NewConfigurationError(
			fmt.Sprintf("qwen CLI %q failed to start: %v", c.command, err))
	}

	c.cmd = cmd
	c.stdin = stdin
	c.stdout = bufio.NewReader(stdout)

	if _, err := c.readUntilPrompt(ctx); err != nil {
		c.shutdownLocked()
		return proxyerrors.NewServiceUnavailableErrorWithCause("qwen CLI never became ready", err)
	}
	c.logger.Info("CLI coprocess ready", zap.Int("pid", cmd.Process.Pid))
	return nil
}

func (c *Connector) AvailableModels() []string {
	return append([]string(nil), c.models...)
}

// ChatCompletions writes the latest user turn to the REPL and reads until
// the next prompt. A model change is announced with a /model directive
// before the prompt text. The exchange is bounded by the per-call timeout;
// a coprocess killed by a previous timeout is respawned here.
func (c *Connector) ChatCompletions(ctx context.Context, call backend.CallRequest) (*entity.ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmd == nil {
		if err := c.startLocked(ctx); err != nil {
			return nil, err
		}
	}

	if call.Model != "" && call.Model != c.currentModel {
		if err := c.writeLine("/model " + call.Model); err != nil {
			return nil, err
		}
		if _, err := c.readUntilPrompt(ctx); err != nil {
			return nil, err
		}
		c.currentModel = call.Model
	}

	prompt := latestUserText(call.Request)
	if prompt == "" {
		return nil, proxyerrors.NewInvalidRequestError("request has no user text")
	}
	// The REPL treats a newline as end of input, so the prompt is collapsed
	// to one line.
	if err := c.writeLine(strings.ReplaceAll(prompt, "\n", " ")); err != nil {
		return nil, err
	}

	text, err := c.readUntilPrompt(ctx)
	if err != nil {
		return nil, err
	}
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

// StreamChatCompletions emulates streaming from the buffered reply.
func (c *Connector) StreamChatCompletions(ctx context.Context, call backend.CallRequest) (io.ReadCloser, error) {
	res, err := c.ChatCompletions(ctx, call)
	if err != nil {
		return nil, err
	}
	return backend.ResponseToSSE(res), nil
}

// Shutdown stops the coprocess: close stdin, wait briefly, then kill.
func (c *Connector) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shutdownLocked()
}

func (c *Connector) shutdownLocked() {
	if c.cmd == nil {
		return
	}
	c.stdin.Close()

	done := make(chan struct{})
	go func() {
		c.cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		c.logger.Warn("CLI did not exit, killing", zap.Int("pid", c.cmd.Process.Pid))
		c.cmd.Process.Kill()
		<-done
	}
	c.cmd = nil
	c.stdin = nil
	c.stdout = nil
	c.currentModel = ""
}

func (c *Connector) writeLine(s string) error {
	if _, err := io.WriteString(c.stdin, s+"\n"); err != nil {
		return proxyerrors.NewServiceUnavailableErrorWithCause("write to qwen CLI", err)
	}
	return nil
}

// readUntilPrompt collects output lines until the sentinel appears. The
// read runs in a goroutine so a hung CLI honors the context deadline. On
// cancellation the coprocess is killed: nothing else unblocks the reader,
// and the REPL stream is mid-answer so a survivor would hand corrupted
// output to the next request. The next call respawns.
func (c *Connector) readUntilPrompt(ctx context.Context) (string, error) {
	type result struct {
		text string
		err  error
	}
	ch := make(chan result, 1)
	go func(r *bufio.Reader) {
		// The sentinel carries no newline, so the stream is consumed
		// byte-wise and the current line is checked after every byte.
		var out strings.Builder
		var line strings.Builder
		for {
			b, err := r.ReadByte()
			if err != nil {
				ch <- result{err: fmt.Errorf("CLI stream ended: %w", err)}
				return
			}
			if b == '\n' {
				out.WriteString(strings.TrimRight(line.String(), "\r"))
				out.WriteByte('\n')
				line.Reset()
				continue
			}
			line.WriteByte(b)
			if line.String() == promptSentinel {
				ch <- result{text: strings.TrimSpace(out.String())}
				return
			}
		}
	}(c.stdout)

	select {
	case res := <-ch:
		if res.err != nil {
			return "", proxyerrors.NewServiceUnavailableErrorWithCause("qwen CLI read failed", res.err)
		}
		return res.text, nil
	case <-ctx.Done():
		c.killLocked()
		// The kill unblocks ReadByte; reap the reader. A grandchild still
		// holding the pipe keeps it alive past the grace, so the wait is
		// bounded.
		select {
		case <-ch:
		case <-time.After(shutdownGrace):
		}
		return "", ctx.Err()
	}
}

// killLocked tears the coprocess down immediately. Callers hold c.mu.
func (c *Connector) killLocked() {
	if c.cmd == nil {
		return
	}
	c.logger.Warn("Killing CLI coprocess", zap.Int("pid", c.cmd.Process.Pid))
	c.stdin.Close()
	c.cmd.Process.Kill()
	c.cmd.Wait()
	c.cmd = nil
	c.stdin = nil
	c.stdout = nil
	c.currentModel = ""
}

// latestUserText extracts the newest user turn; the REPL keeps its own
// conversation history, so replaying old turns would duplicate them.
func latestUserText(req *entity.ChatRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i].TextContent()
		}
	}
	return ""
}
