package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/entity"
)

// RequestContext carries per-request facts the processors key off: the
// resolved session, the detected agent, and how the client wants its answer.
type RequestContext struct {
	SessionID string
	Session   *entity.Session
	Agent     string
	Stream    bool
}

// RequestProcessor is a transformation stage between the command system and
// the backend call. Processors receive the request by value semantics: they
// must return either the input unchanged or a modified copy, never mutate
// shared state in place.
type RequestProcessor interface {
	// Name identifies the processor in logs.
	Name() string

	// ShouldProcess decides from session state whether this stage applies.
	ShouldProcess(rc *RequestContext) bool

	// Process transforms the request. Returning an error aborts the
	// pipeline and surfaces to the client.
	Process(ctx context.Context, rc *RequestContext, req *entity.ChatRequest) (*entity.ChatRequest, error)
}

// ProcessorChain runs RequestProcessors in registration order.
type ProcessorChain struct {
	processors []RequestProcessor
	logger     *zap.Logger
}

// NewProcessorChain creates an empty chain.
func NewProcessorChain(logger *zap.Logger) *ProcessorChain {
	return &ProcessorChain{
		processors: make([]RequestProcessor, 0, 4),
		logger:     logger,
	}
}

// Use appends one or more processors to the chain.
func (c *ProcessorChain) Use(ps ...RequestProcessor) {
	c.processors = append(c.processors, ps...)
}

// Len returns the number of registered processors.
func (c *ProcessorChain) Len() int {
	return len(c.processors)
}

// Run applies every applicable processor in order.
func (c *ProcessorChain) Run(ctx context.Context, rc *RequestContext, req *entity.ChatRequest) (*entity.ChatRequest, error) {
	for _, p := range c.processors {
		if !p.ShouldProcess(rc) {
			continue
		}
		next, err := p.Process(ctx, rc, req)
		if err != nil {
			c.logger.Warn("Request processor failed",
				zap.String("processor", p.Name()),
				zap.String("session_id", rc.SessionID),
				zap.Error(err),
			)
			return nil, err
		}
		req = next
	}
	return req, nil
}

// RedactionProcessor masks API keys in every outbound message and strips any
// command-shaped text the command system left behind.
type RedactionProcessor struct {
	redactor *Redactor
	filter   *CommandFilter
}

// NewRedactionProcessor builds the redaction stage.
func NewRedactionProcessor(redactor *Redactor, filter *CommandFilter) *RedactionProcessor {
	return &RedactionProcessor{redactor: redactor, filter: filter}
}

// Name implements RequestProcessor.
func (p *RedactionProcessor) Name() string { return "redaction" }

// ShouldProcess honors the per-session redaction toggle.
func (p *RedactionProcessor) ShouldProcess(rc *RequestContext) bool {
	return rc.Session == nil || rc.Session.State.RedactAPIKeys
}

// Process rewrites all text content through the redactor and the command
// filter.
func (p *RedactionProcessor) Process(_ context.Context, _ *RequestContext, req *entity.ChatRequest) (*entity.ChatRequest, error) {
	out := req.Clone()
	for i := range out.Messages {
		out.Messages[i].RewriteText(func(s string) string {
			return p.filter.Strip(p.redactor.Redact(s))
		})
	}
	return out, nil
}

// PytestCompressionProcessor shrinks the latest tool reply when the session
// flagged the next reply for compression.
type PytestCompressionProcessor struct {
	compressor *PytestCompressor
}

// NewPytestCompressionProcessor builds the compression stage.
func NewPytestCompressionProcessor(c *PytestCompressor) *PytestCompressionProcessor {
	return &PytestCompressionProcessor{compressor: c}
}

// Name implements RequestProcessor.
func (p *PytestCompressionProcessor) Name() string { return "pytest-compression" }

// ShouldProcess requires both the feature toggle and the one-shot flag.
func (p *PytestCompressionProcessor) ShouldProcess(rc *RequestContext) bool {
	if rc.Session == nil {
		return false
	}
	st := rc.Session.State
	return st.PytestCompression && st.CompressNextToolReply
}

// Process compresses the text of the last tool-role message.
func (p *PytestCompressionProcessor) Process(_ context.Context, _ *RequestContext, req *entity.ChatRequest) (*entity.ChatRequest, error) {
	out := req.Clone()
	for i := len(out.Messages) - 1; i >= 0; i-- {
		if out.Messages[i].Role != "tool" {
			continue
		}
		out.Messages[i].RewriteText(p.compressor.Compress)
		break
	}
	return out, nil
}
