package usecase

import (
	"context"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/command"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/entity"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/repository"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/service"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/backend"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/capture"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/config"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/eventbus"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/monitoring"
	proxyerrors "github.com/matdev83/llm-interactive-proxy-sub007/pkg/errors"
)

const responsePreviewLimit = 200

// ChatInput is one inbound chat-completion request after wire translation.
type ChatInput struct {
	SessionID  string
	Stream     bool
	Request    *entity.ChatRequest
	ClientHost string
	UserAgent  string
	RequestID  string
}

// ChatResult is what the HTTP layer renders. Exactly one of Response or
// Stream is set; Stream carries OpenAI-style SSE bytes ready to relay.
type ChatResult struct {
	Response *entity.ChatResponse
	Stream   io.ReadCloser
	Backend  string
	Model    string
	// Proxy marks responses authored by the proxy itself (command replies),
	// with no upstream call behind them.
	Proxy bool
}

// ChatDeps carries the collaborators of the chat pipeline.
type ChatDeps struct {
	Config    *config.Config
	Sessions  repository.SessionRepository
	Commands  *command.Service
	Chain     *service.ProcessorChain
	Responses *service.ResponseManager
	Backends  *backend.Service
	Failover  *service.FailoverEngine
	Loops     *service.LoopDetector
	Usage     *service.UsageEstimator
	Redactor  *service.Redactor
	Capture   *capture.Capture
	Monitor   *monitoring.Monitor
	Bus       eventbus.Bus
	Logger    *zap.Logger
}

// ChatUseCase drives one request through the proxy pipeline: command
// execution, middleware, routing, dispatch with failover, capture, and
// history accounting.
type ChatUseCase struct {
	deps   ChatDeps
	logger *zap.Logger
}

// NewChatUseCase wires the pipeline.
func NewChatUseCase(deps ChatDeps) *ChatUseCase {
	return &ChatUseCase{
		deps:   deps,
		logger: deps.Logger.With(zap.String("component", "chat")),
	}
}

// Execute runs the full pipeline for one request.
func (u *ChatUseCase) Execute(ctx context.Context, in ChatInput) (*ChatResult, error) {
	start := time.Now()
	u.deps.Monitor.IncRequestTotal()

	result, err := u.execute(ctx, in)
	u.deps.Monitor.RecordRequestLatency(time.Since(start))
	if err != nil {
		u.deps.Monitor.IncRequestFailed()
		u.deps.Monitor.IncError()
		return nil, err
	}
	u.deps.Monitor.IncRequestSuccess()
	return result, nil
}

func (u *ChatUseCase) execute(ctx context.Context, in ChatInput) (*ChatResult, error) {
	req := in.Request
	agent := service.DetectAgent(req)

	processed, err := u.deps.Commands.Process(ctx, in.SessionID, req.Messages)
	if err != nil {
		return nil, err
	}
	sess := processed.Session
	sess = u.rememberAgent(ctx, sess, agent)

	if processed.Executed {
		u.deps.Monitor.IncCommandTotal()
		if !processed.Result.Success {
			u.deps.Monitor.IncCommandFailed()
		}
		u.publish(ctx, eventbus.EventTypeCommandExecuted, eventbus.CommandExecutedPayload{
			SessionID: in.SessionID,
			Command:   processed.Result.CommandName,
			Success:   processed.Result.Success,
			Message:   processed.Result.Message,
		})
		if !processed.ForwardNeeded {
			return u.commandReply(ctx, in, sess, agent, processed.Result)
		}
	}

	work := req.Clone()
	work.Messages = processed.Messages

	rc := &service.RequestContext{
		SessionID: in.SessionID,
		Session:   sess,
		Agent:     agent,
		Stream:    in.Stream,
	}
	work, err = u.deps.Chain.Run(ctx, rc, work)
	if err != nil {
		return nil, err
	}
	sess = u.clearCompressFlag(ctx, sess)

	backendName, model := backend.ResolveEffectiveModel(sess.State, work.Model)
	if backendName == "" {
		backendName = u.deps.Config.DefaultBackend
	}

	if u.deps.Config.Session.ForceSetProject && sess.State.Project == "" {
		return nil, proxyerrors.NewInvalidRequestError("Project name not set")
	}

	if err := u.deps.Loops.Check(in.SessionID, sess.State.Loop, work); err != nil {
		return nil, err
	}

	u.applySessionOverrides(sess.State, work)

	return u.dispatch(ctx, in, sess, agent, work, backendName, model)
}

// commandReply renders a proxy-authored response for a request that
// collapsed to a command.
func (u *ChatUseCase) commandReply(ctx context.Context, in ChatInput, sess *entity.Session, agent string, result entity.CommandResult) (*ChatResult, error) {
	model := sess.State.Model
	if model == "" {
		model = in.Request.Model
	}
	text := u.deps.Responses.CompressHandlerResult(sess.State, result.Message)
	resp := u.deps.Responses.CommandResponse(agent, model, result.CommandName, text)

	u.appendHistory(ctx, in.SessionID, entity.Interaction{
		Prompt:   u.redact(latestUserText(in.Request)),
		Handler:  "proxy",
		Model:    model,
		Project:  sess.State.Project,
		Response: preview(text),
	})
	u.clearHelloFlag(ctx, sess)

	out := &ChatResult{Model: model, Proxy: true}
	if in.Stream {
		out.Stream = backend.ResponseToSSE(resp)
	} else {
		out.Response = resp
	}
	return out, nil
}

// dispatch walks the attempt plan until one backend answers or a terminal
// error surfaces.
func (u *ChatUseCase) dispatch(ctx context.Context, in ChatInput, sess *entity.Session, agent string, work *entity.ChatRequest, backendName, model string) (*ChatResult, error) {
	route, routed := sess.State.Route(model)
	var plan []service.Attempt
	if routed {
		plan = u.deps.Failover.BuildPlan(route, u.deps.Backends.KeyCount)
		if len(plan) == 0 {
			return nil, proxyerrors.NewConfigurationError("failover route " + model + " has no elements")
		}
	} else {
		if ok, reason := u.deps.Backends.Validate(backendName, model); !ok {
			return nil, proxyerrors.NewInvalidRequestError(reason)
		}
		attempts := u.deps.Backends.KeyCount(backendName)
		if attempts < 1 {
			attempts = 1
		}
		for i := 0; i < attempts; i++ {
			plan = append(plan, service.Attempt{Backend: backendName, Model: model, KeyIndex: -1})
		}
	}

	var lastErr error
	for i, at := range plan {
		if routed {
			if ok, _ := u.deps.Backends.Validate(at.Backend, at.Model); !ok {
				continue
			}
		}
		if i > 0 {
			u.deps.Monitor.IncFailoverAttempt()
			u.publish(ctx, eventbus.EventTypeFailover, eventbus.FailoverPayload{
				SessionID: in.SessionID,
				Route:     route.Name,
				Attempt:   i,
				Backend:   at.Backend,
				Model:     at.Model,
				Error:     errString(lastErr),
			})
		}

		result, err := u.attempt(ctx, in, sess, work, at)
		if err == nil {
			return result, nil
		}
		lastErr = err
		u.deps.Monitor.IncBackendCallFailed()
		if !u.deps.Failover.Retryable(err) {
			break
		}
		if routed {
			u.deps.Failover.MarkFailed(at.Backend, at.Model)
		}
		u.logger.Warn("Backend attempt failed, considering next",
			zap.String("backend", at.Backend),
			zap.String("model", at.Model),
			zap.Int("attempt", i+1),
			zap.Error(err),
		)
	}
	if lastErr == nil {
		lastErr = proxyerrors.NewServiceUnavailableError("no dispatchable route element")
	}
	u.publish(ctx, eventbus.EventTypeError, eventbus.ErrorPayload{
		SessionID: in.SessionID,
		Component: "dispatch",
		Error:     lastErr.Error(),
	})
	return nil, lastErr
}

func (u *ChatUseCase) attempt(ctx context.Context, in ChatInput, sess *entity.Session, work *entity.ChatRequest, at service.Attempt) (*ChatResult, error) {
	u.deps.Monitor.IncBackendCall()
	meta := capture.Meta{
		SessionID:  in.SessionID,
		Backend:    at.Backend,
		Model:      at.Model,
		ClientHost: in.ClientHost,
		UserAgent:  in.UserAgent,
		RequestID:  in.RequestID,
	}
	if u.deps.Capture != nil {
		u.deps.Capture.OutboundRequest(meta, work)
	}
	callStart := time.Now()

	if in.Stream {
		stream, keyName, err := u.deps.Backends.Stream(ctx, at.Backend, at.Model, at.KeyIndex, work)
		if err != nil {
			return nil, err
		}
		meta.KeyName = keyName
		if u.deps.Capture != nil {
			stream = u.deps.Capture.WrapStream(stream, meta)
		}
		stream = &countingStream{rc: stream, monitor: u.deps.Monitor}
		u.recordExchange(ctx, in, sess, work, at, "<streaming>", u.estimateUsage(at.Model, work, ""), callStart)
		return &ChatResult{Stream: stream, Backend: at.Backend, Model: at.Model}, nil
	}

	res, err := u.deps.Backends.Complete(ctx, at.Backend, at.Model, at.KeyIndex, work)
	if err != nil {
		return nil, err
	}
	if u.deps.Capture != nil {
		u.deps.Capture.InboundResponse(meta, res)
	}
	usage := res.Usage
	if usage == nil || usage.Total() == 0 {
		usage = u.estimateUsage(at.Model, work, res.FirstText())
	}
	u.recordExchange(ctx, in, sess, work, at, preview(res.FirstText()), usage, callStart)
	return &ChatResult{Response: res, Backend: at.Backend, Model: at.Model}, nil
}

func (u *ChatUseCase) recordExchange(ctx context.Context, in ChatInput, sess *entity.Session, work *entity.ChatRequest, at service.Attempt, response string, usage *entity.Usage, callStart time.Time) {
	u.deps.Monitor.RecordBackendLatency(time.Since(callStart))
	if usage != nil {
		u.deps.Monitor.AddTokensUsed(usage.Total())
	}
	u.publish(ctx, eventbus.EventTypeBackendCall, eventbus.BackendCallPayload{
		SessionID:  in.SessionID,
		Backend:    at.Backend,
		Model:      at.Model,
		Streaming:  in.Stream,
		TokensUsed: usage.Total(),
		Duration:   time.Since(callStart),
		Success:    true,
	})
	u.appendHistory(ctx, in.SessionID, entity.Interaction{
		Prompt:     u.redact(latestUserText(work)),
		Handler:    "backend",
		Backend:    at.Backend,
		Model:      at.Model,
		Project:    sess.State.Project,
		Parameters: parameterSnapshot(sess.State),
		Response:   response,
		Usage:      usage,
	})
}

// applySessionOverrides copies the session's sampling and reasoning
// overrides onto the outbound request. Session values win over what the
// client sent.
func (u *ChatUseCase) applySessionOverrides(state entity.SessionState, req *entity.ChatRequest) {
	r := state.Reasoning
	if r.Temperature != nil {
		v := *r.Temperature
		req.Temperature = &v
	}
	if r.TopP != nil {
		v := *r.TopP
		req.TopP = &v
	}
	if r.ReasoningEffort != "" || r.ThinkingBudget != nil {
		if req.Extra == nil {
			req.Extra = make(map[string]any, 2)
		}
		if r.ReasoningEffort != "" {
			req.Extra["reasoning_effort"] = r.ReasoningEffort
		}
		if r.ThinkingBudget != nil {
			req.Extra["thinking_budget"] = *r.ThinkingBudget
		}
	}
}

func (u *ChatUseCase) rememberAgent(ctx context.Context, sess *entity.Session, agent string) *entity.Session {
	if agent == "" || sess.Agent == agent {
		return sess
	}
	updated, err := u.deps.Sessions.Update(ctx, sess.ID, func(s *entity.Session) error {
		s.Agent = agent
		return nil
	})
	if err != nil {
		u.logger.Warn("Failed to remember agent", zap.String("session_id", sess.ID), zap.Error(err))
		return sess
	}
	return updated
}

func (u *ChatUseCase) clearHelloFlag(ctx context.Context, sess *entity.Session) {
	if !sess.State.HelloRequested {
		return
	}
	if _, err := u.deps.Sessions.Update(ctx, sess.ID, func(s *entity.Session) error {
		s.State = s.State.WithHelloRequested(false)
		return nil
	}); err != nil {
		u.logger.Warn("Failed to clear hello flag", zap.String("session_id", sess.ID), zap.Error(err))
	}
}

func (u *ChatUseCase) clearCompressFlag(ctx context.Context, sess *entity.Session) *entity.Session {
	if !sess.State.CompressNextToolReply {
		return sess
	}
	updated, err := u.deps.Sessions.Update(ctx, sess.ID, func(s *entity.Session) error {
		s.State = s.State.WithCompressNextToolReply(false)
		return nil
	})
	if err != nil {
		u.logger.Warn("Failed to clear compression flag", zap.String("session_id", sess.ID), zap.Error(err))
		return sess
	}
	// Keep the pre-clear state for this request: the flag applied to it.
	updated.State = sess.State
	return updated
}

func (u *ChatUseCase) appendHistory(ctx context.Context, sessionID string, in entity.Interaction) {
	if _, err := u.deps.Sessions.Update(ctx, sessionID, func(s *entity.Session) error {
		s.AddInteraction(in)
		return nil
	}); err != nil {
		u.logger.Warn("Failed to append session history", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (u *ChatUseCase) estimateUsage(model string, req *entity.ChatRequest, completion string) *entity.Usage {
	if u.deps.Usage == nil {
		return nil
	}
	return u.deps.Usage.EstimateUsage(model, req, completion)
}

func (u *ChatUseCase) redact(s string) string {
	if u.deps.Redactor == nil {
		return s
	}
	return u.deps.Redactor.Redact(s)
}

func (u *ChatUseCase) publish(ctx context.Context, eventType string, payload any) {
	if u.deps.Bus == nil {
		return
	}
	u.deps.Bus.Publish(ctx, eventbus.NewEvent(eventType, payload))
}

func parameterSnapshot(state entity.SessionState) map[string]any {
	r := state.Reasoning
	params := make(map[string]any, 4)
	if r.Temperature != nil {
		params["temperature"] = *r.Temperature
	}
	if r.TopP != nil {
		params["top_p"] = *r.TopP
	}
	if r.ReasoningEffort != "" {
		params["reasoning_effort"] = r.ReasoningEffort
	}
	if r.ThinkingBudget != nil {
		params["thinking_budget"] = *r.ThinkingBudget
	}
	if len(params) == 0 {
		return nil
	}
	return params
}

func latestUserText(req *entity.ChatRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i].TextContent()
		}
	}
	return ""
}

func preview(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > responsePreviewLimit {
		return s[:responsePreviewLimit]
	}
	return s
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// countingStream feeds the stream-chunk counter as bytes flow to the client.
type countingStream struct {
	rc      io.ReadCloser
	monitor *monitoring.Monitor
}

func (c *countingStream) Read(p []byte) (int, error) {
	n, err := c.rc.Read(p)
	if n > 0 {
		c.monitor.IncStreamChunk()
	}
	return n, err
}

func (c *countingStream) Close() error { return c.rc.Close() }
