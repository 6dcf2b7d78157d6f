package command

import (
	"context"

	"go.uber.org/zap"

	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/entity"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/repository"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/service"
)

// Processed is the outcome of running the command stage over a request.
type Processed struct {
	// Messages is the request message list with every command span removed.
	Messages []entity.Message
	// Executed is true when a command handler ran.
	Executed bool
	// Result holds the handler outcome when Executed.
	Result entity.CommandResult
	// Session is the post-command session snapshot.
	Session *entity.Session
	// ForwardNeeded is false when the command consumed the whole request:
	// nothing meaningful is left to send upstream and the pipeline should
	// answer with the command result instead.
	ForwardNeeded bool
}

// Service runs the inline-command stage: find the effective command in the
// conversation, execute it against the session, and strip every command
// span from the outbound messages.
type Service struct {
	parser   *service.CommandParser
	registry *Registry
	sessions repository.SessionRepository
	logger   *zap.Logger
}

// NewService wires the command stage.
func NewService(parser *service.CommandParser, registry *Registry, sessions repository.SessionRepository, logger *zap.Logger) *Service {
	return &Service{
		parser:   parser,
		registry: registry,
		sessions: sessions,
		logger:   logger.With(zap.String("component", "commands")),
	}
}

// Process scans messages for commands and executes at most one: the
// effective command of the newest user message that carries any. Commands in
// older messages are history that already ran, so they are stripped but not
// re-executed. The returned message list never contains command text.
func (s *Service) Process(ctx context.Context, sessionID string, messages []entity.Message) (*Processed, error) {
	out := make([]entity.Message, len(messages))
	for i := range messages {
		out[i] = messages[i].Clone()
	}

	cmd, cmdIndex := s.findEffective(out)

	// Strip command spans from every user message, whether executed now or
	// long ago.
	for i := range out {
		if out[i].Role != "user" {
			continue
		}
		out[i].RewriteText(s.stripCommands)
	}

	if cmd == nil {
		sess, err := s.sessions.GetOrCreate(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		return &Processed{
			Messages:      out,
			Session:       sess,
			ForwardNeeded: true,
		}, nil
	}

	result, sess, err := s.execute(ctx, sessionID, cmd)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Executed command",
		zap.String("session_id", sessionID),
		zap.String("command", cmd.Name),
		zap.Bool("success", result.Success),
	)

	return &Processed{
		Messages:      out,
		Executed:      true,
		Result:        result,
		Session:       sess,
		ForwardNeeded: s.forwardNeeded(out, cmdIndex),
	}, nil
}

// findEffective returns the command to execute: walk user messages newest
// first, and in the first one that carries a valid command take its last
// valid command.
func (s *Service) findEffective(messages []entity.Message) (*entity.Command, int) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != "user" {
			continue
		}
		if cmd, ok := s.parser.Parse(messages[i].TextContent()); ok {
			return cmd, i
		}
	}
	return nil, -1
}

func (s *Service) execute(ctx context.Context, sessionID string, cmd *entity.Command) (entity.CommandResult, *entity.Session, error) {
	handler, ok := s.registry.Get(cmd.Name)
	if !ok {
		sess, err := s.sessions.GetOrCreate(ctx, sessionID)
		if err != nil {
			return entity.CommandResult{}, nil, err
		}
		return entity.Fail(cmd.Name, "Unknown command: "+cmd.Name), sess, nil
	}

	var result entity.CommandResult
	sess, err := s.sessions.Update(ctx, sessionID, func(current *entity.Session) error {
		result = handler.Handle(ctx, cmd, current)
		if result.NewState != nil {
			current.State = *result.NewState
		}
		current.Touch()
		return nil
	})
	if err != nil {
		return entity.CommandResult{}, nil, err
	}
	return result, sess, nil
}

// forwardNeeded reports whether the stripped conversation still warrants an
// upstream call: the message that carried the command must have text (or
// non-text parts) left after stripping.
func (s *Service) forwardNeeded(messages []entity.Message, cmdIndex int) bool {
	if cmdIndex < 0 || cmdIndex >= len(messages) {
		return true
	}
	return !messages[cmdIndex].IsTextEmpty()
}

func (s *Service) stripCommands(text string) string {
	return s.parser.Strip(text)
}
