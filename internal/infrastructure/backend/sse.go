package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/entity"
)

// SSEDone is the terminal frame of an OpenAI-style stream.
const SSEDone = "data: [DONE]\n\n"

// SSEFrame renders one "data: {...}\n\n" frame.
func SSEFrame(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return []byte(fmt.Sprintf("data: %s\n\n", b))
}

// NewStreamID returns a fresh chunk-stream id.
func NewStreamID() string {
	return "chatcmpl-" + uuid.NewString()
}

// NewChunk builds one OpenAI-shaped streaming chunk.
func NewChunk(id, model, deltaText, finishReason string) *entity.ChatResponse {
	choice := entity.Choice{Delta: &entity.Message{Role: "assistant"}}
	if deltaText != "" {
		choice.Delta.Content = deltaText
	}
	choice.FinishReason = finishReason
	return &entity.ChatResponse{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []entity.Choice{choice},
	}
}

// ResponseToSSE renders a full response as a single-chunk SSE stream. Used
// by connectors that cannot stream natively (subprocess CLIs) and by the
// pipeline when a command result must be delivered to a streaming client.
func ResponseToSSE(res *entity.ChatResponse) io.ReadCloser {
	id := res.ID
	if id == "" {
		id = NewStreamID()
	}
	finish := "stop"
	if len(res.Choices) > 0 && res.Choices[0].FinishReason != "" {
		finish = res.Choices[0].FinishReason
	}

	pr, pw := io.Pipe()
	go func() {
		defer pw.Close()
		chunk := NewChunk(id, res.Model, res.FirstText(), "")
		if len(res.Choices) > 0 && res.Choices[0].Message != nil {
			chunk.Choices[0].Delta.ToolCalls = res.Choices[0].Message.ToolCalls
		}
		pw.Write(SSEFrame(chunk))
		final := NewChunk(id, res.Model, "", finish)
		final.Usage = res.Usage
		pw.Write(SSEFrame(final))
		pw.Write([]byte(SSEDone))
	}()
	return pr
}

// WatchBody force-closes an upstream body when the client context ends
// mid-stream, unblocking any reader stuck in Read. Callers must invoke the
// returned stop function once the stream finishes.
func WatchBody(ctx context.Context, body io.Closer, logger *zap.Logger) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			logger.Info("Context cancelled, force-closing upstream stream", zap.Error(ctx.Err()))
			body.Close()
		case <-done:
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// watchedStream couples an upstream body with its cancellation watchdog so
// a single Close tears both down.
type watchedStream struct {
	io.ReadCloser
	stop func()
}

func (w *watchedStream) Close() error {
	w.stop()
	return w.ReadCloser.Close()
}

// NewWatchedStream wraps body so that closing the returned stream also
// stops the context watchdog.
func NewWatchedStream(ctx context.Context, body io.ReadCloser, logger *zap.Logger) io.ReadCloser {
	return &watchedStream{
		ReadCloser: body,
		stop:       WatchBody(ctx, body, logger),
	}
}
