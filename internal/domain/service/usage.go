package service

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/entity"
)

// fallbackEncoding covers models tiktoken has no table for.
const fallbackEncoding = "cl100k_base"

// UsageEstimator approximates token usage for responses that arrive without
// usage metadata: streamed replies and CLI backends. Estimates are good
// enough for session accounting, not for billing.
type UsageEstimator struct {
	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken
}

// NewUsageEstimator creates an estimator with an empty encoder cache.
func NewUsageEstimator() *UsageEstimator {
	return &UsageEstimator{encoders: make(map[string]*tiktoken.Tiktoken)}
}

// EstimateUsage counts prompt tokens across the request messages and
// completion tokens over the response text.
func (e *UsageEstimator) EstimateUsage(model string, req *entity.ChatRequest, completion string) *entity.Usage {
	prompt := 0
	if req != nil {
		for i := range req.Messages {
			prompt += e.CountTokens(model, req.Messages[i].TextContent())
			prompt += 4 // per-message formatting overhead
		}
	}
	out := e.CountTokens(model, completion)
	return &entity.Usage{
		PromptTokens:     prompt,
		CompletionTokens: out,
		TotalTokens:      prompt + out,
	}
}

// CountTokens tokenizes text with the model's encoding, falling back to
// cl100k_base and finally to a chars/3 heuristic when no table is available.
func (e *UsageEstimator) CountTokens(model, text string) int {
	if text == "" {
		return 0
	}
	if enc := e.encoderFor(model); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return len(text) / 3
}

func (e *UsageEstimator) encoderFor(model string) *tiktoken.Tiktoken {
	e.mu.Lock()
	defer e.mu.Unlock()
	if enc, ok := e.encoders[model]; ok {
		return enc
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			enc = nil
		}
	}
	e.encoders[model] = enc
	return enc
}
