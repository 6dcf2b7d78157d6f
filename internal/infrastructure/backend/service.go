package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/entity"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/config"
	proxyerrors "github.com/matdev83/llm-interactive-proxy-sub007/pkg/errors"
)

// backendState is one configured backend: its connector, key pool, and the
// cached model list. models is replaced wholesale on refresh; readers get
// copies.
type backendState struct {
	connector  Connector
	pool       *KeyPool
	mu         sync.RWMutex
	functional bool
	models     []string
}

// Service owns the configured connectors and everything routing needs to
// know about them: which ones initialized, what models they serve, and
// which key to use for the next call.
type Service struct {
	mu       sync.RWMutex
	backends map[string]*backendState
	logger   *zap.Logger
}

// NewService builds connectors for every configured backend. Construction
// failures (unknown type, bad config) exclude the backend entirely;
// Initialize failures keep it registered but non-functional.
func NewService(cfg *config.Config, logger *zap.Logger) *Service {
	s := &Service{
		backends: make(map[string]*backendState),
		logger:   logger.With(zap.String("component", "backends")),
	}
	for name, bc := range cfg.Backends {
		conn, err := CreateConnector(name, bc, logger)
		if err != nil {
			s.logger.Error("Backend excluded",
				zap.String("backend", name),
				zap.Error(err),
			)
			continue
		}
		s.backends[name] = &backendState{
			connector: conn,
			pool:      NewKeyPool(name, bc.KeyPool()),
		}
	}
	return s
}

// Initialize probes every backend concurrently. Failures are logged and
// leave the backend non-functional; the proxy still starts.
func (s *Service) Initialize(ctx context.Context) {
	var wg sync.WaitGroup
	s.mu.RLock()
	defer s.mu.RUnlock()
	for name, st := range s.backends {
		wg.Add(1)
		go func(name string, st *backendState) {
			defer wg.Done()
			key, _ := st.pool.Get(0)
			if err := st.connector.Initialize(ctx, key.Value); err != nil {
				s.logger.Warn("Backend failed to initialize",
					zap.String("backend", name),
					zap.Error(err),
				)
				return
			}
			models := st.connector.AvailableModels()
			st.mu.Lock()
			st.functional = true
			st.models = models
			st.mu.Unlock()
			s.logger.Info("Backend initialized",
				zap.String("backend", name),
				zap.Int("models", len(models)),
			)
		}(name, st)
	}
	wg.Wait()
}

// FunctionalBackends lists backends that initialized, sorted by name.
func (s *Service) FunctionalBackends() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.backends))
	for name, st := range s.backends {
		st.mu.RLock()
		ok := st.functional
		st.mu.RUnlock()
		if ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// HasBackend reports whether the backend is configured (functional or not).
func (s *Service) HasBackend(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.backends[name]
	return ok
}

// Models returns a copy of a backend's cached model list.
func (s *Service) Models(backend string) []string {
	st := s.state(backend)
	if st == nil {
		return nil
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return append([]string(nil), st.models...)
}

// Validate reports whether (backend, model) is dispatchable.
func (s *Service) Validate(backend, model string) (bool, string) {
	st := s.state(backend)
	if st == nil {
		return false, fmt.Sprintf("unknown backend: %s", backend)
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	if !st.functional {
		return false, fmt.Sprintf("backend %s is not functional", backend)
	}
	if len(st.models) == 0 {
		// Discovery unsupported (CLI backends); any model is accepted.
		return true, ""
	}
	for _, m := range st.models {
		if m == model {
			return true, ""
		}
	}
	return false, fmt.Sprintf("model %s not served by backend %s", model, backend)
}

// RefreshModels re-queries one backend's model list.
func (s *Service) RefreshModels(ctx context.Context, backend string) ([]string, error) {
	st := s.state(backend)
	if st == nil {
		return nil, proxyerrors.NewNotFoundError("backend " + backend)
	}
	key, _ := st.pool.Get(0)
	if err := st.connector.Initialize(ctx, key.Value); err != nil {
		return nil, err
	}
	models := st.connector.AvailableModels()
	st.mu.Lock()
	st.functional = true
	st.models = models
	st.mu.Unlock()
	s.logger.Info("Backend models refreshed",
		zap.String("backend", backend),
		zap.Int("models", len(models)),
	)
	return append([]string(nil), models...), nil
}

// KeyCount reports how many keys a backend's pool holds.
func (s *Service) KeyCount(backend string) int {
	st := s.state(backend)
	if st == nil {
		return 0
	}
	return st.pool.Len()
}

// ResolveEffectiveModel picks the backend and model for a call. Session
// state overrides come first: a pinned model wins over the request's, and a
// pinned backend wins over a "backend:" prefix in the request model. The
// prefix only selects the backend when the session left it open, or when
// the prefix sits inside the session's own pinned model; either way it is
// stripped from the model id.
func ResolveEffectiveModel(state entity.SessionState, requestModel string) (backend, model string) {
	backend = state.Backend
	model = requestModel
	fromSession := state.Model != ""
	if fromSession {
		model = state.Model
	}
	if i := strings.Index(model, ":"); i > 0 {
		prefix := model[:i]
		// Only treat the prefix as a backend name when it looks like one;
		// model ids may contain colons (vendor/model:variant).
		if !strings.Contains(prefix, "/") {
			if backend == "" || fromSession {
				backend = prefix
			}
			model = model[i+1:]
		}
	}
	return backend, model
}

// Complete dispatches a buffered completion. keyIndex < 0 lets the pool
// rotate; a fixed index comes from a failover plan.
func (s *Service) Complete(ctx context.Context, backend, model string, keyIndex int, req *entity.ChatRequest) (*entity.ChatResponse, error) {
	st, call, slot, err := s.prepare(backend, model, keyIndex, req)
	if err != nil {
		return nil, err
	}
	res, err := st.connector.ChatCompletions(ctx, call)
	if err != nil {
		s.noteKeyFailure(st, slot, err)
		return nil, err
	}
	return res, nil
}

// Stream dispatches a streaming completion. The returned reader carries
// OpenAI-style SSE bytes.
func (s *Service) Stream(ctx context.Context, backend, model string, keyIndex int, req *entity.ChatRequest) (io.ReadCloser, string, error) {
	st, call, slot, err := s.prepare(backend, model, keyIndex, req)
	if err != nil {
		return nil, "", err
	}
	stream, err := st.connector.StreamChatCompletions(ctx, call)
	if err != nil {
		s.noteKeyFailure(st, slot, err)
		return nil, "", err
	}
	return stream, call.KeyName, nil
}

func (s *Service) prepare(backend, model string, keyIndex int, req *entity.ChatRequest) (*backendState, CallRequest, int, error) {
	st := s.state(backend)
	if st == nil {
		return nil, CallRequest{}, -1, proxyerrors.NewNotFoundError("backend " + backend)
	}
	st.mu.RLock()
	functional := st.functional
	st.mu.RUnlock()
	if !functional {
		return nil, CallRequest{}, -1, proxyerrors.NewServiceUnavailableError(
			fmt.Sprintf("backend %s is not functional", backend))
	}

	call := CallRequest{Request: req, Model: model}
	slot := -1
	if st.pool.Len() > 0 {
		var key Key
		var ok bool
		if keyIndex >= 0 {
			key, ok = st.pool.Get(keyIndex)
			slot = keyIndex
		} else {
			key, slot, ok = st.pool.Next()
		}
		if !ok {
			return nil, CallRequest{}, -1, proxyerrors.NewConfigurationError(
				fmt.Sprintf("backend %s has no API key at index %d", backend, keyIndex))
		}
		call.APIKey = key.Value
		call.KeyName = key.Name
	}
	return st, call, slot, nil
}

// noteKeyFailure puts the key on cooldown when the upstream throttled it.
func (s *Service) noteKeyFailure(st *backendState, slot int, err error) {
	if slot < 0 {
		return
	}
	var pe *proxyerrors.ProxyError
	if errors.As(err, &pe) && (pe.Code == proxyerrors.CodeRateLimit || pe.UpstreamStatus == 429) {
		retryAfter := time.Duration(0)
		if v, ok := pe.Details["retry_after"].(int); ok {
			retryAfter = time.Duration(v) * time.Second
		}
		st.pool.MarkLimited(slot, retryAfter)
	}
}

func (s *Service) state(backend string) *backendState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backends[backend]
}

// Shutdown stops connectors that hold external resources (subprocesses,
// token refreshers). Connectors without cleanup needs are skipped.
func (s *Service) Shutdown() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for name, st := range s.backends {
		switch c := st.connector.(type) {
		case interface{ Shutdown() }:
			c.Shutdown()
		case io.Closer:
			if err := c.Close(); err != nil {
				s.logger.Warn("Backend close failed",
					zap.String("backend", name),
					zap.Error(err),
				)
			}
		}
	}
}
