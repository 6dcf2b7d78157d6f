package backend

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/entity"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/config"
)

// CallRequest is one upstream invocation: the canonical request, the
// effective model, and the key to use. Keys travel per call so failover can
// rotate them without touching connector state.
type CallRequest struct {
	Request *entity.ChatRequest
	Model   string
	APIKey  string
	// KeyName identifies the key for capture and logs. Key material itself
	// never appears in either.
	KeyName string
}

// Connector is one upstream provider binding.
type Connector interface {
	// Name returns the configured backend name (config key, not type).
	Name() string

	// Initialize probes the backend with the given credential. A failed
	// Initialize marks the backend non-functional; it is excluded from
	// dispatch and the welcome banner. apiKey may be empty for backends
	// that carry credentials elsewhere (CLI coprocesses, OAuth).
	Initialize(ctx context.Context, apiKey string) error

	// AvailableModels lists models discovered at Initialize time.
	AvailableModels() []string

	// ChatCompletions performs a buffered completion.
	ChatCompletions(ctx context.Context, call CallRequest) (*entity.ChatResponse, error)

	// StreamChatCompletions returns OpenAI-style SSE bytes ending with
	// "data: [DONE]". The caller owns the reader and must Close it.
	StreamChatCompletions(ctx context.Context, call CallRequest) (io.ReadCloser, error)
}

// Factory builds a connector from its config block.
type Factory func(name string, cfg config.BackendConfig, logger *zap.Logger) (Connector, error)

var (
	factoryMu sync.RWMutex
	factories = map[string]Factory{}
)

// RegisterFactory registers a connector factory for a backend type. Called
// from init() in each connector subpackage.
func RegisterFactory(typeName string, factory Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[typeName] = factory
}

// CreateConnector builds a connector using the factory registered for the
// config's type (the backend name itself when type is unset).
func CreateConnector(name string, cfg config.BackendConfig, logger *zap.Logger) (Connector, error) {
	t := cfg.ConnectorType(name)

	factoryMu.RLock()
	factory, ok := factories[t]
	factoryMu.RUnlock()

	if !ok {
		factoryMu.RLock()
		available := make([]string, 0, len(factories))
		for k := range factories {
			available = append(available, k)
		}
		factoryMu.RUnlock()
		sort.Strings(available)
		return nil, fmt.Errorf("unknown backend type %q (available: %v)", t, available)
	}
	return factory(name, cfg, logger)
}

// NewHTTPClient builds the tuned transport shared by the HTTP connectors.
// The response-header timeout is generous because reasoning models can sit
// silent for minutes before the first byte.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   15 * time.Second,
			ResponseHeaderTimeout: 300 * time.Second,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConns:          10,
			MaxIdleConnsPerHost:   5,
			TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		},
	}
}
