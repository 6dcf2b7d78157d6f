package geminioauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/entity"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/backend"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/config"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/translation"
	"github.com/matdev83/llm-interactive-proxy-sub007/pkg/safego"
	proxyerrors "github.com/matdev83/llm-interactive-proxy-sub007/pkg/errors"
)

const tokenEndpoint = "https://oauth2.googleapis.com/token"

// expirySlack refreshes tokens slightly before they actually lapse.
const expirySlack = 2 * time.Minute

func init() {
	backend.RegisterFactory("gemini-oauth", func(name string, cfg config.BackendConfig, logger *zap.Logger) (backend.Connector, error) {
		return New(name, cfg, logger)
	})
}

// credentials mirrors the gemini CLI's oauth_creds.json.
type credentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	// ExpiryDate is unix milliseconds, the CLI's convention.
	ExpiryDate int64 `json:"expiry_date"`
}

func (c credentials) expired() bool {
	if c.ExpiryDate == 0 {
		return false
	}
	return time.Now().Add(expirySlack).After(time.UnixMilli(c.ExpiryDate))
}

// Connector reuses the gemini CLI's OAuth session: the bearer token comes
// from ~/.gemini/oauth_creds.json, refreshed on expiry and reloaded when
// the user's CLI rewrites the file.
type Connector struct {
	name     string
	baseURL  string
	credFile string
	models   []string
	client   *http.Client
	logger   *zap.Logger

	mu      sync.RWMutex
	creds   credentials
	watcher *fsnotify.Watcher
}

// New builds the connector. The credentials file path defaults to the
// gemini CLI's location.
func New(name string, cfg config.BackendConfig, logger *zap.Logger) (*Connector, error) {
	credFile := cfg.CredentialsFile
	if credFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		credFile = filepath.Join(home, ".gemini", "oauth_creds.json")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}
	return &Connector{
		name:     name,
		baseURL:  baseURL,
		credFile: credFile,
		models:   append([]string(nil), cfg.Models...),
		client:   backend.NewHTTPClient(),
		logger:   logger.With(zap.String("backend", name), zap.String("type", "gemini-oauth")),
	}, nil
}

var _ backend.Connector = (*Connector)(nil)

func (c *Connector) Name() string { return c.name }

// Initialize loads the credentials and starts the file watch.
func (c *Connector) Initialize(_ context.Context, _ string) error {
	if err := c.reload(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		c.logger.Warn("Credential watch unavailable", zap.Error(err))
		return nil
	}
	// Watch the directory: editors and the CLI replace the file by rename,
	// which drops a watch set on the file itself.
	if err := watcher.Add(filepath.Dir(c.credFile)); err != nil {
		watcher.Close()
		c.logger.Warn("Credential watch unavailable", zap.Error(err))
		return nil
	}
	c.watcher = watcher

	safego.Go(c.logger, "oauth-cred-watch", func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != c.credFile {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := c.reload(); err != nil {
					c.logger.Warn("Credential reload failed", zap.Error(err))
				} else {
					c.logger.Info("Credentials reloaded from disk")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Warn("Credential watch error", zap.Error(err))
			}
		}
	})
	return nil
}

// Close stops the credential watch.
func (c *Connector) Close() error {
	if c.watcher != nil {
		return c.watcher.Close()
	}
	return nil
}

func (c *Connector) AvailableModels() []string {
	return append([]string(nil), c.models...)
}

func (c *Connector) reload() error {
	raw, err := os.ReadFile(c.credFile)
	if err != nil {
		return proxyerrors.NewConfigurationError(
			fmt.Sprintf("credentials file %s unreadable: %v", c.credFile, err))
	}
	var creds credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return proxyerrors.NewConfigurationError(
			fmt.Sprintf("credentials file %s unparseable: %v", c.credFile, err))
	}
	if creds.AccessToken == "" {
		return proxyerrors.NewConfigurationError(
			"credentials file has no access token, run the gemini CLI login")
	}
	c.mu.Lock()
	c.creds = creds
	c.mu.Unlock()
	return nil
}

// token returns a live access token, refreshing it over OAuth when expired.
func (c *Connector) token(ctx context.Context) (string, error) {
	c.mu.RLock()
	creds := c.creds
	c.mu.RUnlock()

	if !creds.expired() {
		return creds.AccessToken, nil
	}
	if creds.RefreshToken == "" {
		return "", proxyerrors.NewAuthenticationError(
			"oauth token expired and no refresh token present, re-run the gemini CLI login")
	}
	return c.refresh(ctx, creds.RefreshToken)
}

func (c *Connector) refresh(ctx context.Context, refreshToken string) (string, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	if id := os.Getenv("GEMINI_OAUTH_CLIENT_ID"); id != "" {
		form.Set("client_id", id)
		form.Set("client_secret", os.Getenv("GEMINI_OAUTH_CLIENT_SECRET"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", proxyerrors.NewServiceUnavailableErrorWithCause("token refresh failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", proxyerrors.NewAuthenticationError(
			fmt.Sprintf("token refresh rejected (%d): %s", resp.StatusCode, body))
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("parse refresh response: %w", err)
	}

	c.mu.Lock()
	c.creds.AccessToken = out.AccessToken
	c.creds.ExpiryDate = time.Now().Add(time.Duration(out.ExpiresIn) * time.Second).UnixMilli()
	c.mu.Unlock()
	c.logger.Info("OAuth token refreshed")
	return out.AccessToken, nil
}

// ChatCompletions mirrors the API-key gemini connector with bearer auth.
func (c *Connector) ChatCompletions(ctx context.Context, call backend.CallRequest) (*entity.ChatResponse, error) {
	resp, err := c.post(ctx, fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, call.Model), call)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, proxyerrors.NewServiceUnavailableErrorWithCause("read upstream response", err)
	}
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, proxyerrors.NewRateLimitError(string(body), 0)
		}
		return nil, proxyerrors.NewBackendError(c.name, string(body), resp.StatusCode)
	}

	var gres translation.GeminiResponse
	if err := json.Unmarshal(body, &gres); err != nil {
		return nil, proxyerrors.NewBackendError(c.name, "unparseable upstream response", resp.StatusCode)
	}
	return translation.FromGeminiResponse(&gres, call.Model), nil
}

// StreamChatCompletions emulates streaming from the buffered reply; the
// OAuth surface does not expose streamGenerateContent on all tiers.
func (c *Connector) StreamChatCompletions(ctx context.Context, call backend.CallRequest) (io.ReadCloser, error) {
	res, err := c.ChatCompletions(ctx, call)
	if err != nil {
		return nil, err
	}
	return backend.ResponseToSSE(res), nil
}

func (c *Connector) post(ctx context.Context, url string, call backend.CallRequest) (*http.Response, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	wire := translation.ToGemini(call.Request)
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, proxyerrors.NewServiceUnavailableErrorWithCause("upstream request failed", err)
	}
	return resp, nil
}
