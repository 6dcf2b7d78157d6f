package gemini

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/config"
)

func TestInitializeSendsAPIKeyHeader(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-goog-api-key")
		if gotKey != "key-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"models":[{"name":"models/gemini-2.0-flash"}]}`))
	}))
	defer srv.Close()

	c := New("gemini", config.BackendConfig{BaseURL: srv.URL}, zap.NewNop())
	if err := c.Initialize(context.Background(), "key-1"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if gotKey != "key-1" {
		t.Fatalf("discovery x-goog-api-key = %q, want key-1", gotKey)
	}
	models := c.AvailableModels()
	if len(models) != 1 || models[0] != "gemini-2.0-flash" {
		t.Fatalf("models = %v", models)
	}
}

func TestInitializeRefusedWithoutConfiguredModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New("gemini", config.BackendConfig{BaseURL: srv.URL}, zap.NewNop())
	if err := c.Initialize(context.Background(), "bad-key"); err == nil {
		t.Fatal("expected error when discovery is refused and no models are configured")
	}
}
