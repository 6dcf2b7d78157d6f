package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		err    *ProxyError
		status int
		typ    string
	}{
		{NewAuthenticationError("no key"), http.StatusUnauthorized, "authentication_error"},
		{NewInvalidRequestError("bad json"), http.StatusBadRequest, "invalid_request_error"},
		{NewConfigurationError("unknown model"), http.StatusBadRequest, "configuration_error"},
		{NewBackendError("openai", "upstream 500", 500), http.StatusInternalServerError, "backend_error"},
		{NewBackendError("openai", "upstream 404", 404), http.StatusNotFound, "backend_error"},
		// No upstream response at all: flat 502.
		{NewBackendError("openai", "connection reset", 0), http.StatusBadGateway, "backend_error"},
		{NewRateLimitError("throttled", 30), http.StatusTooManyRequests, "rate_limit_exceeded"},
		{NewServiceUnavailableError("all backends down"), http.StatusServiceUnavailable, "service_unavailable"},
		{NewLoopDetectionError("loop"), http.StatusBadRequest, "loop_detection_error"},
		{NewNotFoundError("no session"), http.StatusNotFound, "not_found_error"},
		{NewInternalError("boom"), http.StatusInternalServerError, "proxy_error"},
	}
	for _, tc := range cases {
		if got := tc.err.HTTPStatus(); got != tc.status {
			t.Errorf("%s: HTTPStatus = %d, want %d", tc.err.Code, got, tc.status)
		}
		if got := tc.err.WireType(); got != tc.typ {
			t.Errorf("%s: WireType = %q, want %q", tc.err.Code, got, tc.typ)
		}
	}
}

func TestUnwrapAndPredicates(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := NewServiceUnavailableErrorWithCause("backend unreachable", cause)

	wrapped := fmt.Errorf("dispatch: %w", err)
	var pe *ProxyError
	if !stderrors.As(wrapped, &pe) {
		t.Fatal("expected ProxyError in chain")
	}
	if pe.Code != CodeServiceUnavail {
		t.Errorf("code = %s, want %s", pe.Code, CodeServiceUnavail)
	}
	if !stderrors.Is(wrapped, cause) {
		t.Error("cause lost through wrapping")
	}

	if !IsRateLimit(fmt.Errorf("x: %w", NewRateLimitError("slow down", 0))) {
		t.Error("IsRateLimit failed through wrapping")
	}
	if IsRateLimit(stderrors.New("plain")) {
		t.Error("IsRateLimit matched a plain error")
	}
	if !IsAuthentication(NewAuthenticationError("nope")) {
		t.Error("IsAuthentication failed")
	}
}

func TestAsProxyErrorWrapsUnknown(t *testing.T) {
	plain := stderrors.New("something broke")
	pe := AsProxyError(plain)
	if pe.Code != CodeInternal {
		t.Errorf("code = %s, want %s", pe.Code, CodeInternal)
	}
	if !stderrors.Is(pe, plain) {
		t.Error("original error not preserved")
	}

	typed := NewBackendError("gemini", "bad gateway", 502)
	if got := AsProxyError(fmt.Errorf("wrap: %w", typed)); got != typed {
		t.Error("existing ProxyError not extracted")
	}
}

func TestBackendErrorDetails(t *testing.T) {
	err := NewBackendError("openai", "upstream rejected request", 503)
	if err.UpstreamStatus != 503 {
		t.Errorf("UpstreamStatus = %d, want 503", err.UpstreamStatus)
	}
	if err.Details["backend"] != "openai" {
		t.Errorf("backend detail = %v", err.Details["backend"])
	}
	if err.Details["upstream_status"] != 503 {
		t.Errorf("upstream_status detail = %v", err.Details["upstream_status"])
	}
}

func TestRetryAfterDetail(t *testing.T) {
	if d := NewRateLimitError("throttled", 12).Details["retry_after"]; d != 12 {
		t.Errorf("retry_after = %v, want 12", d)
	}
	if d, ok := NewRateLimitError("throttled", 0).Details["retry_after"]; ok {
		t.Errorf("retry_after unexpectedly set: %v", d)
	}
}
