package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies a proxy error class.
type ErrorCode string

const (
	CodeInternal       ErrorCode = "INTERNAL_ERROR"
	CodeAuthentication ErrorCode = "AUTHENTICATION_ERROR"
	CodeInvalidRequest ErrorCode = "INVALID_REQUEST"
	CodeConfiguration  ErrorCode = "CONFIGURATION_ERROR"
	CodeBackend        ErrorCode = "BACKEND_ERROR"
	CodeRateLimit      ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeServiceUnavail ErrorCode = "SERVICE_UNAVAILABLE"
	CodeLoopDetected   ErrorCode = "LOOP_DETECTED"
	CodeNotFound       ErrorCode = "NOT_FOUND"
)

// ProxyError is the error type carried across layer boundaries. Code selects
// the HTTP status and wire type; Details travels into the response envelope.
type ProxyError struct {
	Code    ErrorCode
	Message string
	Details map[string]any
	Err     error

	// UpstreamStatus is the HTTP status returned by a backend, when the
	// error originates from an upstream response.
	UpstreamStatus int
}

// Error implements the error interface.
func (e *ProxyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap.
func (e *ProxyError) Unwrap() error {
	return e.Err
}

// WithDetail attaches a key/value pair to the error's detail map.
func (e *ProxyError) WithDetail(key string, value any) *ProxyError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// HTTPStatus maps the error class to the status the proxy serves.
func (e *ProxyError) HTTPStatus() int {
	switch e.Code {
	case CodeAuthentication:
		return http.StatusUnauthorized
	case CodeInvalidRequest, CodeConfiguration, CodeLoopDetected:
		return http.StatusBadRequest
	case CodeBackend:
		// An upstream error status is more specific than a flat 502.
		if e.UpstreamStatus >= 400 {
			return e.UpstreamStatus
		}
		return http.StatusBadGateway
	case CodeRateLimit:
		return http.StatusTooManyRequests
	case CodeServiceUnavail:
		return http.StatusServiceUnavailable
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// WireType is the OpenAI-style "type" string used in error envelopes.
func (e *ProxyError) WireType() string {
	switch e.Code {
	case CodeAuthentication:
		return "authentication_error"
	case CodeInvalidRequest:
		return "invalid_request_error"
	case CodeConfiguration:
		return "configuration_error"
	case CodeBackend:
		return "backend_error"
	case CodeRateLimit:
		return "rate_limit_exceeded"
	case CodeServiceUnavail:
		return "service_unavailable"
	case CodeLoopDetected:
		return "loop_detection_error"
	case CodeNotFound:
		return "not_found_error"
	default:
		return "proxy_error"
	}
}

// NewAuthenticationError reports a missing or rejected client credential.
func NewAuthenticationError(message string) *ProxyError {
	return &ProxyError{Code: CodeAuthentication, Message: message}
}

// NewInvalidRequestError reports a malformed or unprocessable request.
func NewInvalidRequestError(message string) *ProxyError {
	return &ProxyError{Code: CodeInvalidRequest, Message: message}
}

// NewConfigurationError reports an invalid backend/model selection or a
// configuration gap that makes the request unservable.
func NewConfigurationError(message string) *ProxyError {
	return &ProxyError{Code: CodeConfiguration, Message: message}
}

// NewBackendError reports a failed upstream call. status is the upstream
// HTTP status, zero when the failure happened before a response arrived.
func NewBackendError(backend, message string, status int) *ProxyError {
	e := &ProxyError{Code: CodeBackend, Message: message, UpstreamStatus: status}
	if backend != "" {
		e.WithDetail("backend", backend)
	}
	if status > 0 {
		e.WithDetail("upstream_status", status)
	}
	return e
}

// NewRateLimitError reports upstream throttling. retryAfter is in seconds,
// zero when the upstream did not say.
func NewRateLimitError(message string, retryAfter int) *ProxyError {
	e := &ProxyError{Code: CodeRateLimit, Message: message, UpstreamStatus: http.StatusTooManyRequests}
	if retryAfter > 0 {
		e.WithDetail("retry_after", retryAfter)
	}
	return e
}

// NewServiceUnavailableError reports that no backend could serve the request.
func NewServiceUnavailableError(message string) *ProxyError {
	return &ProxyError{Code: CodeServiceUnavail, Message: message}
}

// NewServiceUnavailableErrorWithCause wraps a transport failure.
func NewServiceUnavailableErrorWithCause(message string, cause error) *ProxyError {
	return &ProxyError{Code: CodeServiceUnavail, Message: message, Err: cause}
}

// NewLoopDetectionError reports a degenerate request loop.
func NewLoopDetectionError(message string) *ProxyError {
	return &ProxyError{Code: CodeLoopDetected, Message: message}
}

// NewNotFoundError reports a missing resource on admin surfaces.
func NewNotFoundError(message string) *ProxyError {
	return &ProxyError{Code: CodeNotFound, Message: message}
}

// NewInternalError reports an unexpected proxy-side failure.
func NewInternalError(message string) *ProxyError {
	return &ProxyError{Code: CodeInternal, Message: message}
}

// NewInternalErrorWithCause wraps an unexpected proxy-side failure.
func NewInternalErrorWithCause(message string, cause error) *ProxyError {
	return &ProxyError{Code: CodeInternal, Message: message, Err: cause}
}

// AsProxyError extracts a ProxyError from an error chain. Unknown errors are
// wrapped as internal so every error leaving the pipeline has a class.
func AsProxyError(err error) *ProxyError {
	var pe *ProxyError
	if errors.As(err, &pe) {
		return pe
	}
	return &ProxyError{Code: CodeInternal, Message: err.Error(), Err: err}
}

// IsAuthentication reports whether err is an authentication failure.
func IsAuthentication(err error) bool {
	return hasCode(err, CodeAuthentication)
}

// IsInvalidRequest reports whether err is a client-side request error.
func IsInvalidRequest(err error) bool {
	return hasCode(err, CodeInvalidRequest)
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool {
	return hasCode(err, CodeConfiguration)
}

// IsBackend reports whether err is an upstream backend error.
func IsBackend(err error) bool {
	return hasCode(err, CodeBackend)
}

// IsRateLimit reports whether err is an upstream rate limit.
func IsRateLimit(err error) bool {
	return hasCode(err, CodeRateLimit)
}

// IsNotFound reports whether err is a missing-resource error.
func IsNotFound(err error) bool {
	return hasCode(err, CodeNotFound)
}

func hasCode(err error, code ErrorCode) bool {
	var pe *ProxyError
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}
