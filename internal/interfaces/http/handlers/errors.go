package handlers

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	proxyerrors "github.com/matdev83/llm-interactive-proxy-sub007/pkg/errors"
)

// ErrorEnvelope converts any pipeline error into the wire error body:
// {"error": {"message", "type", "code", "details"?}} plus its HTTP status.
func ErrorEnvelope(err error) (int, gin.H) {
	var pe *proxyerrors.ProxyError
	if !stderrors.As(err, &pe) {
		pe = proxyerrors.NewInternalError(err.Error())
	}
	body := gin.H{
		"message": pe.Message,
		"type":    pe.WireType(),
		"code":    string(pe.Code),
	}
	if len(pe.Details) > 0 {
		body["details"] = pe.Details
	}
	return pe.HTTPStatus(), gin.H{"error": body}
}

// WriteError renders the error envelope on a not-yet-started response.
// Rate-limit errors that carry a retry hint surface it as a Retry-After
// header as well, so clients that never parse the body still back off.
func WriteError(c *gin.Context, err error) {
	status, body := ErrorEnvelope(err)
	if status == http.StatusTooManyRequests {
		if after := retryAfterSeconds(err); after > 0 {
			c.Header("Retry-After", strconv.Itoa(after))
		}
	}
	c.JSON(status, body)
}

func retryAfterSeconds(err error) int {
	var pe *proxyerrors.ProxyError
	if !stderrors.As(err, &pe) {
		return 0
	}
	if n, ok := pe.Details["retry_after"].(int); ok {
		return n
	}
	return 0
}

// writeStreamError emits a terminal error frame on an already-started SSE
// response, where the status line is long gone.
func writeStreamError(w io.Writer, err error) {
	_, body := ErrorEnvelope(err)
	data, merr := json.Marshal(body)
	if merr != nil {
		return
	}
	w.Write([]byte("data: "))
	w.Write(data)
	w.Write([]byte("\n\n"))
}

func sseHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
}

func flush(c *gin.Context) {
	if f, ok := c.Writer.(http.Flusher); ok {
		f.Flush()
	}
}
