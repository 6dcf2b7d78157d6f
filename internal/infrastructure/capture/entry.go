package capture

import (
	"encoding/json"
	"time"
)

// FormatVersion identifies the on-disk record format.
const FormatVersion = "buffered_v1"

// Entry directions.
const (
	DirSystemInit      = "system_init"
	DirOutboundRequest = "outbound_request"
	DirInboundResponse = "inbound_response"
	DirStreamStart     = "stream_start"
	DirStreamChunk     = "stream_chunk"
	DirStreamEnd       = "stream_end"
)

// Payload content types.
const (
	ContentJSON   = "json"
	ContentText   = "text"
	ContentBytes  = "bytes"
	ContentObject = "object"
)

// Entry is one wire-capture record, serialized as a single JSON line.
type Entry struct {
	TimestampISO  string `json:"timestamp_iso"`
	TimestampUnix int64  `json:"timestamp_unix"`
	Direction     string `json:"direction"`
	Source        string `json:"source"`
	Destination   string `json:"destination"`
	SessionID     string `json:"session_id,omitempty"`
	Backend       string `json:"backend,omitempty"`
	Model         string `json:"model,omitempty"`
	// KeyName is the logical key slot ("openai[1]"), never key material.
	KeyName       string         `json:"key_name,omitempty"`
	ContentType   string         `json:"content_type"`
	ContentLength int            `json:"content_length"`
	Payload       any            `json:"payload"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Meta carries the per-call identifiers stamped onto every entry of one
// request/response exchange.
type Meta struct {
	SessionID  string
	Backend    string
	Model      string
	KeyName    string
	ClientHost string
	UserAgent  string
	RequestID  string
}

func (m Meta) metadata() map[string]any {
	md := make(map[string]any, 3)
	if m.ClientHost != "" {
		md["client_host"] = m.ClientHost
	}
	if m.UserAgent != "" {
		md["user_agent"] = m.UserAgent
	}
	if m.RequestID != "" {
		md["request_id"] = m.RequestID
	}
	if len(md) == 0 {
		return nil
	}
	return md
}

// newEntry stamps timestamps and meta onto a record. Payloads are redacted
// and normalized by the caller.
func newEntry(direction, source, destination string, meta Meta) Entry {
	now := time.Now()
	return Entry{
		TimestampISO:  now.Format(time.RFC3339Nano),
		TimestampUnix: now.Unix(),
		Direction:     direction,
		Source:        source,
		Destination:   destination,
		SessionID:     meta.SessionID,
		Backend:       meta.Backend,
		Model:         meta.Model,
		KeyName:       meta.KeyName,
		Metadata:      meta.metadata(),
	}
}

// normalizePayload redacts and classifies a payload. Strings become text;
// bytes are captured by length only when not valid UTF-8 JSON; everything
// else is serialized to JSON and redacted as a string.
func normalizePayload(payload any, redact func(string) string) (any, string, int) {
	if redact == nil {
		redact = func(s string) string { return s }
	}
	switch p := payload.(type) {
	case nil:
		return nil, ContentObject, 0
	case string:
		red := redact(p)
		return red, ContentText, len(red)
	case []byte:
		red := redact(string(p))
		return red, ContentBytes, len(red)
	case json.RawMessage:
		red := redact(string(p))
		return json.RawMessage(red), ContentJSON, len(red)
	default:
		raw, err := json.Marshal(p)
		if err != nil {
			red := redact("<unserializable payload>")
			return red, ContentObject, len(red)
		}
		red := redact(string(raw))
		return json.RawMessage(red), ContentJSON, len(red)
	}
}
