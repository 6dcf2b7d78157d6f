package capture

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matdev83/llm-interactive-proxy-sub007/pkg/safego"
)

// Config controls the buffered capture sink.
type Config struct {
	// File is the capture path; empty disables capture entirely.
	File string
	// BufferSize triggers a flush once this many entries are pending.
	BufferSize int
	// FlushInterval triggers a timed flush of whatever is pending.
	FlushInterval time.Duration
	// MaxBytes rotates the file once it grows past this size.
	MaxBytes int64
	// MaxFiles bounds rotated generations; file.MaxFiles is pruned.
	MaxFiles int
}

// Capture is the append-only wire log. Entries are buffered under a mutex
// and flushed by size, by a background timer, and at Close; the file itself
// is rotated in place so file.1 is always older than file.
//
// A nil *Capture is a valid no-op sink, which keeps call sites free of
// enabled-checks.
type Capture struct {
	cfg    Config
	redact func(string) string
	logger *zap.Logger

	mu     sync.Mutex
	buf    []Entry
	closed bool

	// flushMu serializes snapshot, rotation, and write. Without it the
	// timer flusher and a size-triggered flush can interleave, writing
	// snapshots out of order and rotating twice.
	flushMu sync.Mutex

	stop chan struct{}
}

// New opens the capture sink and writes the system_init entry. A Config with
// an empty File returns nil: capture disabled.
func New(cfg Config, redact func(string) string, logger *zap.Logger) (*Capture, error) {
	if cfg.File == "" {
		return nil, nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 50 * 1024 * 1024
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 5
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		return nil, fmt.Errorf("create capture dir: %w", err)
	}

	c := &Capture{
		cfg:    cfg,
		redact: redact,
		logger: logger,
		stop:   make(chan struct{}),
	}

	init := newEntry(DirSystemInit, "proxy", "capture", Meta{})
	init.ContentType = ContentObject
	init.Metadata = map[string]any{"format_version": FormatVersion}
	c.append(init)
	if err := c.Flush(); err != nil {
		return nil, err
	}

	safego.Loop(logger, "capture-flusher", cfg.FlushInterval, c.stop, func() {
		if err := c.Flush(); err != nil {
			logger.Error("Wire capture flush failed", zap.Error(err))
		}
	})
	return c, nil
}

// Record appends one entry after redacting and classifying its payload.
func (c *Capture) Record(direction, source, destination string, meta Meta, payload any, extraMeta map[string]any) {
	if c == nil {
		return
	}
	e := newEntry(direction, source, destination, meta)
	e.Payload, e.ContentType, e.ContentLength = normalizePayload(payload, c.redact)
	for k, v := range extraMeta {
		if e.Metadata == nil {
			e.Metadata = make(map[string]any, len(extraMeta))
		}
		e.Metadata[k] = v
	}
	c.append(e)
}

// OutboundRequest captures a request leaving for a backend.
func (c *Capture) OutboundRequest(meta Meta, payload any) {
	c.Record(DirOutboundRequest, "proxy", meta.Backend, meta, payload, nil)
}

// InboundResponse captures a full backend response.
func (c *Capture) InboundResponse(meta Meta, payload any) {
	c.Record(DirInboundResponse, meta.Backend, "proxy", meta, payload, nil)
}

func (c *Capture) append(e Entry) {
	c.mu.Lock()
	c.buf = append(c.buf, e)
	pending := len(c.buf)
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return
	}
	if pending >= c.cfg.BufferSize {
		if err := c.Flush(); err != nil {
			c.logger.Error("Wire capture flush failed", zap.Error(err))
		}
	}
}

// Flush writes the pending entries as JSON lines. The buffer is snapshotted
// under the buffer lock; file I/O happens under flushMu only, so capture
// calls on the hot path never wait on disk while concurrent flushes still
// hit the file one at a time, in snapshot order.
func (c *Capture) Flush() error {
	if c == nil {
		return nil
	}
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	if len(c.buf) == 0 {
		c.mu.Unlock()
		return nil
	}
	pending := c.buf
	c.buf = nil
	c.mu.Unlock()

	if err := c.rotateIfNeeded(); err != nil {
		c.logger.Error("Wire capture rotation failed", zap.Error(err))
	}

	f, err := os.OpenFile(c.cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("open capture file: %w", err)
	}
	defer f.Close()

	for _, e := range pending {
		line, err := json.Marshal(e)
		if err != nil {
			c.logger.Warn("Dropping unserializable capture entry", zap.Error(err))
			continue
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("write capture file: %w", err)
		}
	}
	return nil
}

// rotateIfNeeded shifts file.k to file.k+1 once the live file exceeds
// MaxBytes. The oldest generation falls off the end.
func (c *Capture) rotateIfNeeded() error {
	info, err := os.Stat(c.cfg.File)
	if err != nil || info.Size() < c.cfg.MaxBytes {
		return nil
	}

	oldest := fmt.Sprintf("%s.%d", c.cfg.File, c.cfg.MaxFiles)
	_ = os.Remove(oldest)
	for k := c.cfg.MaxFiles - 1; k >= 1; k-- {
		from := fmt.Sprintf("%s.%d", c.cfg.File, k)
		if _, err := os.Stat(from); err == nil {
			if err := os.Rename(from, fmt.Sprintf("%s.%d", c.cfg.File, k+1)); err != nil {
				return err
			}
		}
	}
	return os.Rename(c.cfg.File, c.cfg.File+".1")
}

// Close stops the background flusher and performs a final synchronous flush.
func (c *Capture) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.stop)
	return c.Flush()
}
