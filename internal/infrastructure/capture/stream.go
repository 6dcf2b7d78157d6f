package capture

import (
	"io"
	"sync"
)

// streamRecorder tees a streaming response body into the capture log. Bytes
// are forwarded to the client unchanged; each Read that yields data emits a
// stream_chunk entry, and the end of the stream (EOF or Close, whichever
// comes first) emits a single stream_end entry with totals.
type streamRecorder struct {
	rc      io.ReadCloser
	capture *Capture
	meta    Meta

	chunkNum   int
	totalBytes int64
	endOnce    sync.Once
}

// WrapStream returns the body wrapped with capture instrumentation. With
// capture disabled the body is returned as-is.
func (c *Capture) WrapStream(rc io.ReadCloser, meta Meta) io.ReadCloser {
	if c == nil {
		return rc
	}
	c.Record(DirStreamStart, meta.Backend, "proxy", meta, nil, nil)
	return &streamRecorder{rc: rc, capture: c, meta: meta}
}

func (s *streamRecorder) Read(p []byte) (int, error) {
	n, err := s.rc.Read(p)
	if n > 0 {
		s.chunkNum++
		s.totalBytes += int64(n)
		s.capture.Record(DirStreamChunk, s.meta.Backend, "proxy", s.meta,
			string(p[:n]), map[string]any{
				"chunk_number": s.chunkNum,
				"chunk_bytes":  n,
			})
	}
	if err == io.EOF {
		s.emitEnd()
	}
	return n, err
}

func (s *streamRecorder) Close() error {
	s.emitEnd()
	return s.rc.Close()
}

func (s *streamRecorder) emitEnd() {
	s.endOnce.Do(func() {
		s.capture.Record(DirStreamEnd, s.meta.Backend, "proxy", s.meta,
			nil, map[string]any{
				"total_chunks": s.chunkNum,
				"total_bytes":  s.totalBytes,
			})
	})
}
