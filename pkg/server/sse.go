package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/schemaseek/schemaseek/pkg/metrics"
	"github.com/schemaseek/schemaseek/pkg/pipeline"
)

// keepaliveInterval paces SSE comment frames so proxies keep idle
// streams open.
const keepaliveInterval = 30 * time.Second

// sseEmitter streams pipeline messages as server-sent events. Writes are
// serialized because keepalives come from a separate goroutine.
type sseEmitter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
	stop    chan struct{}
}

// newSSEEmitter writes the SSE preamble and starts the keepalive loop.
// Returns an error when the response writer cannot stream.
func newSSEEmitter(w http.ResponseWriter) (*sseEmitter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	e := &sseEmitter{
		w:       w,
		flusher: flusher,
		stop:    make(chan struct{}),
	}
	go e.keepaliveLoop()
	return e, nil
}

func (e *sseEmitter) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.mu.Lock()
			if !e.closed {
				if _, err := fmt.Fprint(e.w, ": keepalive\n\n"); err == nil {
					e.flusher.Flush()
				}
			}
			e.mu.Unlock()
		}
	}
}

// Send writes one data frame.
func (e *sseEmitter) Send(msg pipeline.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("stream closed")
	}
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	e.flusher.Flush()

	if t, ok := msg["message_type"].(string); ok {
		metrics.MessagesSent.WithLabelValues(t).Inc()
	}
	return nil
}

// Close ends the stream; the terminal marker is the end of the response.
func (e *sseEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.stop)
}

// collectEmitter buffers messages for the non-streaming JSON response.
type collectEmitter struct {
	mu   sync.Mutex
	msgs []pipeline.Message
}

func (c *collectEmitter) Send(msg pipeline.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	if t, ok := msg["message_type"].(string); ok {
		metrics.MessagesSent.WithLabelValues(t).Inc()
	}
	return nil
}

func (c *collectEmitter) messages() []pipeline.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]pipeline.Message(nil), c.msgs...)
}
