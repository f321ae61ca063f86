package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// Writer emits frames. When the destination is an http.Flusher every frame is flushed
// immediately. Safe for concurrent use, so a keepalive ticker may share it with the turn.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
}

func NewWriter(w io.Writer) *Writer {
	fl, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: fl}
}

// SetHeaders configures a response for streaming. Call before the first write.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// WriteEvent writes payload as JSON under the given event name.
func (w *Writer) WriteEvent(event string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", event, err)
	}
	return w.WriteRaw(event, b)
}

// WriteRaw writes an already encoded payload. Newlines in data are split over several
// "data:" lines so the frame stays intact.
func (w *Writer) WriteRaw(event string, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if event != "" && event != DefaultEvent {
		if _, err := fmt.Fprintf(w.w, "event: %s\n", event); err != nil {
			return fmt.Errorf("write %s frame: %w", event, err)
		}
	}
	start := 0
	for i := 0; i <= len(data); i++ {
		if i == len(data) || data[i] == '\n' {
			if _, err := fmt.Fprintf(w.w, "data: %s\n", data[start:i]); err != nil {
				return fmt.Errorf("write %s frame: %w", event, err)
			}
			start = i + 1
		}
	}
	if _, err := io.WriteString(w.w, "\n"); err != nil {
		return fmt.Errorf("write %s frame: %w", event, err)
	}
	w.flush()
	return nil
}

// WriteKeepAlive sends a comment frame; decoders skip it.
func (w *Writer) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := io.WriteString(w.w, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flush()
	return nil
}

func (w *Writer) flush() {
	if w.flusher != nil {
		w.flusher.Flush()
	}
}
