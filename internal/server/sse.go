package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rotisserie/eris"

	"github.com/t-hamamura/market-research-system/internal/engine"
)

// sseStream writes progress events as Server-Sent Events, flushing after
// every frame so clients observe steps as they happen.
type sseStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEStream(w http.ResponseWriter) (*sseStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, eris.New("server: response writer does not support flushing")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &sseStream{w: w, flusher: flusher}, nil
}

// Send writes one event frame, using the event type as the SSE event name.
func (s *sseStream) Send(ev engine.ProgressEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "server: marshal event")
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Ping writes a comment frame to keep idle proxies from closing the stream.
func (s *sseStream) Ping() error {
	if _, err := fmt.Fprint(s.w, ": ping\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
