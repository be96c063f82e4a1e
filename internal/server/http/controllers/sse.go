package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/tidalhq/tidal/internal/event"
)

// sseWriter streams events to a web client as Server-Sent Events. Each event
// carries a base64 cursor as its SSE id, so EventSource reconnection can
// resume via Last-Event-ID.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	f, _ := w.(http.Flusher)
	s := &sseWriter{w: w, flusher: f}
	s.flush()
	return s
}

type sseEvent struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic"`
	Type        string          `json:"type,omitempty"`
	Seq         uint64          `json:"seq"`
	PublishedAt int64           `json:"published_ms"`
	Payload     json.RawMessage `json:"payload"`
}

// Send writes one event frame with its resume cursor as the SSE id.
func (s *sseWriter) Send(ev event.Event, cursor []byte) error {
	payload := json.RawMessage(ev.Payload)
	if !json.Valid(ev.Payload) {
		payload, _ = json.Marshal(string(ev.Payload))
	}
	b, err := json.Marshal(sseEvent{
		ID:          ev.ID,
		Topic:       ev.Topic,
		Type:        ev.Type,
		Seq:         ev.Seq,
		PublishedAt: ev.PublishedAt.UnixMilli(),
		Payload:     payload,
	})
	if err != nil {
		return err
	}
	if _, err := s.w.Write([]byte("id: " + encodeCursor(cursor) + "\n")); err != nil {
		return err
	}
	if _, err := s.w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	if _, err := s.w.Write([]byte("\n\n")); err != nil {
		return err
	}
	s.flush()
	return nil
}

// Comment writes an SSE comment frame, used as a keepalive.
func (s *sseWriter) Comment(text string) error {
	if _, err := s.w.Write([]byte(": " + text + "\n\n")); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *sseWriter) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}
