package controllers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/tidalhq/tidal/internal/fault"
	"github.com/tidalhq/tidal/internal/identity"
	eventsvc "github.com/tidalhq/tidal/internal/services/events"
	"github.com/tidalhq/tidal/pkg/log"
)

// keepaliveInterval paces SSE comment frames so intermediaries do not drop
// idle streams.
const keepaliveInterval = 25 * time.Second

// EventsController serves the data plane endpoints.
type EventsController struct {
	svc    *eventsvc.Service
	auth   identity.Authorizer
	logger log.Logger
}

// NewEventsController creates the data plane controller.
func NewEventsController(svc *eventsvc.Service, auth identity.Authorizer, logger log.Logger) *EventsController {
	return &EventsController{svc: svc, auth: auth, logger: logger}
}

// RegisterRoutes registers the data plane endpoints.
func (c *EventsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/events/publish", withAuth(c.auth, c.handlePublish))
	mux.HandleFunc("GET /v1/events/subscribe", withAuth(c.auth, c.handleSubscribe))
	mux.HandleFunc("GET /v1/events/replay", withAuth(c.auth, c.handleReplay))
	mux.HandleFunc("GET /v1/events/stats", withAuth(c.auth, c.handleStats))
}

type publishReq struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

type publishResp struct {
	ID          string `json:"id"`
	Seq         uint64 `json:"seq"`
	PublishedAt int64  `json:"published_ms"`
	Cursor      string `json:"cursor"`
}

func (c *EventsController) handlePublish(w http.ResponseWriter, r *http.Request, ac identity.AuthContext) {
	var req publishReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fault.New(fault.ValidationFailed, "malformed request body"))
		return
	}
	res, err := c.svc.Publish(r.Context(), ac, eventsvc.PublishRequest{
		Topic:   req.Topic,
		Type:    req.Type,
		ID:      req.ID,
		Payload: req.Payload,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, publishResp{
		ID:          res.ID,
		Seq:         res.Seq,
		PublishedAt: res.PublishedAt.UnixMilli(),
		Cursor:      encodeCursor(res.Cursor),
	})
}

// handleSubscribe opens an SSE stream. Query parameters:
//
//	topics   comma-separated topic list (required)
//	cursor   resume token; applies to the single requested topic
//	filter   optional CEL expression
//
// EventSource reconnects carry Last-Event-ID, which takes precedence over
// the cursor parameter.
func (c *EventsController) handleSubscribe(w http.ResponseWriter, r *http.Request, ac identity.AuthContext) {
	q := r.URL.Query()
	topics := strings.Split(q.Get("topics"), ",")
	if len(topics) == 1 && topics[0] == "" {
		writeError(w, fault.New(fault.ValidationFailed, "topics parameter is required"))
		return
	}

	cursorParam := q.Get("cursor")
	if lastID := r.Header.Get("Last-Event-ID"); lastID != "" {
		cursorParam = lastID
	}
	cursors := map[string][]byte{}
	if cursorParam != "" {
		if len(topics) != 1 {
			writeError(w, fault.New(fault.ValidationFailed, "cursor requires a single topic"))
			return
		}
		tok, err := decodeCursor(cursorParam)
		if err != nil {
			writeError(w, err)
			return
		}
		cursors[topics[0]] = tok
	}

	sub, err := c.svc.Subscribe(r.Context(), ac, eventsvc.SubscribeRequest{
		Topics:  topics,
		Cursors: cursors,
		Filter:  q.Get("filter"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	defer sub.Close()

	sse := newSSEWriter(w)
	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Done():
			// Drain whatever the dispatcher enqueued before the close.
			for {
				select {
				case ev := <-sub.Events():
					if err := sse.Send(ev, sub.CursorFor(ev)); err != nil {
						return
					}
				default:
					return
				}
			}
		case ev := <-sub.Events():
			if err := sse.Send(ev, sub.CursorFor(ev)); err != nil {
				return
			}
		case <-keepalive.C:
			if err := sse.Comment("keepalive"); err != nil {
				return
			}
		}
	}
}

type replayResp struct {
	Events       []sseEvent `json:"events"`
	Cursor       string     `json:"cursor,omitempty"`
	EndOfHistory bool       `json:"end_of_history"`
}

func (c *EventsController) handleReplay(w http.ResponseWriter, r *http.Request, ac identity.AuthContext) {
	q := r.URL.Query()
	tok, err := decodeCursor(q.Get("cursor"))
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := c.svc.Replay(r.Context(), ac, eventsvc.ReplayRequest{
		Topic:  q.Get("topic"),
		Cursor: tok,
		Limit:  parseLimit(q.Get("limit")),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	out := replayResp{
		Events:       make([]sseEvent, 0, len(res.Events)),
		Cursor:       encodeCursor(res.Cursor),
		EndOfHistory: res.EndOfHistory,
	}
	for _, ev := range res.Events {
		payload := json.RawMessage(ev.Payload)
		if !json.Valid(ev.Payload) {
			payload, _ = json.Marshal(string(ev.Payload))
		}
		out.Events = append(out.Events, sseEvent{
			ID:          ev.ID,
			Topic:       ev.Topic,
			Type:        ev.Type,
			Seq:         ev.Seq,
			PublishedAt: ev.PublishedAt.UnixMilli(),
			Payload:     payload,
		})
	}
	writeJSON(w, out)
}

func (c *EventsController) handleStats(w http.ResponseWriter, r *http.Request, ac identity.AuthContext) {
	stats, err := c.svc.TopicStats(ac, r.URL.Query().Get("topic"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"topic":        stats.Ref.Topic,
		"last_seq":     stats.LastSeq,
		"earliest_seq": stats.Earliest,
		"bytes":        stats.Bytes,
	})
}
