package http

import (
	"context"
	"errors"
	stdhttp "net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"notetalk/internal/call"
	"notetalk/internal/presence"
)

// Event is one frame pushed to /v1/events subscribers.
type Event struct {
	Type   string             `json:"type"` // "state", "prompts" or "notice"
	State  *presence.Snapshot `json:"state,omitempty"`
	Notice *call.Notice       `json:"notice,omitempty"`
}

// EventHub fans events out to connected consumers.
type EventHub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewEventHub builds an empty hub.
func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[chan Event]struct{})}
}

// Publish delivers the event to every subscriber, dropping it for slow ones.
func (h *EventHub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub <- ev:
		default:
		}
	}
}

// Subscribe registers a consumer channel.
func (h *EventHub) Subscribe() (chan Event, func()) {
	ch := make(chan Event, 16)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}
}

// EventsHandler upgrades consumers to a websocket and streams events.
type EventsHandler struct {
	hub   *EventHub
	store *presence.Store
	log   *zerolog.Logger
}

// NewEventsHandler builds the /v1/events handler.
func NewEventsHandler(hub *EventHub, store *presence.Store, logger *zerolog.Logger) stdhttp.Handler {
	return &EventsHandler{hub: hub, store: store, log: logger}
}

func (h *EventsHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("events ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, unsubscribe := h.hub.Subscribe()
	defer unsubscribe()

	// Drain the read side so close frames are processed.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	// Consumers start from a full snapshot.
	snap := h.store.Snapshot()
	if err := wsjson.Write(ctx, conn, Event{Type: "state", State: &snap}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "closing")
			return
		case ev := <-events:
			if ev.Type == "state" && ev.State == nil {
				s := h.store.Snapshot()
				ev.State = &s
			}
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				if !errors.Is(err, context.Canceled) {
					h.log.Debug().Err(err).Msg("events ws write")
				}
				return
			}
		}
	}
}
