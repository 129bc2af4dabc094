package main

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-json-experiment/json"
	"github.com/google/uuid"

	"github.com/vinns/concierge/session"
)

// hub fans session events out to subscribers. Slow subscribers miss events
// rather than block the session manager.
type hub struct {
	mu   sync.Mutex
	subs map[chan session.Event]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[chan session.Event]struct{})}
}

// subscribe registers a new subscriber. The caller must call the returned
// function to unsubscribe.
func (h *hub) subscribe(buf int) (<-chan session.Event, func()) {
	c := make(chan session.Event, buf)
	h.mu.Lock()
	h.subs[c] = struct{}{}
	h.mu.Unlock()
	return c, func() {
		h.mu.Lock()
		delete(h.subs, c)
		h.mu.Unlock()
	}
}

// publish delivers an event to every subscriber with room for it.
func (h *hub) publish(ev session.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.subs {
		select {
		case c <- ev:
		default:
		}
	}
}

func (h *hub) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// apiWatch streams session events over a WebSocket as JSON text frames.
// The optional guild query parameter filters events to one server.
func (robo *Robot) apiWatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slog.With(slog.String("api", "watch"), slog.Any("trace", uuid.New()))
	log.InfoContext(ctx, "handle", slog.String("route", r.Pattern), slog.String("remote", r.RemoteAddr))
	defer log.InfoContext(ctx, "done")
	g := r.FormValue("guild")
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.WarnContext(ctx, "couldn't accept websocket", slog.Any("err", err))
		return
	}
	defer conn.CloseNow()
	// We never read, but reading is needed to process control frames.
	ctx = conn.CloseRead(ctx)
	evs, done := robo.watch.subscribe(16)
	defer done()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "")
			return
		case ev := <-evs:
			if g != "" && ev.Session.Guild != g {
				continue
			}
			b, err := json.Marshal(apiEvent{Type: ev.Type.String(), At: ev.At, Session: toAPI(ev.Session)})
			if err != nil {
				log.ErrorContext(ctx, "couldn't marshal event", slog.Any("err", err))
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = conn.Write(wctx, websocket.MessageText, b)
			cancel()
			if err != nil {
				log.InfoContext(ctx, "watcher gone", slog.Any("err", err))
				return
			}
		}
	}
}
