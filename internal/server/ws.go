package server

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"hyperregistry/internal/api"
	"hyperregistry/pkg/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The API carries no browser credentials; origin is not trusted input.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// changeFrame is a server-pushed event on the change feed.
type changeFrame struct {
	Type  string          `json:"type"`
	Event api.ChangeEvent `json:"event"`
}

// userFrame is a client payload routed into one of the entry's streams.
type userFrame struct {
	StreamID string                 `json:"stream_id"`
	Reverse  bool                   `json:"reverse,omitempty"`
	Payload  map[string]interface{} `json:"payload"`
}

// handleStream upgrades to WebSocket, subscribes the peer to the entry's
// change feed, and routes user frames into the entry's streams.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "entry_id")
	if _, err := api.GetRegistry().Get(r.Context(), entryID); err != nil {
		writeError(w, r, err)
		return
	}

	filter := api.SubscriptionFilter{
		EntryID:  entryID,
		Category: api.Category(r.URL.Query().Get("type")),
	}
	for key, values := range r.URL.Query() {
		facet, ok := strings.CutPrefix(key, "facet.")
		if !ok || facet == "" {
			continue
		}
		if filter.Facets == nil {
			filter.Facets = make(map[string][]string)
		}
		filter.Facets[facet] = append(filter.Facets[facet], values...)
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the handshake failure.
		logging.Warn(subsystem, "WebSocket upgrade failed for %s: %v", entryID, err)
		return
	}
	defer conn.Close()

	subID, events := api.GetBus().Subscribe(filter)
	defer api.GetBus().Unsubscribe(subID)

	logging.Debug(subsystem, "WebSocket peer attached to %s [subscriber=%s]", entryID, subID)

	// gorilla permits one concurrent writer; the event pump and the error
	// replies below share the connection.
	var writeMu sync.Mutex
	writeFrame := func(v interface{}) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(v)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			if err := writeFrame(changeFrame{Type: "CHANGE", Event: ev}); err != nil {
				logging.Debug(subsystem, "WebSocket write to %s failed: %v", entryID, err)
				return
			}
		}
	}()

	for {
		var frame userFrame
		if err := conn.ReadJSON(&frame); err != nil {
			break
		}
		if frame.StreamID == "" {
			continue
		}
		var sendErr error
		if frame.Reverse {
			sendErr = api.GetStreaming().SendReverse(r.Context(), frame.StreamID, frame.Payload)
		} else {
			sendErr = api.GetStreaming().Send(r.Context(), frame.StreamID, frame.Payload)
		}
		if sendErr != nil {
			_, code := classify(sendErr)
			if err := writeFrame(errorBody{Code: code, Message: sendErr.Error(), RequestID: RequestID(r.Context())}); err != nil {
				break
			}
		}
	}

	conn.Close()
	<-done
}
