package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const pollInterval = 200 * time.Millisecond

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamEvents streams committed events of an instance over WebSocket, one
// JSON message per event, starting at the optional ?offset.
func (s *Server) StreamEvents(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.Host.Lookup(chi.URLParam(r, "addr"))
	if !ok {
		http.Error(w, "instance not found", http.StatusNotFound)
		return
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	addr := inst.Address

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// The client never sends anything; reading only detects when it leaves.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			for _, e := range s.Feed.Since(addr, offset) {
				if err := conn.WriteJSON(e); err != nil {
					return
				}
				offset++
			}
		}
	}
}
