package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"ensemble/internal/api"
	"ensemble/pkg/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	streamBuffer   = 256
)

var upgrader = websocket.Upgrader{
	// The API listens on loopback for local tooling.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleStreamLogs sends the cached lines of a service followed by live
// lines until the client goes away or the service stops.
func (h *handlers) handleStreamLogs(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	// Subscribe before reading the cache so no line falls between the two.
	live, cancel, err := h.app.SubscribeLogs(name, streamBuffer)
	if err != nil {
		errorResponse(err).WriteJSON(w)
		return
	}
	defer cancel()

	cached, err := h.app.GetLogs(name, 0)
	if err != nil {
		errorResponse(err).WriteJSON(w)
		return
	}
	backlog := make([]api.LogLine, 0, len(cached))
	for _, line := range cached {
		backlog = append(backlog, api.LogLine{Service: name, Text: line})
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("Server", "WebSocket upgrade failed: %v", err)
		return
	}
	logging.Debug("Server", "Log stream opened for %s", name)
	stream(conn, backlog, live, h.done)
}

// handleStreamEvents sends a snapshot of every replica's current state, then
// each replica event as it happens.
func (h *handlers) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	live, cancel := h.app.SubscribeEvents(streamBuffer)
	defer cancel()

	var backlog []api.ReplicaEvent
	if services, err := h.app.ListServices(); err == nil {
		now := time.Now()
		for _, svc := range services {
			for _, replica := range svc.Replicas {
				backlog = append(backlog, api.ReplicaEvent{State: replica.State, Replica: replica, Timestamp: now})
			}
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("Server", "WebSocket upgrade failed: %v", err)
		return
	}
	logging.Debug("Server", "Event stream opened")
	stream(conn, backlog, live, h.done)
}

// stream writes backlog then every value from live to conn. It returns when
// live is closed, done is closed, or the peer disconnects.
func stream[T any](conn *websocket.Conn, backlog []T, live <-chan T, done <-chan struct{}) {
	defer conn.Close()

	gone := make(chan struct{})
	go readPump(conn, gone)

	for _, item := range backlog {
		if err := writeJSON(conn, item); err != nil {
			return
		}
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case item, ok := <-live:
			if !ok {
				writeClose(conn)
				return
			}
			if err := writeJSON(conn, item); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			writeClose(conn)
			return
		case <-gone:
			return
		}
	}
}

// readPump discards client messages and closes gone when the peer leaves.
func readPump(conn *websocket.Conn, gone chan<- struct{}) {
	defer close(gone)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debug("Server", "WebSocket closed: %v", err)
			}
			return
		}
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

func writeClose(conn *websocket.Conn) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
