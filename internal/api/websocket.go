package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// roundEvent is pushed to every /ws/rounds client once per completed Poller
// round (SPEC_FULL.md DOMAIN STACK: a natural extension of dataflow in §2,
// reusing the teacher's gorilla/websocket dependency).
type roundEvent struct {
	Type string `json:"type"`
}

// roundHub fans a round-completion event out to every connected websocket
// client. Grounded on the teacher's Hub/Client broadcast pattern
// (api/websocket.go), trimmed to Graphix's single event type: there's no
// per-client subscription filtering to do, so clients have no incoming
// message protocol, unlike the teacher's bidirectional chat-style hub.
type roundHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
}

func newRoundHub() *roundHub {
	return &roundHub{clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *roundHub) register(conn *websocket.Conn) chan []byte {
	send := make(chan []byte, 16)
	h.mu.Lock()
	h.clients[conn] = send
	h.mu.Unlock()
	return send
}

func (h *roundHub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if send, ok := h.clients[conn]; ok {
		close(send)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *roundHub) broadcast(ev roundEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[api] marshal round event: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, send := range h.clients {
		select {
		case send <- data:
		default:
			close(send)
			delete(h.clients, conn)
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) handleRoundsWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[api] websocket upgrade: %v", err)
		return
	}

	defer conn.Close()
	send := s.hub.register(conn)
	defer s.hub.unregister(conn)

	// A closed connection is only detected by reading it; run that on its
	// own goroutine so the write loop below can select on both it and send.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case msg, ok := <-send:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}
