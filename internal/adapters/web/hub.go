package web

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skyline-mesh/sentryhop/internal/core/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsMessage is the envelope every broadcast frame carries.
type wsMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Hub mirrors the mesh operator terminal and emitted hits/alerts to
// every connected WebSocket client. There is no per-user session
// model; every connection receives the same stream.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]bool)}
}

// HandleWebSocket upgrades the request and registers the connection;
// the node never reads from the client, so it just waits for the
// connection to close.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade: %v", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	go func() {
		defer conn.Close()
		defer func() {
			h.mu.Lock()
			delete(h.clients, conn)
			h.mu.Unlock()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// BroadcastTerminalLine mirrors one outbound mesh line to the live
// console, alongside the bounded terminal ring.
func (h *Hub) BroadcastTerminalLine(line string) {
	h.broadcast(wsMessage{Type: "mesh.line", Payload: line})
}

// BroadcastHit mirrors one target registry match.
func (h *Hub) BroadcastHit(hit domain.Hit) {
	h.broadcast(wsMessage{Type: "hit", Payload: hitPayload(hit)})
}

// BroadcastDeauth mirrors one flagged deauth/disassoc observation.
func (h *Hub) BroadcastDeauth(hit domain.DeauthHit) {
	h.broadcast(wsMessage{Type: "deauth", Payload: hit})
}

func hitPayload(hit domain.Hit) map[string]any {
	return map[string]any{
		"mac":       domain.FormatMAC(hit.MAC),
		"rssi":      hit.RSSI,
		"channel":   hit.Channel,
		"name":      hit.Name,
		"is_ble":    hit.IsBLE,
		"timestamp": hit.Timestamp,
	}
}

func (h *Hub) broadcast(msg wsMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("web: marshal broadcast: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}
