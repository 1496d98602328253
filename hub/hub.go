package hub

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/travauxroutiers/signalement-app/models"
)

// Event types
const (
	EventNotification = "notification"
	EventStatusUpdate = "status_update"
)

type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Hub holds the websocket clients and routes alert frames to them. One
// connection belongs to one user.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]string // conn -> user id
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]string)}
}

// Register adds a connection for the given user.
func (h *Hub) Register(conn *websocket.Conn, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = userID
}

// Unregister drops the connection and closes it.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
	conn.Close()
}

// ClientCount reports how many connections are registered.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// NotifyUser pushes a fresh notification to every connection of the user.
func (h *Hub) NotifyUser(userID string, view models.NotificationView) {
	h.send(userID, Message{Event: EventNotification, Data: view})
}

// BroadcastStatusUpdate pushes a status transition to every connected client.
func (h *Hub) BroadcastStatusUpdate(data any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	payload, err := json.Marshal(Message{Event: EventStatusUpdate, Data: data})
	if err != nil {
		log.Printf("hub: error marshaling message: %v", err)
		return
	}
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("hub: error sending message: %v", err)
		}
	}
}

func (h *Hub) send(userID string, msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("hub: error marshaling message: %v", err)
		return
	}
	for conn, uid := range h.clients {
		if uid != userID {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("hub: error sending message to user %s: %v", userID, err)
		}
	}
}
