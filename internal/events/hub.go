package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	TopicAdmin    = "admin"
	TopicWhatsApp = "whatsapp"
)

type Event struct {
	ID     string      `json:"id"`
	Topic  string      `json:"-"`
	Type   string      `json:"type"`
	UserID uint        `json:"user_id,omitempty"`
	Data   interface{} `json:"data"`
	At     time.Time   `json:"at"`
}

// Subscription selects events by topic; AllUsers receives every user's events.
type Subscription struct {
	Topic    string
	UserID   uint
	AllUsers bool
}

type Client struct {
	ID           string
	Send         chan Event
	Subscription Subscription
}

// Hub is the registry of open event streams, keyed by connection id.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{clients: make(map[string]*Client), log: log}
}

func (h *Hub) Register(sub Subscription, buffer int) *Client {
	if buffer <= 0 {
		buffer = 16
	}
	client := &Client{
		ID:           uuid.NewString(),
		Send:         make(chan Event, buffer),
		Subscription: sub,
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish never blocks; a client with a full buffer misses the event.
func (h *Hub) Publish(topic, eventType string, userID uint, data interface{}) {
	if h == nil {
		return
	}
	event := Event{
		ID:     uuid.NewString(),
		Topic:  topic,
		Type:   eventType,
		UserID: userID,
		Data:   data,
		At:     time.Now().UTC(),
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !match(client.Subscription, event) {
			continue
		}
		select {
		case client.Send <- event:
		default:
			h.log.Warn("dropping event for slow client", zap.String("client_id", client.ID), zap.String("type", eventType))
		}
	}
}

func match(sub Subscription, event Event) bool {
	if sub.Topic != event.Topic {
		return false
	}
	return sub.AllUsers || sub.UserID == event.UserID
}
