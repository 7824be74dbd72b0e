package realtime

import (
	"sync"

	"github.com/doctalk/doctalk-backend/internal/logger"
)

type EventType string

const (
	EventDocumentsUploaded   EventType = "DocumentsUploaded"
	EventDocumentsAdded      EventType = "DocumentsAdded"
	EventConversationDeleted EventType = "ConversationDeleted"
	EventFlashcardsGenerated EventType = "FlashcardsGenerated"
	EventMindmapGenerated    EventType = "MindmapGenerated"
)

// Event is one lifecycle notification fanned out to a user's open
// event streams.
type Event struct {
	UserID         int64     `json:"userId"`
	ConversationID int64     `json:"conversationId,omitempty"`
	Type           EventType `json:"type"`
	Data           any       `json:"data,omitempty"`
}

type Client struct {
	UserID   int64
	Outbound chan Event
	done     chan struct{}
}

func (c *Client) Done() <-chan struct{} { return c.done }

// Hub fans events out to the subscribed clients of each user. Slow
// clients drop events rather than block the publisher.
type Hub struct {
	log *logger.Logger

	mu      sync.RWMutex
	clients map[int64]map[*Client]bool
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:     log.With("component", "RealtimeHub"),
		clients: make(map[int64]map[*Client]bool),
	}
}

func (h *Hub) Subscribe(userID int64) *Client {
	client := &Client{
		UserID:   userID,
		Outbound: make(chan Event, 16),
		done:     make(chan struct{}),
	}
	h.mu.Lock()
	set, ok := h.clients[userID]
	if !ok {
		set = make(map[*Client]bool)
		h.clients[userID] = set
	}
	set[client] = true
	h.mu.Unlock()
	h.log.Debug("Realtime client subscribed", "user_id", userID)
	return client
}

func (h *Hub) Unsubscribe(client *Client) {
	h.mu.Lock()
	if set, ok := h.clients[client.UserID]; ok {
		delete(set, client)
		if len(set) == 0 {
			delete(h.clients, client.UserID)
		}
	}
	h.mu.Unlock()
	close(client.done)
}

func (h *Hub) Broadcast(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[ev.UserID] {
		select {
		case client.Outbound <- ev:
		default:
			h.log.Warn("Dropping realtime event; outbound buffer full", "user_id", ev.UserID, "type", ev.Type)
		}
	}
}
