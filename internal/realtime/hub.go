// Package realtime pushes notifications to connected users over WebSockets.
// Every principal has one logical channel, keyed by its id; a user with
// several open tabs gets every message on each of them.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-scheduling/internal/notify"
)

const sendBuffer = 64

// Message is the frame written to WebSocket clients.
type Message struct {
	Type      string         `json:"type"`
	Payload   notify.Payload `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

func encode(p notify.Payload) ([]byte, error) {
	data, err := json.Marshal(Message{Type: "notification", Payload: p, Timestamp: time.Now().UTC()})
	if err != nil {
		return nil, fmt.Errorf("marshal live message: %w", err)
	}
	return data, nil
}

// Client represents a single WebSocket connection.
type Client struct {
	ID          string
	PrincipalID uuid.UUID
	Send        chan []byte
}

func NewClient(principalID uuid.UUID) *Client {
	return &Client{
		ID:          uuid.NewString(),
		PrincipalID: principalID,
		Send:        make(chan []byte, sendBuffer),
	}
}

// Hub tracks connected clients by principal. All operations are safe for
// concurrent use.
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[uuid.UUID]map[*Client]struct{})}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[c.PrincipalID] == nil {
		h.clients[c.PrincipalID] = make(map[*Client]struct{})
	}
	h.clients[c.PrincipalID][c] = struct{}{}
}

// Unregister removes c and closes its Send channel. Calling it twice is safe.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.clients[c.PrincipalID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.PrincipalID)
	}
	close(c.Send)
}

// Deliver queues data for every connection of principalID and reports how
// many accepted it. Full buffers are skipped rather than waited on.
func (h *Hub) Deliver(principalID uuid.UUID, data []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for c := range h.clients[principalID] {
		select {
		case c.Send <- data:
			n++
		default:
		}
	}
	return n
}

// Connected returns the number of open connections for principalID.
func (h *Hub) Connected(principalID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[principalID])
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

// LocalChannel is the live channel for a single API instance.
type LocalChannel struct {
	hub *Hub
}

func NewLocalChannel(hub *Hub) *LocalChannel {
	return &LocalChannel{hub: hub}
}

func (c *LocalChannel) Name() string { return "live" }

// Send drops the message when the recipient is offline.
func (c *LocalChannel) Send(_ context.Context, recipientID uuid.UUID, p notify.Payload) error {
	if c.hub.Connected(recipientID) == 0 {
		return nil
	}
	data, err := encode(p)
	if err != nil {
		return err
	}
	c.hub.Deliver(recipientID, data)
	return nil
}

var _ notify.Channel = (*LocalChannel)(nil)
