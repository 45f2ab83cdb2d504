package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// room holds the connections of one room. Its lock guards only clients
// and closed, so membership changes and broadcasts in different rooms never
// contend.
type room struct {
	mu      sync.RWMutex
	clients map[*Client]int
	closed  bool
}

func (r *room) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

type membership struct {
	roomID string
	room   *room
}

// Hub groups live connections by room id. The registry lock protects only
// the rooms map and the client index; member sets are edited under the
// room's own lock.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]*room
	index  map[*Client]membership
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms:  make(map[string]*room),
		index:  make(map[*Client]membership),
		logger: logger,
	}
}

// Join registers client under roomID for userID. A client belongs to at most
// one room; joining another room moves it.
func (h *Hub) Join(roomID string, client *Client, userID int) {
	client.membership.Lock()
	defer client.membership.Unlock()

	if prev, ok := h.membershipOf(client); ok {
		if prev.roomID == roomID {
			return
		}
		h.detach(client, prev)
	}

	for {
		r := h.roomFor(roomID)
		r.mu.Lock()
		if r.closed {
			// pruned between lookup and lock; roomFor will create a new one.
			r.mu.Unlock()
			continue
		}
		r.clients[client] = userID
		size := len(r.clients)
		r.mu.Unlock()

		h.mu.Lock()
		h.index[client] = membership{roomID: roomID, room: r}
		h.mu.Unlock()
		client.setRoom(roomID)

		h.logger.Debug("client joined room",
			slog.String("room_id", roomID),
			slog.Int("user_id", userID),
			slog.Int("clients", size))
		return
	}
}

// Leave removes client from roomID. It is a no-op if the client is not
// registered under that room.
func (h *Hub) Leave(roomID string, client *Client) {
	client.membership.Lock()
	defer client.membership.Unlock()

	if m, ok := h.membershipOf(client); ok && m.roomID == roomID {
		h.detach(client, m)
	}
}

// Remove drops client from whatever room it is in. Used when the socket closes.
func (h *Hub) Remove(client *Client) {
	client.membership.Lock()
	defer client.membership.Unlock()

	if m, ok := h.membershipOf(client); ok {
		h.detach(client, m)
	}
}

func (h *Hub) membershipOf(client *Client) (membership, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m, ok := h.index[client]
	return m, ok
}

// roomFor returns the live room for roomID, replacing a pruned one.
func (h *Hub) roomFor(roomID string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomID]
	if !ok || r.isClosed() {
		r = &room{clients: make(map[*Client]int)}
		h.rooms[roomID] = r
	}
	return r
}

// detach removes client from its room. The last client out closes the room
// and unregisters it.
func (h *Hub) detach(client *Client, m membership) {
	h.mu.Lock()
	delete(h.index, client)
	h.mu.Unlock()

	m.room.mu.Lock()
	delete(m.room.clients, client)
	empty := len(m.room.clients) == 0
	if empty {
		m.room.closed = true
	}
	m.room.mu.Unlock()
	client.setRoom("")

	if !empty {
		return
	}
	h.mu.Lock()
	if h.rooms[m.roomID] == m.room {
		delete(h.rooms, m.roomID)
	}
	h.mu.Unlock()
	h.logger.Debug("room pruned", slog.String("room_id", m.roomID))
}

// HasRoom reports whether roomID has at least one registered connection.
func (h *Hub) HasRoom(roomID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[roomID]
	return ok
}

// Members returns the user ids connected to roomID. A user with several
// connections appears once per connection.
func (h *Hub) Members(roomID string) []int {
	r := h.lookup(roomID)
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int, 0, len(r.clients))
	for _, userID := range r.clients {
		ids = append(ids, userID)
	}
	return ids
}

// RoomOf returns the room the client is registered under.
func (h *Hub) RoomOf(client *Client) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m, ok := h.index[client]
	return m.roomID, ok
}

func (h *Hub) lookup(roomID string) *room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[roomID]
}

// BroadcastToRoom serializes message once and queues it on every open
// connection of the room. Closed or saturated connections are skipped.
func (h *Hub) BroadcastToRoom(roomID string, message interface{}) {
	r := h.lookup(roomID)
	if r == nil {
		return
	}

	payload, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message",
			slog.String("room_id", roomID),
			slog.Any("error", err))
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for client := range r.clients {
		if !client.enqueue(payload) {
			h.logger.Debug("skipping client on broadcast",
				slog.String("room_id", roomID),
				slog.Int("user_id", client.UserID))
		}
	}
}

// SendTo queues message for a single connection.
func (h *Hub) SendTo(client *Client, message interface{}) bool {
	payload, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal direct message",
			slog.Int("user_id", client.UserID),
			slog.Any("error", err))
		return false
	}
	return client.enqueue(payload)
}

// Stale returns registered clients whose last inbound activity is older than
// cutoff.
func (h *Hub) Stale(cutoff time.Time) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var stale []*Client
	for client := range h.index {
		if client.LastSeen().Before(cutoff) {
			stale = append(stale, client)
		}
	}
	return stale
}

// CloseStale closes and removes clients idle since before cutoff and returns
// how many were dropped.
func (h *Hub) CloseStale(cutoff time.Time) int {
	stale := h.Stale(cutoff)
	for _, client := range stale {
		h.Remove(client)
		client.Close()
	}
	if len(stale) > 0 {
		h.logger.Info("closed stale connections", slog.Int("count", len(stale)))
	}
	return len(stale)
}

// Count returns the number of registered connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.index)
}
