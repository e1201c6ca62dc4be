package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// userDelivery is a payload addressed to every connection of one user.
type userDelivery struct {
	userID  string
	payload []byte
}

// Hub maintains the set of active clients. A user may hold several connections
// (one per open channel or device), all of which receive user-addressed frames.
type Hub struct {
	clients map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client

	// Frames aimed at a specific user.
	direct chan userDelivery

	countsMu sync.RWMutex
	counts   map[string]int

	done chan struct{}

	logger *zap.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		direct:     make(chan userDelivery, 256),
		counts:     make(map[string]int),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// DeliverToUser marshals v and queues it for every connection of userID.
// It never blocks the caller (e.g. the event consumer).
func (h *Hub) DeliverToUser(userID string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case h.direct <- userDelivery{userID: userID, payload: payload}:
	default:
		h.logger.Warn("Hub direct channel is full, dropping frame", zap.String("userId", userID))
	}
	return nil
}

// ClientCount returns the number of registered connections for userID.
func (h *Hub) ClientCount(userID string) int {
	h.countsMu.RLock()
	defer h.countsMu.RUnlock()
	return h.counts[userID]
}

// Run starts the hub and listens on its channels until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket Hub Run loop started.")
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, conns := range h.clients {
				for client := range conns {
					client.closeSend()
				}
			}
			h.clients = make(map[string]map[*Client]struct{})
			h.countsMu.Lock()
			h.counts = make(map[string]int)
			h.countsMu.Unlock()
			h.logger.Info("WebSocket Hub stopped.")
			return

		case client := <-h.register:
			if h.clients[client.UserID] == nil {
				h.clients[client.UserID] = make(map[*Client]struct{})
			}
			h.clients[client.UserID][client] = struct{}{}
			h.setCount(client.UserID, len(h.clients[client.UserID]))
			h.logger.Info("客户端已注册", zap.String("userId", client.UserID), zap.String("channelId", client.ChannelID))

		case client := <-h.unregister:
			h.remove(client)

		case d := <-h.direct:
			for client := range h.clients[d.userID] {
				if !client.enqueue(d.payload) {
					h.logger.Warn("客户端的发送通道已满，移除客户端", zap.String("userId", d.userID))
					h.remove(client)
				}
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	conns, ok := h.clients[client.UserID]
	if !ok {
		return
	}
	if _, ok := conns[client]; !ok {
		return
	}
	delete(conns, client)
	if len(conns) == 0 {
		delete(h.clients, client.UserID)
	}
	h.setCount(client.UserID, len(conns))
	client.closeSend()
	h.logger.Info("客户端已注销", zap.String("userId", client.UserID), zap.String("channelId", client.ChannelID))
}

func (h *Hub) setCount(userID string, n int) {
	h.countsMu.Lock()
	defer h.countsMu.Unlock()
	if n == 0 {
		delete(h.counts, userID)
		return
	}
	h.counts[userID] = n
}
