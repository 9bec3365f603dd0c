package chat

import "log/slog"

// Hub tracks connected clients. Register/Unregister run through one select
// loop so the client map never needs a lock; each client carries its own
// session (push subscription, inbox view, conversation views) and tears it
// down on unregister.
type Hub struct {
	clients    map[*Client]bool
	Register   chan *Client
	Unregister chan *Client
	logger     *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		logger:     logger,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.clients[client] = true
			h.logger.Info("client connected", "user_id", client.UserID)

		case client := <-h.Unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.teardown()
				client.closeSend()
				h.logger.Info("client disconnected", "user_id", client.UserID)
			}
		}
	}
}
