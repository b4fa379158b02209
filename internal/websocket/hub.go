package websocket

import (
	"sync"

	"bioimage-chatbot-be/internal/pkg/logger"

	"github.com/google/uuid"
)

// Hub tracks live stream connections so they can be closed together on
// shutdown.
type Hub struct {
	clients map[uuid.UUID]*Client

	register   chan *Client
	unregister chan *Client
	shutdown   chan struct{}
	stopped    chan struct{}
	once       sync.Once

	mu sync.RWMutex

	logger logger.ILogger
}

func NewHub(log logger.ILogger) *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		shutdown:   make(chan struct{}),
		stopped:    make(chan struct{}),
		logger:     log,
	}
}

func (h *Hub) Run() {
	defer close(h.stopped)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			h.logger.Info("Hub", "Client registered", map[string]interface{}{"client_id": client.ID})

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				client.close()
			}
			h.mu.Unlock()
			h.logger.Info("Hub", "Client unregistered", map[string]interface{}{"client_id": client.ID})

		case <-h.shutdown:
			h.mu.Lock()
			for id, client := range h.clients {
				client.close()
				delete(h.clients, id)
			}
			h.mu.Unlock()
			h.drain()
			return
		}
	}
}

// drain answers late register/unregister sends from pumps still winding down.
func (h *Hub) drain() {
	go func() {
		for {
			select {
			case c := <-h.register:
				c.close()
			case <-h.unregister:
			}
		}
	}()
}

// Shutdown closes every connection and stops Run.
func (h *Hub) Shutdown() {
	h.once.Do(func() {
		close(h.shutdown)
		<-h.stopped
	})
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
