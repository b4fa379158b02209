package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 20 // chat requests may carry base64 images
	sendBuffer     = 256
)

// MessageHandler serves one inbound frame. send queues an outbound frame
// and reports false once the connection is gone.
type MessageHandler func(ctx context.Context, raw []byte, send func(v any) bool)

// Client is one websocket connection. Inbound frames are handled one at a
// time on their own goroutine so ping/pong keeps flowing during long chats.
type Client struct {
	ID   uuid.UUID
	Hub  *Hub
	Conn *websocket.Conn

	send    chan []byte
	inbound chan []byte
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	handler MessageHandler
}

func newClient(hub *Hub, conn *websocket.Conn, handler MessageHandler) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		ID:      uuid.New(),
		Hub:     hub,
		Conn:    conn,
		send:    make(chan []byte, sendBuffer),
		inbound: make(chan []byte, 1),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		handler: handler,
	}
}

// Send marshals v and queues it. It blocks while the buffer is full and
// gives up when the client closes.
func (c *Client) Send(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		c.Hub.logger.Warn("WebSocket", "Failed to marshal frame", map[string]interface{}{"client_id": c.ID, "error": err.Error()})
		return false
	}
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	}
}

// close is called once by the hub.
func (c *Client) close() {
	c.cancel()
	close(c.done)
}

// readPump pumps messages from the websocket connection to the handler.
func (c *Client) readPump() {
	defer func() {
		close(c.inbound)
		c.Hub.unregister <- c
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Warn("WebSocket", "Unexpected close", map[string]interface{}{"client_id": c.ID, "error": err.Error()})
			}
			return
		}
		select {
		case c.inbound <- raw:
		case <-c.done:
			return
		}
	}
}

func (c *Client) processPump() {
	for raw := range c.inbound {
		c.handler(c.ctx, raw, c.Send)
	}
}

// writePump pumps queued frames to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
