package websocket

import (
	"github.com/gofiber/websocket/v2"
)

// ServeWs runs a connection until the peer goes away. The read pump stays on
// the handler goroutine as gofiber/websocket requires.
func ServeWs(hub *Hub, conn *websocket.Conn, handler MessageHandler) {
	client := newClient(hub, conn, handler)
	hub.register <- client

	go client.writePump()
	go client.processPump()
	client.readPump()
}
