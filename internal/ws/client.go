// Package ws adapts gorilla/websocket sessions to the relay core. Each
// connection runs one read pump and one write pump; outbound frames go
// through a buffered channel so a slow peer never stalls the router.
package ws

import (
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pipiwolve/chiikawa-chat/internal/relay"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

var (
	errSendFull   = errors.New("ws: send buffer full")
	errSendClosed = errors.New("ws: connection closed")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Client is the registry.Sender implementation over one websocket.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	closeOnce sync.Once
}

// Send enqueues one frame. Never blocks: a full buffer means the peer is not
// keeping up and the frame is rejected.
func (c *Client) Send(data []byte) error {
	select {
	case <-c.done:
		return errSendClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errSendFull
	}
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *Client) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// ServeWs upgrades the request and runs the session until the peer goes
// away. The client's identity comes from the "name" query parameter; the
// relay generates a fallback when it is absent.
func ServeWs(svc *relay.Service, w http.ResponseWriter, r *http.Request) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("upgrade %s: %v", r.RemoteAddr, err)
		return
	}

	client := &Client{
		conn: wsConn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	go client.writePump()

	conn := svc.HandleConnect(client, r.URL.Query().Get("name"))

	defer func() {
		client.Close()
		wsConn.Close()
	}()

	wsConn.SetReadLimit(maxMessageSize)
	wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPongHandler(func(string) error {
		wsConn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := wsConn.ReadMessage()
		if err != nil {
			svc.HandleDisconnect(conn, err.Error())
			return
		}
		if msgType != websocket.TextMessage {
			// Binary frames are not part of the protocol.
			continue
		}
		svc.HandleEnvelope(conn, data)
	}
}

// writePump drains the send channel onto the socket and keeps the peer alive
// with pings. Exits on Close or a failed write.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
