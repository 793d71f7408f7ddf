package signaling

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/huddle/internal/protocol"
	"github.com/BioHazard786/huddle/internal/sfu"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024 // 64 KB - enough for SDP with many m-lines

	sendBuffer  = 256
	inboxBuffer = 64
)

var (
	ErrClientClosed   = errors.New("client closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// Client is a wrapper for a single websocket connection (a peer).
type Client struct {
	Hub  *Hub
	Conn *websocket.Conn

	// Send is a buffered channel for all outbound messages. WritePump is
	// its only reader.
	Send chan *protocol.Message

	// inbox feeds the worker so the messages of one client are applied in
	// order without blocking the hub.
	inbox chan *protocol.Message

	mu     sync.Mutex
	closed bool

	// Owned by the worker goroutine.
	room *sfu.Room
	peer *sfu.Peer

	log *slog.Logger
}

// NewClient wraps conn for hub.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		Hub:   hub,
		Conn:  conn,
		Send:  make(chan *protocol.Message, sendBuffer),
		inbox: make(chan *protocol.Message, inboxBuffer),
		log:   slog.With("remote", conn.RemoteAddr().String()),
	}
}

// Signal queues msg for the connection. It never blocks, so SFU callbacks
// can call it from any goroutine.
func (c *Client) Signal(msg *protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.Send <- msg:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close closes the underlying connection; the pumps then unwind.
func (c *Client) Close() error {
	return c.Conn.Close()
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// ReadPump pumps messages from the websocket connection to the hub.
//
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("Dropping malformed frame", "error", err)
			c.sendError("malformed message")
			continue
		}

		if !c.Hub.inbound(c, &msg) {
			return
		}
	}
}

// WritePump pumps messages from the hub to the websocket connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The worker closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteJSON(message); err != nil {
				c.log.Warn("Error writing json", "error", err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) signal(event protocol.Event, v any) {
	msg, err := protocol.NewMessage(event, v)
	if err != nil {
		c.log.Error("Error encoding message", "event", event, "error", err)
		return
	}
	if err := c.Signal(msg); err != nil {
		c.log.Warn("Error queueing message", "event", event, "error", err)
	}
}

func (c *Client) sendError(reason string) {
	c.signal(protocol.EventError, protocol.ErrorPayload{Error: reason})
}
