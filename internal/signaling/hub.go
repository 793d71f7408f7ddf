package signaling

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/BioHazard786/huddle/internal/metrics"
	"github.com/BioHazard786/huddle/internal/protocol"
	"github.com/BioHazard786/huddle/internal/sfu"
)

// Envelope is a message together with the client that sent it.
type Envelope struct {
	Client  *Client
	Message *protocol.Message
}

// Hub is the central brain of the signaling server. It tracks connected
// clients and hands their messages to per-client workers that drive the SFU.
type Hub struct {
	// Register is a channel for registering new clients.
	Register chan *Client

	// Unregister is a channel for unregistering clients.
	Unregister chan *Client

	// Inbound carries every decoded frame from the read pumps.
	Inbound chan *Envelope

	manager *sfu.Manager
	metrics *metrics.Metrics

	clients map[*Client]bool
	count   atomic.Int64
	done    chan struct{}
}

// NewHub creates a hub that dispatches into manager. m may be nil.
func NewHub(manager *sfu.Manager, m *metrics.Metrics) *Hub {
	return &Hub{
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Inbound:    make(chan *Envelope),
		manager:    manager,
		metrics:    m,
		clients:    make(map[*Client]bool),
		done:       make(chan struct{}),
	}
}

// Clients returns the number of registered connections.
func (h *Hub) Clients() int {
	return int(h.count.Load())
}

// Run starts the hub's main processing loop. This is the single goroutine
// that owns the client set. It returns when ctx is cancelled, after closing
// every connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case client := <-h.Register:
			h.clients[client] = true
			h.count.Store(int64(len(h.clients)))
			go client.work()
			client.log.Info("Client registered")

		case client := <-h.Unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				h.count.Store(int64(len(h.clients)))
				close(client.inbox)
				client.log.Info("Client unregistered")
			}

		case env := <-h.Inbound:
			client := env.Client
			if !h.clients[client] {
				continue
			}
			h.metrics.RecordSignal(string(env.Message.Event))
			select {
			case client.inbox <- env.Message:
			default:
				h.metrics.RecordSignalError(string(env.Message.Event))
				client.log.Warn("Client inbox full, dropping message", "event", env.Message.Event)
				client.sendError("server busy")
			}

		case <-ctx.Done():
			for client := range h.clients {
				close(client.inbox)
				client.Conn.Close()
				delete(h.clients, client)
			}
			h.count.Store(0)
			slog.Info("Signaling hub stopped")
			return
		}
	}
}

// register hands c to the hub. It reports false once the hub has stopped.
func (h *Hub) register(c *Client) bool {
	select {
	case h.Register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) inbound(c *Client, msg *protocol.Message) bool {
	select {
	case h.Inbound <- &Envelope{Client: c, Message: msg}:
		return true
	case <-h.done:
		return false
	}
}

// Serve registers c and starts its pumps. It closes the connection when the
// hub is no longer running.
func (h *Hub) Serve(c *Client) {
	if !h.register(c) {
		c.Conn.Close()
		return
	}
	go c.WritePump()
	go c.ReadPump()
}
