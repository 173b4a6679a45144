package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/Tyrowin/veilchat/internal/room"
)

// connStats receives connection gauge updates.
type connStats interface {
	ConnectionOpened()
	ConnectionClosed()
}

type nopConnStats struct{}

func (nopConnStats) ConnectionOpened() {}
func (nopConnStats) ConnectionClosed() {}

// Hub manages all WebSocket client connections, keyed by connection id. It
// is the room.Transport of the coordinator: every event the coordinator emits
// is queued on a client's send channel through the hub.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}

	// leave is told about every connection that went away.
	leave func(connID string)
	stats connStats
	log   *logging.Logger
}

var _ room.Transport = (*Hub)(nil)

// NewHub creates and initializes a new Hub instance with all necessary channels
// and client map. The returned Hub is ready to manage WebSocket connections.
func NewHub(log *logging.Logger, stats connStats) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	if stats == nil {
		stats = nopConnStats{}
	}
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		leave:      func(string) {},
		stats:      stats,
		log:        log,
	}
}

// OnLeave sets the callback run, from the hub loop, after a connection is
// unregistered. It must be set before Run.
func (h *Hub) OnLeave(f func(connID string)) {
	h.leave = f
}

// Register hands a freshly upgraded client to the hub. It returns false when
// the hub is shutting down.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) release(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.log.Errorf("Recovered from panic in safeSend: %v", r)
		}
	}()

	// Hold the lock during the entire send operation to prevent race conditions
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	// Check if client is still registered and not closed
	current, exists := h.clients[client.id]
	if !exists || current != client || client.closed {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// Send implements room.Transport. A client whose send buffer is full is
// dropped.
func (h *Hub) Send(connID string, ev *room.Event) bool {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.log.Errorf("Failed to encode %s event: %v", ev.Type, err)
		return false
	}

	h.mutex.RLock()
	client := h.clients[connID]
	h.mutex.RUnlock()
	if client == nil {
		return false
	}

	if !h.safeSend(client, payload) {
		if h.removeClient(connID) {
			h.log.Noticef("Client %s removed due to full send buffer", client.addr)
		}
		return false
	}
	return true
}

// Disconnect implements room.Transport. Closing the send channel makes the
// write pump send a close frame and close the socket; the read pump then
// unregisters the client.
func (h *Hub) Disconnect(connID string) {
	if h.removeClient(connID) {
		h.log.Debugf("Disconnected connection %s", connID)
	}
}

// IsLive implements room.Transport.
func (h *Hub) IsLive(connID string) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	client, ok := h.clients[connID]
	return ok && !client.closed
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// removeClient unregisters connID and closes its send channel. It reports
// whether connID was registered.
func (h *Hub) removeClient(connID string) bool {
	h.mutex.Lock()
	client, ok := h.clients[connID]
	if !ok {
		h.mutex.Unlock()
		return false
	}
	delete(h.clients, connID)
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	// Close the channel after releasing the lock
	close(client.send)
	h.stats.ConnectionClosed()
	h.log.Debugf("Client %s unregistered. Total clients: %d", client.addr, clientCount)
	return true
}

// Run starts the hub's main event loop, handling client registration and
// unregistration. This method should be called in a separate goroutine
// as it runs until Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warning("Received nil client registration; skipping")
				continue
			}

			h.mutex.Lock()
			client.closed = false
			h.clients[client.id] = client
			clientCount := len(h.clients)
			h.mutex.Unlock()
			h.stats.ConnectionOpened()
			h.log.Debugf("Client registered from %s. Total clients: %d", client.addr, clientCount)

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			h.removeClient(client.id)
			h.leave(client.id)
		}
	}
}

// shutdownClients gracefully closes all active client connections
func (h *Hub) shutdownClients() {
	h.log.Notice("Shutting down all client connections...")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	// Close all client connections, then their send channels so the write
	// pumps return without waiting for the next ping.
	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil {
				if !isExpectedCloseError(err) {
					h.log.Warningf("Error closing client connection from %s: %v", client.addr, err)
				}
			}
		}
		h.removeClient(client.id)
	}

	h.log.Noticef("Closed %d client connections", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Notice("Initiating hub shutdown...")

	// Signal shutdown
	h.cancel()

	// Wait for Run() to complete
	<-h.done

	// Wait for all client goroutines to finish with timeout
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Notice("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.log.Warning("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
