package server

import (
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"gopkg.in/op/go-logging.v1"

	"github.com/Tyrowin/veilchat/internal/room"
)

const (
	pongWait     = 60 * time.Second
	pingPeriod   = 54 * time.Second
	writeWait    = 10 * time.Second
	sendBuffered = 256
)

// Router is the part of the room coordinator a client feeds its frames into.
type Router interface {
	Join(connID string, req room.JoinRequest) error
	RelayKeyRequest(connID, target string, publicKey json.RawMessage) bool
	RelayKeyResponse(connID, target string, wrappedKey json.RawMessage) bool
	Chat(connID, kind string, payload json.RawMessage) error
	Rename(connID, newName string) error
	Typing(connID string, isTyping bool) error
}

// Client represents a WebSocket client connection in the chat system.
// It manages the connection state, message sending channel, hub reference,
// and client address information.
type Client struct {
	id             string
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	router         Router
	addr           string
	closed         bool
	maxMessageSize int64
	log            *logging.Logger
}

// NewClient creates a new Client instance with the provided WebSocket connection,
// hub reference, and client address. Every client gets a fresh random
// connection id. The client's send channel is buffered to handle message
// queuing.
func NewClient(conn *websocket.Conn, hub *Hub, router Router, addr string, maxMessageSize int64) *Client {
	if conn != nil {
		conn.SetReadLimit(maxMessageSize)
	}

	return &Client{
		id:             uuid.NewString(),
		conn:           conn,
		send:           make(chan []byte, sendBuffered),
		hub:            hub,
		router:         router,
		addr:           addr,
		closed:         false,
		maxMessageSize: maxMessageSize,
		log:            hub.log,
	}
}

// ID returns the connection id of the client.
func (c *Client) ID() string { return c.id }

// GetSendChan returns the client's send channel for reading outgoing messages.
// This channel is read-only from the caller's perspective.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warningf("Error setting initial read deadline for %s: %v", c.addr, err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Warningf("Error setting read deadline in pong handler for %s: %v", c.addr, err)
		}
		return nil
	})
}

// handleReadError logs appropriate error messages based on the error type
// and returns true if the read loop should break
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, websocket.ErrReadLimit) {
		c.log.Noticef("Message from %s exceeded maximum size of %d bytes", c.addr, c.maxMessageSize)
		return true
	}

	// Check for expected close scenarios
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		c.log.Debugf("Client %s disconnected: %v", c.addr, err)
		return true
	}

	// Check for network errors
	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		c.log.Debugf("Client %s connection closed: %v", c.addr, err)
		return true
	}

	// Log unexpected errors with more context
	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig) {
		c.log.Infof("Unexpected WebSocket error from %s: %v", c.addr, err)
		return true
	}

	// Generic error case
	c.log.Infof("WebSocket read error from %s: %v", c.addr, err)
	return true
}

// processMessage decodes one frame and hands it to the router. It returns
// false when the frame was malformed or of an unknown type.
func (c *Client) processMessage(rawMessage []byte) bool {
	var env Envelope
	if err := json.Unmarshal(rawMessage, &env); err != nil {
		c.log.Debugf("Invalid frame from %s: %v", c.addr, err)
		return false
	}

	var err error
	switch env.Type {
	case msgJoin:
		var req room.JoinRequest
		if uerr := json.Unmarshal(env.Data, &req); uerr != nil {
			// An empty request is refused as invalid-request.
			req = room.JoinRequest{}
		}
		err = c.router.Join(c.id, req)

	case msgKeyRequest:
		var kr KeyRequest
		if err = json.Unmarshal(env.Data, &kr); err == nil {
			c.router.RelayKeyRequest(c.id, kr.Target, kr.PublicKey)
		}

	case msgKeyResponse:
		var kr KeyResponse
		if err = json.Unmarshal(env.Data, &kr); err == nil {
			c.router.RelayKeyResponse(c.id, kr.Target, kr.WrappedKey)
		}

	case msgChatMessage, msgChatImage:
		err = c.router.Chat(c.id, env.Type, env.Data)

	case msgRename:
		var rn Rename
		if err = json.Unmarshal(env.Data, &rn); err == nil {
			err = c.router.Rename(c.id, rn.NewName)
		}

	case msgTyping:
		var ty Typing
		if err = json.Unmarshal(env.Data, &ty); err == nil {
			err = c.router.Typing(c.id, ty.IsTyping)
		}

	default:
		c.log.Debugf("Ignoring %q frame from %s", env.Type, c.addr)
		return false
	}

	if err != nil {
		c.log.Debugf("%s from %s not processed: %v", env.Type, c.addr, err)
		return false
	}
	return true
}

func (c *Client) readPump() {
	defer func() {
		c.hub.release(c)
		if err := c.conn.Close(); err != nil {
			if !isExpectedCloseError(err) {
				c.log.Warningf("Error closing connection in readPump: %v", err)
			}
		}
	}()

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if c.handleReadError(err) {
			break
		}

		c.processMessage(rawMessage)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warningf("Error closing connection in writePump: %v", err)
		}
	}
}

// handleMessage processes outgoing messages and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Debugf("Error setting write deadline for %s: %v", c.addr, err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	return c.writeTextMessage(message)
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Debugf("Error writing close message to %s: %v", c.addr, err)
		}
	}
	return false
}

// writeTextMessage writes one event per text frame. Events must not be
// coalesced: every frame is a single JSON envelope.
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Infof("Error writing message to %s: %v", c.addr, err)
		}
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Debugf("Error setting write deadline for ping to %s: %v", c.addr, err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Debugf("Error writing ping message to %s: %v", c.addr, err)
		return false
	}
	return true
}
