package server

import (
	"encoding/json"
	"strings"
)

// Inbound message types.
const (
	msgJoin        = "join"
	msgKeyRequest  = "key-request"
	msgKeyResponse = "key-response"
	msgChatMessage = "chat-message"
	msgChatImage   = "chat-image"
	msgRename      = "rename"
	msgTyping      = "typing"
)

// Envelope is the frame format in both directions: a message type and its
// payload.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// KeyRequest asks target for the room key. PublicKey is opaque.
type KeyRequest struct {
	Target    string          `json:"target"`
	PublicKey json.RawMessage `json:"publicKey"`
}

// KeyResponse answers a KeyRequest. WrappedKey is opaque.
type KeyResponse struct {
	Target     string          `json:"target"`
	WrappedKey json.RawMessage `json:"wrappedKey"`
}

// Rename asks for a new display name.
type Rename struct {
	NewName string `json:"newName"`
}

// Typing toggles the typing indicator.
type Typing struct {
	IsTyping bool `json:"isTyping"`
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
