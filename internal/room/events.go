package room

import "encoding/json"

// Outbound event types.
const (
	EventJoinSuccess   = "join-success"
	EventJoinError     = "join-error"
	EventExistingUsers = "existing-users"
	EventSystemMessage = "system-message"
	EventRoomUpdate    = "room-update"
	EventKeyRequest    = "key-request"
	EventKeyResponse   = "key-response"
	EventRateLimited   = "rate-limited"
	EventImageTooLarge = "image-too-large"
	EventRoomExpired   = "room-expired"
	EventRenameSuccess = "rename-success"
	EventRenameError   = "rename-error"
	EventTyping        = "typing"
	EventChatMessage   = "chat-message"
	EventChatImage     = "chat-image"
)

// System message keys.
const (
	KeyUserJoined  = "userJoined"
	KeyUserLeft    = "userLeft"
	KeyUserRenamed = "userRenamed"
)

// Event is one message delivered to a connection.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// JoinSuccess is the payload of join-success.
type JoinSuccess struct {
	Username string `json:"username"`
}

// JoinFailure is the payload of join-error.
type JoinFailure struct {
	Code      Code   `json:"code"`
	Message   string `json:"message,omitempty"`
	UnblockAt *int64 `json:"unblockAt,omitempty"`
}

// SystemMessage is the payload of system-message. The client turns Key into
// localized text.
type SystemMessage struct {
	Key      string `json:"key"`
	Username string `json:"username"`
	OldName  string `json:"oldName,omitempty"`
	NewName  string `json:"newName,omitempty"`
}

// RoomUpdate is the payload of room-update. Timestamps are Unix milliseconds.
type RoomUpdate struct {
	Count       int      `json:"count"`
	Users       []string `json:"users"`
	MaxUsers    *int     `json:"maxUsers"`
	ExpiresAt   *int64   `json:"expiresAt"`
	HasPassword bool     `json:"hasPassword"`
}

// KeyRequestRelay is what the target of a key-request receives.
type KeyRequestRelay struct {
	RequesterID string          `json:"requesterId"`
	PublicKey   json.RawMessage `json:"publicKey"`
}

// KeyResponseRelay is what the target of a key-response receives.
type KeyResponseRelay struct {
	WrappedKey json.RawMessage `json:"wrappedKey"`
}

// RenameSuccess is the payload of rename-success.
type RenameSuccess struct {
	Username string `json:"username"`
}

// RenameFailure is the payload of rename-error.
type RenameFailure struct {
	Error string `json:"error"`
}

// TypingNotice is the payload of typing.
type TypingNotice struct {
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

// JoinRequest is the inbound join payload.
type JoinRequest struct {
	RoomToken  string      `json:"roomToken"`
	SessionID  string      `json:"sessionId"`
	Password   string      `json:"password,omitempty"`
	RoomConfig *RoomConfig `json:"roomConfig,omitempty"`
}

// RoomConfig is supplied by the first joiner of a room and is ignored on
// every later join.
type RoomConfig struct {
	Password string `json:"password,omitempty"`
	MaxUsers int    `json:"maxUsers,omitempty"`
	// Duration is the room lifetime in minutes.
	Duration int `json:"duration,omitempty"`
}

func unixMillis(ms int64) *int64 { return &ms }
