package room

import (
	"errors"
	"fmt"
	"time"
)

// Code identifies why a join was refused. It is sent to the client verbatim.
type Code string

// Join refusal codes.
const (
	CodeWrongPassword  Code = "wrong-password"
	CodeRoomFull       Code = "room-full"
	CodeRoomBlocked    Code = "room-blocked"
	CodeInvalidRequest Code = "invalid-request"
)

// JoinError is a policy rejection of a join request. It is reported to the
// requester only and never mutates room state.
type JoinError struct {
	Code      Code
	UnblockAt time.Time
	Message   string
}

func (e *JoinError) Error() string {
	if e.Code == CodeRoomBlocked && !e.UnblockAt.IsZero() {
		return fmt.Sprintf("room: join refused: %s until %s", e.Code, e.UnblockAt.UTC().Format(time.RFC3339))
	}
	if e.Message != "" {
		return fmt.Sprintf("room: join refused: %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("room: join refused: %s", e.Code)
}

// Is matches any JoinError carrying the same code, so callers can write
// errors.Is(err, room.ErrRoomFull).
func (e *JoinError) Is(target error) bool {
	t, ok := target.(*JoinError)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is comparisons.
var (
	ErrWrongPassword  = &JoinError{Code: CodeWrongPassword}
	ErrRoomFull       = &JoinError{Code: CodeRoomFull}
	ErrRoomBlocked    = &JoinError{Code: CodeRoomBlocked}
	ErrInvalidRequest = &JoinError{Code: CodeInvalidRequest}
)

var (
	// ErrNotMember is returned for room traffic from a connection that does
	// not currently represent a member.
	ErrNotMember = errors.New("room: connection is not a room member")

	// ErrRateLimited is returned when an event was dropped by the limiter.
	ErrRateLimited = errors.New("room: rate limit exceeded")

	// ErrImageTooLarge is returned when a chat-image exceeds the size limit.
	ErrImageTooLarge = errors.New("room: image too large")

	// ErrInvalidPayload is returned for chat payloads that are not JSON objects.
	ErrInvalidPayload = errors.New("room: payload is not a JSON object")

	// ErrInvalidName is returned for a rename to an unusable display name.
	ErrInvalidName = errors.New("room: invalid display name")

	// ErrNameTaken is returned for a rename to a name held by another member.
	ErrNameTaken = errors.New("room: display name already in use")
)
