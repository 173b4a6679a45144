package room

import (
	"encoding/json"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const maxNameRunes = 32

// lockMember returns the room and member that connID represents, with the
// room lock held.
func (c *Coordinator) lockMember(connID string) (*Room, *Member, error) {
	b, ok := c.registry.Lookup(connID)
	if !ok {
		return nil, nil, ErrNotMember
	}
	r := c.dir.lock(b.Token)
	if r == nil {
		return nil, nil, ErrNotMember
	}
	m := r.members[b.SessionID]
	if m == nil || m.ConnID != connID {
		r.mu.Unlock()
		return nil, nil, ErrNotMember
	}
	return r, m, nil
}

// Chat fans a chat-message or chat-image out to every member of the sender's
// room, the sender included. The payload must be a JSON object; the server
// adds senderId and username and leaves every other field untouched.
func (c *Coordinator) Chat(connID, kind string, payload json.RawMessage) error {
	if kind != EventChatMessage && kind != EventChatImage {
		return ErrInvalidPayload
	}
	if _, ok := c.registry.Lookup(connID); !ok {
		return ErrNotMember
	}

	if !c.limiter.Allow(connID, c.clock.Now()) {
		c.transport.Send(connID, &Event{Type: EventRateLimited})
		c.rec.RateLimited()
		return ErrRateLimited
	}
	if kind == EventChatImage && len(payload) > c.opts.MaxImageSize {
		c.transport.Send(connID, &Event{Type: EventImageTooLarge})
		return ErrImageTooLarge
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		return ErrInvalidPayload
	}

	r, m, err := c.lockMember(connID)
	if err != nil {
		return err
	}
	defer r.mu.Unlock()

	fields["senderId"], _ = json.Marshal(connID)
	fields["username"], _ = json.Marshal(m.Username)
	out, err := json.Marshal(fields)
	if err != nil {
		return err
	}

	c.broadcast(r, "", &Event{Type: kind, Data: json.RawMessage(out)})
	c.rec.Relayed(kind)
	return nil
}

// Rename changes the display name of connID's session. The new name must be
// unique among the room's current members, compared case-insensitively.
func (c *Coordinator) Rename(connID, newName string) error {
	r, m, err := c.lockMember(connID)
	if err != nil {
		return err
	}
	defer r.mu.Unlock()

	name, ok := normalizeName(newName)
	if !ok {
		c.transport.Send(connID, &Event{Type: EventRenameError, Data: &RenameFailure{Error: "invalid-name"}})
		return ErrInvalidName
	}
	if r.nameTaken(name, m.SessionID) {
		c.transport.Send(connID, &Event{Type: EventRenameError, Data: &RenameFailure{Error: "name-taken"}})
		return ErrNameTaken
	}

	old := m.Username
	if name == old {
		c.transport.Send(connID, &Event{Type: EventRenameSuccess, Data: &RenameSuccess{Username: name}})
		return nil
	}

	m.Username = name
	c.usernames.Put(r.token, m.SessionID, name)
	c.persist()

	c.transport.Send(connID, &Event{Type: EventRenameSuccess, Data: &RenameSuccess{Username: name}})
	c.broadcast(r, "", &Event{Type: EventSystemMessage, Data: &SystemMessage{
		Key:      KeyUserRenamed,
		Username: name,
		OldName:  old,
		NewName:  name,
	}})
	c.broadcast(r, "", r.update())
	return nil
}

// Typing tells the rest of the room that connID started or stopped typing.
func (c *Coordinator) Typing(connID string, isTyping bool) error {
	r, m, err := c.lockMember(connID)
	if err != nil {
		return err
	}
	defer r.mu.Unlock()

	c.broadcast(r, connID, &Event{Type: EventTyping, Data: &TypingNotice{Username: m.Username, IsTyping: isTyping}})
	return nil
}

// normalizeName trims and NFC-normalizes a display name and rejects empty,
// overlong or control-character names.
func normalizeName(s string) (string, bool) {
	name := norm.NFC.String(strings.TrimSpace(s))
	n := utf8.RuneCountInString(name)
	if n == 0 || n > maxNameRunes || !utf8.ValidString(name) {
		return "", false
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return "", false
		}
	}
	return name, true
}

func nameKey(name string) string {
	return strings.ToLower(norm.NFC.String(name))
}
