package room

import "encoding/json"

// The relay forwards key-exchange frames between connections of the same room.
// It reads only routing fields and consults only the Connection Registry and
// the transport; a missing target is an ordinary race and is dropped without
// an error. Per-sender order is the order of the sender's read loop.

// RelayKeyRequest forwards a public key from connID to target, tagged with
// the requester's connection id. It reports whether the frame was queued.
func (c *Coordinator) RelayKeyRequest(connID, target string, publicKey json.RawMessage) bool {
	if !c.routable(connID, target) {
		return false
	}
	ok := c.transport.Send(target, &Event{Type: EventKeyRequest, Data: &KeyRequestRelay{
		RequesterID: connID,
		PublicKey:   publicKey,
	}})
	if ok {
		c.rec.Relayed(EventKeyRequest)
	}
	return ok
}

// RelayKeyResponse forwards a wrapped room key from connID to target. The
// sender's id is not included.
func (c *Coordinator) RelayKeyResponse(connID, target string, wrappedKey json.RawMessage) bool {
	if !c.routable(connID, target) {
		return false
	}
	ok := c.transport.Send(target, &Event{Type: EventKeyResponse, Data: &KeyResponseRelay{
		WrappedKey: wrappedKey,
	}})
	if ok {
		c.rec.Relayed(EventKeyResponse)
	}
	return ok
}

// routable reports whether from and to are distinct live connections bound
// to the same room.
func (c *Coordinator) routable(from, to string) bool {
	if to == "" || from == to {
		return false
	}
	src, ok := c.registry.Lookup(from)
	if !ok {
		return false
	}
	dst, ok := c.registry.Lookup(to)
	if !ok || dst.Token != src.Token {
		c.log.Debugf("Key exchange target not present in room %s", short(src.Token))
		return false
	}
	return c.transport.IsLive(to)
}
