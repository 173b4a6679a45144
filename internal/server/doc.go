// Package server implements the WebSocket transport of the chat service and
// the HTTP surface around it.
//
// The implementation is organized into specialized files for configuration,
// hub management, clients, routing, and HTTP handlers. Room semantics live in
// the room package; this package only frames messages, keeps connections alive
// and hands every decoded frame to the room coordinator.
package server
