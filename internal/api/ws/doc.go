// Package ws streams job events over a WebSocket. A client may send
// {"type":"cancel"} to request cancellation or {"type":"ping"} to check the
// connection; every job event is forwarded as a JSON text frame.
package ws
