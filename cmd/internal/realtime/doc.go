// Package realtime keeps the chat client's single hub connection alive.
//
// Manager owns one websocket connection to the hub: negotiation, handshake,
// JoinConversation/LeaveConversation invocations, keepalive and automatic
// reconnection. Inbound events are demultiplexed by Router into a Handlers
// binding that can be swapped atomically.
//
// Controller decides whether a Manager exists at all. It builds one when the
// feature is enabled, rebuilds it on configuration changes, tears it down when
// disabled, and publishes a Status derived from lifecycle callbacks. Results
// from discarded instances are ignored by epoch comparison.
package realtime
