package realtime

import (
	v1 "aifshop/contracts/hub/v1"
)

// Handlers receives hub events and lifecycle notifications.
//
// Calls arrive sequentially from the connection's read goroutine and must not
// block for long; long work belongs on another goroutine.
type Handlers interface {
	OnReceiveMessage(msg v1.Message)
	OnConversationUpdated(patch v1.ConversationPatch)
	OnMessagesRead(ev v1.MessagesRead)

	// OnConnected follows a successful Start; OnReconnected follows a
	// recovered drop.
	OnConnected(connectionID string)
	OnReconnecting(err error)
	OnReconnected(connectionID string)
	OnClosed(err error)
}

// HandlerFuncs adapts optional functions to Handlers. Nil fields are skipped.
type HandlerFuncs struct {
	ReceiveMessage      func(v1.Message)
	ConversationUpdated func(v1.ConversationPatch)
	MessagesRead        func(v1.MessagesRead)
	Connected           func(string)
	Reconnecting        func(error)
	Reconnected         func(string)
	Closed              func(error)
}

var _ Handlers = HandlerFuncs{}

func (f HandlerFuncs) OnReceiveMessage(msg v1.Message) {
	if f.ReceiveMessage != nil {
		f.ReceiveMessage(msg)
	}
}

func (f HandlerFuncs) OnConversationUpdated(patch v1.ConversationPatch) {
	if f.ConversationUpdated != nil {
		f.ConversationUpdated(patch)
	}
}

func (f HandlerFuncs) OnMessagesRead(ev v1.MessagesRead) {
	if f.MessagesRead != nil {
		f.MessagesRead(ev)
	}
}

func (f HandlerFuncs) OnConnected(connectionID string) {
	if f.Connected != nil {
		f.Connected(connectionID)
	}
}

func (f HandlerFuncs) OnReconnecting(err error) {
	if f.Reconnecting != nil {
		f.Reconnecting(err)
	}
}

func (f HandlerFuncs) OnReconnected(connectionID string) {
	if f.Reconnected != nil {
		f.Reconnected(connectionID)
	}
}

func (f HandlerFuncs) OnClosed(err error) {
	if f.Closed != nil {
		f.Closed(err)
	}
}
