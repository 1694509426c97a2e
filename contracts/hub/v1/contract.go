// Package v1 defines the aifshop chat hub protocol v1 contract.
//
// It is shared by the hub client, the REST client and the development backend
// so the wire shapes stay authoritative in one place.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is negotiated during the websocket handshake.
const Subprotocol = "aifshop.hub.v1"

// Envelope types (wire-stable).
const (
	// TypeHello starts a connection handshake (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges the handshake and carries the connection id (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeInvocation calls a hub method (client -> server).
	TypeInvocation = "invocation"
	// TypeCompletion completes an invocation (server -> client).
	TypeCompletion = "completion"

	// TypeEvent pushes a named event (server -> client).
	TypeEvent = "event"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Hub methods a client may invoke.
const (
	MethodJoinConversation  = "JoinConversation"
	MethodLeaveConversation = "LeaveConversation"
)

// Events the hub pushes to clients.
const (
	EventReceiveMessage      = "ReceiveMessage"
	EventConversationUpdated = "ConversationUpdated"
	EventMessagesRead        = "MessagesRead"
)

// Error codes carried by ErrorPayload and CompletionPayload.
const (
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodeBadEnvelope  = "bad_envelope"
	CodeRateLimited  = "rate_limited"
	CodeUnsupported  = "unsupported"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello, TypeHelloAck, TypeEvent, TypeError:
		return nil
	case TypeInvocation, TypeCompletion:
		if strings.TrimSpace(e.ID) == "" {
			return fmt.Errorf("missing field: id (type=%s)", e.Type)
		}
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// Decode unmarshals the payload into dst.
func (e Envelope) Decode(dst any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("missing payload (type=%s)", e.Type)
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// NewEnvelope marshals payload and wraps it.
func NewEnvelope(typ, id string, ts time.Time, payload any) (Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("encode %s payload: %w", typ, err)
		}
		raw = b
	}
	return Envelope{V: Version, Type: typ, ID: id, TS: ts.UTC(), Payload: raw}, nil
}

// ---- Payloads ----

// HelloPayload is sent by the client to initiate a connection.
// Credentials travel in the handshake Authorization header, not here.
type HelloPayload struct {
	NegotiatedID string `json:"negotiatedId,omitempty"`
}

// HelloAckPayload carries the server-assigned connection id.
type HelloAckPayload struct {
	ConnectionID string `json:"connectionId"`
}

// InvocationPayload calls a hub method. The envelope id correlates the completion.
type InvocationPayload struct {
	Target         string `json:"target"`
	ConversationID string `json:"conversationId"`
}

// CompletionPayload completes an invocation; Error is empty on success.
type CompletionPayload struct {
	InvocationID string `json:"invocationId"`
	Code         string `json:"code,omitempty"`
	Error        string `json:"error,omitempty"`
}

// EventPayload carries a named server event.
type EventPayload struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NegotiateResponse is returned by POST {hub}/negotiate.
type NegotiateResponse struct {
	ConnectionID        string               `json:"connectionId"`
	AvailableTransports []AvailableTransport `json:"availableTransports"`
}

// AvailableTransport names one transport the hub offers.
type AvailableTransport struct {
	Transport string `json:"transport"`
}

// TransportWebSockets is the only transport the client speaks.
const TransportWebSockets = "WebSockets"

// Supports reports whether the negotiate response offers the named transport.
func (r NegotiateResponse) Supports(transport string) bool {
	for _, t := range r.AvailableTransports {
		if strings.EqualFold(t.Transport, transport) {
			return true
		}
	}
	return false
}
