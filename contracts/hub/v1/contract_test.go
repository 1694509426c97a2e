package v1

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEnvelopeValidate(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	cases := []struct {
		name    string
		env     Envelope
		wantErr bool
	}{
		{name: "hello", env: Envelope{V: Version, Type: TypeHello, TS: now}},
		{name: "event", env: Envelope{V: Version, Type: TypeEvent, Payload: json.RawMessage(`{}`)}},
		{name: "missing version", env: Envelope{Type: TypeHello}, wantErr: true},
		{name: "wrong version", env: Envelope{V: "v2", Type: TypeHello}, wantErr: true},
		{name: "missing type", env: Envelope{V: Version}, wantErr: true},
		{name: "unknown type", env: Envelope{V: Version, Type: "message_send"}, wantErr: true},
		{name: "invocation without id", env: Envelope{V: Version, Type: TypeInvocation}, wantErr: true},
		{name: "invocation with id", env: Envelope{V: Version, Type: TypeInvocation, ID: "01J"}},
		{name: "completion without id", env: Envelope{V: Version, Type: TypeCompletion}, wantErr: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.env.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate()=%v wantErr=%v", err, tc.wantErr)
			}
		})
	}
}

func TestNewEnvelopeDecode(t *testing.T) {
	t.Parallel()

	env, err := NewEnvelope(TypeInvocation, "inv-1", time.Now(), InvocationPayload{
		Target:         MethodJoinConversation,
		ConversationID: "C1",
	})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if err := env.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	var p InvocationPayload
	if err := env.Decode(&p); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.Target != MethodJoinConversation || p.ConversationID != "C1" {
		t.Fatalf("unexpected payload: %+v", p)
	}

	if err := (Envelope{V: Version, Type: TypeEvent}).Decode(&p); err == nil {
		t.Fatalf("expected error for empty payload")
	}
}

func TestNegotiateResponseSupports(t *testing.T) {
	t.Parallel()

	r := NegotiateResponse{AvailableTransports: []AvailableTransport{{Transport: "webSockets"}}}
	if !r.Supports(TransportWebSockets) {
		t.Fatalf("expected websockets support (case-insensitive)")
	}
	if r.Supports("LongPolling") {
		t.Fatalf("unexpected long polling support")
	}
}
