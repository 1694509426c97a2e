package devhub

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	v1 "aifshop/contracts/hub/v1"

	"github.com/coder/websocket"
	"github.com/oklog/ulid/v2"
)

var errBadFrame = errors.New("bad frame")

func newEnvelope(typ string, payload any) (v1.Envelope, error) {
	now := time.Now().UTC()
	return v1.NewEnvelope(typ, ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(), now, payload)
}

// eventEnvelope wraps data as a named hub event.
func eventEnvelope(name string, data any) (v1.Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return v1.Envelope{}, fmt.Errorf("encode %s: %w", name, err)
	}
	return newEnvelope(v1.TypeEvent, v1.EventPayload{Name: name, Data: raw})
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("%w: unsupported message type: %v", errBadFrame, mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, fmt.Errorf("%w: %v", errBadFrame, err)
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// peerGone reports read errors that mean the connection is over.
func peerGone(err error) bool {
	return websocket.CloseStatus(err) != -1 ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF)
}
