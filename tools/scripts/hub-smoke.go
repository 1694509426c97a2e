// Package main provides a CI-friendly smoke test for the aifshop chat hub.
//
// It validates:
//   - negotiate + websocket handshake with subprotocol selection
//   - hello/hello_ack connection establishment
//   - JoinConversation completions for buyer and seller
//   - REST send -> ReceiveMessage pushed to the other participant
//   - idempotent REST send by Idempotency-Key
//   - REST mark-as-read -> MessagesRead pushed to the sender
//   - unknown invocation targets completing with "unsupported"
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "aifshop/contracts/hub/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20

type smokeClient struct {
	name         string
	token        string
	conn         *websocket.Conn
	connectionID string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		baseURL     = flag.String("url", "http://127.0.0.1:8080", "marketplace API base URL")
		hubPath     = flag.String("hub", "/hubs/chat", "hub path")
		buyerToken  = flag.String("buyer-token", os.Getenv("AIFSHOP_SMOKE_BUYER_TOKEN"), "bearer token of the sending participant")
		sellerToken = flag.String("seller-token", os.Getenv("AIFSHOP_SMOKE_SELLER_TOKEN"), "bearer token of the receiving participant")
		convID      = flag.String("conv", "C1", "conversation both participants belong to")
		text        = flag.String("text", "hello from hub-smoke", "message text to send")
		timeout     = flag.Duration("timeout", 7*time.Second, "per-step timeout")
		verbose     = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if strings.TrimSpace(*buyerToken) == "" || strings.TrimSpace(*sellerToken) == "" {
		fatalf("-buyer-token and -seller-token are required (run `aifshop-chat devhub` to get demo tokens)")
	}

	root := context.Background()
	base := strings.TrimRight(*baseURL, "/")

	buyer := mustConnect(root, "buyer", base, *hubPath, *buyerToken, *timeout)
	defer closeWS(buyer.conn)
	seller := mustConnect(root, "seller", base, *hubPath, *sellerToken, *timeout)
	defer closeWS(seller.conn)

	if *verbose {
		fmt.Printf("connected: buyer=%s seller=%s\n", buyer.connectionID, seller.connectionID)
	}

	mustInvoke(root, buyer, v1.MethodJoinConversation, *convID, "", *timeout)
	mustInvoke(root, seller, v1.MethodJoinConversation, *convID, "", *timeout)

	key := fmt.Sprintf("smoke-%d", time.Now().UnixNano())
	sent := mustSend(root, base, buyer.token, *convID, *text, key, *timeout)

	got := mustReadEvent[v1.Message](root, seller, v1.EventReceiveMessage, *timeout)
	if got.ID != sent.ID {
		fatalf("ReceiveMessage id mismatch: got=%q want=%q", got.ID, sent.ID)
	}
	if got.Content != *text {
		fatalf("ReceiveMessage content mismatch: got=%q want=%q", got.Content, *text)
	}

	again := mustSend(root, base, buyer.token, *convID, *text, key, *timeout)
	if again.ID != sent.ID {
		fatalf("idempotency: resend produced %q, want %q", again.ID, sent.ID)
	}
	mustAssertNoEvent(root, seller, v1.EventReceiveMessage, 1200*time.Millisecond)

	mustMarkRead(root, base, seller.token, *convID, *timeout)
	read := mustReadEvent[v1.MessagesRead](root, buyer, v1.EventMessagesRead, *timeout)
	if read.ConversationID != *convID {
		fatalf("MessagesRead conversation mismatch: got=%q want=%q", read.ConversationID, *convID)
	}

	mustInvoke(root, buyer, "NoSuchMethod", *convID, v1.CodeUnsupported, *timeout)
	mustInvoke(root, buyer, v1.MethodLeaveConversation, *convID, "", *timeout)

	fmt.Printf("OK: buyer=%s seller=%s conversation=%s message=%s\n", buyer.connectionID, seller.connectionID, *convID, sent.ID)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, base, hubPath, token string, stepTimeout time.Duration) *smokeClient {
	neg := mustNegotiate(parent, base+hubPath+"/negotiate", token, stepTimeout)
	if !neg.Supports(v1.TransportWebSockets) {
		fatalf("negotiate (%s): websockets not offered: %+v", name, neg.AvailableTransports)
	}

	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	wsURL := "ws" + strings.TrimPrefix(base, "http") + hubPath
	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}
	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		fatalf("subprotocol mismatch (%s): got=%q want=%q", name, sp, v1.Subprotocol)
	}
	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		token: token,
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	mustWrite(parent, conn, mustEnvelope(v1.TypeHello, "", v1.HelloPayload{NegotiatedID: neg.ConnectionID}), stepTimeout)
	ack := c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout)

	var p v1.HelloAckPayload
	if err := ack.Decode(&p); err != nil {
		fatalf("hello_ack (%s): %v", name, err)
	}
	if p.ConnectionID != neg.ConnectionID {
		fatalf("hello_ack connection id mismatch (%s): got=%q want=%q", name, p.ConnectionID, neg.ConnectionID)
	}
	c.connectionID = p.ConnectionID
	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

// mustInvoke calls target and expects a completion carrying wantCode.
func mustInvoke(parent context.Context, c *smokeClient, target, convID, wantCode string, stepTimeout time.Duration) {
	id := fmt.Sprintf("%s-%s-%d", c.name, target, time.Now().UnixNano())
	mustWrite(parent, c.conn, mustEnvelope(v1.TypeInvocation, id, v1.InvocationPayload{
		Target:         target,
		ConversationID: convID,
	}), stepTimeout)

	env := c.mustReadUntilType(parent, v1.TypeCompletion, stepTimeout)
	var p v1.CompletionPayload
	if err := env.Decode(&p); err != nil {
		fatalf("completion (%s): %v", c.name, err)
	}
	if p.InvocationID != id {
		fatalf("completion id mismatch (%s): got=%q want=%q", c.name, p.InvocationID, id)
	}
	if p.Code != wantCode {
		fatalf("%s (%s): got code=%q error=%q, want code=%q", target, c.name, p.Code, p.Error, wantCode)
	}
}

// mustReadEvent waits for the named event and decodes its data. Other events
// are skipped.
func mustReadEvent[T any](parent context.Context, c *smokeClient, name string, stepTimeout time.Duration) T {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		env := c.mustReadUntilType(ctx, v1.TypeEvent, stepTimeout)
		var ev v1.EventPayload
		if err := env.Decode(&ev); err != nil {
			fatalf("event (%s): %v", c.name, err)
		}
		if ev.Name != name {
			continue
		}
		var out T
		if err := json.Unmarshal(ev.Data, &out); err != nil {
			fatalf("decode %s (%s): %v", name, c.name, err)
		}
		return out
	}
}

func mustAssertNoEvent(parent context.Context, c *smokeClient, name string, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			fatalf("connection closed unexpectedly (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			if env.Type != v1.TypeEvent {
				continue
			}
			var ev v1.EventPayload
			_ = env.Decode(&ev)
			if ev.Name == name {
				fatalf("unexpected %s received (%s)", name, c.name)
			}
		}
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = env.Decode(&ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
		}
	}
}

func mustNegotiate(parent context.Context, target, token string, stepTimeout time.Duration) v1.NegotiateResponse {
	var out v1.NegotiateResponse
	mustHTTP(parent, http.MethodPost, target, token, nil, nil, &out, stepTimeout)
	return out
}

func mustSend(parent context.Context, base, token, convID, text, key string, stepTimeout time.Duration) v1.Message {
	h := http.Header{}
	h.Set("Idempotency-Key", key)

	var env v1.Response[v1.Message]
	mustHTTP(parent, http.MethodPost, base+"/api/chat/messages", token, h, v1.SendMessageRequest{
		ConversationID: convID,
		Content:        text,
		Type:           v1.MessageText,
	}, &env, stepTimeout)
	if !env.Succeeded || env.Data.ID == "" {
		fatalf("send: %q", env.Message)
	}
	return env.Data
}

func mustMarkRead(parent context.Context, base, token, convID string, stepTimeout time.Duration) {
	var env v1.Response[v1.MessagesRead]
	mustHTTP(parent, http.MethodPost, base+"/api/chat/conversations/"+url.PathEscape(convID)+"/read", token, nil, nil, &env, stepTimeout)
	if !env.Succeeded {
		fatalf("mark read: %q", env.Message)
	}
}

func mustHTTP(parent context.Context, method, target, token string, h http.Header, body, out any, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			fatalf("marshal %s %s: %v", method, target, err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rdr)
	if err != nil {
		fatalf("%s %s: %v", method, target, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range h {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		fatalf("%s %s: status %d: %s", method, target, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		fatalf("decode %s %s: %v", method, target, err)
	}
}

func mustWrite(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustEnvelope(typ, id string, payload any) v1.Envelope {
	env, err := v1.NewEnvelope(typ, id, time.Now(), payload)
	if err != nil {
		panic(err)
	}
	return env
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
