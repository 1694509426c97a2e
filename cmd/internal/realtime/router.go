package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	v1 "aifshop/contracts/hub/v1"
)

// Router demultiplexes hub events into the current Handlers binding.
//
// There is exactly one binding slot. Bind swaps it atomically, so an event is
// delivered to the old binding or the new one, never both, and a replaced
// binding receives nothing after Bind returns.
type Router struct {
	log     *slog.Logger
	metrics *Metrics

	seq     atomic.Uint64
	current atomic.Pointer[binding]
}

type binding struct {
	id uint64
	h  Handlers
}

// NewRouter returns a Router with an empty binding.
func NewRouter(log *slog.Logger, metrics *Metrics) *Router {
	if log == nil {
		log = slog.Default()
	}
	r := &Router{log: log, metrics: metrics}
	r.Bind(nil)
	return r
}

// Bind installs h as the only binding and returns its id.
func (r *Router) Bind(h Handlers) uint64 {
	if h == nil {
		h = HandlerFuncs{}
	}
	b := &binding{id: r.seq.Add(1), h: h}
	r.current.Store(b)
	return b.id
}

// Binding returns the id of the current binding.
func (r *Router) Binding() uint64 {
	return r.current.Load().id
}

func (r *Router) handlers() Handlers {
	return r.current.Load().h
}

// Dispatch decodes an event envelope and invokes the matching handler.
func (r *Router) Dispatch(env v1.Envelope) error {
	var ev v1.EventPayload
	if err := env.Decode(&ev); err != nil {
		return err
	}

	h := r.handlers()

	switch ev.Name {
	case v1.EventReceiveMessage:
		var msg v1.Message
		if err := decodeEvent(ev, &msg); err != nil {
			return err
		}
		if msg.ID == "" || msg.ConversationID == "" {
			return fmt.Errorf("%s: missing messageId or conversationId", ev.Name)
		}
		h.OnReceiveMessage(msg.Shallow())

	case v1.EventConversationUpdated:
		var patch v1.ConversationPatch
		if err := decodeEvent(ev, &patch); err != nil {
			return err
		}
		if patch.ID == "" {
			return fmt.Errorf("%s: missing conversationId", ev.Name)
		}
		h.OnConversationUpdated(patch)

	case v1.EventMessagesRead:
		var read v1.MessagesRead
		if err := decodeEvent(ev, &read); err != nil {
			return err
		}
		if read.ConversationID == "" {
			return fmt.Errorf("%s: missing conversationId", ev.Name)
		}
		h.OnMessagesRead(read)

	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Name)
	}

	r.metrics.eventDispatched(ev.Name)
	return nil
}

func decodeEvent(ev v1.EventPayload, dst any) error {
	if len(ev.Data) == 0 {
		return fmt.Errorf("%s: missing data", ev.Name)
	}
	if err := json.Unmarshal(ev.Data, dst); err != nil {
		return fmt.Errorf("%s: %w", ev.Name, err)
	}
	return nil
}

func (r *Router) connected(connectionID string) { r.handlers().OnConnected(connectionID) }

func (r *Router) reconnecting(err error) { r.handlers().OnReconnecting(err) }

func (r *Router) reconnected(connectionID string) { r.handlers().OnReconnected(connectionID) }

func (r *Router) closed(err error) { r.handlers().OnClosed(err) }

// dispatchLogged is the read loop's entrypoint: failures are logged, never fatal.
func (r *Router) dispatchLogged(env v1.Envelope) {
	if err := r.Dispatch(env); err != nil {
		if errors.Is(err, ErrUnknownEvent) {
			r.log.Debug("hub.event.unknown", "err", err)
			return
		}
		r.log.Warn("hub.event.bad", "envelope_id", env.ID, "err", err)
	}
}
