package devhub

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"aifshop/cmd/internal/auth/session"
	v1 "aifshop/contracts/hub/v1"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

// DefaultHubPath is where the hub is mounted.
const DefaultHubPath = "/hubs/chat"

// Options configures a Server.
type Options struct {
	Logger  *slog.Logger
	Issuer  *session.Issuer
	HubPath string
	Gateway GatewayConfig

	// Seed loads the demo conversations.
	Seed bool
	Now  func() time.Time
}

// Server is the development backend: REST API, hub gateway and their shared state.
type Server struct {
	log      *slog.Logger
	issuer   *session.Issuer
	store    *Store
	hub      *Hub
	gateway  *Gateway
	validate *validator.Validate
	router   chi.Router
}

// New builds a Server. Options.Issuer is required.
func New(opts Options) (*Server, error) {
	if opts.Issuer == nil {
		return nil, fmt.Errorf("%w: issuer required", session.ErrConfig)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "devhub")

	hubPath := strings.TrimSpace(opts.HubPath)
	if hubPath == "" {
		hubPath = DefaultHubPath
	}
	hubPath = "/" + strings.Trim(hubPath, "/")

	store := NewStore(opts.Now)
	if opts.Seed {
		if err := SeedDemo(store); err != nil {
			return nil, fmt.Errorf("seed: %w", err)
		}
	}

	hub := NewHub(log)
	s := &Server{
		log:      log,
		issuer:   opts.Issuer,
		store:    store,
		hub:      hub,
		gateway:  NewGateway(log, hub, store, opts.Gateway),
		validate: validator.New(),
	}
	s.router = s.routes(hubPath)
	return s, nil
}

// Handler returns the HTTP surface.
func (s *Server) Handler() http.Handler { return s.router }

// Store exposes the in-memory data.
func (s *Server) Store() *Store { return s.store }

// Hub exposes connection and room state.
func (s *Server) Hub() *Hub { return s.hub }

// Gateway exposes the websocket gateway.
func (s *Server) Gateway() *Gateway { return s.gateway }

// ConnectionCount returns the number of live hub connections.
func (s *Server) ConnectionCount() int { return s.hub.Count() }

// DropAll closes every hub connection from the server side.
func (s *Server) DropAll() { s.hub.DropAll() }

// Token issues an access token for a known user.
func (s *Server) Token(userID string) (string, error) {
	p, ok := s.store.User(userID)
	if !ok {
		return "", fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	tok, _, err := s.issuer.Issue(p.UserID, p.FullName, p.Role)
	return tok, err
}

func (s *Server) routes(hubPath string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		fail(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		fail(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	r.Group(func(r chi.Router) {
		r.Use(authenticate(s.log, s.issuer))

		r.Post(hubPath+"/negotiate", s.gateway.Negotiate)
		r.Get(hubPath, s.gateway.ServeHTTP)

		r.Route("/api/chat", func(r chi.Router) {
			r.Get("/conversations", s.listConversations)
			r.Get("/conversations/{id}", s.getConversation)
			r.Post("/conversations/{id}/read", s.markRead)
			r.Patch("/conversations/{id}/preferences", s.updatePreferences)
			r.Post("/messages", s.sendMessage)
			r.Get("/unread-count", s.unreadCount)
		})
	})
	return r
}

// SendMessage stores a message from userID and pushes it to the hub. It is
// what POST /api/chat/messages runs, exposed so tests can act as the other party.
func (s *Server) SendMessage(userID string, req v1.SendMessageRequest, idempotencyKey string) (v1.Message, error) {
	if err := s.validate.Struct(req); err != nil {
		return v1.Message{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	msg, dup, err := s.store.Append(AppendInput{
		ConversationID:   req.ConversationID,
		SenderID:         userID,
		Content:          req.Content,
		Type:             req.Type,
		OrderID:          req.OrderID,
		ProductID:        req.ProductID,
		ReplyToMessageID: req.ReplyToMessageID,
		IdempotencyKey:   idempotencyKey,
	})
	if err != nil {
		return v1.Message{}, err
	}
	if dup {
		s.log.Info("devhub.message.duplicate", "conversation_id", msg.ConversationID, "message_id", msg.ID)
		return msg, nil
	}

	s.publish(Fanout{Rooms: []string{msg.ConversationID}}, v1.EventReceiveMessage, msg)
	s.publishSummaries(msg.ConversationID)
	return msg, nil
}

// MarkRead records a read receipt for userID and pushes MessagesRead.
func (s *Server) MarkRead(userID, conversationID string) (v1.MessagesRead, error) {
	ev, err := s.store.MarkRead(userID, conversationID)
	if err != nil {
		return v1.MessagesRead{}, err
	}
	ids, _ := s.store.ParticipantIDs(conversationID)
	s.publish(Fanout{Rooms: []string{conversationID}, Users: ids}, v1.EventMessagesRead, ev)
	return ev, nil
}

// UpdatePreferences changes userID's flags and pushes the new summary to that user.
func (s *Server) UpdatePreferences(userID, conversationID string, u v1.PreferencesUpdate) (v1.ConversationSummary, error) {
	sum, err := s.store.UpdatePreferences(userID, conversationID, u)
	if err != nil {
		return v1.ConversationSummary{}, err
	}
	s.publish(Fanout{Users: []string{userID}}, v1.EventConversationUpdated, v1.PatchFromSummary(sum))
	return sum, nil
}

// publishSummaries sends each participant their own view of the conversation.
func (s *Server) publishSummaries(conversationID string) {
	ids, err := s.store.ParticipantIDs(conversationID)
	if err != nil {
		return
	}
	for _, id := range ids {
		sum, err := s.store.Summary(id, conversationID)
		if err != nil {
			continue
		}
		s.publish(Fanout{Users: []string{id}}, v1.EventConversationUpdated, v1.PatchFromSummary(sum))
	}
}

func (s *Server) publish(f Fanout, name string, data any) {
	env, err := eventEnvelope(name, data)
	if err != nil {
		s.log.Error("devhub.publish.encode", "event", name, "err", err)
		return
	}
	n := s.hub.Publish(f, env)
	s.log.Debug("devhub.publish", "event", name, "recipients", n)
}

// statusOf maps store errors to HTTP statuses.
func statusOf(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrBlocked):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
