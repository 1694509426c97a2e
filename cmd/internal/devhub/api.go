package devhub

import (
	"encoding/json"
	"net/http"
	"strconv"

	v1 "aifshop/contracts/hub/v1"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const idempotencyKeyHeader = "Idempotency-Key"

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	q := r.URL.Query()

	page := s.store.ListConversations(claims.UserID(), atoi(q.Get("page")), atoi(q.Get("pageSize")), q.Get("search"))
	succeed(w, r, page)
}

func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	q := r.URL.Query()

	detail, err := s.store.Conversation(claims.UserID(), chi.URLParam(r, "id"), atoi(q.Get("page")), atoi(q.Get("pageSize")))
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	succeed(w, r, detail)
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())

	var req v1.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := s.SendMessage(claims.UserID(), req, r.Header.Get(idempotencyKeyHeader))
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	succeed(w, r, msg)
}

func (s *Server) markRead(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())

	ev, err := s.MarkRead(claims.UserID(), chi.URLParam(r, "id"))
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	succeed(w, r, ev)
}

func (s *Server) updatePreferences(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())

	var u v1.PreferencesUpdate
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		fail(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	sum, err := s.UpdatePreferences(claims.UserID(), chi.URLParam(r, "id"), u)
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	succeed(w, r, sum)
}

func (s *Server) unreadCount(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	succeed(w, r, v1.UnreadCount{UnreadCount: s.store.UnreadTotal(claims.UserID())})
}

func (s *Server) failErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	s.log.Info("devhub.request.fail",
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"request_id", middleware.GetReqID(r.Context()),
		"err", err,
	)
	fail(w, r, status, err.Error())
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
