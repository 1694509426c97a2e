package session

import (
	"golang.org/x/oauth2"
)

// Session is the client's view of the signed-in user.
type Session struct {
	src oauth2.TokenSource
}

// New wraps src. A nil src yields a session that is never authenticated.
func New(src oauth2.TokenSource) *Session {
	return &Session{src: src}
}

// Token implements oauth2.TokenSource.
func (s *Session) Token() (*oauth2.Token, error) {
	if s == nil || s.src == nil {
		return nil, ErrNoToken
	}
	return s.src.Token()
}

// Authenticated reports whether a usable token is available right now.
func (s *Session) Authenticated() bool {
	tok, err := s.Token()
	return err == nil && tok.Valid()
}

// UserID returns the subject of the current token, or "" for opaque or missing tokens.
func (s *Session) UserID() string {
	tok, err := s.Token()
	if err != nil {
		return ""
	}
	c, err := ParseUnverified(tok.AccessToken)
	if err != nil {
		return ""
	}
	return c.UserID()
}
