package session

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// StaticSource serves a fixed token.
func StaticSource(raw string) oauth2.TokenSource {
	return sourceFunc(func() (string, error) { return raw, nil })
}

// EnvSource reads the token from an environment variable on every call.
func EnvSource(key string) oauth2.TokenSource {
	return sourceFunc(func() (string, error) { return os.Getenv(key), nil })
}

// FileSource reads the token from a file on every call, so an external refresher
// can rotate it in place.
func FileSource(path string) oauth2.TokenSource {
	return sourceFunc(func() (string, error) {
		b, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return "", ErrNoToken
			}
			return "", fmt.Errorf("read token file: %w", err)
		}
		return string(b), nil
	})
}

// FirstOf returns the first token any of srcs yields. Expired tokens are skipped
// in favour of later sources; the expiry error is returned if nothing better exists.
func FirstOf(srcs ...oauth2.TokenSource) oauth2.TokenSource {
	return chain(srcs)
}

type chain []oauth2.TokenSource

func (c chain) Token() (*oauth2.Token, error) {
	var firstErr error
	for _, src := range c {
		if src == nil {
			continue
		}
		tok, err := src.Token()
		if err == nil {
			return tok, nil
		}
		if firstErr == nil || (errors.Is(firstErr, ErrNoToken) && !errors.Is(err, ErrNoToken)) {
			firstErr = err
		}
	}
	if firstErr == nil {
		firstErr = ErrNoToken
	}
	return nil, firstErr
}

type sourceFunc func() (string, error)

func (f sourceFunc) Token() (*oauth2.Token, error) {
	raw, err := f()
	if err != nil {
		return nil, err
	}
	return tokenFromRaw(raw, time.Now())
}

// tokenFromRaw wraps a bearer token. Opaque (non-JWT) tokens are accepted with
// no local expiry.
func tokenFromRaw(raw string, now time.Time) (*oauth2.Token, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrNoToken
	}

	tok := &oauth2.Token{AccessToken: raw, TokenType: "Bearer"}

	c, err := ParseUnverified(raw)
	if err != nil {
		return tok, nil
	}
	if exp := c.Expiry(); !exp.IsZero() {
		if !now.Before(exp) {
			return nil, ExpiredError{ExpiredAt: exp}
		}
		tok.Expiry = exp
	}
	return tok, nil
}
