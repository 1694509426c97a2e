package session

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoToken is returned when a source has no token to offer.
	ErrNoToken = errors.New("no access token")

	// ErrInvalidToken is returned when a token cannot be parsed or fails verification.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when a token is past its expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// ExpiredError carries the expiry of a rejected token.
type ExpiredError struct {
	ExpiredAt time.Time
}

func (e ExpiredError) Error() string {
	return fmt.Sprintf("%s at %s", ErrTokenExpired.Error(), e.ExpiredAt.UTC().Format(time.RFC3339))
}

func (e ExpiredError) Unwrap() error { return ErrTokenExpired }
