package realtime

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotConnected is returned by invocations while no connection is usable.
	ErrNotConnected = errors.New("hub not connected")

	// ErrStopped is returned to calls interrupted by Stop.
	ErrStopped = errors.New("hub connection stopped")

	// ErrStopping is returned by Start while a Stop is still in progress.
	ErrStopping = errors.New("hub connection stopping")

	// ErrReconnectExhausted is returned once the reconnect schedule runs out.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

	// ErrUnsupportedTransport is returned when the hub does not offer websockets.
	ErrUnsupportedTransport = errors.New("unsupported transport")

	// ErrNoCredentials is returned when no token source is configured.
	ErrNoCredentials = errors.New("no credentials")

	// ErrUnknownEvent is returned by Router for events it has no handler for.
	ErrUnknownEvent = errors.New("unknown event")
)

// Kind classifies hub errors.
type Kind uint8

const (
	KindTransport Kind = iota + 1
	KindAuth
	KindRemoteCall
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindAuth:
		return "auth"
	case KindRemoteCall:
		return "remote_call"
	case KindConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Error is a classified hub failure.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("hub %s: %s error (status %d): %v", e.Op, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("hub %s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsAuth reports whether err is an authentication/authorization failure.
func IsAuth(err error) bool { return KindOf(err) == KindAuth }

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool { return KindOf(err) == KindTransport }

// classifyStatus maps an HTTP status observed during negotiate/dial to an error kind.
func classifyStatus(op string, status int, err error) error {
	if err == nil {
		err = errors.New(http.StatusText(status))
	}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &Error{Kind: KindAuth, Op: op, StatusCode: status, Err: err}
	default:
		return &Error{Kind: KindTransport, Op: op, StatusCode: status, Err: err}
	}
}
