package devhub

import "errors"

var (
	// ErrNotFound is returned for unknown conversations and messages.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when the caller is not a participant.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalid is returned for malformed input.
	ErrInvalid = errors.New("invalid input")

	// ErrBlocked is returned when a participant has blocked the conversation.
	ErrBlocked = errors.New("conversation blocked")
)
