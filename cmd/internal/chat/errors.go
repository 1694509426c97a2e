package chat

import "errors"

var (
	// ErrDisabled is returned by user actions while the store is disabled.
	ErrDisabled = errors.New("chat store disabled")

	// ErrNotAuthenticated is returned by user actions when the session has no usable token.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrMissingConversationID is returned for a blank conversation id.
	ErrMissingConversationID = errors.New("missing conversation id")

	// ErrNoChanges is returned by UpdatePreferences for an empty update.
	ErrNoChanges = errors.New("no preference changes")

	// ErrClosed is returned once the store is closed.
	ErrClosed = errors.New("chat store closed")
)
