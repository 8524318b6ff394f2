package relay

import "errors"

var (
	// ErrInvalidToken rejects malformed or missing session tokens before the
	// store is touched.
	ErrInvalidToken = errors.New("invalid session token")

	// ErrSessionNotFound covers unknown, expired and already consumed
	// sessions alike, so probing a token never reveals which it was.
	ErrSessionNotFound = errors.New("session not found or expired")

	// ErrAlreadyFulfilled signals a duplicate deposit for a session that
	// already holds a terminal result. The stored result is not touched.
	ErrAlreadyFulfilled = errors.New("session already fulfilled")

	// ErrSessionPending signals a consume attempt on a session that has no
	// terminal result yet.
	ErrSessionPending = errors.New("session still pending")
)
