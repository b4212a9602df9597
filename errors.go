package liveview

import (
	"errors"
)

var (
	// ErrViewNotFound is returned when no registered view matches a path.
	ErrViewNotFound = errors.New("no view registered for path")

	// ErrSessionExpired is returned when a join presents a token for a
	// session that no longer exists.
	ErrSessionExpired = errors.New("session expired or unknown")

	// ErrInvalidToken is returned when a session token fails verification.
	ErrInvalidToken = errors.New("invalid session token")

	// ErrNotJoined is returned when a message arrives for a topic the
	// connection never joined.
	ErrNotJoined = errors.New("topic not joined on this connection")
)
