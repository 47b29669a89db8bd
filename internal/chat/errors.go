package chat

import (
	"errors"
	"fmt"
)

// Sentinel errors for the protocol's failure taxonomy. Handlers match
// with errors.Is and translate to a wire error code; none of these ever
// leaves partial state behind.
var (
	// ErrUnauthorized: the principal lacks the membership or role an
	// operation requires.
	ErrUnauthorized = errors.New("not authorized")

	// ErrNotJoined: the operation needs an active room membership on
	// this connection. Authorization is checked at join time, so a
	// connection that never joined has no business sending.
	ErrNotJoined = errors.New("not joined to this room")

	// ErrMuted: an admin muted the principal in this room.
	ErrMuted = errors.New("muted in this room")

	// ErrRemoved: an admin removed the principal from this room and
	// the re-join block is still in effect.
	ErrRemoved = errors.New("removed from this room")

	// ErrNotFound: the referenced message does not exist.
	ErrNotFound = errors.New("message not found")

	// ErrPersistence: the message store failed. The message was not
	// broadcast; the caller may retry.
	ErrPersistence = errors.New("persistence failure")
)

// Wire error codes surfaced on the error event and mapped to HTTP
// statuses on the REST side.
const (
	CodeBadRequest    = "bad_request"
	CodeUnauthorized  = "authorization_error"
	CodeModeration    = "moderation_error"
	CodeNotFound      = "not_found"
	CodePersistence   = "persistence_failure"
	CodeInternalError = "internal_error"
)

func persistenceError(err error) error {
	return fmt.Errorf("%w: %v", ErrPersistence, err)
}

// ErrorCode maps an operation error to its wire code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrNotJoined), errors.Is(err, ErrRemoved):
		return CodeUnauthorized
	case errors.Is(err, ErrMuted):
		return CodeModeration
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrPersistence):
		return CodePersistence
	default:
		return CodeInternalError
	}
}
