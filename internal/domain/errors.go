package domain

import "errors"

// Error texts double as wire text in error frames.
var (
	ErrNotAuthenticated      = errors.New("not authenticated")
	ErrAlreadyAuthenticated  = errors.New("already authenticated")
	ErrInvalidToken          = errors.New("invalid token")
	ErrInvalidMessage        = errors.New("invalid message")
	ErrNotMember             = errors.New("not a member of room")
	ErrSendFailed            = errors.New("send failed")
	ErrRoomNotFound          = errors.New("room not found")
	ErrMembershipUnavailable = errors.New("membership unavailable")
	ErrSessionClosed         = errors.New("session closed")
	ErrRateLimited           = errors.New("rate limit exceeded")
	ErrProtocol              = errors.New("protocol error")
	ErrResyncRequired        = errors.New("too many missed messages")
	ErrShuttingDown          = errors.New("server shutting down")
)

// detailed errors may carry their wrapped detail onto the wire.
var detailed = []error{ErrInvalidMessage, ErrProtocol}

var public = []error{
	ErrNotAuthenticated,
	ErrAlreadyAuthenticated,
	ErrInvalidToken,
	ErrNotMember,
	ErrSendFailed,
	ErrMembershipUnavailable,
	ErrSessionClosed,
	ErrRateLimited,
	ErrResyncRequired,
	ErrShuttingDown,
}

// PublicText maps err to text that is safe to put in an error frame.
// Nonexistent rooms read as "not a member of room".
func PublicText(err error) string {
	if err == nil {
		return ""
	}
	for _, e := range detailed {
		if errors.Is(err, e) {
			return err.Error()
		}
	}
	if errors.Is(err, ErrRoomNotFound) {
		return ErrNotMember.Error()
	}
	for _, e := range public {
		if errors.Is(err, e) {
			return e.Error()
		}
	}
	return "internal error"
}

// IsFatal reports whether err must close the session after the error frame.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrShuttingDown)
}
