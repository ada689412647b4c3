package chat

import "errors"

// Sentinel errors shared by the agent implementations and the engine.
// Transport layers wrap their failures with one of these.
var (
	ErrBlocked         = errors.New("blocked")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrNotFound        = errors.New("not found")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrUnavailable     = errors.New("unavailable")
)

// Temporary reports whether err is worth retrying unchanged.
func Temporary(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrBlocked),
		errors.Is(err, ErrUnauthenticated),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidRequest):
		return false
	default:
		return true
	}
}
