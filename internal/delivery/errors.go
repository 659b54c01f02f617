package delivery

import "errors"

// Command failure categories. None of them ends a session.
var (
	ErrValidation = errors.New("validation failed")
	ErrForbidden  = errors.New("not allowed")
	ErrNotFound   = errors.New("message not found")
	ErrStore      = errors.New("store failure")
)

// reason labels a rejection for logs and metrics
func reason(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrStore):
		return "store"
	default:
		return "unknown"
	}
}
