package magiclink

import "errors"

var (
	ErrNotFound          = errors.New("magiclink: not found")
	ErrRevoked           = errors.New("magiclink: revoked")
	ErrExpired           = errors.New("magiclink: expired")
	ErrExhausted         = errors.New("magiclink: usage limit reached")
	ErrInsufficientScope = errors.New("magiclink: insufficient scope")
	ErrResourceMismatch  = errors.New("magiclink: resource mismatch")
	ErrConflict          = errors.New("magiclink: token hash conflict")
	ErrStoreUnavailable  = errors.New("magiclink: store unavailable")
	ErrInvalidInput      = errors.New("magiclink: invalid input")
)

// IsDenial reports whether err is one of the reasons a link is refused.
// Denials are collapsed into one response shape at the wire boundary.
func IsDenial(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrRevoked),
		errors.Is(err, ErrExpired),
		errors.Is(err, ErrExhausted),
		errors.Is(err, ErrInsufficientScope),
		errors.Is(err, ErrResourceMismatch):
		return true
	}
	return false
}
