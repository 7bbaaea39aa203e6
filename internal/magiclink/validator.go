package magiclink

import (
	"errors"
	"time"
)

// Reason explains a decision. The empty reason means allowed.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonNotFound          Reason = "not_found"
	ReasonRevoked           Reason = "revoked"
	ReasonExpired           Reason = "expired"
	ReasonExhausted         Reason = "exhausted"
	ReasonInsufficientScope Reason = "insufficient_scope"
	ReasonResourceMismatch  Reason = "resource_mismatch"
)

// Decision is the outcome of evaluating a link.
type Decision struct {
	Allowed bool
	Reason  Reason
}

// Err returns the sentinel error for a denial, nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return reasonErr(d.Reason)
}

func reasonErr(r Reason) error {
	switch r {
	case ReasonRevoked:
		return ErrRevoked
	case ReasonExpired:
		return ErrExpired
	case ReasonExhausted:
		return ErrExhausted
	case ReasonInsufficientScope:
		return ErrInsufficientScope
	case ReasonResourceMismatch:
		return ErrResourceMismatch
	default:
		return ErrNotFound
	}
}

// ReasonOf maps a denial error back to its reason.
func ReasonOf(err error) Reason {
	for _, r := range []Reason{ReasonRevoked, ReasonExpired, ReasonExhausted, ReasonInsufficientScope, ReasonResourceMismatch, ReasonNotFound} {
		if errors.Is(err, reasonErr(r)) {
			return r
		}
	}
	return ReasonNone
}

func allow() Decision { return Decision{Allowed: true} }

func deny(r Reason) Decision { return Decision{Reason: r} }

// Evaluate decides whether a looked-up link may be used at now. The checks run
// in a fixed order and the first failing one wins. Scope is checked by callers.
func Evaluate(link Link, found bool, now time.Time) Decision {
	switch {
	case !found:
		return deny(ReasonNotFound)
	case link.RevokedAt != nil:
		return deny(ReasonRevoked)
	case !now.Before(link.ExpiresAt):
		return deny(ReasonExpired)
	case link.MaxUses != nil && link.UseCount >= *link.MaxUses:
		return deny(ReasonExhausted)
	}
	return allow()
}

// Status labels a link for operators.
type Status string

const (
	StatusActive    Status = "active"
	StatusRevoked   Status = "revoked"
	StatusExpired   Status = "expired"
	StatusExhausted Status = "exhausted"
)

// StatusOf reports the operator-facing health of link at now.
func StatusOf(link Link, now time.Time) Status {
	switch Evaluate(link, true, now).Reason {
	case ReasonRevoked:
		return StatusRevoked
	case ReasonExpired:
		return StatusExpired
	case ReasonExhausted:
		return StatusExhausted
	}
	return StatusActive
}
