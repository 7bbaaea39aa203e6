package portal

import (
	"errors"
	"fmt"

	"sourcedesk.io/internal/magiclink"
)

var (
	// ErrDenied is the single externally visible denial.
	ErrDenied       = errors.New("portal: access denied")
	ErrNotFound     = errors.New("portal: not found")
	ErrInvalidInput = errors.New("portal: invalid input")
)

// DeniedError carries the internal reason of a denial. Callers outside the
// service boundary should only test for ErrDenied.
type DeniedError struct {
	Reason magiclink.Reason
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s (%s)", ErrDenied, e.Reason)
}

func (e *DeniedError) Is(target error) bool {
	return target == ErrDenied
}

// DenialReason returns the reason wrapped in err, if any.
func DenialReason(err error) (magiclink.Reason, bool) {
	var de *DeniedError
	if errors.As(err, &de) {
		return de.Reason, true
	}
	return magiclink.ReasonNone, false
}
