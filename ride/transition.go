package ride

import (
	"strings"

	"github.com/semanticallynull/ridehail-backend/internal/apperr"
	"github.com/semanticallynull/ridehail-backend/user"
)

type Transition int

const (
	TransitionRequest Transition = iota
	TransitionAccept
	TransitionStart
	TransitionComplete
	TransitionCancel
	TransitionRate
)

func (t Transition) String() string {
	switch t {
	case TransitionRequest:
		return "request"
	case TransitionAccept:
		return "accept"
	case TransitionStart:
		return "start"
	case TransitionComplete:
		return "complete"
	case TransitionCancel:
		return "cancel"
	case TransitionRate:
		return "rate"
	}
	return "unknown"
}

// from is the status a ride must be in for t to apply. Request has no source
// status and Rate leaves the status untouched.
func (t Transition) from() Status {
	switch t {
	case TransitionAccept, TransitionCancel:
		return StatusPending
	case TransitionStart:
		return StatusAccepted
	case TransitionComplete:
		return StatusStarted
	case TransitionRate:
		return StatusCompleted
	}
	return StatusPending
}

// Permits reports whether role may attempt t at all. Ownership is checked separately.
func (t Transition) Permits(role user.Role) bool {
	switch t {
	case TransitionRequest, TransitionRate:
		return role == user.RolePassenger
	case TransitionAccept, TransitionStart, TransitionComplete:
		return role == user.RoleDriver
	case TransitionCancel:
		return role == user.RolePassenger || role == user.RoleAdmin
	}
	return false
}

func (t Transition) check(r *Ride) error {
	if want := t.from(); r.Status != want {
		return apperr.Newf(apperr.ErrInvalidTransition, "RIDE_NOT_"+strings.ToUpper(want.String()),
			"cannot %s a ride that is %s", t, r.Status)
	}
	return nil
}

func forbidRole(t Transition, role user.Role) error {
	return apperr.Newf(apperr.ErrForbidden, "ROLE_NOT_PERMITTED", "a %s cannot %s a ride", role, t)
}
