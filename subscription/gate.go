package subscription

import (
	"time"

	"github.com/semanticallynull/ridehail-backend/internal/apperr"
)

// CanAcceptRides reports whether a driver holding sub may accept a ride at now.
// Only the stored status is consulted: a trial past TrialEndsAt stays a trial
// until someone sets it otherwise.
func CanAcceptRides(sub Subscription, now time.Time) error {
	switch sub.Status {
	case StatusTrial, StatusActive:
		return nil
	case StatusExpired:
		return apperr.New(apperr.ErrForbidden, "SUBSCRIPTION_INACTIVE", "subscription has expired")
	case StatusCancelled:
		return apperr.New(apperr.ErrForbidden, "SUBSCRIPTION_INACTIVE", "subscription was cancelled")
	}
	return apperr.Newf(apperr.ErrForbidden, "SUBSCRIPTION_INACTIVE", "subscription status %q does not permit rides", sub.Status)
}
