package subscription

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusTrial     Status = "trial"
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusTrial, StatusActive, StatusExpired, StatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("invalid subscription status %q", s)
}

// Subscription is the one-to-one billing record of a driver.
type Subscription struct {
	ID                 uuid.UUID `db:"id" json:"id"`
	DriverID           uuid.UUID `db:"driver_id" json:"driverId"`
	Status             Status    `db:"status" json:"status"`
	TrialEndsAt        time.Time `db:"trial_ends_at" json:"trialEndsAt"`
	CurrentPeriodStart time.Time `db:"current_period_start" json:"currentPeriodStart"`
	CurrentPeriodEnd   time.Time `db:"current_period_end" json:"currentPeriodEnd"`
	// MonthlyFee is in minor currency units.
	MonthlyFee int64     `db:"monthly_fee" json:"monthlyFee"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

// TrialEnd returns when a trial started at start runs out: one calendar month.
func TrialEnd(start time.Time) time.Time {
	return start.AddDate(0, 1, 0)
}

// NewTrial builds the subscription created alongside a driver at registration.
func NewTrial(driverID uuid.UUID, now time.Time, monthlyFee int64) Subscription {
	end := TrialEnd(now)
	return Subscription{
		DriverID:           driverID,
		Status:             StatusTrial,
		TrialEndsAt:        end,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   end,
		MonthlyFee:         monthlyFee,
		CreatedAt:          now,
	}
}

// SetStatus applies an administrative status change. Moving to active opens a
// new one-month billing period starting at now.
func (s *Subscription) SetStatus(status Status, now time.Time) {
	if status == StatusActive && s.Status != StatusActive {
		s.CurrentPeriodStart = now
		s.CurrentPeriodEnd = now.AddDate(0, 1, 0)
	}
	s.Status = status
}
