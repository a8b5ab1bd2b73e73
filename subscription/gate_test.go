package subscription

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/semanticallynull/ridehail-backend/internal/apperr"
)

func TestCanAcceptRides(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		status  Status
		allowed bool
	}{
		{StatusTrial, true},
		{StatusActive, true},
		{StatusExpired, false},
		{StatusCancelled, false},
		{Status("paused"), false},
	}
	for _, tt := range tests {
		err := CanAcceptRides(Subscription{Status: tt.status}, now)
		if tt.allowed && err != nil {
			t.Errorf("%s: expected allowed, got %v", tt.status, err)
		}
		if !tt.allowed && !errors.Is(err, apperr.ErrForbidden) {
			t.Errorf("%s: expected ErrForbidden, got %v", tt.status, err)
		}
	}
}

func TestCanAcceptRides_DoesNotExpireTrial(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sub := NewTrial(uuid.New(), start, 150000)

	// Well past the trial window the stored status still decides.
	if err := CanAcceptRides(sub, start.AddDate(1, 0, 0)); err != nil {
		t.Errorf("expected trial to remain usable, got %v", err)
	}
}

func TestNewTrial(t *testing.T) {
	now := time.Date(2026, 1, 31, 12, 0, 0, 0, time.UTC)
	driverID := uuid.New()
	sub := NewTrial(driverID, now, 150000)

	if sub.Status != StatusTrial {
		t.Errorf("expected trial, got %s", sub.Status)
	}
	if sub.DriverID != driverID {
		t.Errorf("expected driver %s, got %s", driverID, sub.DriverID)
	}
	if !sub.TrialEndsAt.Equal(now.AddDate(0, 1, 0)) {
		t.Errorf("expected trial to end a month ahead, got %s", sub.TrialEndsAt)
	}
	if !sub.CurrentPeriodEnd.Equal(sub.TrialEndsAt) {
		t.Errorf("expected current period to match trial window")
	}
}

func TestSetStatusOpensBillingPeriod(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sub := NewTrial(uuid.New(), start, 150000)

	later := start.Add(40 * 24 * time.Hour)
	sub.SetStatus(StatusActive, later)

	if sub.Status != StatusActive {
		t.Errorf("expected active, got %s", sub.Status)
	}
	if !sub.CurrentPeriodStart.Equal(later) {
		t.Errorf("expected period start %s, got %s", later, sub.CurrentPeriodStart)
	}
	if !sub.CurrentPeriodEnd.Equal(later.AddDate(0, 1, 0)) {
		t.Errorf("expected period end a month after %s, got %s", later, sub.CurrentPeriodEnd)
	}

	sub.SetStatus(StatusExpired, later.Add(time.Hour))
	if !sub.CurrentPeriodStart.Equal(later) {
		t.Errorf("expiry should not move the billing period")
	}
}

func TestParseStatus(t *testing.T) {
	if _, err := ParseStatus("active"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := ParseStatus("trialing"); err == nil {
		t.Errorf("expected error for unknown status")
	}
}
