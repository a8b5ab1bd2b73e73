package driver

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/semanticallynull/ridehail-backend/user"
)

// Driver is the driving side of a User with role driver.
type Driver struct {
	ID     uuid.UUID `db:"id" json:"id"`
	UserID uuid.UUID `db:"user_id" json:"userId"`
	// LicensePlate is stored normalised, see NormalizePlate.
	LicensePlate string  `db:"license_plate" json:"licensePlate"`
	VehicleModel *string `db:"vehicle_model" json:"vehicleModel,omitempty"`
	Verified     bool    `db:"verified" json:"verified"`
	// Rating is the running average of passenger ratings, nil until the first one.
	Rating      *float64  `db:"rating" json:"rating"`
	RatingCount int       `db:"rating_count" json:"ratingCount"`
	TotalRides  int       `db:"total_rides" json:"totalRides"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// AddRating folds stars into the running average.
func (d *Driver) AddRating(stars int) {
	var sum float64
	if d.Rating != nil {
		sum = *d.Rating * float64(d.RatingCount)
	}
	d.RatingCount++
	avg := (sum + float64(stars)) / float64(d.RatingCount)
	d.Rating = &avg
}

// Profile is a driver joined with its owning user.
type Profile struct {
	Driver
	User user.User `json:"user"`
}

// Contact is what a passenger learns about the driver of an accepted ride.
type Contact struct {
	DriverID     uuid.UUID `json:"driverId"`
	Name         string    `json:"name"`
	Phone        string    `json:"phone"`
	LicensePlate string    `json:"licensePlate"`
	VehicleModel *string   `json:"vehicleModel,omitempty"`
	Rating       *float64  `json:"rating"`
}

func (p Profile) Contact() Contact {
	return Contact{
		DriverID:     p.ID,
		Name:         p.User.Name,
		Phone:        p.User.Phone,
		LicensePlate: p.LicensePlate,
		VehicleModel: p.VehicleModel,
		Rating:       p.Rating,
	}
}

// NormalizePlate upper-cases a plate and strips all whitespace, so
// " st-12 ab " and "ST-12AB" collide.
func NormalizePlate(plate string) string {
	var b strings.Builder
	for _, r := range plate {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}
