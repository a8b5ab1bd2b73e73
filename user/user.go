// Package user holds accounts and the roles that gate what they may do.
package user

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

type Role int

const (
	RoleUnknown Role = iota
	RolePassenger
	RoleDriver
	RoleAdmin
)

var roleNames = [...]string{"unknown", "passenger", "driver", "admin"}

func (r Role) String() string {
	if r < 0 || int(r) >= len(roleNames) {
		return "unknown"
	}
	return roleNames[r]
}

// ParseRole maps a role name back to a Role. Unknown names yield RoleUnknown and false.
func ParseRole(s string) (Role, bool) {
	switch s {
	case "passenger":
		return RolePassenger, true
	case "driver":
		return RoleDriver, true
	case "admin":
		return RoleAdmin, true
	}
	return RoleUnknown, false
}

func (r Role) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *Role) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	role, ok := ParseRole(s)
	if !ok {
		return fmt.Errorf("invalid role %q", s)
	}
	*r = role
	return nil
}

func (r *Role) Scan(i any) error {
	var s string
	switch v := i.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("invalid role scan type %T", i)
	}
	role, ok := ParseRole(s)
	if !ok {
		return fmt.Errorf("invalid role %q", s)
	}
	*r = role
	return nil
}

func (r Role) Value() (driver.Value, error) {
	return r.String(), nil
}

// User is an account of any role. Role never changes after creation.
type User struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Name         string    `db:"name" json:"name"`
	Phone        string    `db:"phone" json:"phone"`
	Role         Role      `db:"role" json:"role"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}
