package user

import (
	"testing"

	"github.com/goccy/go-json"
)

func TestRoleJSON(t *testing.T) {
	for _, r := range []Role{RolePassenger, RoleDriver, RoleAdmin} {
		b, err := json.Marshal(r)
		if err != nil {
			t.Fatalf("marshal %v: %v", r, err)
		}
		var got Role
		if err := json.Unmarshal(b, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", b, err)
		}
		if got != r {
			t.Errorf("expected %v, got %v", r, got)
		}
	}

	var r Role
	if err := json.Unmarshal([]byte(`"superuser"`), &r); err == nil {
		t.Errorf("expected error for unknown role")
	}
}

func TestRoleScan(t *testing.T) {
	var r Role
	if err := r.Scan([]byte("driver")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r != RoleDriver {
		t.Errorf("expected driver, got %v", r)
	}
	if err := r.Scan(42); err == nil {
		t.Errorf("expected error scanning int")
	}
}

func TestPasswordHashNotSerialised(t *testing.T) {
	b, err := json.Marshal(User{Email: "a@b.cv", PasswordHash: "secret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := m["passwordHash"]; ok {
		t.Errorf("password hash leaked into JSON: %s", b)
	}
}
