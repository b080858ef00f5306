package domain

import (
	"fmt"
	"slices"
	"time"
)

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleUser, RoleAdmin:
		return Role(s), true
	}
	return "", false
}

// Claims is the verified content of an identity token.
type Claims struct {
	Subject   string
	Role      Role
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// SecurityContext is the request-scoped principal rebuilt from trust headers.
// The zero value is the unauthenticated context.
type SecurityContext struct {
	PrincipalID string
	Role        Role
}

func (c SecurityContext) Authenticated() bool {
	return c.PrincipalID != "" && c.Role != ""
}

// RequireRole fails with ErrUnauthorized unless c is authenticated and holds
// one of allowed.
func RequireRole(c SecurityContext, allowed ...Role) error {
	if !c.Authenticated() {
		return fmt.Errorf("%w: no authenticated principal", ErrUnauthorized)
	}
	if !slices.Contains(allowed, c.Role) {
		return fmt.Errorf("%w: role %s not permitted", ErrUnauthorized, c.Role)
	}
	return nil
}
