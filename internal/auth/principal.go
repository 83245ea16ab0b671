package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Role is the closed set of actor kinds the clinic knows about.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

var ErrUnknownRole = errors.New("unknown role")

// Roles lists every valid role; the policy table must cover each of them.
var Roles = []Role{RoleAdmin, RoleDoctor, RolePatient}

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleDoctor, RolePatient:
		return Role(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

// Principal is the authenticated actor of a request.
type Principal struct {
	ID   uuid.UUID
	Role Role
}

type contextKey string

const principalKey contextKey = "principal"

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the principal placed by Middleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}
